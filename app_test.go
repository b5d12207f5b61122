package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"voicecanvas/internal/config"
	"voicecanvas/internal/domain"
	"voicecanvas/internal/server"
	"voicecanvas/internal/usecase"
)

func TestSessionReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.SessionStatusReason]string{
		domain.SessionReasonIdle:             "Disconnected",
		domain.SessionReasonConnectRequested: "Connecting...",
		domain.SessionReasonChannelOpen:      "Connected",
		domain.SessionReasonNoEphemeralKey:   "Could not obtain a session key",
		domain.SessionReasonTransportFailed:  "Connection failed",
		domain.SessionReasonTransportClosed:  "Connection closed",
		domain.SessionReasonUserDisconnected: "Disconnected",
	}

	for reason, want := range cases {
		reason := reason
		want := want
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			if got := sessionReasonMessage(reason); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := sessionReasonMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown reason message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:         "Startup failed",
		domain.ErrorCodeCredential:      "Session key request failed",
		domain.ErrorCodeTransport:       "Realtime connection issue",
		domain.ErrorCodeChannelNotOpen:  "Data channel is not open",
		domain.ErrorCodeMalformedFrame:  "Received a malformed event",
		domain.ErrorCodeImageGeneration: "Image generation failed",
		domain.ErrorCodeServer:          "Realtime service error",
		domain.ErrorCodePreferences:     "Preferences could not be saved",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := NewApp(nil, nil)
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}
	if err := app.Connect(); err == nil {
		t.Fatalf("expected connect to fail before startup")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("expected boot error in runtime info, got %v", info)
	}
}

func TestSnapshotBeforeStartup(t *testing.T) {
	t.Parallel()

	pushes := NewApp(nil, nil).Snapshot()
	if len(pushes) != 1 || pushes[0].Type != server.PushStatus {
		t.Fatalf("unexpected snapshot %+v", pushes)
	}
	payload, ok := pushes[0].Data.(statusPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", pushes[0].Data)
	}
	if payload.Status.Status != domain.SessionStatusDisconnected || payload.Preferences != domain.DefaultPreferences() {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func startedApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("VOICECANVAS_AGENT_SET", "")
	t.Setenv("VOICECANVAS_AGENTS_FILE", "")
	t.Setenv("VOICECANVAS_PREFERENCES_FILE", filepath.Join(t.TempDir(), "prefs.yaml"))

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	app := NewApp(server.NewMetrics(""), nil)
	if _, err := app.startup(context.Background(), cfg); err != nil {
		t.Fatalf("startup failed: %v", err)
	}
	t.Cleanup(app.shutdown)
	return app
}

func TestStartupSnapshot(t *testing.T) {
	app := startedApp(t)

	pushes := app.Snapshot()
	var types []string
	for _, push := range pushes {
		types = append(types, push.Type)
	}
	want := []string{server.PushStatus, server.PushTranscript, server.PushEvents, server.PushGenerating}
	if len(types) != len(want) {
		t.Fatalf("unexpected snapshot types %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("unexpected snapshot types %v", types)
		}
	}

	status := pushes[0].Data.(statusPayload)
	if status.Agent != "imageGenerationAgent" || status.Reason != domain.SessionReasonIdle || status.Message != "Disconnected" {
		t.Fatalf("unexpected status payload %+v", status)
	}
	if info := app.GetRuntimeInfo(); info["agentSet"] != "imageGenerationAgent" {
		t.Fatalf("unexpected runtime info %v", info)
	}
}

func TestCommandsWhileDisconnected(t *testing.T) {
	app := startedApp(t)

	if err := app.SendText("hello"); !errors.Is(err, usecase.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if err := app.SendText("   "); err != nil {
		t.Fatalf("expected blank text to be ignored, got %v", err)
	}
	if err := app.ToggleEvent(999); err == nil {
		t.Fatalf("expected unknown event error")
	}
	if err := app.ToggleExpand("missing"); err == nil {
		t.Fatalf("expected unknown item error")
	}

	app.TalkDown()
	app.TalkUp()
	app.CancelSpeech()
	app.Disconnect()

	app.SetPushToTalk(true)
	status := app.Snapshot()[0].Data.(statusPayload)
	if !status.PushToTalk || !status.Preferences.PushToTalk {
		t.Fatalf("expected push-to-talk in status, got %+v", status)
	}
}
