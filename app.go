package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"voicecanvas/internal/bootstrap"
	"voicecanvas/internal/config"
	"voicecanvas/internal/domain"
	"voicecanvas/internal/server"
	"voicecanvas/internal/usecase"
)

// App is the application root. It receives coordinator events and forwards
// them to UI clients, and it serves the commands those clients send.
type App struct {
	ctx    context.Context
	logger *slog.Logger

	hub     *server.Hub
	metrics *server.Metrics

	coordinator *usecase.SessionCoordinator
	cfg         config.Config
	agentSet    string
	bootErr     error

	mu         sync.Mutex
	lastReason domain.SessionStatusReason
}

func NewApp(metrics *server.Metrics, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		logger:     logger,
		metrics:    metrics,
		lastReason: domain.SessionReasonIdle,
	}
	a.hub = server.NewHub(a, metrics, logger)
	return a
}

// Hub returns the UI websocket endpoint.
func (a *App) Hub() *server.Hub {
	return a.hub
}

func (a *App) startup(ctx context.Context, cfg config.Config) (bootstrap.Services, error) {
	a.ctx = ctx
	a.cfg = cfg

	services, err := bootstrap.Build(cfg, a, a.logger)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return bootstrap.Services{}, err
	}

	a.coordinator = services.Coordinator
	a.agentSet = services.AgentSet
	a.SessionStatusChanged(domain.SessionStatusDisconnected, domain.SessionReasonIdle)
	return services, nil
}

// shutdown drops the realtime session and waits for its background work.
func (a *App) shutdown() {
	if a.coordinator != nil {
		a.coordinator.Disconnect()
		a.coordinator.Wait()
	}
	a.hub.Close()
}

// Connect opens the realtime session.
func (a *App) Connect() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.coordinator.Connect(a.ctx)
}

// Disconnect closes the realtime session.
func (a *App) Disconnect() {
	if a.requireReady() != nil {
		return
	}
	a.coordinator.Disconnect()
}

// SendText sends a typed user message.
func (a *App) SendText(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.coordinator.SendUserText(text); err != nil {
		if errors.Is(err, usecase.ErrNoActiveSession) || errors.Is(err, usecase.ErrNotConnected) {
			return fmt.Errorf("cannot send while disconnected: %w", err)
		}
		return err
	}
	return nil
}

func (a *App) TalkDown() {
	if a.requireReady() != nil {
		return
	}
	a.coordinator.TalkButtonDown()
	a.pushStatus()
}

func (a *App) TalkUp() {
	if a.requireReady() != nil {
		return
	}
	a.coordinator.TalkButtonUp()
	a.pushStatus()
}

func (a *App) CancelSpeech() {
	if a.requireReady() != nil {
		return
	}
	a.coordinator.CancelAssistantSpeech()
}

func (a *App) SetPushToTalk(enabled bool) {
	if a.requireReady() != nil {
		return
	}
	a.coordinator.SetPushToTalk(enabled)
	a.pushStatus()
}

func (a *App) SetAudioPlayback(enabled bool) {
	if a.requireReady() != nil {
		return
	}
	a.coordinator.SetAudioPlayback(enabled)
	a.pushStatus()
}

func (a *App) SetEventsExpanded(expanded bool) {
	if a.requireReady() != nil {
		return
	}
	a.coordinator.SetEventsPaneExpanded(expanded)
	a.pushStatus()
}

func (a *App) ToggleExpand(id string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.coordinator.ToggleExpand(id)
}

func (a *App) ToggleEvent(id int) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.coordinator.ToggleEvent(id); err != nil {
		return err
	}
	a.hub.Broadcast(server.Push{Type: server.PushEvents, Data: eventsPayload{Entries: a.coordinator.Events()}})
	return nil
}

// Snapshot brings a newly connected UI client up to date.
func (a *App) Snapshot() []server.Push {
	if a.coordinator == nil {
		return []server.Push{a.statusPush(domain.SessionStatusDisconnected, domain.SessionReasonIdle)}
	}
	a.mu.Lock()
	reason := a.lastReason
	a.mu.Unlock()

	return []server.Push{
		a.statusPush(a.coordinator.Status().Status, reason),
		{Type: server.PushTranscript, Data: a.coordinator.Transcript()},
		{Type: server.PushEvents, Data: eventsPayload{Entries: a.coordinator.Events()}},
		{Type: server.PushGenerating, Data: a.coordinator.Generating()},
	}
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	return map[string]string{
		"realtimeModel":    a.cfg.Realtime.Model,
		"voice":            a.cfg.Realtime.Voice,
		"imageModel":       a.cfg.OpenAI.ImageModel,
		"agentSet":         a.agentSet,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.coordinator == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStatusChanged forwards connection lifecycle updates to the UI.
func (a *App) SessionStatusChanged(status domain.SessionStatus, reason domain.SessionStatusReason) {
	a.mu.Lock()
	a.lastReason = reason
	a.mu.Unlock()

	a.metrics.RecordSessionTransition(string(status), string(reason))
	a.logger.Info("session status changed", "status", status, "reason", reason)
	a.hub.Broadcast(a.statusPush(status, reason))
}

// TranscriptChanged forwards the full transcript to the UI.
func (a *App) TranscriptChanged(items []domain.TranscriptItem) {
	a.hub.Broadcast(server.Push{Type: server.PushTranscript, Data: items})
}

// EventLogged forwards one new events-pane entry.
func (a *App) EventLogged(event domain.LoggedEvent) {
	a.hub.Broadcast(server.Push{Type: server.PushEvents, Data: eventsPayload{Appended: &event}})
}

// ImageGenerationChanged forwards the image spinner state.
func (a *App) ImageGenerationChanged(generating bool) {
	a.hub.Broadcast(server.Push{Type: server.PushGenerating, Data: generating})
}

// SessionError forwards backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.metrics.RecordSessionError(string(code))
	a.hub.Broadcast(server.Push{Type: server.PushError, Data: server.ErrorPayload{
		Code:    string(code),
		Message: errorMessage(code, detail),
		Detail:  detail,
	}})
}

type statusPayload struct {
	domain.Status
	Reason      domain.SessionStatusReason `json:"reason"`
	Preferences domain.Preferences         `json:"preferences"`
}

type eventsPayload struct {
	Entries  []domain.LoggedEvent `json:"entries,omitempty"`
	Appended *domain.LoggedEvent  `json:"appended,omitempty"`
}

func (a *App) pushStatus() {
	a.mu.Lock()
	reason := a.lastReason
	a.mu.Unlock()
	a.hub.Broadcast(a.statusPush(a.coordinator.Status().Status, reason))
}

func (a *App) statusPush(status domain.SessionStatus, reason domain.SessionStatusReason) server.Push {
	payload := statusPayload{
		Status:      domain.Status{Status: status},
		Reason:      reason,
		Preferences: domain.DefaultPreferences(),
	}
	if a.coordinator != nil {
		payload.Status = a.coordinator.Status()
		payload.Status.Status = status
		payload.Preferences = a.coordinator.Preferences()
	}
	payload.Status.Message = sessionReasonMessage(reason)
	return server.Push{Type: server.PushStatus, Data: payload}
}

func sessionReasonMessage(reason domain.SessionStatusReason) string {
	switch reason {
	case domain.SessionReasonIdle:
		return "Disconnected"
	case domain.SessionReasonConnectRequested:
		return "Connecting..."
	case domain.SessionReasonChannelOpen:
		return "Connected"
	case domain.SessionReasonNoEphemeralKey:
		return "Could not obtain a session key"
	case domain.SessionReasonTransportFailed:
		return "Connection failed"
	case domain.SessionReasonTransportClosed:
		return "Connection closed"
	case domain.SessionReasonUserDisconnected:
		return "Disconnected"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCredential:
		return "Session key request failed"
	case domain.ErrorCodeTransport:
		return "Realtime connection issue"
	case domain.ErrorCodeChannelNotOpen:
		return "Data channel is not open"
	case domain.ErrorCodeMalformedFrame:
		return "Received a malformed event"
	case domain.ErrorCodeImageGeneration:
		return "Image generation failed"
	case domain.ErrorCodeServer:
		return "Realtime service error"
	case domain.ErrorCodePreferences:
		return "Preferences could not be saved"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
