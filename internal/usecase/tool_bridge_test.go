package usecase

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"voicecanvas/internal/domain"
	"voicecanvas/internal/protocol"
)

func imageCallFrame(t *testing.T, callID, prompt string) string {
	t.Helper()
	return mustJSON(t, protocol.ResponseDone{
		Type: protocol.TypeResponseDone,
		Response: protocol.ResponsePayload{
			ID:     "resp_1",
			Status: "completed",
			Output: []protocol.ConversationItem{{
				ID:        "fc_" + callID,
				Type:      protocol.ItemTypeFunctionCall,
				Name:      ImageToolName,
				CallID:    callID,
				Arguments: mustJSON(t, map[string]string{"prompt": prompt}),
			}},
		},
	})
}

func assistantTitles(items []domain.TranscriptItem) []string {
	var out []string
	for _, item := range items {
		if item.IsMessage() && item.Role == domain.RoleAssistant {
			out = append(out, item.Title)
		}
	}
	return out
}

func TestImageToolSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)

	h.dialer.receive(t, imageCallFrame(t, "call_1", "a cat in a hat"))
	h.coordinator.Wait()

	if got := h.images.snapshotPrompts(); len(got) != 1 || got[0] != "a cat in a hat" {
		t.Fatalf("unexpected prompts: %v", got)
	}

	items := h.coordinator.Transcript()
	wantTitles := []string{imageLoadingText, imageReadyText}
	if diff := cmp.Diff(wantTitles, assistantTitles(items)); diff != "" {
		t.Fatalf("unexpected assistant messages (-want +got):\n%s", diff)
	}
	last := items[len(items)-1]
	if last.Artifact == nil || last.Artifact.ImageURL != "https://images.example/cat.png" || last.Artifact.ImagePrompt != "a cat in a hat" {
		t.Fatalf("unexpected artifact: %+v", last.Artifact)
	}
	if last.Status != domain.ItemStatusDone {
		t.Fatalf("tool messages are complete when added")
	}

	events := h.transport.sentEvents(t, greetingFrames)
	want := []protocol.Event{
		protocol.NewToolCallSuccess("call_1", "https://images.example/cat.png", "a cat in a hat"),
		protocol.NewResponseCreate(),
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("unexpected frames (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]bool{true, false}, h.events.snapshotGenerating()); diff != "" {
		t.Fatalf("unexpected generating changes (-want +got):\n%s", diff)
	}
	if h.coordinator.Generating() {
		t.Fatalf("nothing should be pending")
	}
}

func TestImageToolDeduplicatesCallID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)

	h.dialer.receive(t, imageCallFrame(t, "call_1", "a cat"))
	h.dialer.receive(t, mustJSON(t, protocol.ToolCall{
		Type: protocol.TypeToolCall,
		Item: protocol.ConversationItem{
			Type:      protocol.ItemTypeFunctionCall,
			Name:      ImageToolName,
			CallID:    "call_1",
			Arguments: `{"prompt":"a cat"}`,
		},
	}))
	h.coordinator.Wait()
	h.dialer.receive(t, imageCallFrame(t, "call_1", "a cat"))
	h.coordinator.Wait()

	if got := h.images.snapshotPrompts(); len(got) != 1 {
		t.Fatalf("expected a single generation, got %d", len(got))
	}
}

func TestImageToolFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.images.err = errBoom
	h.connect(t)

	h.dialer.receive(t, imageCallFrame(t, "call_9", "a dog"))
	h.coordinator.Wait()

	wantTitles := []string{imageLoadingText, imageFailedText}
	if diff := cmp.Diff(wantTitles, assistantTitles(h.coordinator.Transcript())); diff != "" {
		t.Fatalf("unexpected assistant messages (-want +got):\n%s", diff)
	}

	events := h.transport.sentEvents(t, greetingFrames)
	want := []protocol.Event{protocol.NewToolCallFailure("call_9", "Failed to generate image")}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("unexpected frames (-want +got):\n%s", diff)
	}

	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeImageGeneration {
		t.Fatalf("expected image generation error, got %+v", errs)
	}
}

func TestImageToolInvalidArgumentsIsFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)

	badCall := mustJSON(t, protocol.ToolCall{
		Type: protocol.TypeToolCall,
		Item: protocol.ConversationItem{
			Type:      protocol.ItemTypeFunctionCall,
			Name:      ImageToolName,
			CallID:    "call_bad",
			Arguments: `{"prompt":`,
		},
	})
	h.dialer.receive(t, badCall)
	h.dialer.receive(t, badCall)
	h.coordinator.Wait()

	if got := h.images.snapshotPrompts(); len(got) != 0 {
		t.Fatalf("nothing should be generated, got %v", got)
	}
	if diff := cmp.Diff([]string{imageFailedText}, assistantTitles(h.coordinator.Transcript())); diff != "" {
		t.Fatalf("unexpected assistant messages (-want +got):\n%s", diff)
	}

	events := h.transport.sentEvents(t, greetingFrames)
	want := []protocol.Event{protocol.NewToolCallFailure("call_bad", "Failed to generate image")}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("unexpected frames (-want +got):\n%s", diff)
	}
	if h.coordinator.Generating() {
		t.Fatalf("nothing should be pending")
	}
}

func TestImageToolMissingURLIsFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.images.url = ""
	h.connect(t)

	h.dialer.receive(t, imageCallFrame(t, "call_2", "a fox"))
	h.coordinator.Wait()

	events := h.transport.sentEvents(t, greetingFrames)
	if len(events) != 1 {
		t.Fatalf("expected one frame, got %d", len(events))
	}
	resp, ok := events[0].(protocol.ToolCallResponse)
	if !ok || resp.Status != protocol.ToolStatusError {
		t.Fatalf("expected error response, got %+v", events[0])
	}
}

func TestImageToolCancelledOnDisconnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.images.release = make(chan struct{})
	h.images.started = make(chan string, 1)
	h.connect(t)

	h.dialer.receive(t, imageCallFrame(t, "call_3", "a slow painting"))
	<-h.images.started
	if !h.coordinator.Generating() {
		t.Fatalf("expected pending generation")
	}

	h.coordinator.Disconnect()
	h.coordinator.Wait()

	if diff := cmp.Diff([]string{imageLoadingText}, assistantTitles(h.coordinator.Transcript())); diff != "" {
		t.Fatalf("cancelled generation must not touch the transcript (-want +got):\n%s", diff)
	}
	if got := h.transport.frameCount(); got != greetingFrames {
		t.Fatalf("nothing may reach a closed channel, got %d frames", got)
	}

	var dropped int
	for _, event := range h.coordinator.Events() {
		if event.Name == "error.data_channel_not_open" {
			dropped++
		}
	}
	if dropped != 1 {
		t.Fatalf("expected the error response to be attempted and dropped, got %d", dropped)
	}
	if h.coordinator.Generating() {
		t.Fatalf("generating must clear after disconnect")
	}
	if diff := cmp.Diff([]bool{true, false}, h.events.snapshotGenerating()); diff != "" {
		t.Fatalf("unexpected generating changes (-want +got):\n%s", diff)
	}
}

func TestImageToolTracksConcurrentCalls(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.images.release = make(chan struct{})
	h.images.started = make(chan string, 2)
	h.connect(t)

	h.dialer.receive(t, imageCallFrame(t, "call_a", "first"))
	h.dialer.receive(t, imageCallFrame(t, "call_b", "second"))
	<-h.images.started
	<-h.images.started

	h.images.release <- struct{}{}
	waitFor(t, "first image", func() bool {
		return len(assistantTitles(h.coordinator.Transcript())) == 3
	})
	if !h.coordinator.Generating() {
		t.Fatalf("second call is still pending")
	}

	h.images.release <- struct{}{}
	h.coordinator.Wait()
	if h.coordinator.Generating() {
		t.Fatalf("all calls finished")
	}
	if got := h.events.snapshotGenerating(); len(got) != 2 {
		t.Fatalf("generating should flip once each way, got %v", got)
	}
}

func TestImageToolWithoutCallIDSendsNoResponse(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)

	h.dialer.receive(t, imageCallFrame(t, "", "anonymous"))
	h.coordinator.Wait()

	events := h.transport.sentEvents(t, greetingFrames)
	if len(events) != 1 || events[0].EventType() != protocol.TypeResponseCreate {
		t.Fatalf("expected only the follow-up response.create, got %+v", events)
	}
	if got := assistantTitles(h.coordinator.Transcript()); len(got) != 2 {
		t.Fatalf("expected loading and image messages, got %v", got)
	}
}

func TestImageToolIgnoresOtherTools(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)

	h.dialer.receive(t, mustJSON(t, protocol.ToolCall{
		Type: protocol.TypeToolCall,
		Item: protocol.ConversationItem{Type: protocol.ItemTypeFunctionCall, Name: "lookupWeather", CallID: "c", Arguments: `{}`},
	}))
	h.dialer.receive(t, mustJSON(t, protocol.ToolCall{
		Type: protocol.TypeToolCall,
		Item: protocol.ConversationItem{Type: protocol.ItemTypeFunctionCall, Name: ImageToolName, CallID: "d", Arguments: `not json`},
	}))
	h.coordinator.Wait()

	if len(h.images.snapshotPrompts()) != 0 {
		t.Fatalf("no generation expected")
	}
}

func TestExternalToolCallResponseAddsImage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t)

	frame := mustJSON(t, protocol.NewToolCallSuccess("ext_1", "https://images.example/ext.png", "a boat"))
	h.dialer.receive(t, frame)
	h.dialer.receive(t, frame)
	h.coordinator.Wait()

	items := h.coordinator.Transcript()
	if diff := cmp.Diff([]string{imageReadyText}, assistantTitles(items)); diff != "" {
		t.Fatalf("unexpected assistant messages (-want +got):\n%s", diff)
	}
	if last := items[len(items)-1]; last.Artifact == nil || last.Artifact.ImagePrompt != "a boat" {
		t.Fatalf("unexpected artifact: %+v", last.Artifact)
	}
	if len(h.images.snapshotPrompts()) != 0 {
		t.Fatalf("external results must not trigger generation")
	}

	events := h.transport.sentEvents(t, greetingFrames)
	if len(events) != 1 || events[0].EventType() != protocol.TypeResponseCreate {
		t.Fatalf("expected one follow-up response.create, got %+v", events)
	}
}
