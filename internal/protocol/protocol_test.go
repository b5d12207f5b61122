package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []Event{
		NewSessionUpdate(SessionConfig{
			Modalities:              []string{"text", "audio"},
			Instructions:            "be brief",
			Voice:                   "coral",
			InputAudioFormat:        "pcm16",
			OutputAudioFormat:       "pcm16",
			InputAudioTranscription: &InputAudioTranscription{Model: "whisper-1"},
			TurnDetection: &TurnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMS:   300,
				SilenceDurationMS: 200,
				CreateResponse:    true,
			},
			Tools: []ToolDefinition{{
				Type:        "function",
				Name:        "generateImage",
				Description: "Generate an image",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"prompt":{"type":"string"}},"required":["prompt"]}`),
			}},
		}),
		NewSessionUpdate(SessionConfig{Modalities: []string{"text"}, Tools: []ToolDefinition{}}),
		NewUserText("abc", "hello"),
		NewTruncate("item_1", 1250),
		NewResponseCreate(),
		NewResponseCancel(),
		NewAudioBufferClear(),
		NewAudioBufferCommit(),
		NewToolCallSuccess("call_1", "https://img/1.png", "a cat"),
		NewToolCallFailure("call_2", "Failed to generate image"),
	}

	for _, event := range cases {
		event := event
		t.Run(event.EventType(), func(t *testing.T) {
			t.Parallel()

			frame, err := Encode(event)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			decoded, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if diff := cmp.Diff(event, decoded); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodePushToTalkSendsExplicitNullTurnDetection(t *testing.T) {
	t.Parallel()

	frame, err := Encode(NewSessionUpdate(SessionConfig{Modalities: []string{"text", "audio"}}))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(frame), `"turn_detection":null`) {
		t.Fatalf("expected explicit null turn_detection, got %s", frame)
	}
}

func TestEncodeRejectsZeroValueEvent(t *testing.T) {
	t.Parallel()

	_, err := Encode(ResponseCreate{})
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if _, err := Encode(nil); err == nil {
		t.Fatalf("expected error for nil event")
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`{not json`, `{"event_id":"x"}`, `{"type":"   "}`, `{"type":"tool_call","item":"oops"}`} {
		_, err := Decode([]byte(raw))
		if err == nil {
			t.Fatalf("expected error for %q", raw)
		}
		var decErr *DecodeError
		if !errors.As(err, &decErr) || decErr.Code != "bad_request" {
			t.Fatalf("expected bad_request DecodeError for %q, got %v", raw, err)
		}
	}
}

func TestDecodeUnknownTypeKeepsRawFrame(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"rate_limits.updated","rate_limits":[]}`)
	event, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	unknown, ok := event.(Unknown)
	if !ok {
		t.Fatalf("decoded type = %T, want Unknown", event)
	}
	if unknown.EventType() != "rate_limits.updated" || string(unknown.Raw) != string(raw) {
		t.Fatalf("unexpected unknown event: %+v", unknown)
	}

	frame, err := Encode(unknown)
	if err != nil || string(frame) != string(raw) {
		t.Fatalf("expected raw passthrough, got %s (%v)", frame, err)
	}
}

func TestFunctionCallsFromResponseDone(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"type":"response.done",
		"response":{"id":"resp_1","status":"completed","output":[
			{"type":"message","role":"assistant","content":[{"type":"audio","transcript":"sure"}]},
			{"type":"function_call","name":"generateImage","call_id":"call_9","arguments":"{\"prompt\":\"a fox\"}"},
			{"type":"function_call","name":"generateImage","call_id":"call_10","arguments":""}
		]}
	}`)
	event, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	calls := FunctionCalls(event)
	want := []FunctionCall{{Name: "generateImage", CallID: "call_9", Arguments: `{"prompt":"a fox"}`}}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Fatalf("FunctionCalls mismatch (-want +got):\n%s", diff)
	}
}

func TestFunctionCallsFromToolCall(t *testing.T) {
	t.Parallel()

	event, err := Decode([]byte(`{"type":"tool_call","item":{"type":"function_call","name":"generateImage","call_id":"c1","arguments":"{\"prompt\":\"p\"}"}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	calls := FunctionCalls(event)
	if len(calls) != 1 || calls[0].CallID != "c1" || calls[0].Name != "generateImage" {
		t.Fatalf("unexpected calls: %+v", calls)
	}

	if got := FunctionCalls(NewResponseCreate()); got != nil {
		t.Fatalf("expected no calls, got %+v", got)
	}
}

func TestConversationItemText(t *testing.T) {
	t.Parallel()

	item := ConversationItem{Content: []ContentPart{{Type: ContentTypeInputAudio}, {Type: ContentTypeAudio, Transcript: "spoken"}}}
	if got := item.Text(); got != "spoken" {
		t.Fatalf("Text() = %q", got)
	}
	typed := ConversationItem{Content: []ContentPart{{Type: ContentTypeText, Transcript: "ignored"}, {Type: ContentTypeText, Text: "typed"}}}
	if got := typed.Text(); got != "typed" {
		t.Fatalf("Text() = %q", got)
	}
	if got := (ConversationItem{}).Text(); got != "" {
		t.Fatalf("expected empty text, got %q", got)
	}
}

func TestDecodeErrorMessage(t *testing.T) {
	t.Parallel()

	if got := badRequest("missing type", "type").Error(); got != "missing type (type)" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := badRequest("invalid json frame", "").Error(); got != "invalid json frame" {
		t.Fatalf("unexpected message: %q", got)
	}
	var nilErr *DecodeError
	if nilErr.Error() != "" {
		t.Fatalf("expected empty message for nil error")
	}
}
