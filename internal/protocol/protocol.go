package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event types exchanged over the realtime data channel.
const (
	TypeSessionUpdate            = "session.update"
	TypeConversationItemCreate   = "conversation.item.create"
	TypeConversationItemTruncate = "conversation.item.truncate"
	TypeResponseCreate           = "response.create"
	TypeResponseCancel           = "response.cancel"
	TypeInputAudioBufferClear    = "input_audio_buffer.clear"
	TypeInputAudioBufferCommit   = "input_audio_buffer.commit"
	TypeToolCallResponse         = "tool_call.response"

	TypeToolCall                         = "tool_call"
	TypeResponseDone                     = "response.done"
	TypeSessionCreated                   = "session.created"
	TypeConversationItemCreated          = "conversation.item.created"
	TypeInputAudioTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeResponseAudioTranscriptDelta     = "response.audio_transcript.delta"
	TypeResponseOutputItemDone           = "response.output_item.done"
	TypeError                            = "error"
)

// Item and content discriminators used inside events.
const (
	ItemTypeMessage      = "message"
	ItemTypeFunctionCall = "function_call"

	ContentTypeInputText  = "input_text"
	ContentTypeInputAudio = "input_audio"
	ContentTypeText       = "text"
	ContentTypeAudio      = "audio"

	ToolStatusSuccess = "success"
	ToolStatusError   = "error"
)

// Event is any record carried over the data channel.
type Event interface {
	EventType() string
}

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}

// ToolDefinition declares a function the agent may call. Parameters holds the
// JSON schema verbatim.
type ToolDefinition struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// SessionConfig is the body of session.update. A nil TurnDetection is sent
// as an explicit null, which disables server-side voice activity detection.
type SessionConfig struct {
	Modalities              []string                 `json:"modalities"`
	Instructions            string                   `json:"instructions"`
	Voice                   string                   `json:"voice"`
	InputAudioFormat        string                   `json:"input_audio_format"`
	OutputAudioFormat       string                   `json:"output_audio_format"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection"`
	Tools                   []ToolDefinition         `json:"tools"`
}

type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ConversationItem covers messages and function calls.
type ConversationItem struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Status    string        `json:"status,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
}

// Text returns the first non-empty text or transcript of the item.
func (i ConversationItem) Text() string {
	for _, part := range i.Content {
		var text string
		switch part.Type {
		case ContentTypeInputText, ContentTypeText:
			text = part.Text
		case ContentTypeInputAudio, ContentTypeAudio:
			text = part.Transcript
		default:
			text = part.Text
			if text == "" {
				text = part.Transcript
			}
		}
		if text != "" {
			return text
		}
	}
	return ""
}

type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

type ConversationItemTruncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

type ResponseCreate struct {
	Type string `json:"type"`
}

type ResponseCancel struct {
	Type string `json:"type"`
}

type InputAudioBufferClear struct {
	Type string `json:"type"`
}

type InputAudioBufferCommit struct {
	Type string `json:"type"`
}

type ToolCallOutput struct {
	ImageURL string `json:"image_url,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

type ToolCallError struct {
	Message string `json:"message"`
}

type ToolCallResponse struct {
	Type   string          `json:"type"`
	CallID string          `json:"call_id"`
	Status string          `json:"status,omitempty"`
	Output *ToolCallOutput `json:"output,omitempty"`
	Error  *ToolCallError  `json:"error,omitempty"`
}

type ToolCall struct {
	Type    string           `json:"type"`
	EventID string           `json:"event_id,omitempty"`
	Item    ConversationItem `json:"item"`
}

type ResponsePayload struct {
	ID     string             `json:"id,omitempty"`
	Status string             `json:"status,omitempty"`
	Output []ConversationItem `json:"output,omitempty"`
}

type ResponseDone struct {
	Type     string          `json:"type"`
	EventID  string          `json:"event_id,omitempty"`
	Response ResponsePayload `json:"response"`
}

type SessionCreated struct {
	Type    string          `json:"type"`
	EventID string          `json:"event_id,omitempty"`
	Session json.RawMessage `json:"session,omitempty"`
}

type ConversationItemCreated struct {
	Type           string           `json:"type"`
	EventID        string           `json:"event_id,omitempty"`
	PreviousItemID string           `json:"previous_item_id,omitempty"`
	Item           ConversationItem `json:"item"`
}

type InputAudioTranscriptionCompleted struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id,omitempty"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

type ResponseAudioTranscriptDelta struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

type ResponseOutputItemDone struct {
	Type       string           `json:"type"`
	EventID    string           `json:"event_id,omitempty"`
	ResponseID string           `json:"response_id,omitempty"`
	Item       ConversationItem `json:"item"`
}

type ServerError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

type ErrorEvent struct {
	Type    string      `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	Error   ServerError `json:"error"`
}

// Unknown carries any frame whose type is not modelled here.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (SessionUpdate) EventType() string                    { return TypeSessionUpdate }
func (ConversationItemCreate) EventType() string           { return TypeConversationItemCreate }
func (ConversationItemTruncate) EventType() string         { return TypeConversationItemTruncate }
func (ResponseCreate) EventType() string                   { return TypeResponseCreate }
func (ResponseCancel) EventType() string                   { return TypeResponseCancel }
func (InputAudioBufferClear) EventType() string            { return TypeInputAudioBufferClear }
func (InputAudioBufferCommit) EventType() string           { return TypeInputAudioBufferCommit }
func (ToolCallResponse) EventType() string                 { return TypeToolCallResponse }
func (ToolCall) EventType() string                         { return TypeToolCall }
func (ResponseDone) EventType() string                     { return TypeResponseDone }
func (SessionCreated) EventType() string                   { return TypeSessionCreated }
func (ConversationItemCreated) EventType() string          { return TypeConversationItemCreated }
func (InputAudioTranscriptionCompleted) EventType() string { return TypeInputAudioTranscriptionCompleted }
func (ResponseAudioTranscriptDelta) EventType() string     { return TypeResponseAudioTranscriptDelta }
func (ResponseOutputItemDone) EventType() string           { return TypeResponseOutputItemDone }
func (ErrorEvent) EventType() string                       { return TypeError }
func (u Unknown) EventType() string                        { return u.Type }

func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{Type: TypeSessionUpdate, Session: cfg}
}

// NewUserText builds a conversation.item.create carrying typed user text.
func NewUserText(id, text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			ID:      id,
			Type:    ItemTypeMessage,
			Role:    "user",
			Content: []ContentPart{{Type: ContentTypeInputText, Text: text}},
		},
	}
}

func NewTruncate(itemID string, audioEndMS int64) ConversationItemTruncate {
	if audioEndMS < 0 {
		audioEndMS = 0
	}
	return ConversationItemTruncate{
		Type:         TypeConversationItemTruncate,
		ItemID:       itemID,
		ContentIndex: 0,
		AudioEndMS:   audioEndMS,
	}
}

func NewResponseCreate() ResponseCreate { return ResponseCreate{Type: TypeResponseCreate} }

func NewResponseCancel() ResponseCancel { return ResponseCancel{Type: TypeResponseCancel} }

func NewAudioBufferClear() InputAudioBufferClear {
	return InputAudioBufferClear{Type: TypeInputAudioBufferClear}
}

func NewAudioBufferCommit() InputAudioBufferCommit {
	return InputAudioBufferCommit{Type: TypeInputAudioBufferCommit}
}

func NewToolCallSuccess(callID, imageURL, prompt string) ToolCallResponse {
	return ToolCallResponse{
		Type:   TypeToolCallResponse,
		CallID: callID,
		Status: ToolStatusSuccess,
		Output: &ToolCallOutput{ImageURL: imageURL, Prompt: prompt},
	}
}

func NewToolCallFailure(callID, message string) ToolCallResponse {
	return ToolCallResponse{
		Type:   TypeToolCallResponse,
		CallID: callID,
		Status: ToolStatusError,
		Error:  &ToolCallError{Message: message},
	}
}

// Encode serializes an event into a single JSON text frame. The encoded type
// must match the event's declared type, which rejects zero-value structs.
func Encode(event Event) ([]byte, error) {
	if event == nil {
		return nil, badRequest("event is nil", "")
	}
	if u, ok := event.(Unknown); ok {
		if len(u.Raw) == 0 {
			return nil, badRequest("unknown event has no payload", "type")
		}
		return append([]byte(nil), u.Raw...), nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("inspect %s: %w", event.EventType(), err)
	}
	if envelope.Type != event.EventType() {
		return nil, badRequest(fmt.Sprintf("type field %q does not match %q", envelope.Type, event.EventType()), "type")
	}
	return data, nil
}

// Decode parses one text frame into a typed event. Unrecognized types are
// returned as Unknown rather than an error.
func Decode(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeSessionUpdate:
		return decodeAs[SessionUpdate](data, typ)
	case TypeConversationItemCreate:
		return decodeAs[ConversationItemCreate](data, typ)
	case TypeConversationItemTruncate:
		return decodeAs[ConversationItemTruncate](data, typ)
	case TypeResponseCreate:
		return decodeAs[ResponseCreate](data, typ)
	case TypeResponseCancel:
		return decodeAs[ResponseCancel](data, typ)
	case TypeInputAudioBufferClear:
		return decodeAs[InputAudioBufferClear](data, typ)
	case TypeInputAudioBufferCommit:
		return decodeAs[InputAudioBufferCommit](data, typ)
	case TypeToolCallResponse:
		return decodeAs[ToolCallResponse](data, typ)
	case TypeToolCall:
		return decodeAs[ToolCall](data, typ)
	case TypeResponseDone:
		return decodeAs[ResponseDone](data, typ)
	case TypeSessionCreated:
		return decodeAs[SessionCreated](data, typ)
	case TypeConversationItemCreated:
		return decodeAs[ConversationItemCreated](data, typ)
	case TypeInputAudioTranscriptionCompleted:
		return decodeAs[InputAudioTranscriptionCompleted](data, typ)
	case TypeResponseAudioTranscriptDelta:
		return decodeAs[ResponseAudioTranscriptDelta](data, typ)
	case TypeResponseOutputItemDone:
		return decodeAs[ResponseOutputItemDone](data, typ)
	case TypeError:
		return decodeAs[ErrorEvent](data, typ)
	default:
		return Unknown{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func decodeAs[T Event](data []byte, typ string) (Event, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, badRequest("invalid "+typ+" payload", err.Error())
	}
	return out, nil
}

// FunctionCall is a tool invocation requested by the agent.
type FunctionCall struct {
	Name      string
	CallID    string
	Arguments string
}

// FunctionCalls lists the function invocations carried by an event: the
// function_call outputs of response.done, or the item of a tool_call.
func FunctionCalls(event Event) []FunctionCall {
	switch ev := event.(type) {
	case ResponseDone:
		var calls []FunctionCall
		for _, item := range ev.Response.Output {
			if item.Type != ItemTypeFunctionCall || item.Arguments == "" {
				continue
			}
			calls = append(calls, FunctionCall{Name: item.Name, CallID: item.CallID, Arguments: item.Arguments})
		}
		return calls
	case ToolCall:
		if ev.Item.Arguments == "" {
			return nil
		}
		return []FunctionCall{{Name: ev.Item.Name, CallID: ev.Item.CallID, Arguments: ev.Item.Arguments}}
	default:
		return nil
	}
}
