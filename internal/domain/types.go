package domain

import "time"

// SessionStatus models the realtime connection lifecycle.
type SessionStatus string

const (
	SessionStatusDisconnected SessionStatus = "DISCONNECTED"
	SessionStatusConnecting   SessionStatus = "CONNECTING"
	SessionStatusConnected    SessionStatus = "CONNECTED"
)

// SessionStatusReason provides a structured reason for status transitions.
type SessionStatusReason string

const (
	SessionReasonIdle             SessionStatusReason = "idle"
	SessionReasonConnectRequested SessionStatusReason = "connect_requested"
	SessionReasonChannelOpen      SessionStatusReason = "channel_open"
	SessionReasonNoEphemeralKey   SessionStatusReason = "no_ephemeral_key"
	SessionReasonTransportFailed  SessionStatusReason = "transport_failed"
	SessionReasonTransportClosed  SessionStatusReason = "transport_closed"
	SessionReasonUserDisconnected SessionStatusReason = "user_disconnected"
)

// ErrorCode identifies non-fatal backend errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup         ErrorCode = "startup"
	ErrorCodeCredential      ErrorCode = "credential"
	ErrorCodeTransport       ErrorCode = "transport"
	ErrorCodeChannelNotOpen  ErrorCode = "channel_not_open"
	ErrorCodeMalformedFrame  ErrorCode = "malformed_frame"
	ErrorCodeImageGeneration ErrorCode = "image_generation"
	ErrorCodeServer          ErrorCode = "server"
	ErrorCodePreferences     ErrorCode = "preferences"
)

// Role is the speaker of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ItemType distinguishes transcript variants.
type ItemType string

const (
	ItemTypeMessage    ItemType = "MESSAGE"
	ItemTypeBreadcrumb ItemType = "BREADCRUMB"
)

// ItemStatus is monotonic: in-progress may become done, never the reverse.
type ItemStatus string

const (
	ItemStatusInProgress ItemStatus = "IN_PROGRESS"
	ItemStatusDone       ItemStatus = "DONE"
)

// Artifact is an image attached to an assistant message.
type Artifact struct {
	ImageURL    string `json:"imageUrl"`
	ImagePrompt string `json:"imagePrompt"`
}

// TranscriptItem is one entry of the conversation log.
type TranscriptItem struct {
	ItemID    string     `json:"itemId"`
	Type      ItemType   `json:"type"`
	Role      Role       `json:"role,omitempty"`
	Title     string     `json:"title"`
	Data      any        `json:"data,omitempty"`
	Artifact  *Artifact  `json:"artifact,omitempty"`
	Expanded  bool       `json:"expanded"`
	Timestamp string     `json:"timestamp"`
	CreatedAt time.Time  `json:"createdAt"`
	Status    ItemStatus `json:"status"`
	IsHidden  bool       `json:"isHidden"`
}

// IsMessage reports whether the item is a chat message.
func (i TranscriptItem) IsMessage() bool {
	return i.Type == ItemTypeMessage
}

// EventDirection tells whether a logged protocol event was sent or received.
type EventDirection string

const (
	EventDirectionClient EventDirection = "client"
	EventDirectionServer EventDirection = "server"
)

// LoggedEvent is an entry of the events pane.
type LoggedEvent struct {
	ID        int            `json:"id"`
	Direction EventDirection `json:"direction"`
	Name      string         `json:"eventName"`
	Data      any            `json:"eventData"`
	Timestamp string         `json:"timestamp"`
	Expanded  bool           `json:"expanded"`
}

// Preferences are the persisted UI toggles.
type Preferences struct {
	PushToTalk           bool `json:"pushToTalk"`
	EventsPaneExpanded   bool `json:"eventsPaneExpanded"`
	AudioPlaybackEnabled bool `json:"audioPlaybackEnabled"`
}

// DefaultPreferences are used when nothing has been stored yet.
func DefaultPreferences() Preferences {
	return Preferences{
		PushToTalk:           false,
		EventsPaneExpanded:   true,
		AudioPlaybackEnabled: true,
	}
}

// Status summarizes the current runtime status.
type Status struct {
	Status          SessionStatus `json:"status"`
	Agent           string        `json:"agent"`
	PushToTalk      bool          `json:"pushToTalk"`
	UserSpeaking    bool          `json:"userSpeaking"`
	GeneratingImage bool          `json:"generatingImage"`
	CanSend         bool          `json:"canSend"`
	Message         string        `json:"message,omitempty"`
}
