package ports

import (
	"context"
	"io"

	"voicecanvas/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session producing an Ogg/Opus stream.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioPlayback consumes the remote Ogg/Opus stream.
type AudioPlayback interface {
	Start(ctx context.Context) (io.WriteCloser, error)
}

// CredentialSource mints short-lived realtime credentials.
type CredentialSource interface {
	EphemeralKey(ctx context.Context) (string, error)
}

// TransportHandlers receive data-channel callbacks. They may be invoked from
// transport goroutines.
type TransportHandlers struct {
	OnOpen    func()
	OnMessage func(frame []byte)
	OnClose   func()
	OnError   func(err error)
}

// Transport is an established realtime connection.
type Transport interface {
	IsOpen() bool
	SendText(frame string) error
	SetPlayback(enabled bool)
	Close() error
}

// TransportDialer opens realtime connections with an ephemeral key.
type TransportDialer interface {
	Dial(ctx context.Context, ephemeralKey string, handlers TransportHandlers) (Transport, error)
}

// ImageGenerator turns a prompt into an image URL.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// PreferenceStore persists UI toggles.
type PreferenceStore interface {
	Load() (domain.Preferences, error)
	Save(prefs domain.Preferences) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStatusChanged(status domain.SessionStatus, reason domain.SessionStatusReason)
	TranscriptChanged(items []domain.TranscriptItem)
	EventLogged(event domain.LoggedEvent)
	ImageGenerationChanged(generating bool)
	SessionError(code domain.ErrorCode, detail string)
}
