package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"voicecanvas/internal/agents"
	"voicecanvas/internal/domain"
	"voicecanvas/internal/ports"
	"voicecanvas/internal/protocol"
)

type fakeCredentials struct {
	key   string
	err   error
	calls int
}

func (f *fakeCredentials) EphemeralKey(_ context.Context) (string, error) {
	f.calls++
	return f.key, f.err
}

type fakeDialer struct {
	mu         sync.Mutex
	transport  *fakeTransport
	err        error
	openOnDial bool
	handlers   ports.TransportHandlers
	keys       []string
}

func (f *fakeDialer) Dial(_ context.Context, key string, handlers ports.TransportHandlers) (ports.Transport, error) {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.handlers = handlers
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.openOnDial {
		f.transport.setOpen(true)
		handlers.OnOpen()
	}
	return f.transport, nil
}

// open simulates the data channel becoming ready.
func (f *fakeDialer) open() {
	f.mu.Lock()
	handlers := f.handlers
	f.mu.Unlock()
	f.transport.setOpen(true)
	handlers.OnOpen()
}

func (f *fakeDialer) receive(t *testing.T, frame string) {
	t.Helper()
	f.mu.Lock()
	handlers := f.handlers
	f.mu.Unlock()
	handlers.OnMessage([]byte(frame))
}

func (f *fakeDialer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

type fakeTransport struct {
	mu         sync.Mutex
	open       bool
	frames     []string
	playback   []bool
	closeCalls int
	sendErr    error
	// onPlayback runs after SetPlayback records, outside the lock.
	onPlayback func()
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) setOpen(open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = open
}

func (f *fakeTransport) SendText(frame string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTransport) SetPlayback(enabled bool) {
	f.mu.Lock()
	f.playback = append(f.playback, enabled)
	hook := f.onPlayback
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.open = false
	return nil
}

func (f *fakeTransport) snapshotFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeTransport) sentTypes(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, frame := range f.snapshotFrames() {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(frame), &envelope); err != nil {
			t.Fatalf("sent frame is not json: %v", err)
		}
		out = append(out, envelope.Type)
	}
	return out
}

// sentEvents decodes every frame sent after the first skip frames.
func (f *fakeTransport) sentEvents(t *testing.T, skip int) []protocol.Event {
	t.Helper()
	frames := f.snapshotFrames()
	if skip > len(frames) {
		t.Fatalf("only %d frames sent, wanted to skip %d", len(frames), skip)
	}
	var out []protocol.Event
	for _, frame := range frames[skip:] {
		event, err := protocol.Decode([]byte(frame))
		if err != nil {
			t.Fatalf("sent frame does not decode: %v", err)
		}
		out = append(out, event)
	}
	return out
}

func (f *fakeTransport) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeImages struct {
	mu      sync.Mutex
	url     string
	err     error
	prompts []string
	// release, when set, gates each call on one receive; the call returns
	// ctx.Err() if the context ends first.
	release chan struct{}
	started chan string
}

func (f *fakeImages) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	release, started := f.release, f.started
	f.mu.Unlock()

	if started != nil {
		started <- prompt
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func (f *fakeImages) snapshotPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.prompts))
	copy(out, f.prompts)
	return out
}

type fakePreferences struct {
	mu      sync.Mutex
	prefs   domain.Preferences
	loadErr error
	saveErr error
	saved   []domain.Preferences
}

func (f *fakePreferences) Load() (domain.Preferences, error) {
	if f.loadErr != nil {
		return domain.Preferences{}, f.loadErr
	}
	return f.prefs, nil
}

func (f *fakePreferences) Save(prefs domain.Preferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, prefs)
	return f.saveErr
}

type fakeEventSink struct {
	mu sync.Mutex

	statuses    []statusEvent
	transcripts int
	logged      []domain.LoggedEvent
	generating  []bool
	errors      []errEvent
}

type statusEvent struct {
	status domain.SessionStatus
	reason domain.SessionStatusReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStatusChanged(status domain.SessionStatus, reason domain.SessionStatusReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusEvent{status: status, reason: reason})
}

func (f *fakeEventSink) TranscriptChanged(_ []domain.TranscriptItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts++
}

func (f *fakeEventSink) EventLogged(event domain.LoggedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logged = append(f.logged, event)
}

func (f *fakeEventSink) ImageGenerationChanged(generating bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generating = append(f.generating, generating)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStatuses() []statusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]statusEvent, len(f.statuses))
	copy(out, f.statuses)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) snapshotGenerating() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.generating))
	copy(out, f.generating)
	return out
}

func (f *fakeEventSink) loggedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.logged))
	for _, event := range f.logged {
		out = append(out, event.Name)
	}
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	coordinator *SessionCoordinator
	credentials *fakeCredentials
	dialer      *fakeDialer
	transport   *fakeTransport
	images      *fakeImages
	prefs       *fakePreferences
	events      *fakeEventSink
	clock       *testClock
}

type harnessOption func(*harness, *Deps, *Config)

func withPushToTalk() harnessOption {
	return func(h *harness, _ *Deps, _ *Config) {
		h.prefs.prefs.PushToTalk = true
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	catalog, err := agents.Builtin()
	if err != nil {
		t.Fatalf("builtin agents: %v", err)
	}
	_, set := catalog.Select("")

	h := &harness{
		credentials: &fakeCredentials{key: "ek_test"},
		transport:   &fakeTransport{},
		images:      &fakeImages{url: "https://images.example/cat.png"},
		prefs:       &fakePreferences{prefs: domain.DefaultPreferences()},
		events:      &fakeEventSink{},
		clock:       newTestClock(),
	}
	h.dialer = &fakeDialer{transport: h.transport}

	deps := Deps{
		Credentials: h.credentials,
		Dialer:      h.dialer,
		Images:      h.images,
		Preferences: h.prefs,
		Events:      h.events,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	cfg := Config{FollowUpDelay: time.Millisecond, Now: h.clock.Now}
	for _, opt := range opts {
		opt(h, &deps, &cfg)
	}

	h.coordinator = NewSessionCoordinator(deps, set[0], cfg)
	h.coordinator.transcript.SetClock(h.clock.Now)
	return h
}

// connect runs Connect and opens the data channel.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.coordinator.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	h.dialer.open()
	if got := h.coordinator.Status().Status; got != domain.SessionStatusConnected {
		t.Fatalf("expected connected, got %s", got)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustJSON(t *testing.T, value any) string {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

var errBoom = errors.New("boom")
