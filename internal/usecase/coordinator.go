package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voicecanvas/internal/agents"
	"voicecanvas/internal/domain"
	"voicecanvas/internal/eventlog"
	"voicecanvas/internal/ports"
	"voicecanvas/internal/protocol"
	"voicecanvas/internal/transcript"
)

var (
	ErrNoActiveSession = errors.New("no active realtime session")
	ErrNotConnected    = errors.New("realtime session is not connected")
	ErrNoEphemeralKey  = errors.New("no ephemeral key provided by the server")
)

const (
	defaultVoice              = "coral"
	defaultTranscriptionModel = "whisper-1"
	defaultFollowUpDelay      = time.Second

	greetingText = "hi"
)

// Config controls how sessions are configured on the realtime service.
type Config struct {
	Voice              string
	TranscriptionModel string
	FollowUpDelay      time.Duration
	Now                func() time.Time
}

// Deps groups the collaborators of a SessionCoordinator.
type Deps struct {
	Credentials ports.CredentialSource
	Dialer      ports.TransportDialer
	Images      ports.ImageGenerator
	Preferences ports.PreferenceStore
	Events      ports.EventSink
	Transcript  *transcript.Store
	EventLog    *eventlog.Log
	Logger      *slog.Logger
}

// SessionCoordinator owns the realtime connection lifecycle and everything
// the UI can ask of it. There is at most one live session at a time.
type SessionCoordinator struct {
	credentials ports.CredentialSource
	dialer      ports.TransportDialer
	images      ports.ImageGenerator
	prefsStore  ports.PreferenceStore
	events      ports.EventSink
	transcript  *transcript.Store
	eventLog    *eventlog.Log
	logger      *slog.Logger
	agent       agents.Config
	cfg         Config

	tasks sync.WaitGroup

	mu      sync.Mutex
	status  domain.SessionStatus
	prefs   domain.Preferences
	current *activeSession
}

func NewSessionCoordinator(deps Deps, agent agents.Config, cfg Config) *SessionCoordinator {
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = defaultVoice
	}
	if strings.TrimSpace(cfg.TranscriptionModel) == "" {
		cfg.TranscriptionModel = defaultTranscriptionModel
	}
	switch {
	case cfg.FollowUpDelay == 0:
		cfg.FollowUpDelay = defaultFollowUpDelay
	case cfg.FollowUpDelay < 0:
		cfg.FollowUpDelay = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Transcript == nil {
		deps.Transcript = transcript.NewStore()
	}
	if deps.EventLog == nil {
		deps.EventLog = eventlog.New(0)
	}

	c := &SessionCoordinator{
		credentials: deps.Credentials,
		dialer:      deps.Dialer,
		images:      deps.Images,
		prefsStore:  deps.Preferences,
		events:      deps.Events,
		transcript:  deps.Transcript,
		eventLog:    deps.EventLog,
		logger:      deps.Logger,
		agent:       agent,
		cfg:         cfg,
		status:      domain.SessionStatusDisconnected,
		prefs:       domain.DefaultPreferences(),
	}

	if c.prefsStore != nil {
		prefs, err := c.prefsStore.Load()
		if err != nil {
			c.logger.Warn("failed to load preferences, using defaults", "error", err)
		} else {
			c.prefs = prefs
		}
	}

	c.transcript.OnChange(c.events.TranscriptChanged)
	c.eventLog.OnAppend(c.events.EventLogged)
	return c
}

// Connect opens a realtime session. It is a no-op unless Disconnected.
func (c *SessionCoordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status != domain.SessionStatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	active := newActiveSession(ctx)
	active.bridge = newToolBridge(c, active)
	c.current = active
	c.status = domain.SessionStatusConnecting
	c.mu.Unlock()

	c.events.SessionStatusChanged(domain.SessionStatusConnecting, domain.SessionReasonConnectRequested)

	c.eventLog.Client("", "fetch_session_token_request", nil)
	key, err := c.credentials.EphemeralKey(active.ctx)
	if err == nil && strings.TrimSpace(key) == "" {
		err = ErrNoEphemeralKey
	}
	if err != nil && !c.isCurrent(active) {
		return nil
	}
	if err != nil {
		c.eventLog.Client("", "error.no_ephemeral_key", map[string]string{"error": err.Error()})
		c.logger.Error("failed to fetch ephemeral key", "error", err)
		c.events.SessionError(domain.ErrorCodeCredential, err.Error())
		c.abandon(active, domain.SessionReasonNoEphemeralKey)
		return fmt.Errorf("fetch ephemeral key: %w", err)
	}
	c.eventLog.Server("", "fetch_session_token_response", nil)

	transport, err := c.dialer.Dial(active.ctx, key, c.handlersFor(active))
	if err != nil && !c.isCurrent(active) {
		return nil
	}
	if err != nil {
		c.logger.Error("failed to establish realtime transport", "error", err)
		c.events.SessionError(domain.ErrorCodeTransport, err.Error())
		c.abandon(active, domain.SessionReasonTransportFailed)
		return fmt.Errorf("dial realtime transport: %w", err)
	}

	c.mu.Lock()
	stale := c.current != active
	prefs := c.prefs
	c.mu.Unlock()
	if stale {
		_ = transport.Close()
		return nil
	}

	transport.SetPlayback(prefs.AudioPlaybackEnabled)
	live, openPending := active.attach(transport)
	if !live {
		_ = transport.Close()
		return nil
	}
	if openPending {
		c.handleOpen(active)
	}
	return nil
}

// Disconnect tears down the current session. It always leaves the
// coordinator Disconnected.
func (c *SessionCoordinator) Disconnect() {
	c.mu.Lock()
	active := c.current
	c.current = nil
	changed := c.status != domain.SessionStatusDisconnected
	c.status = domain.SessionStatusDisconnected
	c.mu.Unlock()

	if active != nil {
		active.teardown()
		active.bridge.reset()
	}
	if changed {
		c.eventLog.Client("", "disconnected", nil)
		c.events.SessionStatusChanged(domain.SessionStatusDisconnected, domain.SessionReasonUserDisconnected)
	}
}

// Wait blocks until every tool invocation started so far has returned.
func (c *SessionCoordinator) Wait() {
	c.tasks.Wait()
}

// UpdateSession pushes the agent configuration and turn detection mode.
func (c *SessionCoordinator) UpdateSession(triggerGreeting bool) error {
	active, err := c.connected()
	if err != nil {
		return err
	}
	c.updateSession(active, triggerGreeting)
	return nil
}

// CancelAssistantSpeech truncates and cancels the assistant reply that is
// still being spoken, if any.
func (c *SessionCoordinator) CancelAssistantSpeech() {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	c.cancelAssistantSpeech(active)
}

// SendUserText sends a typed message and asks for a response.
func (c *SessionCoordinator) SendUserText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	active, err := c.connected()
	if err != nil {
		return err
	}

	c.cancelAssistantSpeech(active)
	c.send(active, protocol.NewUserText("", text), "")
	c.send(active, protocol.NewResponseCreate(), "trigger response")
	return nil
}

// TalkButtonDown starts a push-to-talk turn.
func (c *SessionCoordinator) TalkButtonDown() {
	active, err := c.connected()
	if err != nil || !active.isOpen() {
		return
	}

	c.cancelAssistantSpeech(active)
	active.setSpeaking(true)
	c.send(active, protocol.NewAudioBufferClear(), "clear PTT buffer")
}

// TalkButtonUp commits the captured audio and requests a response.
func (c *SessionCoordinator) TalkButtonUp() {
	active, err := c.connected()
	if err != nil || !active.isOpen() {
		return
	}
	if !active.takeSpeaking() {
		return
	}

	c.send(active, protocol.NewAudioBufferCommit(), "commit PTT")
	c.send(active, protocol.NewResponseCreate(), "trigger response PTT")
}

// SetPushToTalk switches between push-to-talk and voice activity detection.
func (c *SessionCoordinator) SetPushToTalk(enabled bool) {
	c.updatePreferences(func(p *domain.Preferences) { p.PushToTalk = enabled })
	if active, err := c.connected(); err == nil {
		c.updateSession(active, false)
	}
}

// SetAudioPlayback toggles playback of the remote audio track.
func (c *SessionCoordinator) SetAudioPlayback(enabled bool) {
	c.updatePreferences(func(p *domain.Preferences) { p.AudioPlaybackEnabled = enabled })

	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	if active == nil {
		return
	}
	if transport := active.getTransport(); transport != nil {
		transport.SetPlayback(enabled)
	}
}

func (c *SessionCoordinator) SetEventsPaneExpanded(expanded bool) {
	c.updatePreferences(func(p *domain.Preferences) { p.EventsPaneExpanded = expanded })
}

func (c *SessionCoordinator) Preferences() domain.Preferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs
}

// ToggleExpand flips a breadcrumb open or closed.
func (c *SessionCoordinator) ToggleExpand(id string) error {
	return c.transcript.ToggleExpand(id)
}

// ToggleEvent flips an events pane entry open or closed.
func (c *SessionCoordinator) ToggleEvent(id int) error {
	return c.eventLog.Toggle(id)
}

func (c *SessionCoordinator) Transcript() []domain.TranscriptItem {
	return c.transcript.Items()
}

func (c *SessionCoordinator) Events() []domain.LoggedEvent {
	return c.eventLog.Entries()
}

// Status returns the current backend status.
func (c *SessionCoordinator) Status() domain.Status {
	c.mu.Lock()
	status := c.status
	prefs := c.prefs
	active := c.current
	c.mu.Unlock()

	out := domain.Status{
		Status:     status,
		Agent:      c.agent.Name,
		PushToTalk: prefs.PushToTalk,
	}
	if active != nil {
		out.UserSpeaking = active.isSpeaking()
		out.GeneratingImage = active.bridge.Generating()
		out.CanSend = status == domain.SessionStatusConnected && active.isOpen()
	}
	return out
}

// Generating reports whether any image generation is in flight.
func (c *SessionCoordinator) Generating() bool {
	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	return active != nil && active.bridge.Generating()
}

func (c *SessionCoordinator) connected() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	if c.status != domain.SessionStatusConnected {
		return nil, ErrNotConnected
	}
	return c.current, nil
}

func (c *SessionCoordinator) isCurrent(active *activeSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == active
}

func (c *SessionCoordinator) handlersFor(active *activeSession) ports.TransportHandlers {
	return ports.TransportHandlers{
		OnOpen:    func() { c.handleOpen(active) },
		OnMessage: func(frame []byte) { c.handleFrame(active, frame) },
		OnClose:   func() { c.handleClosed(active, nil) },
		OnError:   func(err error) { c.handleClosed(active, err) },
	}
}

func (c *SessionCoordinator) handleOpen(active *activeSession) {
	if !active.markOpened() {
		return
	}

	c.mu.Lock()
	if c.current != active {
		c.mu.Unlock()
		return
	}
	c.status = domain.SessionStatusConnected
	c.mu.Unlock()

	c.events.SessionStatusChanged(domain.SessionStatusConnected, domain.SessionReasonChannelOpen)
	c.eventLog.Client("", "data_channel.open", nil)
	if _, err := c.transcript.AddBreadcrumb("Agent: "+c.agent.Name, c.agent); err != nil {
		c.logger.Warn("failed to add agent breadcrumb", "error", err)
	}
	c.updateSession(active, true)
}

// handleClosed resets to Disconnected after the transport closed or failed.
// There is no automatic reconnect.
func (c *SessionCoordinator) handleClosed(active *activeSession, cause error) {
	c.mu.Lock()
	if c.current != active {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.status = domain.SessionStatusDisconnected
	c.mu.Unlock()

	active.teardown()
	active.bridge.reset()

	if cause != nil {
		c.logger.Error("realtime transport failed", "error", cause)
		c.eventLog.Client("", "data_channel.error", map[string]string{"error": cause.Error()})
		c.events.SessionError(domain.ErrorCodeTransport, cause.Error())
	} else {
		c.logger.Info("realtime transport closed")
		c.eventLog.Client("", "data_channel.close", nil)
	}
	c.events.SessionStatusChanged(domain.SessionStatusDisconnected, domain.SessionReasonTransportClosed)
}

// abandon drops a session that never reached the open state.
func (c *SessionCoordinator) abandon(active *activeSession, reason domain.SessionStatusReason) {
	c.mu.Lock()
	current := c.current == active
	if current {
		c.current = nil
		c.status = domain.SessionStatusDisconnected
	}
	c.mu.Unlock()

	active.teardown()
	if current {
		c.events.SessionStatusChanged(domain.SessionStatusDisconnected, reason)
	}
}

func (c *SessionCoordinator) updateSession(active *activeSession, triggerGreeting bool) {
	c.send(active, protocol.NewAudioBufferClear(), "clear audio buffer on session update")

	prefs := c.Preferences()
	var turnDetection *protocol.TurnDetection
	if !prefs.PushToTalk {
		turnDetection = &protocol.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 200,
			CreateResponse:    true,
		}
	}
	tools := c.agent.Tools
	if tools == nil {
		tools = []protocol.ToolDefinition{}
	}

	c.send(active, protocol.NewSessionUpdate(protocol.SessionConfig{
		Modalities:              []string{"text", "audio"},
		Instructions:            c.agent.Instructions,
		Voice:                   c.cfg.Voice,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &protocol.InputAudioTranscription{Model: c.cfg.TranscriptionModel},
		TurnDetection:           turnDetection,
		Tools:                   tools,
	}), "")

	if triggerGreeting {
		c.sendSimulatedUserMessage(active, greetingText)
	}
}

func (c *SessionCoordinator) sendSimulatedUserMessage(active *activeSession, text string) {
	id := transcript.NewItemID()
	if err := c.transcript.AddMessage(id, domain.RoleUser, text, true, nil); err != nil {
		c.logger.Warn("failed to record simulated message", "error", err)
	}
	c.send(active, protocol.NewUserText(id, text), "(simulated user text message)")
	c.send(active, protocol.NewResponseCreate(), "(trigger response after simulated user text message)")
}

func (c *SessionCoordinator) cancelAssistantSpeech(active *activeSession) {
	latest, ok := c.transcript.LatestMessage(domain.RoleAssistant)
	if !ok {
		c.logger.Debug("no assistant message to cancel")
		return
	}
	if latest.Status == domain.ItemStatusDone {
		return
	}

	elapsed := c.cfg.Now().Sub(latest.CreatedAt).Milliseconds()
	c.send(active, protocol.NewTruncate(latest.ItemID, elapsed), "")
	c.send(active, protocol.NewResponseCancel(), "(cancel due to user interruption)")
}

// send encodes and writes one event. When the data channel is not open the
// event is dropped and recorded as error.data_channel_not_open.
func (c *SessionCoordinator) send(active *activeSession, event protocol.Event, suffix string) bool {
	if active == nil || !active.isOpen() {
		c.eventLog.Client("", "error.data_channel_not_open", map[string]string{"attemptedEvent": event.EventType()})
		c.logger.Warn("dropped event, data channel not open", "type", event.EventType())
		if active != nil && c.isCurrent(active) {
			c.events.SessionError(domain.ErrorCodeChannelNotOpen, "cannot send "+event.EventType()+": data channel is not open")
		}
		return false
	}

	frame, err := protocol.Encode(event)
	if err != nil {
		c.logger.Error("failed to encode event", "type", event.EventType(), "error", err)
		return false
	}

	active.sendMu.Lock()
	defer active.sendMu.Unlock()

	c.eventLog.Client(event.EventType(), suffix, event)
	if err := active.getTransport().SendText(string(frame)); err != nil {
		c.logger.Error("failed to send event", "type", event.EventType(), "error", err)
		c.events.SessionError(domain.ErrorCodeTransport, fmt.Sprintf("failed to send %s: %v", event.EventType(), err))
		return false
	}
	return true
}

func (c *SessionCoordinator) updatePreferences(apply func(*domain.Preferences)) {
	c.mu.Lock()
	apply(&c.prefs)
	prefs := c.prefs
	c.mu.Unlock()

	if c.prefsStore == nil {
		return
	}
	if err := c.prefsStore.Save(prefs); err != nil {
		c.logger.Warn("failed to save preferences", "error", err)
		c.events.SessionError(domain.ErrorCodePreferences, err.Error())
	}
}
