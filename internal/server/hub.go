package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Push types sent to UI clients.
const (
	PushStatus     = "status"
	PushTranscript = "transcript"
	PushEvents     = "events"
	PushGenerating = "generating"
	PushError      = "error"
)

const (
	maxCommandBytes = 64 << 10
	writeTimeout    = 10 * time.Second
	clientBuffer    = 64
)

// Push is one server-to-UI frame.
type Push struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Command is one UI-to-server frame.
type Command struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	ID      string `json:"id,omitempty"`
	EventID *int   `json:"eventId,omitempty"`
}

// Commands is what the UI can ask of the application.
type Commands interface {
	Connect() error
	Disconnect()
	SendText(text string) error
	TalkDown()
	TalkUp()
	CancelSpeech()
	SetPushToTalk(enabled bool)
	SetAudioPlayback(enabled bool)
	SetEventsExpanded(expanded bool)
	ToggleExpand(id string) error
	ToggleEvent(id int) error
	// Snapshot returns the pushes that bring a fresh client up to date.
	Snapshot() []Push
}

var errUnknownCommand = errors.New("unknown command")

// Hub fans pushes out to every connected UI websocket and routes their
// commands to the application.
type Hub struct {
	commands Commands
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	wg      sync.WaitGroup
}

func NewHub(commands Commands, metrics *Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		commands: commands,
		logger:   logger,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
		clients: make(map[*client]struct{}),
	}
}

// Broadcast queues push for every client. Clients that cannot keep up are
// dropped.
func (h *Hub) Broadcast(push Push) {
	payload, err := json.Marshal(push)
	if err != nil {
		h.logger.Error("failed to encode ui push", "type", push.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.enqueue(payload) {
			h.logger.Warn("dropping slow ui client")
			delete(h.clients, c)
			c.close()
		}
	}
}

// ClientCount reports the number of connected UI clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their loops to finish.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("ui websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxCommandBytes)

	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}

	// The snapshot is taken under the hub lock so no broadcast lands between
	// it and registration.
	h.mu.Lock()
	if h.commands != nil {
		for _, push := range h.commands.Snapshot() {
			payload, err := json.Marshal(push)
			if err != nil {
				continue
			}
			c.enqueue(payload)
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.clientConnected()

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer h.wg.Done()
		h.readLoop(c)
		h.remove(c)
	}()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	h.metrics.clientDisconnected()
}

func (h *Hub) readLoop(c *client) {
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) && !c.isClosed() {
				h.logger.Debug("ui websocket read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.pushError("bad_command", "invalid command frame")
			continue
		}
		if err := h.dispatch(cmd); err != nil {
			h.logger.Debug("ui command failed", "type", cmd.Type, "error", err)
			c.pushError("command_failed", err.Error())
		}
	}
}

func (h *Hub) dispatch(cmd Command) error {
	if h.commands == nil {
		return errors.New("application is not initialized")
	}
	enabled := cmd.Enabled != nil && *cmd.Enabled

	switch strings.TrimSpace(cmd.Type) {
	case "connect":
		// Connecting blocks on the credential fetch and SDP exchange; other
		// commands, disconnect included, must still be served meanwhile.
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			if err := h.commands.Connect(); err != nil {
				h.logger.Warn("connect failed", "error", err)
			}
		}()
		return nil
	case "disconnect":
		h.commands.Disconnect()
		return nil
	case "send_text":
		return h.commands.SendText(cmd.Text)
	case "talk_down":
		h.commands.TalkDown()
		return nil
	case "talk_up":
		h.commands.TalkUp()
		return nil
	case "cancel_speech":
		h.commands.CancelSpeech()
		return nil
	case "set_push_to_talk":
		h.commands.SetPushToTalk(enabled)
		return nil
	case "set_audio_playback":
		h.commands.SetAudioPlayback(enabled)
		return nil
	case "set_events_expanded":
		h.commands.SetEventsExpanded(enabled)
		return nil
	case "toggle_expand":
		if cmd.EventID != nil {
			return h.commands.ToggleEvent(*cmd.EventID)
		}
		return h.commands.ToggleExpand(cmd.ID)
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, cmd.Type)
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func (c *client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) pushError(code, message string) {
	payload, err := json.Marshal(Push{Type: PushError, Data: ErrorPayload{Code: code, Message: message}})
	if err != nil {
		return
	}
	c.enqueue(payload)
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		// Unblock the read loop.
		_ = c.conn.SetReadDeadline(time.Now())
	})
}

func (c *client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ErrorPayload is the data of an error push.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// sameOrigin accepts requests without an Origin header and those whose
// origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origin = strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	return strings.EqualFold(origin, r.Host)
}
