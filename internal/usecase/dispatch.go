package usecase

import (
	"errors"
	"strings"

	"voicecanvas/internal/domain"
	"voicecanvas/internal/protocol"
	"voicecanvas/internal/transcript"
)

const (
	transcribingPlaceholder = "[Transcribing...]"
	inaudiblePlaceholder    = "[inaudible]"
)

// handleFrame decodes one inbound frame and applies it. Malformed frames are
// logged and dropped; later frames are unaffected.
func (c *SessionCoordinator) handleFrame(active *activeSession, frame []byte) {
	event, err := protocol.Decode(frame)
	if err != nil {
		c.logger.Warn("discarding malformed realtime frame", "error", err)
		c.eventLog.Server("", "error.malformed_frame", map[string]string{"error": err.Error(), "frame": string(frame)})
		c.events.SessionError(domain.ErrorCodeMalformedFrame, err.Error())
		return
	}
	if !c.isCurrent(active) {
		return
	}

	if event.EventType() != protocol.TypeResponseAudioTranscriptDelta {
		c.eventLog.Server(event.EventType(), "", event)
	}
	c.dispatch(event)
	active.bridge.Handle(event)
}

func (c *SessionCoordinator) dispatch(event protocol.Event) {
	switch e := event.(type) {
	case protocol.SessionCreated:
		c.logger.Info("realtime session created")

	case protocol.ConversationItemCreated:
		c.addConversationItem(e.Item)

	case protocol.InputAudioTranscriptionCompleted:
		if e.ItemID == "" {
			return
		}
		text := e.Transcript
		if strings.TrimSpace(text) == "" {
			text = inaudiblePlaceholder
		}
		c.storeResult(c.transcript.UpdateMessageText(e.ItemID, text, false), "update user transcript")
		c.storeResult(c.transcript.MarkDone(e.ItemID), "complete user transcript")

	case protocol.ResponseAudioTranscriptDelta:
		if e.ItemID == "" {
			return
		}
		c.storeResult(c.transcript.UpdateMessageText(e.ItemID, e.Delta, true), "append assistant transcript")

	case protocol.ResponseOutputItemDone:
		if e.Item.ID == "" {
			return
		}
		err := c.transcript.MarkDone(e.Item.ID)
		if errors.Is(err, transcript.ErrItemNotFound) {
			// function calls and other non-message outputs are not tracked
			return
		}
		c.storeResult(err, "complete output item")

	case protocol.ErrorEvent:
		c.logger.Warn("realtime service reported an error",
			"code", e.Error.Code,
			"message", e.Error.Message,
			"param", e.Error.Param,
		)
		c.events.SessionError(domain.ErrorCodeServer, e.Error.Message)
	}
}

func (c *SessionCoordinator) addConversationItem(item protocol.ConversationItem) {
	if item.ID == "" || item.Type != protocol.ItemTypeMessage {
		return
	}
	if _, exists := c.transcript.Get(item.ID); exists {
		return
	}

	role := domain.Role(item.Role)
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return
	}
	text := item.Text()
	if role == domain.RoleUser && text == "" {
		text = transcribingPlaceholder
	}
	c.storeResult(c.transcript.AddMessage(item.ID, role, text, false, nil), "add conversation item")
}

func (c *SessionCoordinator) storeResult(err error, action string) {
	if err == nil {
		return
	}
	c.logger.Debug("transcript store rejected update", "action", action, "error", err)
}
