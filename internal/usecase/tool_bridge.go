package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"voicecanvas/internal/domain"
	"voicecanvas/internal/protocol"
	"voicecanvas/internal/transcript"
)

const ImageToolName = "generateImage"

const (
	imageLoadingText = "I'm creating your image now... This might take a moment."
	imageReadyText   = "Here is the image I created for you:"
	imageFailedText  = "I'm sorry, I couldn't generate the image. Please try again."

	imageFailureMessage = "Failed to generate image"
)

var errMissingImageURL = errors.New("image generator returned no url")

// toolBridge turns generateImage function calls into image generations and
// reports the outcome back over the session. One bridge lives per session.
type toolBridge struct {
	c      *SessionCoordinator
	active *activeSession

	mu         sync.Mutex
	seen       map[string]struct{}
	pending    map[string]struct{}
	anonymous  int
	generating bool
}

func newToolBridge(c *SessionCoordinator, active *activeSession) *toolBridge {
	return &toolBridge{
		c:       c,
		active:  active,
		seen:    make(map[string]struct{}),
		pending: make(map[string]struct{}),
	}
}

// Handle inspects an inbound event for work. It never blocks on generation.
func (b *toolBridge) Handle(event protocol.Event) {
	for _, call := range protocol.FunctionCalls(event) {
		if call.Name != ImageToolName {
			continue
		}
		var args struct {
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			b.c.logger.Warn("tool call has invalid arguments", "call_id", call.CallID, "error", err)
			b.reject(call.CallID, err)
			continue
		}
		b.dispatch(call.CallID, args.Prompt)
	}

	if resp, ok := event.(protocol.ToolCallResponse); ok {
		b.adoptExternalResult(resp)
	}
}

// Generating reports whether any invocation is still in flight.
func (b *toolBridge) Generating() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending) > 0
}

// reset clears the in-flight set after teardown so the UI stops showing a
// spinner. Cancelled goroutines finish on their own.
func (b *toolBridge) reset() {
	b.mu.Lock()
	clear(b.pending)
	changed := b.generating
	b.generating = false
	b.mu.Unlock()

	if changed {
		b.c.events.ImageGenerationChanged(false)
	}
}

func (b *toolBridge) claim(callID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.seen[callID]; dup {
		return false
	}
	b.seen[callID] = struct{}{}
	return true
}

func (b *toolBridge) dispatch(callID, prompt string) {
	key := callID
	if callID == "" {
		b.mu.Lock()
		b.anonymous++
		key = fmt.Sprintf("anonymous-%d", b.anonymous)
		b.mu.Unlock()
	} else if !b.claim(callID) {
		b.c.logger.Debug("ignoring duplicate tool call", "call_id", callID)
		return
	}

	if !b.active.whileLive(func() { b.track(key) }) {
		return
	}

	b.c.tasks.Add(1)
	go func() {
		defer b.c.tasks.Done()
		defer b.untrack(key)
		b.run(callID, prompt)
	}()
}

// reject answers a call that cannot be run. Calls without an id get the
// apology only since there is nothing to correlate a response with.
func (b *toolBridge) reject(callID string, cause error) {
	if callID != "" && !b.claim(callID) {
		return
	}
	if !b.addAssistantMessage(imageFailedText, nil) {
		return
	}
	b.c.events.SessionError(domain.ErrorCodeImageGeneration, cause.Error())
	if callID != "" {
		b.c.send(b.active, protocol.NewToolCallFailure(callID, imageFailureMessage), "")
	}
}

func (b *toolBridge) track(key string) {
	b.mu.Lock()
	b.pending[key] = struct{}{}
	changed := !b.generating
	b.generating = true
	b.mu.Unlock()

	if changed {
		b.c.events.ImageGenerationChanged(true)
	}
}

func (b *toolBridge) untrack(key string) {
	b.mu.Lock()
	delete(b.pending, key)
	changed := b.generating && len(b.pending) == 0
	if changed {
		b.generating = false
	}
	b.mu.Unlock()

	if changed {
		b.c.events.ImageGenerationChanged(false)
	}
}

func (b *toolBridge) run(callID, prompt string) {
	ctx := b.active.ctx
	logger := b.c.logger.With("call_id", callID)

	b.addAssistantMessage(imageLoadingText, nil)

	url, err := b.c.images.Generate(ctx, prompt)
	if err == nil && url == "" {
		err = errMissingImageURL
	}
	if err != nil {
		logger.Error("image generation failed", "error", err)
		if b.addAssistantMessage(imageFailedText, nil) {
			b.c.events.SessionError(domain.ErrorCodeImageGeneration, err.Error())
		}
		if callID != "" {
			b.c.send(b.active, protocol.NewToolCallFailure(callID, imageFailureMessage), "")
		}
		return
	}

	if !b.addAssistantMessage(imageReadyText, &domain.Artifact{ImageURL: url, ImagePrompt: prompt}) {
		logger.Info("discarding image result for closed session")
		return
	}
	if callID != "" {
		b.c.send(b.active, protocol.NewToolCallSuccess(callID, url, prompt), "")
	}
	b.followUp(ctx)
}

// adoptExternalResult shows an image fulfilled outside this process.
func (b *toolBridge) adoptExternalResult(resp protocol.ToolCallResponse) {
	if resp.CallID == "" || resp.Output == nil || resp.Output.ImageURL == "" || resp.Output.Prompt == "" {
		return
	}
	if !b.claim(resp.CallID) {
		return
	}
	artifact := &domain.Artifact{ImageURL: resp.Output.ImageURL, ImagePrompt: resp.Output.Prompt}
	if !b.addAssistantMessage(imageReadyText, artifact) {
		return
	}

	b.c.tasks.Add(1)
	go func() {
		defer b.c.tasks.Done()
		b.followUp(b.active.ctx)
	}()
}

// addAssistantMessage appends a finished assistant message unless the
// session is gone.
func (b *toolBridge) addAssistantMessage(text string, artifact *domain.Artifact) bool {
	return b.active.whileLive(func() {
		err := b.c.transcript.AddCompletedMessage(transcript.NewItemID(), domain.RoleAssistant, text, false, artifact)
		if err != nil {
			b.c.logger.Warn("failed to add tool message", "error", err)
		}
	})
}

func (b *toolBridge) followUp(ctx context.Context) {
	if delay := b.c.cfg.FollowUpDelay; delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	b.c.send(b.active, protocol.NewResponseCreate(), "(trigger feedback response after image generation)")
}
