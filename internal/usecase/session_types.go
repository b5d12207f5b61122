package usecase

import (
	"context"
	"sync"

	"voicecanvas/internal/ports"
)

// activeSession is the explicit handle for one connect/disconnect cycle.
// Everything that outlives a single call hangs off it so that a stale
// session can be recognised by pointer comparison.
type activeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	bridge *toolBridge

	stateMu     sync.Mutex
	transport   ports.Transport
	openPending bool
	opened      bool
	speaking    bool

	// lifeMu guards closed; transcript writes from tool goroutines hold the
	// read side so teardown cannot interleave with them.
	lifeMu sync.RWMutex
	closed bool

	sendMu sync.Mutex
}

func newActiveSession(parent context.Context) *activeSession {
	ctx, cancel := context.WithCancel(parent)
	return &activeSession{ctx: ctx, cancel: cancel}
}

func (s *activeSession) getTransport() ports.Transport {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.transport
}

// attach stores the dialed transport. live is false when the session was
// torn down first; the caller then owns the transport. openPending reports
// whether the data channel opened before the dial returned.
func (s *activeSession) attach(transport ports.Transport) (live, openPending bool) {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if s.closed {
		return false, false
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.transport = transport
	pending := s.openPending
	s.openPending = false
	return true, pending
}

// markOpened returns false when the transport is not attached yet (the open
// is deferred until attach) or when the open was already handled.
func (s *activeSession) markOpened() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.transport == nil {
		s.openPending = true
		return false
	}
	if s.opened {
		return false
	}
	s.opened = true
	return true
}

func (s *activeSession) isOpen() bool {
	transport := s.getTransport()
	return transport != nil && transport.IsOpen()
}

func (s *activeSession) setSpeaking(speaking bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.speaking = speaking
}

func (s *activeSession) isSpeaking() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.speaking
}

// takeSpeaking clears the speaking flag and reports whether it was set.
func (s *activeSession) takeSpeaking() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	was := s.speaking
	s.speaking = false
	return was
}

// whileLive runs fn unless the session has been torn down.
func (s *activeSession) whileLive(fn func()) bool {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if s.closed || s.ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// teardown marks the session dead, cancels its context, and closes the
// transport. Safe to call more than once.
func (s *activeSession) teardown() {
	s.lifeMu.Lock()
	s.closed = true
	s.lifeMu.Unlock()

	s.cancel()
	s.setSpeaking(false)
	if transport := s.getTransport(); transport != nil {
		_ = transport.Close()
	}
}
