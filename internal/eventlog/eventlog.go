package eventlog

import (
	"errors"
	"strings"
	"sync"
	"time"

	"voicecanvas/internal/domain"
)

var ErrEventNotFound = errors.New("logged event not found")

const defaultCapacity = 1000

// Log keeps the most recent protocol events for the events pane.
type Log struct {
	mu       sync.Mutex
	entries  []domain.LoggedEvent
	nextID   int
	capacity int
	now      func() time.Time
	onAppend func(domain.LoggedEvent)
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Log{capacity: capacity, now: time.Now}
}

// OnAppend registers a callback invoked for every new entry.
func (l *Log) OnAppend(fn func(domain.LoggedEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAppend = fn
}

// Client records an event sent (or attempted) by this process.
func (l *Log) Client(eventType string, suffix string, data any) domain.LoggedEvent {
	return l.add(domain.EventDirectionClient, eventName(eventType, suffix), data)
}

// Server records an event received from the remote service.
func (l *Log) Server(eventType string, suffix string, data any) domain.LoggedEvent {
	return l.add(domain.EventDirectionServer, eventName(eventType, suffix), data)
}

func (l *Log) add(direction domain.EventDirection, name string, data any) domain.LoggedEvent {
	l.mu.Lock()
	l.nextID++
	entry := domain.LoggedEvent{
		ID:        l.nextID,
		Direction: direction,
		Name:      name,
		Data:      data,
		Timestamp: l.now().Format("15:04:05.000"),
	}
	l.entries = append(l.entries, entry)
	if overflow := len(l.entries) - l.capacity; overflow > 0 {
		l.entries = append([]domain.LoggedEvent(nil), l.entries[overflow:]...)
	}
	notify := l.onAppend
	l.mu.Unlock()

	if notify != nil {
		notify(entry)
	}
	return entry
}

// Toggle flips the expanded flag of an entry.
func (l *Log) Toggle(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i].Expanded = !l.entries[i].Expanded
			return nil
		}
	}
	return ErrEventNotFound
}

// Entries returns the retained events, oldest first.
func (l *Log) Entries() []domain.LoggedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.LoggedEvent, len(l.entries))
	copy(out, l.entries)
	return out
}

func eventName(eventType, suffix string) string {
	return strings.TrimSpace(eventType + " " + suffix)
}
