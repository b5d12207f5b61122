package transcript

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"voicecanvas/internal/domain"
)

var (
	ErrDuplicateItem = errors.New("transcript item already exists")
	ErrItemNotFound  = errors.New("transcript item not found")
	ErrNotLatest     = errors.New("only the most recent message of a role can change")
	ErrItemDone      = errors.New("message is already done")
	ErrNotBreadcrumb = errors.New("transcript item is not a breadcrumb")
	ErrNotMessage    = errors.New("transcript item is not a message")
)

// NewItemID returns a fresh identifier in the 32 character form accepted by
// the realtime service for client-created items.
func NewItemID() string {
	return uuid.NewString()[:32]
}

// Store is the ordered, append-only conversation log.
type Store struct {
	mu       sync.Mutex
	items    []domain.TranscriptItem
	index    map[string]int
	now      func() time.Time
	onChange func([]domain.TranscriptItem)
	version  uint64

	// notifyMu orders deliveries so an observer never ends on an older
	// snapshot than one it has already seen.
	notifyMu  sync.Mutex
	delivered uint64
}

func NewStore() *Store {
	return &Store{index: make(map[string]int), now: time.Now}
}

// SetClock replaces the time source used for creation timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// OnChange registers a callback receiving a snapshot after every mutation.
func (s *Store) OnChange(fn func([]domain.TranscriptItem)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// AddMessage appends a new in-progress message.
func (s *Store) AddMessage(id string, role domain.Role, text string, hidden bool, artifact *domain.Artifact) error {
	return s.addMessage(id, role, text, hidden, artifact, domain.ItemStatusInProgress)
}

// AddCompletedMessage appends a message that is already done, for locally
// authored messages that will never stream.
func (s *Store) AddCompletedMessage(id string, role domain.Role, text string, hidden bool, artifact *domain.Artifact) error {
	return s.addMessage(id, role, text, hidden, artifact, domain.ItemStatusDone)
}

func (s *Store) addMessage(id string, role domain.Role, text string, hidden bool, artifact *domain.Artifact, status domain.ItemStatus) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("add message: empty id")
	}
	item := domain.TranscriptItem{
		ItemID:   id,
		Type:     domain.ItemTypeMessage,
		Role:     role,
		Title:    text,
		Status:   status,
		IsHidden: hidden,
	}
	if artifact != nil {
		copied := *artifact
		item.Artifact = &copied
	}
	return s.appendItem(item)
}

// AddBreadcrumb appends a collapsed breadcrumb and returns its id.
func (s *Store) AddBreadcrumb(label string, data any) (string, error) {
	id := NewItemID()
	err := s.appendItem(domain.TranscriptItem{
		ItemID: id,
		Type:   domain.ItemTypeBreadcrumb,
		Title:  label,
		Data:   data,
		Status: domain.ItemStatusDone,
	})
	return id, err
}

func (s *Store) appendItem(item domain.TranscriptItem) error {
	s.mu.Lock()
	if _, exists := s.index[item.ItemID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateItem, item.ItemID)
	}
	now := s.now()
	item.CreatedAt = now
	item.Timestamp = now.Format("15:04:05")
	s.index[item.ItemID] = len(s.items)
	s.items = append(s.items, item)
	version, snapshot, notify := s.snapshotLocked()
	s.mu.Unlock()

	s.deliver(version, snapshot, notify)
	return nil
}

// ToggleExpand flips the expand flag of a breadcrumb.
func (s *Store) ToggleExpand(id string) error {
	return s.mutate(id, func(item *domain.TranscriptItem) error {
		if item.Type != domain.ItemTypeBreadcrumb {
			return ErrNotBreadcrumb
		}
		item.Expanded = !item.Expanded
		return nil
	}, false)
}

// UpdateMessageText replaces or extends the text of the latest message of
// its role. Done messages are frozen.
func (s *Store) UpdateMessageText(id string, text string, appendText bool) error {
	return s.mutate(id, func(item *domain.TranscriptItem) error {
		if item.Status == domain.ItemStatusDone {
			return ErrItemDone
		}
		if appendText {
			item.Title += text
		} else {
			item.Title = text
		}
		return nil
	}, true)
}

// MarkDone moves a message to done. Repeated calls are no-ops.
func (s *Store) MarkDone(id string) error {
	return s.mutate(id, func(item *domain.TranscriptItem) error {
		item.Status = domain.ItemStatusDone
		return nil
	}, true)
}

func (s *Store) mutate(id string, apply func(*domain.TranscriptItem) error, messageOnly bool) error {
	s.mu.Lock()
	pos, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	item := s.items[pos]
	if messageOnly {
		if !item.IsMessage() {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotMessage, id)
		}
		if !s.isLatestOfRoleLocked(pos) {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotLatest, id)
		}
	}
	if err := apply(&item); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", err, id)
	}
	s.items[pos] = item
	version, snapshot, notify := s.snapshotLocked()
	s.mu.Unlock()

	s.deliver(version, snapshot, notify)
	return nil
}

func (s *Store) isLatestOfRoleLocked(pos int) bool {
	role := s.items[pos].Role
	for i := len(s.items) - 1; i > pos; i-- {
		if s.items[i].IsMessage() && s.items[i].Role == role {
			return false
		}
	}
	return true
}

// Get returns the item with the given id.
func (s *Store) Get(id string) (domain.TranscriptItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return domain.TranscriptItem{}, false
	}
	return s.items[pos], true
}

// LatestMessage returns the most recent message spoken by role.
func (s *Store) LatestMessage(role domain.Role) (domain.TranscriptItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, _, ok := lo.FindLastIndexOf(s.items, func(item domain.TranscriptItem) bool {
		return item.IsMessage() && item.Role == role
	})
	return item, ok
}

// Items returns the full ordered log.
func (s *Store) Items() []domain.TranscriptItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TranscriptItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) snapshotLocked() (uint64, []domain.TranscriptItem, func([]domain.TranscriptItem)) {
	s.version++
	if s.onChange == nil {
		return s.version, nil, nil
	}
	out := make([]domain.TranscriptItem, len(s.items))
	copy(out, s.items)
	return s.version, out, s.onChange
}

// deliver hands snapshot to notify unless a newer one already went out.
func (s *Store) deliver(version uint64, snapshot []domain.TranscriptItem, notify func([]domain.TranscriptItem)) {
	if notify == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if version <= s.delivered {
		return
	}
	s.delivered = version
	notify(snapshot)
}
