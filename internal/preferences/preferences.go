package preferences

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"voicecanvas/internal/domain"
)

// stored mirrors the persisted keys; nil means the key was never written.
type stored struct {
	PushToTalkUI         *bool `yaml:"pushToTalkUI,omitempty"`
	LogsExpanded         *bool `yaml:"logsExpanded,omitempty"`
	AudioPlaybackEnabled *bool `yaml:"audioPlaybackEnabled,omitempty"`
}

// FileStore keeps preferences in a YAML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: strings.TrimSpace(path)}
}

// Load returns stored preferences; missing keys keep their defaults.
func (s *FileStore) Load() (domain.Preferences, error) {
	prefs := domain.DefaultPreferences()
	if s.path == "" {
		return prefs, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return prefs, nil
		}
		return prefs, fmt.Errorf("failed to read preferences %q: %w", s.path, err)
	}

	var raw stored
	if err := yaml.Unmarshal(contents, &raw); err != nil {
		return prefs, fmt.Errorf("failed to parse preferences %q: %w", s.path, err)
	}
	if raw.PushToTalkUI != nil {
		prefs.PushToTalk = *raw.PushToTalkUI
	}
	if raw.LogsExpanded != nil {
		prefs.EventsPaneExpanded = *raw.LogsExpanded
	}
	if raw.AudioPlaybackEnabled != nil {
		prefs.AudioPlaybackEnabled = *raw.AudioPlaybackEnabled
	}
	return prefs, nil
}

// Save writes every key.
func (s *FileStore) Save(prefs domain.Preferences) error {
	if s.path == "" {
		return nil
	}

	contents, err := yaml.Marshal(stored{
		PushToTalkUI:         &prefs.PushToTalk,
		LogsExpanded:         &prefs.EventsPaneExpanded,
		AudioPlaybackEnabled: &prefs.AudioPlaybackEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, contents, 0o600); err != nil {
		return fmt.Errorf("failed to write preferences %q: %w", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace preferences %q: %w", s.path, err)
	}
	return nil
}
