package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the voicecanvas server.
type Config struct {
	Server   ServerConfig
	OpenAI   OpenAIConfig
	Realtime RealtimeConfig
	Audio    AudioConfig
	Agents   AgentsConfig
	Session  SessionConfig
	LogLevel slog.Level
}

type ServerConfig struct {
	Addr string
	// TokenURL and ImageURL are what the session coordinator calls. They
	// default to this server's own endpoints.
	TokenURL    string
	ImageURL    string
	HTTPTimeout time.Duration
}

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	ImageModel   string
	ImageSize    string
	ImageQuality string
}

type RealtimeConfig struct {
	URL                string
	Model              string
	Voice              string
	TranscriptionModel string
}

type AudioConfig struct {
	RecorderCommand string
	PlayerCommand   string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type AgentsConfig struct {
	Set  string
	Path string
}

type SessionConfig struct {
	PreferencesPath string
	FollowUpDelay   time.Duration
}

const (
	defaultAddr        = ":3000"
	defaultHTTPTimeout = 60 * time.Second
	defaultFollowUp    = time.Second
)

// LoadDotEnv reads KEY=VALUE pairs from path into the environment. Variables
// that are already set win; a missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	addr := envOrDefault("VOICECANVAS_ADDR", defaultAddr)
	local := localBaseURL(addr)

	cfg := Config{
		Server: ServerConfig{
			Addr:        addr,
			TokenURL:    envOrDefault("VOICECANVAS_TOKEN_URL", local+"/api/session"),
			ImageURL:    envOrDefault("VOICECANVAS_IMAGE_URL", local+"/api/images/generate"),
			HTTPTimeout: time.Duration(envOrDefaultInt("VOICECANVAS_HTTP_TIMEOUT_MS", int(defaultHTTPTimeout/time.Millisecond))) * time.Millisecond,
		},
		OpenAI: OpenAIConfig{
			APIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			BaseURL:      envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			ImageModel:   envOrDefault("VOICECANVAS_IMAGE_MODEL", "dall-e-3"),
			ImageSize:    envOrDefault("VOICECANVAS_IMAGE_SIZE", "1024x1024"),
			ImageQuality: envOrDefault("VOICECANVAS_IMAGE_QUALITY", "standard"),
		},
		Realtime: RealtimeConfig{
			URL:                envOrDefault("VOICECANVAS_REALTIME_URL", "https://api.openai.com/v1/realtime"),
			Model:              envOrDefault("VOICECANVAS_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
			Voice:              envOrDefault("VOICECANVAS_VOICE", "coral"),
			TranscriptionModel: envOrDefault("VOICECANVAS_TRANSCRIPTION_MODEL", "whisper-1"),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("VOICECANVAS_FFMPEG_COMMAND", "ffmpeg"),
			PlayerCommand:   envOrDefault("VOICECANVAS_PLAYER_COMMAND", "ffplay"),
			InputFormat:     envOrDefault("VOICECANVAS_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("VOICECANVAS_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      48000,
			Channels:        1,
		},
		Agents: AgentsConfig{
			Set:  strings.TrimSpace(os.Getenv("VOICECANVAS_AGENT_SET")),
			Path: strings.TrimSpace(os.Getenv("VOICECANVAS_AGENTS_FILE")),
		},
		Session: SessionConfig{
			PreferencesPath: envOrDefault("VOICECANVAS_PREFERENCES_FILE", filepath.Join(home, ".config", "voicecanvas", "preferences.yaml")),
			FollowUpDelay:   time.Duration(envOrDefaultNonNegativeInt("VOICECANVAS_FOLLOW_UP_DELAY_MS", int(defaultFollowUp/time.Millisecond))) * time.Millisecond,
		},
		LogLevel: envOrDefaultLevel("VOICECANVAS_LOG_LEVEL", slog.LevelInfo),
	}

	if cfg.Server.HTTPTimeout <= 0 {
		cfg.Server.HTTPTimeout = defaultHTTPTimeout
	}

	return cfg, nil
}

// localBaseURL turns a listen address into a loopback base URL.
func localBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://127.0.0.1" + defaultAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultNonNegativeInt(key string, fallback int) int {
	parsed := envOrDefaultInt(key, fallback)
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func envOrDefaultLevel(key string, fallback slog.Level) slog.Level {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return fallback
	}
	return level
}
