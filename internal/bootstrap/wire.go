package bootstrap

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"voicecanvas/internal/agents"
	"voicecanvas/internal/audio"
	"voicecanvas/internal/config"
	"voicecanvas/internal/eventlog"
	"voicecanvas/internal/ports"
	"voicecanvas/internal/preferences"
	"voicecanvas/internal/providers/openai"
	"voicecanvas/internal/providers/realtime"
	"voicecanvas/internal/transcript"
	"voicecanvas/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Coordinator *usecase.SessionCoordinator
	OpenAI      *openai.Service
	Agent       agents.Config
	AgentSet    string
	Config      config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(cfg config.Config, eventSink ports.EventSink, logger *slog.Logger) (Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	catalog, err := agents.Load(cfg.Agents.Path)
	if err != nil {
		return Services{}, err
	}
	setKey, set := catalog.Select(cfg.Agents.Set)
	if len(set) == 0 {
		return Services{}, fmt.Errorf("agent set %q has no agents", setKey)
	}
	agent := set[0]

	httpClient := &http.Client{Timeout: cfg.Server.HTTPTimeout}

	service, err := openai.NewService(openai.ServiceConfig{
		APIKey:        cfg.OpenAI.APIKey,
		BaseURL:       cfg.OpenAI.BaseURL,
		RealtimeModel: cfg.Realtime.Model,
		Voice:         cfg.Realtime.Voice,
		ImageModel:    cfg.OpenAI.ImageModel,
		ImageSize:     cfg.OpenAI.ImageSize,
		ImageQuality:  cfg.OpenAI.ImageQuality,
		HTTPClient:    httpClient,
	})
	if err != nil {
		return Services{}, err
	}

	dialer := realtime.NewDialer(
		realtime.Config{
			URL:        cfg.Realtime.URL,
			Model:      cfg.Realtime.Model,
			HTTPClient: httpClient,
			Logger:     logger.With("component", "realtime"),
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
		},
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		audio.NewFFPlayPlayback(cfg.Audio.PlayerCommand),
	)

	coordinator := usecase.NewSessionCoordinator(
		usecase.Deps{
			Credentials: openai.NewTokenClient(cfg.Server.TokenURL, httpClient),
			Dialer:      dialer,
			Images:      openai.NewImageClient(cfg.Server.ImageURL, httpClient),
			Preferences: preferences.NewFileStore(cfg.Session.PreferencesPath),
			Events:      eventSink,
			Transcript:  transcript.NewStore(),
			EventLog:    eventlog.New(0),
			Logger:      logger.With("component", "session"),
		},
		agent,
		usecase.Config{
			Voice:              cfg.Realtime.Voice,
			TranscriptionModel: cfg.Realtime.TranscriptionModel,
			FollowUpDelay:      followUpDelay(cfg),
		},
	)

	logger.Info("session coordinator ready", "agent_set", setKey, "agent", agent.Name)
	return Services{
		Coordinator: coordinator,
		OpenAI:      service,
		Agent:       agent,
		AgentSet:    setKey,
		Config:      cfg,
	}, nil
}

// followUpDelay maps an explicit zero to "no delay"; the coordinator treats
// zero as "use the default".
func followUpDelay(cfg config.Config) time.Duration {
	if cfg.Session.FollowUpDelay == 0 {
		return -1
	}
	return cfg.Session.FollowUpDelay
}
