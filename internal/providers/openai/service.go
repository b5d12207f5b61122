package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

var ErrEmptyPrompt = errors.New("prompt is required")

// ServiceConfig configures the server-side OpenAI calls.
type ServiceConfig struct {
	APIKey        string
	BaseURL       string
	RealtimeModel string
	Voice         string
	ImageModel    string
	ImageSize     string
	ImageQuality  string
	HTTPClient    *http.Client
}

// Service holds the API key and performs the two privileged calls the UI
// relies on: minting realtime sessions and generating images.
type Service struct {
	client sdk.Client
	cfg    ServiceConfig
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is not configured")
	}
	if cfg.RealtimeModel == "" {
		cfg.RealtimeModel = "gpt-4o-realtime-preview-2024-12-17"
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = string(sdk.ImageModelDallE3)
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = string(sdk.ImageGenerateParamsSize1024x1024)
	}
	if cfg.ImageQuality == "" {
		cfg.ImageQuality = string(sdk.ImageGenerateParamsQualityStandard)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Service{client: sdk.NewClient(opts...), cfg: cfg}, nil
}

// MintSession creates a realtime session and returns the provider response
// verbatim; it carries the short-lived client_secret.
func (s *Service) MintSession(ctx context.Context) (json.RawMessage, error) {
	params := map[string]string{"model": s.cfg.RealtimeModel}
	if s.cfg.Voice != "" {
		params["voice"] = s.cfg.Voice
	}

	var session json.RawMessage
	if err := s.client.Post(ctx, "realtime/sessions", params, &session); err != nil {
		return nil, fmt.Errorf("failed to create realtime session: %w", err)
	}
	return session, nil
}

// GenerateImage renders prompt and returns the hosted image URL.
func (s *Service) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	resp, err := s.client.Images.Generate(ctx, sdk.ImageGenerateParams{
		Prompt:         prompt,
		Model:          sdk.ImageModel(s.cfg.ImageModel),
		Size:           sdk.ImageGenerateParamsSize(s.cfg.ImageSize),
		Quality:        sdk.ImageGenerateParamsQuality(s.cfg.ImageQuality),
		ResponseFormat: sdk.ImageGenerateParamsResponseFormatURL,
		N:              sdk.Int(1),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate image: %w", err)
	}
	if resp == nil || len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", ErrNoImageURL
	}
	return resp.Data[0].URL, nil
}
