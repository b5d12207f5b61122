package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrNoClientSecret = errors.New("session response has no client_secret.value")
	ErrNoImageURL     = errors.New("image response has no image_url")
)

const defaultHTTPTimeout = 60 * time.Second

// maxErrorBody caps how much of a failed response is quoted in errors.
const maxErrorBody = 512

// TokenClient fetches ephemeral realtime keys from the credential endpoint.
type TokenClient struct {
	url  string
	http *http.Client
}

func NewTokenClient(url string, client *http.Client) *TokenClient {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &TokenClient{url: strings.TrimSpace(url), http: client}
}

func (c *TokenClient) EphemeralKey(ctx context.Context) (string, error) {
	if c.url == "" {
		return "", errors.New("token url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}

	var body struct {
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
	}
	if err := doJSON(c.http, req, &body); err != nil {
		return "", err
	}
	if strings.TrimSpace(body.ClientSecret.Value) == "" {
		return "", ErrNoClientSecret
	}
	return body.ClientSecret.Value, nil
}

// ImageClient asks the image endpoint to render a prompt.
type ImageClient struct {
	url  string
	http *http.Client
}

func NewImageClient(url string, client *http.Client) *ImageClient {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &ImageClient{url: strings.TrimSpace(url), http: client}
}

func (c *ImageClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.url == "" {
		return "", errors.New("image url is not configured")
	}
	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("failed to encode image request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var body struct {
		ImageURL string `json:"image_url"`
	}
	if err := doJSON(c.http, req, &body); err != nil {
		return "", err
	}
	if strings.TrimSpace(body.ImageURL) == "" {
		return "", ErrNoImageURL
	}
	return body.ImageURL, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Redacted(), err)
	}
	return nil
}
