package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

const maxImageRequestBytes = 16 << 10

// SessionMinter creates realtime sessions carrying an ephemeral key.
type SessionMinter interface {
	MintSession(ctx context.Context) (json.RawMessage, error)
}

// ImageRenderer turns a prompt into a hosted image URL.
type ImageRenderer interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Options configures the HTTP surface.
type Options struct {
	Sessions SessionMinter
	Images   ImageRenderer
	Hub      *Hub
	Metrics  *Metrics
	Logger   *slog.Logger
}

type handlers struct {
	sessions SessionMinter
	images   ImageRenderer
	metrics  *Metrics
	logger   *slog.Logger
}

// NewRouter builds the HTTP routes served by voicecanvas.
func NewRouter(opts Options) *mux.Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &handlers{
		sessions: opts.Sessions,
		images:   opts.Images,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		sendJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.instrument)
	api.HandleFunc("/session", h.mintSession).Methods(http.MethodGet)
	api.HandleFunc("/images/generate", h.generateImage).Methods(http.MethodPost)

	if opts.Hub != nil {
		router.Handle("/ws", opts.Hub).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}
	return router
}

func (h *handlers) mintSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		sendErrorResponse(w, http.StatusInternalServerError, "session minting is not configured")
		return
	}
	session, err := h.sessions.MintSession(r.Context())
	if err != nil {
		h.logger.Error("failed to mint realtime session", "error", err)
		sendErrorResponse(w, http.StatusInternalServerError, "failed to create realtime session")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(session)
}

type generateImageRequest struct {
	Prompt string `json:"prompt"`
}

type generateImageResponse struct {
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt"`
}

func (h *handlers) generateImage(w http.ResponseWriter, r *http.Request) {
	var req generateImageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImageRequestBytes)).Decode(&req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		sendErrorResponse(w, http.StatusBadRequest, "Prompt is required")
		return
	}
	if h.images == nil {
		sendErrorResponse(w, http.StatusInternalServerError, "image generation is not configured")
		return
	}

	url, err := h.images.GenerateImage(r.Context(), req.Prompt)
	if err != nil {
		h.logger.Error("image generation failed", "error", err)
		sendErrorResponse(w, http.StatusInternalServerError, "Failed to generate image")
		return
	}
	sendJSONResponse(w, http.StatusOK, generateImageResponse{ImageURL: url, Prompt: req.Prompt})
}

func (h *handlers) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		h.metrics.RecordRequest(endpoint, strconv.Itoa(rw.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func sendJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func sendErrorResponse(w http.ResponseWriter, status int, message string) {
	sendJSONResponse(w, status, map[string]string{"error": message})
}

// IsServerClosed reports whether err is the normal result of shutting the
// HTTP server down.
func IsServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
