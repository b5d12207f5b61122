package realtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"voicecanvas/internal/audio"
	"voicecanvas/internal/ports"
)

const (
	DataChannelLabel = "oai-events"

	defaultURL   = "https://api.openai.com/v1/realtime"
	defaultModel = "gpt-4o-realtime-preview-2024-12-17"

	maxAnswerBytes = 1 << 20
)

// Config controls the WebRTC connection to the realtime service.
type Config struct {
	URL        string
	Model      string
	Audio      ports.AudioConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Dialer opens peer connections carrying one Opus audio track each way and
// the JSON event data channel.
type Dialer struct {
	cfg      Config
	capture  ports.AudioCapture
	playback ports.AudioPlayback
}

func NewDialer(cfg Config, capture ports.AudioCapture, playback ports.AudioPlayback) *Dialer {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dialer{cfg: cfg, capture: capture, playback: playback}
}

func (d *Dialer) Dial(ctx context.Context, ephemeralKey string, handlers ports.TransportHandlers) (ports.Transport, error) {
	if strings.TrimSpace(ephemeralKey) == "" {
		return nil, errors.New("ephemeral key is required")
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		pc:       pc,
		ctx:      sessionCtx,
		cancel:   cancel,
		capture:  d.capture,
		playback: d.playback,
		audioCfg: d.cfg.Audio,
		logger:   d.cfg.Logger,
	}

	fail := func(err error) (ports.Transport, error) {
		_ = t.Close()
		return nil, err
	}

	t.track, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.OpusSampleRate, Channels: 2},
		"audio",
		"voicecanvas",
	)
	if err != nil {
		return fail(fmt.Errorf("failed to create microphone track: %w", err))
	}
	sender, err := pc.AddTrack(t.track)
	if err != nil {
		return fail(fmt.Errorf("failed to add microphone track: %w", err))
	}
	t.goTracked(func() { t.drainRTCP(sender) })

	pc.OnTrack(t.handleRemoteTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug("peer connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed && handlers.OnError != nil {
			handlers.OnError(errors.New("peer connection failed"))
		}
	})

	t.dc, err = pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create data channel: %w", err))
	}
	t.dc.OnOpen(func() {
		t.goTracked(t.startMicrophone)
		if handlers.OnOpen != nil {
			handlers.OnOpen()
		}
	})
	t.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if handlers.OnMessage != nil {
			handlers.OnMessage(msg.Data)
		}
	})
	t.dc.OnClose(func() {
		if handlers.OnClose != nil {
			handlers.OnClose()
		}
	})
	t.dc.OnError(func(err error) {
		if handlers.OnError != nil {
			handlers.OnError(err)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create offer: %w", err))
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("failed to set local description: %w", err))
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	answer, err := exchangeSDP(ctx, d.cfg.HTTPClient, d.cfg.URL, d.cfg.Model, ephemeralKey, pc.LocalDescription().SDP)
	if err != nil {
		return fail(err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fail(fmt.Errorf("failed to set remote description: %w", err))
	}
	return t, nil
}

// exchangeSDP posts the local offer and returns the answer SDP.
func exchangeSDP(ctx context.Context, client *http.Client, baseURL, model, ephemeralKey, offer string) (string, error) {
	endpoint, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	query := endpoint.Query()
	query.Set("model", model)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(offer))
	if err != nil {
		return "", fmt.Errorf("failed to build sdp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ephemeralKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sdp exchange failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read sdp answer: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("sdp exchange returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", errors.New("sdp exchange returned an empty answer")
	}
	return string(body), nil
}

// Transport is one live peer connection.
type Transport struct {
	pc    *webrtc.PeerConnection
	dc    *webrtc.DataChannel
	track *webrtc.TrackLocalStaticSample

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	capture  ports.AudioCapture
	playback ports.AudioPlayback
	audioCfg ports.AudioConfig

	mu              sync.Mutex
	mic             ports.AudioSession
	micStarted      bool
	playbackEnabled bool
	sink            io.WriteCloser
	ogg             *oggwriter.OggWriter

	closeOnce sync.Once
}

func (t *Transport) IsOpen() bool {
	return t.dc != nil && t.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (t *Transport) SendText(frame string) error {
	if !t.IsOpen() {
		return errors.New("data channel is not open")
	}
	return t.dc.SendText(frame)
}

// SetPlayback routes the remote audio to the player or discards it.
func (t *Transport) SetPlayback(enabled bool) {
	t.mu.Lock()
	t.playbackEnabled = enabled
	var sink io.WriteCloser
	var ogg *oggwriter.OggWriter
	if !enabled {
		sink, ogg = t.sink, t.ogg
		t.sink, t.ogg = nil, nil
	}
	t.mu.Unlock()

	closePlayer(ogg, sink)
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.cancel()
		mic := t.mic
		sink, ogg := t.sink, t.ogg
		t.mic, t.sink, t.ogg = nil, nil, nil
		t.mu.Unlock()

		if mic != nil {
			_ = mic.Stop()
		}
		closePlayer(ogg, sink)
		err = t.pc.Close()
		t.wg.Wait()
	})
	return err
}

func (t *Transport) startMicrophone() {
	t.mu.Lock()
	if t.capture == nil || t.micStarted || t.ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	t.micStarted = true
	t.mu.Unlock()

	mic, err := t.capture.Start(t.ctx, t.audioCfg)
	if err != nil {
		t.logger.Error("failed to start microphone capture", "error", err)
		return
	}

	t.mu.Lock()
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		_ = mic.Stop()
		return
	}
	t.mic = mic
	t.mu.Unlock()

	t.goTracked(func() {
		if err := pumpMicrophone(t.ctx, mic, t.track); err != nil {
			t.logger.Error("microphone stream ended", "error", err)
		}
	})
}

// goTracked runs fn on a goroutine that Close waits for. Nothing starts once
// the transport is closing.
func (t *Transport) goTracked(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() != nil {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

func (t *Transport) handleRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	t.logger.Debug("remote track started", "codec", track.Codec().MimeType)
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		writer := t.playbackWriter()
		if writer == nil {
			continue
		}
		if err := writer.WriteRTP(packet); err != nil {
			t.logger.Warn("audio playback failed", "error", err)
			t.SetPlayback(false)
		}
	}
}

// playbackWriter lazily starts the player while playback is enabled.
func (t *Transport) playbackWriter() *oggwriter.OggWriter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playbackEnabled || t.playback == nil || t.ctx.Err() != nil {
		return nil
	}
	if t.ogg != nil {
		return t.ogg
	}

	sink, err := t.playback.Start(t.ctx)
	if err != nil {
		t.logger.Error("failed to start audio player", "error", err)
		t.playbackEnabled = false
		return nil
	}
	ogg, err := oggwriter.NewWith(sink, audio.OpusSampleRate, 2)
	if err != nil {
		t.logger.Error("failed to start ogg stream", "error", err)
		_ = sink.Close()
		t.playbackEnabled = false
		return nil
	}
	t.sink, t.ogg = sink, ogg
	return ogg
}

func (t *Transport) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func closePlayer(ogg *oggwriter.OggWriter, sink io.WriteCloser) {
	if ogg != nil {
		_ = ogg.Close()
	}
	if sink != nil {
		_ = sink.Close()
	}
}
