package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"voicecanvas/internal/ports"
)

const (
	// OpusSampleRate is the only clock rate WebRTC Opus tracks use.
	OpusSampleRate = 48000
	// OpusFrameDuration is the packetisation interval; ffmpeg emits one Ogg
	// page per frame so each page maps to one media sample.
	OpusFrameDuration = 20 * time.Millisecond

	startupGrace = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// FFMPEGCapture records the microphone with ffmpeg and encodes it to an
// Ogg/Opus stream on stdout.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cmd := exec.CommandContext(ctx, c.command, captureArgs(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := watchProcess(cmd)
	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(startupGrace):
	}

	return &ffmpegSession{
		stdout: stdout,
		proc:   &process{handle: cmd.Process, waitErr: waitErr, stderr: &stderr},
	}, nil
}

func captureArgs(cfg ports.AudioConfig) []string {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = OpusSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-c:a", "libopus",
		"-application", "voip",
		"-frame_duration", strconv.Itoa(int(OpusFrameDuration / time.Millisecond)),
		"-page_duration", strconv.Itoa(int(OpusFrameDuration / time.Microsecond)),
		"-f", "ogg",
		"-",
	}
}

type ffmpegSession struct {
	stdout io.ReadCloser
	proc   *process
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

func (s *ffmpegSession) Stop() error {
	return s.proc.stop(func() error {
		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
		return nil
	})
}

// process owns a child started by this package. stop interrupts it, kills it
// after a grace period, and folds stderr into any error.
type process struct {
	handle  *os.Process
	waitErr <-chan error
	stderr  *bytes.Buffer

	stopOnce sync.Once
	stopErr  error
}

func watchProcess(cmd *exec.Cmd) <-chan error {
	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()
	return waitErr
}

func (p *process) stop(release func() error) error {
	p.stopOnce.Do(func() {
		if p.handle != nil {
			_ = p.handle.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-p.waitErr:
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if p.handle != nil {
				_ = p.handle.Kill()
			}
			err, ok := <-p.waitErr
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		}

		if release != nil {
			if err := release(); err != nil && p.stopErr == nil {
				p.stopErr = err
			}
		}

		if p.stopErr != nil && p.stderr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, stringsTrimSpaceSafe(p.stderr.String()))
		}
	})

	return p.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
