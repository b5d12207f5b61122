package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
)

// FFPlayPlayback plays an Ogg/Opus stream written to its stdin.
type FFPlayPlayback struct {
	command string
}

func NewFFPlayPlayback(command string) *FFPlayPlayback {
	if command == "" {
		command = "ffplay"
	}
	return &FFPlayPlayback{command: command}
}

func (p *FFPlayPlayback) Start(ctx context.Context) (io.WriteCloser, error) {
	cmd := exec.CommandContext(ctx, p.command, playbackArgs()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create player stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start player: %w", err)
	}

	return &playerSink{
		stdin: stdin,
		proc:  &process{handle: cmd.Process, waitErr: watchProcess(cmd), stderr: &stderr},
	}, nil
}

func playbackArgs() []string {
	return []string{
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-f", "ogg",
		"pipe:0",
	}
}

type playerSink struct {
	stdin io.WriteCloser
	proc  *process
}

func (s *playerSink) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Close ends the stream and stops the player.
func (s *playerSink) Close() error {
	_ = s.stdin.Close()
	return s.proc.stop(nil)
}
