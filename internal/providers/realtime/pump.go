package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"voicecanvas/internal/audio"
)

type sampleWriter interface {
	WriteSample(media.Sample) error
}

// pumpMicrophone forwards Ogg/Opus pages from r to the send track. Each page
// carries one Opus frame; its duration comes from the granule position delta.
func pumpMicrophone(ctx context.Context, r io.Reader, track sampleWriter) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to open microphone stream: %w", err)
	}

	var lastGranule uint64
	for {
		if ctx.Err() != nil {
			return nil
		}
		page, header, err := ogg.ParseNextPage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read microphone page: %w", err)
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		if samples == 0 {
			continue
		}

		sample := media.Sample{
			Data:     page,
			Duration: time.Duration(samples) * time.Second / audio.OpusSampleRate,
		}
		if err := track.WriteSample(sample); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("failed to send microphone audio: %w", err)
		}
	}
}
