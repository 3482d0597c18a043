package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Voicecall/internal/domain"
)

type rung struct {
	name string
	c    Constraints
	kind domain.MediaKind
}

func ladder(kind domain.MediaKind) []rung {
	video := kind.HasVideo()
	requested := Constraints{Audio: true, Video: video, AudioSampleRate: 48000, AudioChannels: 1}
	if video {
		requested.Width, requested.Height, requested.FrameRate = 640, 480, 15
	}
	rungs := []rung{
		{name: "requested", c: requested, kind: kind},
		{name: "simplified", c: Constraints{Audio: true, Video: video}, kind: kind},
	}
	if video {
		rungs = append(rungs, rung{name: "audio-only", c: Constraints{Audio: true}, kind: domain.MediaAudio})
	}
	return rungs
}

// AcquireMedia walks the fallback ladder for kind and returns the stream
// together with the kind actually obtained. Only a *CapabilityError moves
// to the next rung; anything else aborts.
func AcquireMedia(ctx context.Context, capt MediaCapturer, kind domain.MediaKind) (LocalMedia, domain.MediaKind, error) {
	var failures []error
	for _, r := range ladder(kind) {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		media, err := capt.Capture(ctx, r.c)
		if err == nil {
			if r.kind != kind {
				log.Warn().Str("module", "call").Str("rung", r.name).Msg("video unavailable, continuing audio-only")
			}
			return media, r.kind, nil
		}
		var ce *CapabilityError
		if !errors.As(err, &ce) {
			return nil, "", fmt.Errorf("capture %s: %w", r.name, err)
		}
		log.Info().Str("module", "call").Str("rung", r.name).Str("reason", string(ce.Reason)).Msg("media capture failed")
		failures = append(failures, fmt.Errorf("%s: %w", r.name, err))
	}
	return nil, "", fmt.Errorf("%w: %w", ErrMediaUnavailable, errors.Join(failures...))
}
