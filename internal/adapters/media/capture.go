// Package media captures local audio and video through pion/mediadevices.
package media

import (
	"context"
	"errors"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Voicecall/internal/call"
)

var ErrCaptureUnsupported = errors.New("local capture not supported on this build")

// Capturer implements call.MediaCapturer.
type Capturer struct {
	codecs *mediadevices.CodecSelector
	// getUserMedia is swapped in tests.
	getUserMedia func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
}

// NewCapturer builds a capturer. A nil selector disables capture: every
// request fails with a capability error.
func NewCapturer(codecs *mediadevices.CodecSelector) *Capturer {
	return &Capturer{codecs: codecs, getUserMedia: mediadevices.GetUserMedia}
}

func streamConstraints(c call.Constraints, codecs *mediadevices.CodecSelector) mediadevices.MediaStreamConstraints {
	msc := mediadevices.MediaStreamConstraints{Codec: codecs}
	if c.Audio {
		msc.Audio = func(t *mediadevices.MediaTrackConstraints) {
			if c.AudioSampleRate > 0 {
				t.SampleRate = prop.Int(c.AudioSampleRate)
			}
			if c.AudioChannels > 0 {
				t.ChannelCount = prop.Int(c.AudioChannels)
			}
		}
	}
	if c.Video {
		msc.Video = func(t *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG nodes on some cameras poison the encoder.
			t.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			if c.Width > 0 {
				t.Width = prop.IntRanged{Max: c.Width}
			}
			if c.Height > 0 {
				t.Height = prop.IntRanged{Max: c.Height}
			}
			if c.FrameRate > 0 {
				t.FrameRate = prop.FloatRanged{Max: float32(c.FrameRate)}
			}
		}
	}
	return msc
}

func (c *Capturer) Capture(ctx context.Context, req call.Constraints) (call.LocalMedia, error) {
	if c.codecs == nil {
		return nil, &call.CapabilityError{Reason: call.ReasonNotFound, Err: ErrCaptureUnsupported}
	}
	stream, err := c.getUserMedia(streamConstraints(req, c.codecs))
	if err != nil {
		return nil, classify(err)
	}
	m := &Stream{tracks: stream.GetTracks()}
	if err := ctx.Err(); err != nil {
		m.Stop()
		return nil, err
	}
	log.Info().Str("module", "media").Bool("audio", req.Audio).Bool("video", req.Video).Int("tracks", len(m.tracks)).Msg("local media captured")
	return m, nil
}

// classify maps a driver failure to a ladder reason. Every GetUserMedia
// failure is a capability problem; the reason is best effort.
func classify(err error) *call.CapabilityError {
	msg := strings.ToLower(err.Error())
	reason := call.ReasonOverconstrained
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "not permitted") || strings.Contains(msg, "access denied"):
		reason = call.ReasonPermissionDenied
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use"):
		reason = call.ReasonBusy
	case strings.Contains(msg, "no such") || strings.Contains(msg, "not found") || strings.Contains(msg, "no device"):
		reason = call.ReasonNotFound
	}
	return &call.CapabilityError{Reason: reason, Err: err}
}

// Stream is a captured set of tracks.
type Stream struct {
	tracks []mediadevices.Track
}

func (s *Stream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Close()
	}
	s.tracks = nil
}
