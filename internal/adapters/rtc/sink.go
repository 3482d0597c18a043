package rtc

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// TrackStats summarizes a received RTP stream.
type TrackStats struct {
	Packets uint64
	Bytes   uint64
	Lost    uint64
	lastSeq uint16
	started bool
}

// Observe accounts one packet. Sequence gaps count as loss; late or
// duplicated packets are ignored.
func (s *TrackStats) Observe(p *rtp.Packet) {
	s.Packets++
	s.Bytes += uint64(len(p.Payload))
	if !s.started {
		s.started = true
		s.lastSeq = p.SequenceNumber
		return
	}
	diff := p.SequenceNumber - s.lastSeq
	if diff == 0 || diff > 1<<15 {
		return
	}
	s.Lost += uint64(diff - 1)
	s.lastSeq = p.SequenceNumber
}

// Drain consumes a remote track until it ends or ctx is done, logging
// periodic stats. The CLI has no renderer, so media is only accounted.
func Drain(ctx context.Context, track *webrtc.TrackRemote, every time.Duration) TrackStats {
	var stats TrackStats
	l := log.With().Str("module", "webrtc").Str("track_id", track.ID()).Str("kind", track.Kind().String()).Logger()
	next := time.Now().Add(every)
	for ctx.Err() == nil {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				l.Debug().Err(err).Msg("track read ended")
			}
			break
		}
		stats.Observe(pkt)
		if every > 0 && time.Now().After(next) {
			l.Info().Uint64("packets", stats.Packets).Uint64("bytes", stats.Bytes).Uint64("lost", stats.Lost).Msg("inbound media")
			next = time.Now().Add(every)
		}
	}
	l.Info().Uint64("packets", stats.Packets).Uint64("lost", stats.Lost).Msg("track finished")
	return stats
}
