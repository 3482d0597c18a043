package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Voicecall/internal/adapters/media"
	"github.com/dkeye/Voicecall/internal/adapters/rtc"
	"github.com/dkeye/Voicecall/internal/adapters/wsclient"
	"github.com/dkeye/Voicecall/internal/auth"
	"github.com/dkeye/Voicecall/internal/call"
	"github.com/dkeye/Voicecall/internal/config"
	"github.com/dkeye/Voicecall/internal/core"
	"github.com/dkeye/Voicecall/internal/domain"
)

const (
	presenceWait = 5 * time.Second
	closeWait    = 2 * time.Second
	statsEvery   = 5 * time.Second
)

var errServerGone = errors.New("lost connection to the signaling server")

// session ties one signaling connection to one call machine.
type session struct {
	self     domain.User
	client   *wsclient.Client
	machine  *call.Machine
	presence chan []domain.User
	changes  chan call.Snapshot
	errs     chan error

	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

func dialSession(ctx context.Context, cfg *config.ClientConfig) (*session, error) {
	self, err := auth.Identity(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}

	codecs, err := media.DefaultCodecSelector()
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("local capture unavailable, calls will fail to get media")
	}
	peers, err := rtc.NewFactory(rtc.Config{
		STUNServers:  cfg.STUNServers,
		TURNServers:  cfg.TURNServers,
		TURNUsername: cfg.TURNUsername,
		TURNPassword: cfg.TURNPassword,
	}, codecs)
	if err != nil {
		return nil, err
	}

	client, err := wsclient.Dial(ctx, cfg.ServerURL, cfg.Token)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		self:     *self,
		client:   client,
		presence: make(chan []domain.User, 1),
		changes:  make(chan call.Snapshot, 16),
		errs:     make(chan error, 16),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.machine = call.NewMachine(call.Options{
		Self:            *self,
		Signaler:        client,
		Peers:           peers,
		Media:           media.NewCapturer(codecs),
		RecoveryTimeout: cfg.RecoveryTimeout,
		OnChange:        func(snap call.Snapshot) { offer(s.changes, snap) },
		OnError:         func(err error) { offer(s.errs, err) },
		OnRemoteTrack: func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			go rtc.Drain(runCtx, t, statsEvery)
		},
	})

	go func() {
		s.runErr = client.Run(runCtx, s.dispatch)
		close(s.done)
	}()
	return s, nil
}

// offer never blocks the machine; when ch is full the oldest value goes.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (s *session) dispatch(ev core.Event) {
	if ev.Type == core.EventPresenceUpdate {
		offer(s.presence, ev.Users)
	}
	s.machine.HandleEvent(ev)
}

func (s *session) waitPresence(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, presenceWait)
	defer cancel()
	select {
	case users := <-s.presence:
		return users, nil
	case <-s.done:
		return nil, errServerGone
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for presence: %w", ctx.Err())
	}
}

// follow reports call progress until the machine is idle again. The last
// error raised on the way is returned.
func (s *session) follow(ctx context.Context) error {
	var last error
	for {
		select {
		case <-ctx.Done():
			s.machine.EndCall()
			printInfo("Hung up")
			return nil
		case <-s.done:
			return errServerGone
		case err := <-s.errs:
			last = err
			printWarning(err.Error())
		case snap := <-s.changes:
			if snap.Status != call.StatusIdle {
				printInfo(statusLine(snap))
				continue
			}
			for drained := false; !drained; {
				select {
				case err := <-s.errs:
					last = err
					printWarning(err.Error())
				default:
					drained = true
				}
			}
			printInfo(statusLine(snap))
			return last
		}
	}
}

// Close hangs up any call and waits briefly for queued frames to flush.
func (s *session) Close() error {
	s.machine.EndCall()
	s.client.Close()
	select {
	case <-s.done:
	case <-time.After(closeWait):
		s.cancel()
		<-s.done
	}
	s.cancel()
	return s.runErr
}
