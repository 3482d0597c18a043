package core

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Voicecall/internal/domain"
)

type EventType string

// Client to server.
const (
	EventCallStart    EventType = "call:start"
	EventCallAccept   EventType = "call:accept"
	EventCallReject   EventType = "call:reject"
	EventCallEnd      EventType = "call:end"
	EventCallOffer    EventType = "call:offer"
	EventCallAnswer   EventType = "call:answer"
	EventICECandidate EventType = "call:ice-candidate"
	EventPing         EventType = "ping"
)

// Server to client. Offer, answer and ice-candidate keep their names.
const (
	EventPresenceUpdate EventType = "presence:update"
	EventCallIncoming   EventType = "call:incoming"
	EventCallAccepted   EventType = "call:accepted"
	EventCallRejected   EventType = "call:rejected"
	EventCallEnded      EventType = "call:ended"
	EventCallError      EventType = "call:error"
	EventPong           EventType = "pong"
)

type ErrorCode string

const (
	CodeUserUnavailable      ErrorCode = "USER_UNAVAILABLE"
	CodeCallerUnavailable    ErrorCode = "CALLER_UNAVAILABLE"
	CodeRecipientUnavailable ErrorCode = "RECIPIENT_UNAVAILABLE"
	CodeInvalidEvent         ErrorCode = "INVALID_EVENT"
	CodeRateLimited          ErrorCode = "RATE_LIMITED"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMissingTarget  = errors.New("missing target")
	ErrMissingPayload = errors.New("missing payload")
	ErrBadMediaKind   = errors.New("bad media kind")
)

// Event is the single wire envelope for every signaling message.
// To is set by senders, From is attached by the server. On call:error
// To names the target of the event that failed.
type Event struct {
	Type      EventType                  `json:"type"`
	To        domain.UserID              `json:"to,omitempty"`
	From      *domain.User               `json:"from,omitempty"`
	Kind      domain.MediaKind           `json:"kind,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Reconnect bool                       `json:"reconnect,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Users     []domain.User              `json:"users,omitempty"`
	Code      ErrorCode                  `json:"code,omitempty"`
	Message   string                     `json:"message,omitempty"`
}

func (e Event) Encode() (Frame, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type, err)
	}
	return b, nil
}

func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Outbound maps a client event to the type delivered to its target.
func (t EventType) Outbound() (EventType, bool) {
	switch t {
	case EventCallStart:
		return EventCallIncoming, true
	case EventCallAccept:
		return EventCallAccepted, true
	case EventCallReject:
		return EventCallRejected, true
	case EventCallEnd:
		return EventCallEnded, true
	case EventCallOffer, EventCallAnswer, EventICECandidate:
		return t, true
	}
	return "", false
}

// ValidateInbound checks a client-originated event before routing.
// An empty kind on call:start defaults to audio.
func (e *Event) ValidateInbound() error {
	if e.Type == EventPing {
		return nil
	}
	if _, ok := e.Type.Outbound(); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	if e.To == "" {
		return ErrMissingTarget
	}
	switch e.Type {
	case EventCallStart:
		if e.Kind == "" {
			e.Kind = domain.MediaAudio
		}
		if !e.Kind.Valid() {
			return fmt.Errorf("%w: %q", ErrBadMediaKind, e.Kind)
		}
	case EventCallOffer, EventCallAnswer:
		if e.SDP == nil {
			return fmt.Errorf("%w: sdp", ErrMissingPayload)
		}
	case EventICECandidate:
		if e.Candidate == nil {
			return fmt.Errorf("%w: candidate", ErrMissingPayload)
		}
	}
	return nil
}

func ErrorEvent(code ErrorCode, msg string) Event {
	return Event{Type: EventCallError, Code: code, Message: msg}
}
