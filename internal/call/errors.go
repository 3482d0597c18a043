package call

import (
	"errors"
	"fmt"

	"github.com/dkeye/Voicecall/internal/core"
)

var (
	ErrBusy               = errors.New("call already in progress")
	ErrInvalidState       = errors.New("operation not valid in current call state")
	ErrSelfCall           = errors.New("cannot call yourself")
	ErrCallCanceled       = errors.New("call canceled")
	ErrCallRejected       = errors.New("call rejected")
	ErrRemoteGone         = errors.New("remote party went offline")
	ErrNegotiationTimeout = errors.New("connection could not be established")
	ErrMediaUnavailable   = errors.New("media unavailable")
)

type CapabilityReason string

const (
	ReasonPermissionDenied CapabilityReason = "permission denied"
	ReasonNotFound         CapabilityReason = "no device"
	ReasonBusy             CapabilityReason = "device busy"
	ReasonOverconstrained  CapabilityReason = "overconstrained"
)

// CapabilityError is the only error that moves the media ladder to its next rung.
type CapabilityError struct {
	Reason CapabilityReason
	Err    error
}

func (e *CapabilityError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// NegotiationError wraps a failed offer/answer step.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// RelayError is a call:error reported by the server.
type RelayError struct {
	Code    core.ErrorCode
	Message string
}

func (e *RelayError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
