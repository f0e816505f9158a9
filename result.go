package dclink

import (
	"errors"
	"fmt"
)

// Status classifies how a Connect call ended.
type Status int

const (
	// StatusOK means every handshake step was issued and accepted. The
	// channel may still be connecting.
	StatusOK Status = iota
	// StatusSignalingFailure means no usable answer came back: transport
	// error, non-200 status or a malformed reply.
	StatusSignalingFailure
	// StatusNegotiationFailure means the local stack rejected a step: offer,
	// local or remote description, or candidate.
	StatusNegotiationFailure
	// StatusAborted means the session was closed mid handshake.
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSignalingFailure:
		return "signaling-failure"
	case StatusNegotiationFailure:
		return "negotiation-failure"
	case StatusAborted:
		return "aborted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type Result struct {
	Status Status
	// Err is nil only for StatusOK.
	Err error
	// Candidates counts remote ICE candidates that were registered.
	Candidates int
}

func (r Result) OK() bool { return r.Status == StatusOK }

func (r Result) String() string {
	if r.Err == nil {
		return r.Status.String()
	}
	return fmt.Sprintf("%s: %v", r.Status, r.Err)
}

var (
	ErrSessionClosed    = errors.New("session is closed")
	ErrAlreadyConnected = errors.New("session already started a handshake")
	ErrNilChannel       = errors.New("channel is nil")
	ErrForeignChannel   = errors.New("channel belongs to another peer connection")
	ErrChannelClosed    = errors.New("channel is closed")
)
