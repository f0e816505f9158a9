package signaler

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v3"
)

type SDP = webrtc.SessionDescription

type Candidate = webrtc.ICECandidateInit

// Reply is what the answering peer sends back for one offer.
type Reply struct {
	Answer     SDP
	Candidates []Candidate
}

type Channel interface {
	Handshake(ctx context.Context, endpoint string, offer SDP) (reply *Reply, err error)
}

type Acceptor interface {
	Accept() (offerCh <-chan Session, err error)

	Close() error
}

type Session interface {
	Description() (offer SDP)
	Resolve(reply *Reply) (err error)
	Reject(err error)
}

var (
	ErrNoReply        = errors.New("session resolved without reply")
	ErrAlreadySettled = errors.New("session is already settled")
)
