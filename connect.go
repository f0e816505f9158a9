package dclink

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/shynome/dclink/signaler"
)

// Connect runs the offer/answer exchange with signalingURL: create and set
// the local offer, post it through the signaler, then apply the answer and
// the remote candidates. It returns once those steps are issued and does
// not wait for the channel to open.
//
// Connect never panics and never retries. The outcome is in the Result.
// A session connects at most once.
func (s *Session) Connect(ctx context.Context, signalingURL string) Result {
	ctx, done, err := s.begin(ctx)
	if err != nil {
		return s.fail(StatusNegotiationFailure, "start", err)
	}
	defer done()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return s.fail(s.classify(StatusNegotiationFailure), "create offer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return s.fail(s.classify(StatusNegotiationFailure), "set local description", err)
	}
	s.setState(StateHaveLocalOffer)
	s.waitGathering(ctx, gatherComplete)

	local := s.pc.LocalDescription()
	if local == nil {
		return s.fail(s.classify(StatusNegotiationFailure), "local description", ErrSessionClosed)
	}

	reply, err := s.signaler.Handshake(ctx, signalingURL, *local)
	if err != nil {
		return s.fail(s.classify(StatusSignalingFailure), "signaling", err)
	}
	if reply == nil {
		return s.fail(s.classify(StatusSignalingFailure), "signaling", signaler.ErrNoReply)
	}
	if s.State() == StateClosed {
		return s.fail(StatusAborted, "signaling", ErrSessionClosed)
	}

	if err := s.pc.SetRemoteDescription(reply.Answer); err != nil {
		return s.fail(s.classify(StatusNegotiationFailure), "set remote description", err)
	}

	added := 0
	for _, candidate := range reply.Candidates {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			res := s.fail(s.classify(StatusNegotiationFailure), "add ice candidate", err)
			res.Candidates = added
			return res
		}
		added++
	}
	s.log.Infof("handshake with %s done, %d remote candidate(s)", signalingURL, added)
	return Result{Status: StatusOK, Candidates: added}
}

// ConnectAsync runs Connect on its own goroutine. The channel receives
// exactly one Result.
func (s *Session) ConnectAsync(ctx context.Context, signalingURL string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- s.Connect(ctx, signalingURL)
	}()
	return ch
}

// begin marks the session as connecting and returns a context that Close
// cancels.
func (s *Session) begin(parent context.Context) (ctx context.Context, done func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateClosed:
		return nil, nil, ErrSessionClosed
	case s.started:
		return nil, nil, ErrAlreadyConnected
	}
	s.started = true
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	done = func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}
	return ctx, done, nil
}

// classify turns any failure seen after Close into StatusAborted.
func (s *Session) classify(status Status) Status {
	if s.State() == StateClosed {
		return StatusAborted
	}
	return status
}

func (s *Session) fail(status Status, step string, err error) Result {
	err = fmt.Errorf("%s: %w", step, err)
	s.log.Warnf("handshake %s: %v", status, err)
	return Result{Status: status, Err: err}
}

func (s *Session) waitGathering(ctx context.Context, gatherComplete <-chan struct{}) {
	if s.gatherTimeout <= 0 {
		return
	}
	t := time.NewTimer(s.gatherTimeout)
	defer t.Stop()
	select {
	case <-gatherComplete:
	case <-t.C:
		s.log.Debugf("ice gathering still running after %s, sending partial offer", s.gatherTimeout)
	case <-ctx.Done():
	}
}
