package signaler

import (
	"context"
	"sync"
)

// Pending is a Session whose outcome is read back with Result.
type Pending struct {
	context.Context
	settle context.CancelCauseFunc

	offer SDP

	mu    sync.Mutex
	reply *Reply
	done  bool
}

var _ Session = (*Pending)(nil)

func NewPending(ctx context.Context, offer SDP) *Pending {
	ctx, settle := context.WithCancelCause(ctx)
	return &Pending{
		Context: ctx,
		settle:  settle,

		offer: offer,
	}
}

func (p *Pending) Description() SDP { return p.offer }

func (p *Pending) Reject(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	p.settle(err)
}

func (p *Pending) Resolve(reply *Reply) (err error) {
	if reply == nil {
		return ErrNoReply
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return ErrAlreadySettled
	}
	p.done = true
	// the waiting side has already given up
	if p.Err() != nil {
		return context.Cause(p)
	}
	p.reply = reply
	p.settle(nil)
	return
}

// Result blocks until the session is settled or its context ends.
func (p *Pending) Result() (reply *Reply, err error) {
	<-p.Done()
	switch err = context.Cause(p); err {
	case context.Canceled:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.reply == nil {
			return nil, err
		}
		return p.reply, nil
	}
	return
}
