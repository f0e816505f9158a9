// Package dclink opens one unreliable, unordered binary data channel to a
// remote peer with a single signaling round trip.
//
//	s, err := dclink.NewSession()
//	...
//	res := s.Connect(ctx, "https://drone.local/api/webrtc")
//	if !res.OK() { ... }
//	err = s.Channel().WaitOpen(ctx)
package dclink

import (
	"context"
	"sync"
	"time"

	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"github.com/shynome/dclink/mux"
	"github.com/shynome/dclink/signaler"
)

type State int

const (
	StateNew State = iota
	StateHaveLocalOffer
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session owns one peer connection and the data channel on it.
type Session struct {
	pc  *webrtc.PeerConnection
	api *mux.API
	// ownAPI is set when the session built api and must close it.
	ownAPI bool

	signaler      signaler.Channel
	gatherTimeout time.Duration
	log           logging.LeveledLogger

	mu       sync.Mutex
	channel  *Channel
	state    State
	started  bool
	cancel   context.CancelFunc
	onChange func(State)

	// closed is set by Close only. state may reach StateClosed earlier when
	// the connection is closed underneath the session.
	closed bool
}

func NewSession(opts ...Option) (s *Session, err error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.finish()

	s = &Session{
		api:           o.api,
		signaler:      o.signaler,
		gatherTimeout: o.gatherTimeout,
		log:           o.loggerFactory.NewLogger("dclink"),
	}
	defer func() {
		if err == nil {
			return
		}
		if s.pc != nil {
			s.pc.Close()
		}
		if s.ownAPI {
			s.api.Close()
		}
		s = nil
	}()
	defer err2.Handle(&err)

	if s.api == nil {
		s.api = try.To1(mux.NewAPI(o.engine))
		s.ownAPI = true
	}
	s.pc = try.To1(s.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: o.iceServers,
	}))
	s.pc.OnConnectionStateChange(s.handleConnectionState)

	// created before any offer so the offer carries the application section
	dc := try.To1(s.pc.CreateDataChannel(o.label, unreliable()))
	s.channel = NewChannel(s.pc, dc, s.log)
	return s, nil
}

// Channel returns the channel currently owned by the session.
func (s *Session) Channel() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// SetChannel transfers ch to the session. ch must have been created on this
// session's connection, e.g. by NegotiatedChannel.
func (s *Session) SetChannel(ch *Channel) error {
	if ch == nil {
		return ErrNilChannel
	}
	if ch.pc != s.pc {
		return ErrForeignChannel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	s.channel = ch
	return nil
}

// NegotiatedChannel creates an out-of-band negotiated channel with the
// given stream id on this connection. The remote peer must create the same
// channel. It is not installed; pass it to SetChannel for that.
func (s *Session) NegotiatedChannel(label string, id uint16) (ch *Channel, err error) {
	defer err2.Handle(&err)
	if s.State() == StateClosed {
		return nil, ErrSessionClosed
	}
	init := unreliable()
	init.Negotiated = refVal(true)
	init.ID = refVal(id)
	dc := try.To1(s.pc.CreateDataChannel(label, init))
	return NewChannel(s.pc, dc, s.log), nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange replaces the state change handler.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Session) PeerConnection() *webrtc.PeerConnection { return s.pc }

func (s *Session) LocalDescription() *webrtc.SessionDescription { return s.pc.LocalDescription() }

func (s *Session) RemoteDescription() *webrtc.SessionDescription { return s.pc.RemoteDescription() }

// Close closes the session's peer connection and aborts a running Connect.
// Closing twice is a no-op.
func (s *Session) Close() (err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	notify := s.state != StateClosed
	s.state = StateClosed
	cancel, fn := s.cancel, s.onChange
	s.mu.Unlock()
	if notify && fn != nil {
		fn(StateClosed)
	}

	if cancel != nil {
		cancel()
	}
	err = s.pc.Close()
	if s.ownAPI {
		if cerr := s.api.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Session) handleConnectionState(pcs webrtc.PeerConnectionState) {
	s.log.Debugf("peer connection state %s", pcs)
	switch pcs {
	case webrtc.PeerConnectionStateConnected:
		s.setState(StateConnected)
	case webrtc.PeerConnectionStateFailed:
		s.setState(StateFailed)
	case webrtc.PeerConnectionStateClosed:
		s.setState(StateClosed)
	}
}

// setState moves to next unless the session is already closed.
func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(next)
	}
}
