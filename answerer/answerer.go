// Package answerer is the remote end of a dclink session: it answers the
// offers handed out by a signaler and serves the channels that open.
package answerer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"github.com/shynome/dclink/mux"
	"github.com/shynome/dclink/registry"
	"github.com/shynome/dclink/signaler"
)

type Config struct {
	Acceptor signaler.Acceptor
	// API is shared with the caller and left open on Close. When nil the
	// answerer builds one from Engine.
	API    *mux.API
	Engine mux.Config

	ICEServers []webrtc.ICEServer
	// GatherTimeout bounds candidate gathering before the answer is sent.
	GatherTimeout time.Duration

	Registry      *registry.Registry
	LoggerFactory logging.LoggerFactory

	// OnControl receives flight commands from the client holding control.
	OnControl func(v [4]float64)
}

type Answerer struct {
	acceptor      signaler.Acceptor
	api           *mux.API
	ownAPI        bool
	iceServers    []webrtc.ICEServer
	gatherTimeout time.Duration
	registry      *registry.Registry
	ownRegistry   bool
	onControl     func(v [4]float64)
	log           logging.LeveledLogger

	pcs  map[*webrtc.PeerConnection]struct{}
	pcsL sync.Mutex

	closed uint32
}

var ErrClosed = errors.New("answerer is closed")

func New(cfg Config) (a *Answerer, err error) {
	defer err2.Handle(&err)

	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	ownRegistry := cfg.Registry == nil
	if ownRegistry {
		cfg.Registry = registry.New(cfg.LoggerFactory)
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 5 * time.Second
	}
	a = &Answerer{
		acceptor:      cfg.Acceptor,
		api:           cfg.API,
		iceServers:    cfg.ICEServers,
		gatherTimeout: cfg.GatherTimeout,
		registry:      cfg.Registry,
		ownRegistry:   ownRegistry,
		onControl:     cfg.OnControl,
		log:           cfg.LoggerFactory.NewLogger("answerer"),
		pcs:           make(map[*webrtc.PeerConnection]struct{}),
	}
	if a.api == nil {
		if cfg.Engine.LoggerFactory == nil {
			cfg.Engine.LoggerFactory = cfg.LoggerFactory
		}
		a.api = try.To1(mux.NewAPI(cfg.Engine))
		a.ownAPI = true
	}
	return a, nil
}

func (a *Answerer) Registry() *registry.Registry { return a.registry }

// Open starts answering offers from the acceptor.
func (a *Answerer) Open() (err error) {
	defer err2.Handle(&err)
	if a.isClosed() {
		return ErrClosed
	}
	ch := try.To1(a.acceptor.Accept())
	go func() {
		for sess := range ch {
			go a.handleConnect(sess)
		}
	}()
	return nil
}

func (a *Answerer) handleConnect(sess signaler.Session) {
	var pc *webrtc.PeerConnection
	defer err2.Catch(func(err error) {
		a.log.Warnf("answering offer: %v", err)
		if pc != nil {
			a.forget(pc)
			pc.Close()
		}
		sess.Reject(err)
	})
	if a.isClosed() {
		try.To(ErrClosed)
	}

	pc = try.To1(a.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: a.iceServers,
	}))
	a.track(pc)
	pc.OnConnectionStateChange(func(pcs webrtc.PeerConnectionState) {
		a.log.Debugf("peer connection state %s", pcs)
		switch pcs {
		case webrtc.PeerConnectionStateFailed:
			pc.Close()
		case webrtc.PeerConnectionStateClosed:
			a.forget(pc)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		a.serve(pc, dc)
	})

	first := firstCandidate(pc)

	try.To(pc.SetRemoteDescription(sess.Description()))
	answer := try.To1(pc.CreateAnswer(nil))
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	try.To(pc.SetLocalDescription(answer))

	ctx, cancel := context.WithTimeout(context.Background(), a.gatherTimeout)
	defer cancel()
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		a.log.Debugf("gathering timed out, answering with what we have")
	}

	local := pc.LocalDescription()
	if local == nil {
		try.To(webrtc.ErrConnectionClosed)
	}
	reply := &signaler.Reply{Answer: *local}
	if c, ok := first(); ok {
		reply.Candidates = []signaler.Candidate{c}
	}
	try.To(sess.Resolve(reply))
}

// firstCandidate records the first gathered local candidate. It must be
// installed before the local description is set.
func firstCandidate(pc *webrtc.PeerConnection) func() (signaler.Candidate, bool) {
	var (
		mu    sync.Mutex
		first *signaler.Candidate
	)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if first == nil {
			init := c.ToJSON()
			first = &init
		}
	})
	return func() (signaler.Candidate, bool) {
		mu.Lock()
		defer mu.Unlock()
		if first == nil {
			return signaler.Candidate{}, false
		}
		return *first, true
	}
}

func (a *Answerer) track(pc *webrtc.PeerConnection) {
	a.pcsL.Lock()
	defer a.pcsL.Unlock()
	a.pcs[pc] = struct{}{}
}

func (a *Answerer) forget(pc *webrtc.PeerConnection) {
	a.pcsL.Lock()
	defer a.pcsL.Unlock()
	delete(a.pcs, pc)
}

// Peers reports how many connections are tracked.
func (a *Answerer) Peers() int {
	a.pcsL.Lock()
	defer a.pcsL.Unlock()
	return len(a.pcs)
}

func (a *Answerer) isClosed() bool {
	return atomic.LoadUint32(&a.closed) != 0
}

func (a *Answerer) Close() (err error) {
	defer err2.Handle(&err)
	if !atomic.CompareAndSwapUint32(&a.closed, 0, 1) {
		return nil
	}

	try.To(a.acceptor.Close())

	a.pcsL.Lock()
	pcs := make([]*webrtc.PeerConnection, 0, len(a.pcs))
	for pc := range a.pcs {
		pcs = append(pcs, pc)
	}
	a.pcsL.Unlock()
	for _, pc := range pcs {
		if err := pc.Close(); err != nil {
			a.log.Warnf("closing peer connection: %v", err)
		}
	}

	if a.ownRegistry {
		a.registry.Close()
	}
	if a.ownAPI {
		try.To(a.api.Close())
	}
	return
}
