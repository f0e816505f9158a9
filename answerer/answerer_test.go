package answerer

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"github.com/shynome/dclink"
	"github.com/shynome/dclink/message"
	"github.com/shynome/dclink/mux"
	"github.com/shynome/dclink/signaler"
	"github.com/shynome/dclink/signaler/httpsig"
	"github.com/shynome/dclink/signaler/local"
)

var engine = mux.Config{
	NetworkTypes: []webrtc.NetworkType{webrtc.NetworkTypeUDP4},
	DisableMDNS:  true,
}

func quietLogger() logging.LoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelError
	return lf
}

func requireNetwork(t *testing.T) {
	t.Helper()
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				return
			}
		}
	}
	t.Skip("no non-loopback ipv4 interface")
}

func newAnswerer(t *testing.T, acceptor signaler.Acceptor, onControl func([4]float64)) *Answerer {
	t.Helper()
	a := try.To1(New(Config{
		Acceptor:      acceptor,
		Engine:        engine,
		GatherTimeout: 2 * time.Second,
		LoggerFactory: quietLogger(),
		OnControl:     onControl,
	}))
	t.Cleanup(func() { a.Close() })
	try.To(a.Open())
	return a
}

// client is the offering side with its frames fanned into a channel.
type client struct {
	*dclink.Session
	frames chan message.Message
}

func dial(t *testing.T, endpoint string, opts ...dclink.Option) *client {
	t.Helper()
	base := []dclink.Option{
		dclink.WithEngine(engine),
		dclink.WithLoggerFactory(quietLogger()),
		dclink.WithGatherTimeout(2 * time.Second),
	}
	s := try.To1(dclink.NewSession(append(base, opts...)...))
	t.Cleanup(func() { s.Close() })
	c := &client{Session: s, frames: make(chan message.Message, 16)}
	s.Channel().OnMessage(func(data []byte) {
		c.frames <- message.Parse(data)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	res := s.Connect(ctx, endpoint)
	assert.That(res.OK(), res.String())
	try.To(s.Channel().WaitOpen(ctx))
	return c
}

func (c *client) hello(t *testing.T) uint32 {
	t.Helper()
	try.To(c.Channel().Send(message.Encode(message.ClientHello())))
	m := c.next(t)
	assert.Equal(m.Kind, message.KindServerHello)
	return m.ID
}

func (c *client) next(t *testing.T) message.Message {
	t.Helper()
	select {
	case m := <-c.frames:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no frame from answerer")
	}
	return message.Message{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestHTTPSession(t *testing.T) {
	requireNetwork(t)
	sig := httpsig.NewServer(quietLogger())
	a := newAnswerer(t, sig, nil)
	srv := httptest.NewServer(sig)
	defer srv.Close()

	c0 := dial(t, srv.URL)
	assert.Equal(c0.hello(t), uint32(0))
	c1 := dial(t, srv.URL)
	assert.Equal(c1.hello(t), uint32(1))
	assert.Equal(a.Registry().Len(), 2)
	assert.Equal(a.Peers(), 2)

	// a repeated hello is not answered twice
	try.To(c0.Channel().Send(message.Encode(message.ClientHello())))
	select {
	case m := <-c0.frames:
		t.Fatalf("unexpected %s frame", m.Kind)
	case <-time.After(200 * time.Millisecond):
	}

	try.To(c1.Channel().Close())
	waitFor(t, func() bool { return a.Registry().Len() == 1 })
	try.To(c1.Close())
}

func TestLocalSession(t *testing.T) {
	requireNetwork(t)
	hub := local.NewHub()
	drone, pilot := local.NewServer(), local.NewServer()
	try.To(hub.Register("drone", drone))
	try.To(hub.Register("pilot", pilot))
	newAnswerer(t, drone, nil)

	c := dial(t, "drone", dclink.WithSignaler(pilot))
	assert.Equal(c.hello(t), uint32(0))
}

func TestBroadcast(t *testing.T) {
	requireNetwork(t)
	sig := httpsig.NewServer(quietLogger())
	a := newAnswerer(t, sig, nil)
	srv := httptest.NewServer(sig)
	defer srv.Close()

	sub := dial(t, srv.URL)
	other := dial(t, srv.URL)
	try.To(a.Registry().Subscribe(sub.hello(t)))
	other.hello(t)

	v := [3]float64{1.5, -2, 42}
	// the channel drops frames, so keep sending until one lands
	deadline := time.After(5 * time.Second)
	for got := false; !got; {
		a.Broadcast(v)
		select {
		case m := <-sub.frames:
			assert.Equal(m.Kind, message.KindMeasure)
			assert.Equal(m.Measure, v)
			got = true
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("no measure reached the subscriber")
		}
	}
	select {
	case m := <-other.frames:
		t.Fatalf("unsubscribed client got %s frame", m.Kind)
	default:
	}
}

func TestControlNeedsController(t *testing.T) {
	requireNetwork(t)
	controls := make(chan [4]float64, 16)
	sig := httpsig.NewServer(quietLogger())
	a := newAnswerer(t, sig, func(v [4]float64) { controls <- v })
	srv := httptest.NewServer(sig)
	defer srv.Close()

	c := dial(t, srv.URL)
	id := c.hello(t)

	v := [4]float64{0.1, 0.2, 0.3, 0.4}
	try.To(c.Channel().Send(message.Encode(message.Control(v))))
	select {
	case <-controls:
		t.Fatal("control accepted without holding control")
	case <-time.After(200 * time.Millisecond):
	}

	try.To(a.Registry().TakeControl(id))
	deadline := time.After(5 * time.Second)
	for got := false; !got; {
		try.To(c.Channel().Send(message.Encode(message.Control(v))))
		select {
		case cv := <-controls:
			assert.Equal(cv, v)
			got = true
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("control never forwarded")
		}
	}
}

func TestRejectsAfterClose(t *testing.T) {
	sig := httpsig.NewServer(quietLogger())
	a := try.To1(New(Config{Acceptor: sig, Engine: engine, LoggerFactory: quietLogger()}))
	try.To(a.Open())
	try.To(a.Close())
	try.To(a.Close())
	assert.That(a.Open() == ErrClosed, "open after close")

	srv := httptest.NewServer(sig)
	defer srv.Close()
	s := try.To1(dclink.NewSession(dclink.WithEngine(engine), dclink.WithLoggerFactory(quietLogger()), dclink.WithGatherTimeout(0)))
	defer s.Close()
	res := s.Connect(context.Background(), srv.URL)
	assert.Equal(res.Status, dclink.StatusSignalingFailure)
}

// sessionFeed hands out sessions pushed by the test.
type sessionFeed struct {
	ch   chan signaler.Session
	once sync.Once
}

func (f *sessionFeed) Accept() (<-chan signaler.Session, error) { return f.ch, nil }

func (f *sessionFeed) Close() error {
	f.once.Do(func() { close(f.ch) })
	return nil
}

type rejectRecorder struct {
	*signaler.Pending
	rejected chan error
}

func (r *rejectRecorder) Reject(err error) {
	r.Pending.Reject(err)
	r.rejected <- err
}

func TestAbandonedOfferIsDropped(t *testing.T) {
	feed := &sessionFeed{ch: make(chan signaler.Session)}
	a := newAnswerer(t, feed, nil)

	offerer := try.To1(webrtc.NewPeerConnection(webrtc.Configuration{}))
	defer offerer.Close()
	try.To1(offerer.CreateDataChannel("channel", nil))
	offer := try.To1(offerer.CreateOffer(nil))

	// the offering side hung up before the answer was ready
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess := &rejectRecorder{
		Pending:  signaler.NewPending(ctx, offer),
		rejected: make(chan error, 1),
	}
	feed.ch <- sess

	select {
	case err := <-sess.rejected:
		assert.That(errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("abandoned offer was never dropped")
	}
	assert.Equal(a.Peers(), 0)
}
