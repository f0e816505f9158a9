package dclink

import (
	"context"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
)

type BinaryType string

// BinaryTypeArrayBuffer is the only delivery mode: every message is raw bytes.
const BinaryTypeArrayBuffer BinaryType = "arraybuffer"

func refVal[T any](v T) *T { return &v }

// unreliable is fire-and-forget delivery: no ordering, no retransmission.
func unreliable() *webrtc.DataChannelInit {
	return &webrtc.DataChannelInit{
		Ordered:        refVal(false),
		MaxRetransmits: refVal(uint16(0)),
	}
}

// Channel is a binary data channel bound to the peer connection that
// created it.
type Channel struct {
	dc  *webrtc.DataChannel
	pc  *webrtc.PeerConnection
	log logging.LeveledLogger

	mu      sync.Mutex
	onOpen  func()
	onClose func()

	opened    chan struct{}
	closed    chan struct{}
	openOnce  sync.Once
	closeOnce sync.Once
}

// NewChannel wraps dc. pc must be the connection dc was created on or
// received from.
func NewChannel(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, log logging.LeveledLogger) *Channel {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("dclink")
	}
	c := &Channel{
		dc:     dc,
		pc:     pc,
		log:    log,
		opened: make(chan struct{}),
		closed: make(chan struct{}),
	}
	dc.OnOpen(func() {
		c.openOnce.Do(func() { close(c.opened) })
		c.mu.Lock()
		fn := c.onOpen
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	dc.OnClose(func() {
		c.closeOnce.Do(func() { close(c.closed) })
		c.mu.Lock()
		fn := c.onClose
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return c
}

func (c *Channel) Label() string { return c.dc.Label() }

func (c *Channel) Ordered() bool { return c.dc.Ordered() }

// MaxRetransmits reports the retransmit limit; ok is false when the
// channel is reliable.
func (c *Channel) MaxRetransmits() (n uint16, ok bool) {
	if p := c.dc.MaxRetransmits(); p != nil {
		return *p, true
	}
	return 0, false
}

func (c *Channel) BinaryType() BinaryType { return BinaryTypeArrayBuffer }

func (c *Channel) ReadyState() webrtc.DataChannelState { return c.dc.ReadyState() }

func (c *Channel) Send(data []byte) error { return c.dc.Send(data) }

// OnMessage delivers binary frames. Text frames are dropped.
func (c *Channel) OnMessage(fn func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			c.log.Debugf("dropping text frame on channel %s", c.dc.Label())
			return
		}
		fn(msg.Data)
	})
}

func (c *Channel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
	if c.isOpen() && fn != nil {
		go fn()
	}
}

func (c *Channel) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *Channel) OnError(fn func(err error)) { c.dc.OnError(fn) }

// WaitOpen blocks until the channel opens, closes or ctx ends.
func (c *Channel) WaitOpen(ctx context.Context) error {
	switch c.dc.ReadyState() {
	case webrtc.DataChannelStateOpen:
		return nil
	case webrtc.DataChannelStateClosing, webrtc.DataChannelStateClosed:
		return ErrChannelClosed
	}
	select {
	case <-c.opened:
		return nil
	case <-c.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) Close() error { return c.dc.Close() }

// Raw exposes the pion channel.
func (c *Channel) Raw() *webrtc.DataChannel { return c.dc }

func (c *Channel) isOpen() bool {
	select {
	case <-c.opened:
		return true
	default:
		return false
	}
}
