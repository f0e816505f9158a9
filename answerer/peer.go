package answerer

import (
	"errors"

	"github.com/pion/webrtc/v3"
	"github.com/shynome/dclink"
	"github.com/shynome/dclink/message"
	"github.com/shynome/dclink/registry"
)

// peer is one remote client as the registry sees it.
type peer struct {
	ch *dclink.Channel
}

var _ registry.Client = (*peer)(nil)

func (p *peer) Send(data []byte) error { return p.ch.Send(data) }

func (a *Answerer) serve(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) {
	log := a.log
	p := &peer{ch: dclink.NewChannel(pc, dc, log)}
	log.Debugf("channel %s from remote peer", dc.Label())

	p.ch.OnMessage(func(data []byte) {
		m, err := message.Decode(data)
		if err != nil {
			log.Debugf("dropping frame: %v", err)
			return
		}
		a.handle(p, m)
	})
	p.ch.OnClose(func() {
		a.registry.Remove(p)
	})
}

func (a *Answerer) handle(p *peer, m message.Message) {
	switch m.Kind {
	case message.KindClientHello:
		id, err := a.registry.Add(p)
		if errors.Is(err, registry.ErrAlreadyPresent) {
			return
		}
		if err := p.Send(message.Encode(message.ServerHello(id))); err != nil {
			a.log.Warnf("server hello to %d: %v", id, err)
		}
	case message.KindControl:
		if a.onControl != nil && a.registry.IsController(p) {
			a.onControl(m.Control)
		}
	default:
		a.log.Debugf("ignoring %s frame", m.Kind)
	}
}

// Broadcast sends a measure to every subscribed client. Delivery is best
// effort, matching the channel.
func (a *Answerer) Broadcast(v [3]float64) {
	frame := message.Encode(message.Measure(v))
	for _, c := range a.registry.Subscribers() {
		if err := c.Send(frame); err != nil {
			a.log.Debugf("measure not sent: %v", err)
		}
	}
}
