// Package registry tracks the clients attached to an answering peer: who
// receives measures and who holds flight control.
package registry

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/donovanhide/eventsource"
	"github.com/pion/logging"
)

// Client is anything frames can be pushed to.
type Client interface {
	Send(data []byte) error
}

var (
	ErrUnknownClient  = errors.New("unknown client")
	ErrNotSubscribed  = errors.New("client is not subscribed")
	ErrControlTaken   = errors.New("control is held by another client")
	ErrNotController  = errors.New("client does not hold control")
	ErrAlreadyPresent = errors.New("client is already registered")
)

const StatusChannel = "status"

type Registry struct {
	log    logging.LeveledLogger
	events *eventsource.Server
	seq    uint64
	// evL orders publishes against Close; Publish blocks once the server stops.
	evL      sync.RWMutex
	evClosed bool

	mu         sync.RWMutex
	clients    map[uint32]Client
	measure    map[uint32]struct{}
	controller *uint32
	nextID     uint32
}

func New(lf logging.LoggerFactory) *Registry {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	events := eventsource.NewServer()
	events.AllowCORS = true
	return &Registry{
		log:     lf.NewLogger("registry"),
		events:  events,
		clients: make(map[uint32]Client),
		measure: make(map[uint32]struct{}),
	}
}

// Add assigns the next id to c. A client registers once.
func (r *Registry) Add(c Client) (uint32, error) {
	r.mu.Lock()
	for id, known := range r.clients {
		if known == c {
			r.mu.Unlock()
			return id, ErrAlreadyPresent
		}
	}
	id := r.nextID
	r.nextID++
	r.clients[id] = c
	r.mu.Unlock()

	r.log.Infof("new client id %d", id)
	r.publish("hello", id)
	return id, nil
}

// Remove forgets c along with its subscription and control.
func (r *Registry) Remove(c Client) {
	r.mu.Lock()
	var (
		id    uint32
		found bool
	)
	for cid, known := range r.clients {
		if known == c {
			id, found = cid, true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return
	}
	delete(r.clients, id)
	delete(r.measure, id)
	if r.controller != nil && *r.controller == id {
		r.controller = nil
	}
	r.mu.Unlock()

	r.log.Infof("client %d left", id)
	r.publish("bye", id)
}

func (r *Registry) Subscribe(id uint32) error {
	r.mu.Lock()
	if _, ok := r.clients[id]; !ok {
		r.mu.Unlock()
		return ErrUnknownClient
	}
	r.measure[id] = struct{}{}
	r.mu.Unlock()

	r.log.Infof("client %d subscribed", id)
	r.publish("subscribe", id)
	return nil
}

func (r *Registry) Unsubscribe(id uint32) error {
	r.mu.Lock()
	if _, ok := r.clients[id]; !ok {
		r.mu.Unlock()
		return ErrUnknownClient
	}
	if _, ok := r.measure[id]; !ok {
		r.mu.Unlock()
		return ErrNotSubscribed
	}
	delete(r.measure, id)
	r.mu.Unlock()

	r.log.Infof("client %d unsubscribed", id)
	r.publish("unsubscribe", id)
	return nil
}

// TakeControl grants control to id if nobody holds it.
func (r *Registry) TakeControl(id uint32) error {
	r.mu.Lock()
	if _, ok := r.clients[id]; !ok {
		r.mu.Unlock()
		return ErrUnknownClient
	}
	if r.controller != nil {
		r.mu.Unlock()
		return ErrControlTaken
	}
	r.controller = &id
	r.mu.Unlock()

	r.log.Infof("client %d took control", id)
	r.publish("take-control", id)
	return nil
}

func (r *Registry) ReleaseControl(id uint32) error {
	r.mu.Lock()
	if _, ok := r.clients[id]; !ok {
		r.mu.Unlock()
		return ErrUnknownClient
	}
	if r.controller == nil || *r.controller != id {
		r.mu.Unlock()
		return ErrNotController
	}
	r.controller = nil
	r.mu.Unlock()

	r.log.Infof("client %d released control", id)
	r.publish("release-control", id)
	return nil
}

// IsController reports whether c currently holds control.
func (r *Registry) IsController(c Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.controller == nil {
		return false
	}
	return r.clients[*r.controller] == c
}

// Subscribers returns the clients receiving measures.
func (r *Registry) Subscribers() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.measure))
	for id := range r.measure {
		out = append(out, r.clients[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Close ends every open event stream.
func (r *Registry) Close() {
	r.evL.Lock()
	defer r.evL.Unlock()
	if r.evClosed {
		return
	}
	r.evClosed = true
	r.events.Close()
}

type event struct {
	id   string
	name string
	data string
}

func (e event) Id() string    { return e.id }
func (e event) Event() string { return e.name }
func (e event) Data() string  { return e.data }

// Change is the payload of every status event.
type Change struct {
	Client uint32 `json:"client"`
	Action string `json:"action"`
}

func (r *Registry) publish(action string, id uint32) {
	data, err := json.Marshal(Change{Client: id, Action: action})
	if err != nil {
		r.log.Errorf("encode %s event: %v", action, err)
		return
	}
	r.evL.RLock()
	defer r.evL.RUnlock()
	if r.evClosed {
		return
	}
	seq := atomic.AddUint64(&r.seq, 1)
	r.events.Publish([]string{StatusChannel}, event{
		id:   strconv.FormatUint(seq, 10),
		name: action,
		data: string(data),
	})
}
