// Package local is an in-process signaler. Servers registered on the same
// Hub can reach each other by name without any network round trip.
package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shynome/dclink/signaler"
)

type Server struct {
	ch   chan signaler.Session
	chL  sync.Mutex
	wait time.Duration

	hub   *Hub
	names []string
	hubL  sync.Mutex
}

func NewServer() *Server {
	return &Server{wait: 5 * time.Second}
}

var (
	_ signaler.Channel  = (*Server)(nil)
	_ signaler.Acceptor = (*Server)(nil)
)

func (s *Server) Handshake(ctx context.Context, endpoint string, offer signaler.SDP) (reply *signaler.Reply, err error) {
	s.hubL.Lock()
	hub := s.hub
	s.hubL.Unlock()
	if hub == nil {
		return nil, ErrUnregistered
	}
	remote := hub.Find(endpoint)
	if remote == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}
	ctx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()
	session := signaler.NewPending(ctx, offer)
	if err = remote.deliver(ctx, session); err != nil {
		return nil, err
	}
	return session.Result()
}

func (s *Server) deliver(ctx context.Context, session signaler.Session) error {
	// held across the send so Close cannot close ch under us
	s.chL.Lock()
	defer s.chL.Unlock()
	if s.ch == nil {
		return ErrNotAccepting
	}
	select {
	case s.ch <- session:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Accept() (ch <-chan signaler.Session, err error) {
	s.chL.Lock()
	defer s.chL.Unlock()
	if s.ch == nil {
		s.ch = make(chan signaler.Session)
	}
	return s.ch, nil
}

// Close stops accepting and gives the server's names back to its hub.
func (s *Server) Close() (err error) {
	s.hubL.Lock()
	hub, names := s.hub, s.names
	s.hub, s.names = nil, nil
	s.hubL.Unlock()
	if hub != nil {
		hub.unregister(s, names)
	}

	s.chL.Lock()
	defer s.chL.Unlock()
	if ch := s.ch; ch != nil {
		s.ch = nil
		close(ch)
	}
	return
}

var (
	ErrUnregistered    = errors.New("server is not registered on a hub")
	ErrUnknownEndpoint = errors.New("no server under that name")
	ErrNotAccepting    = errors.New("server is not accepting offers")
)

// Hub is the address book of one process. Each name belongs to at most
// one Server at a time.
type Hub struct {
	mu      sync.RWMutex
	servers map[string]*Server
}

var (
	ErrEmptyName = errors.New("local endpoint name is empty")
	ErrNameTaken = errors.New("local endpoint name is taken")
)

func NewHub() *Hub {
	return &Hub{servers: make(map[string]*Server)}
}

// Register binds name to server and makes the hub the server's own
// signaling route. Closing the server releases the name.
func (hub *Hub) Register(name string, server *Server) error {
	if name == "" {
		return ErrEmptyName
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if owner, ok := hub.servers[name]; ok && owner != server {
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}
	hub.servers[name] = server

	server.hubL.Lock()
	defer server.hubL.Unlock()
	server.hub = hub
	server.names = append(server.names, name)
	return nil
}

func (hub *Hub) unregister(server *Server, names []string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for _, name := range names {
		if hub.servers[name] == server {
			delete(hub.servers, name)
		}
	}
}

func (hub *Hub) Find(name string) *Server {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return hub.servers[name]
}
