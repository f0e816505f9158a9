package httpsig

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/shynome/dclink/signaler"
)

const maxOfferBytes = 64 << 10

// Server is the answering end of Client. Every POST is handed out on the
// Accept channel and the HTTP reply is held until the session settles.
type Server struct {
	// Timeout bounds how long a request waits to be resolved.
	Timeout time.Duration

	log logging.LeveledLogger

	ch  chan signaler.Session
	chL sync.RWMutex
}

var (
	_ signaler.Acceptor = (*Server)(nil)
	_ http.Handler      = (*Server)(nil)
)

func NewServer(lf logging.LoggerFactory) *Server {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Server{
		Timeout: 10 * time.Second,
		log:     lf.NewLogger("httpsig"),
	}
}

func (s *Server) Accept() (<-chan signaler.Session, error) {
	s.chL.Lock()
	defer s.chL.Unlock()
	if s.ch == nil {
		s.ch = make(chan signaler.Session)
	}
	return s.ch, nil
}

func (s *Server) Close() error {
	s.chL.Lock()
	defer s.chL.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
	return nil
}

var ErrNotAccepting = errors.New("no answerer is accepting offers")

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOfferBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offer := signaler.SDP{Type: webrtc.SDPTypeOffer, SDP: string(body)}
	if err := validateOffer(offer.SDP); err != nil {
		s.log.Warnf("rejecting offer from %s: %v", r.RemoteAddr, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.Timeout)
	defer cancel()
	session := signaler.NewPending(ctx, offer)
	if err := s.deliver(ctx, session); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	reply, err := session.Result()
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "timed out waiting for answer", http.StatusGatewayTimeout)
		return
	default:
		s.log.Warnf("offer from %s rejected: %v", r.RemoteAddr, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(newWireReply(reply)); err != nil {
		s.log.Warnf("write reply to %s: %v", r.RemoteAddr, err)
	}
}

func (s *Server) deliver(ctx context.Context, session signaler.Session) error {
	s.chL.RLock()
	defer s.chL.RUnlock()
	if s.ch == nil {
		return ErrNotAccepting
	}
	select {
	case s.ch <- session:
		return nil
	case <-ctx.Done():
		return ErrNotAccepting
	}
}

var ErrNoDataSection = errors.New("offer has no application media section")

// validateOffer rejects bodies that are not an SDP carrying a data channel.
func validateOffer(raw string) error {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return err
	}
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "application" {
			return nil
		}
	}
	return ErrNoDataSection
}
