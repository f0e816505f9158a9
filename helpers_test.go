package dclink

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lainio/err2/try"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"github.com/shynome/dclink/mux"
)

func testLoggerFactory() logging.LoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelError
	return lf
}

func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	base := []Option{
		WithLoggerFactory(testLoggerFactory()),
		WithEngine(mux.Config{
			NetworkTypes: []webrtc.NetworkType{webrtc.NetworkTypeUDP4},
			DisableMDNS:  true,
		}),
		WithGatherTimeout(2 * time.Second),
	}
	s := try.To1(NewSession(append(base, opts...)...))
	t.Cleanup(func() { s.Close() })
	return s
}

// signalingMock stands in for the answering peer's HTTP endpoint.
type signalingMock struct {
	*httptest.Server
	posts       int32
	contentType atomic.Value
	offer       atomic.Value
}

func newSignalingMock(t *testing.T, reply func(w http.ResponseWriter, r *http.Request, offer string)) *signalingMock {
	t.Helper()
	m := &signalingMock{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&m.posts, 1)
		body, _ := io.ReadAll(r.Body)
		m.contentType.Store(r.Header.Get("Content-Type"))
		m.offer.Store(string(body))
		reply(w, r, string(body))
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *signalingMock) Posts() int { return int(atomic.LoadInt32(&m.posts)) }

func (m *signalingMock) Offer() string {
	offer, _ := m.offer.Load().(string)
	return offer
}

const testCandidate = "candidate:1 1 udp 2130706431 192.0.2.10 50000 typ host"

// answerWith answers the offer from a throwaway pion peer and replies with
// one fixed host candidate. The answer is stored in *answer.
func answerWith(t *testing.T, answer *webrtc.SessionDescription) func(http.ResponseWriter, *http.Request, string) {
	return answerWithCandidates(t, answer, testCandidate)
}

// answerWithCandidates puts the first candidate in "candidate" and the rest
// in "candidates".
func answerWithCandidates(t *testing.T, answer *webrtc.SessionDescription, candidates ...string) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, r *http.Request, offer string) {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		t.Cleanup(func() { pc.Close() })
		if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ans, err := pc.CreateAnswer(nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := pc.SetLocalDescription(ans); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		*answer = ans

		body := map[string]any{"answer": ans}
		var inits []webrtc.ICECandidateInit
		for _, c := range candidates {
			inits = append(inits, candidateInit(c))
		}
		if len(inits) > 0 {
			body["candidate"] = inits[0]
			body["candidates"] = inits[1:]
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}

func candidateInit(candidate string) webrtc.ICECandidateInit {
	mid, index := "0", uint16(0)
	return webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}
}

func replyStatus(status int, body string) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, r *http.Request, offer string) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	conn := try.To1(net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero}))
	port := conn.LocalAddr().(*net.UDPAddr).Port
	try.To(conn.Close())
	return uint16(port)
}

func hasExternalIPv4() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return true
		}
	}
	return false
}
