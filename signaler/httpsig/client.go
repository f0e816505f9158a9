// Package httpsig carries the offer/answer exchange over one HTTP POST.
//
// The request body is the raw offer SDP. A 200 reply is a JSON object
//
//	{"answer": {"type": "answer", "sdp": "..."}, "candidate": {"candidate": "...", "sdpMid": "0", "sdpMLineIndex": 0}}
//
// Any other status is reported as a *StatusError.
package httpsig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/shynome/dclink/signaler"
)

const ContentTypeSDP = "application/sdp"

// maxReplyBytes bounds both error bodies and JSON replies.
const maxReplyBytes = 1 << 20

type Client struct {
	client *http.Client
}

var _ signaler.Channel = (*Client)(nil)

func NewClient() *Client {
	return &Client{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithHTTPClient swaps the underlying client, e.g. for httptest servers.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

func (c *Client) Handshake(ctx context.Context, endpoint string, offer signaler.SDP) (reply *signaler.Reply, err error) {
	defer err2.Handle(&err)

	req := try.To1(newReq(ctx, endpoint, offer.SDP))
	res := try.To1(c.doReq(req))
	defer res.Body.Close()

	var w wireReply
	if err := json.NewDecoder(io.LimitReader(res.Body, maxReplyBytes)).Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return w.reply()
}

func newReq(ctx context.Context, endpoint string, sdp string) (req *http.Request, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return
	}
	user := u.User
	u.User = nil
	if req, err = http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewBufferString(sdp)); err != nil {
		return
	}
	req.Header.Set("Content-Type", ContentTypeSDP)
	req.Header.Set("Accept", "application/json")
	if user != nil {
		pass, _ := user.Password()
		req.SetBasicAuth(user.Username(), pass)
	}
	return
}

func (c *Client) doReq(req *http.Request) (res *http.Response, err error) {
	res, err = c.client.Do(req)
	if err != nil {
		return
	}
	if res.StatusCode == http.StatusOK {
		return
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxReplyBytes))
	return nil, &StatusError{Code: res.StatusCode, Body: string(body)}
}

// StatusError is returned for any reply status other than 200.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("signaling server err. status: %d %s. content: %s", e.Code, http.StatusText(e.Code), e.Body)
}

var ErrMalformedReply = errors.New("malformed signaling reply")

type wireReply struct {
	Answer     *signaler.SDP        `json:"answer"`
	Candidate  *signaler.Candidate  `json:"candidate,omitempty"`
	Candidates []signaler.Candidate `json:"candidates,omitempty"`
}

func (w wireReply) reply() (*signaler.Reply, error) {
	if w.Answer == nil || w.Answer.SDP == "" {
		return nil, fmt.Errorf("%w: answer is missing", ErrMalformedReply)
	}
	reply := &signaler.Reply{Answer: *w.Answer}
	if w.Candidate != nil {
		reply.Candidates = append(reply.Candidates, *w.Candidate)
	}
	reply.Candidates = append(reply.Candidates, w.Candidates...)
	return reply, nil
}

func newWireReply(reply *signaler.Reply) wireReply {
	w := wireReply{Answer: &reply.Answer}
	if len(reply.Candidates) > 0 {
		w.Candidate = &reply.Candidates[0]
		w.Candidates = reply.Candidates[1:]
	}
	return w
}
