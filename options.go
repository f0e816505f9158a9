package dclink

import (
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"github.com/shynome/dclink/mux"
	"github.com/shynome/dclink/signaler"
	"github.com/shynome/dclink/signaler/httpsig"
)

const DefaultLabel = "channel"

type options struct {
	label         string
	iceServers    []webrtc.ICEServer
	signaler      signaler.Channel
	loggerFactory logging.LoggerFactory
	engine        mux.Config
	api           *mux.API
	gatherTimeout time.Duration
}

func defaultOptions() options {
	return options{
		label:         DefaultLabel,
		gatherTimeout: 5 * time.Second,
	}
}

type Option func(*options)

// WithSignaler replaces the default HTTP signaler.
func WithSignaler(s signaler.Channel) Option {
	return func(o *options) { o.signaler = s }
}

func WithICEServers(servers ...webrtc.ICEServer) Option {
	return func(o *options) { o.iceServers = servers }
}

func WithLabel(label string) Option {
	return func(o *options) { o.label = label }
}

func WithLoggerFactory(lf logging.LoggerFactory) Option {
	return func(o *options) { o.loggerFactory = lf }
}

// WithEngine configures the pion API the session builds for itself.
func WithEngine(cfg mux.Config) Option {
	return func(o *options) { o.engine = cfg }
}

// WithAPI shares an API between sessions. The session does not close it.
func WithAPI(api *mux.API) Option {
	return func(o *options) { o.api = api }
}

// WithGatherTimeout bounds how long Connect waits for local candidates
// before posting the offer. Zero posts the offer as soon as it is set.
func WithGatherTimeout(d time.Duration) Option {
	return func(o *options) { o.gatherTimeout = d }
}

func (o *options) finish() {
	if o.loggerFactory == nil {
		o.loggerFactory = logging.NewDefaultLoggerFactory()
	}
	if o.engine.LoggerFactory == nil {
		o.engine.LoggerFactory = o.loggerFactory
	}
	if o.signaler == nil {
		o.signaler = httpsig.NewClient()
	}
	if o.label == "" {
		o.label = DefaultLabel
	}
}
