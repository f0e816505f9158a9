package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/pion/webrtc/v3"
	"github.com/shynome/dclink"
	"github.com/shynome/dclink/message"
	"github.com/spf13/pflag"
)

func connect(args []string) (err error) {
	defer err2.Handle(&err)

	fs := pflag.NewFlagSet("connect", pflag.ExitOnError)
	endpoint := fs.String("url", envOr("DCLINK_URL", "http://localhost:8080/api/webrtc"), "signaling endpoint, user:pass@ becomes basic auth")
	label := fs.String("label", dclink.DefaultLabel, "data channel label")
	gather := fs.Duration("gather-timeout", 5*time.Second, "wait this long for local candidates before sending the offer, 0 sends at once")
	iceURLs := fs.StringSlice("ice", nil, "ice server urls, e.g. stun:stun.l.google.com:19302")
	subscribe := fs.Bool("subscribe", false, "subscribe to measures once registered")
	level := fs.String("log", envOr("DCLINK_LOG", "info"), "log level: disabled, error, warn, info, debug, trace")
	try.To(fs.Parse(args))

	lf := try.To1(newLoggerFactory(*level))
	opts := []dclink.Option{
		dclink.WithLoggerFactory(lf),
		dclink.WithLabel(*label),
		dclink.WithGatherTimeout(*gather),
	}
	if len(*iceURLs) > 0 {
		opts = append(opts, dclink.WithICEServers(webrtc.ICEServer{URLs: *iceURLs}))
	}
	s := try.To1(dclink.NewSession(opts...))
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	frames := make(chan message.Message, 64)
	s.Channel().OnMessage(func(data []byte) {
		select {
		case frames <- message.Parse(data):
		default:
		}
	})

	if res := s.Connect(ctx, *endpoint); !res.OK() {
		return res.Err
	}
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	try.To(s.Channel().WaitOpen(openCtx))
	try.To(s.Channel().Send(message.Encode(message.ClientHello())))

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-frames:
			switch m.Kind {
			case message.KindServerHello:
				fmt.Printf("registered as client %d\n", m.ID)
				if *subscribe {
					try.To(subscribeMeasures(ctx, *endpoint, m.ID))
				}
			case message.KindMeasure:
				fmt.Printf("measure %g %g %g\n", m.Measure[0], m.Measure[1], m.Measure[2])
			default:
				fmt.Printf("%s frame\n", m.Kind)
			}
		}
	}
}

// subscribeMeasures asks the registry next to endpoint for measures.
func subscribeMeasures(ctx context.Context, endpoint string, id uint32) (err error) {
	defer err2.Handle(&err)
	u := try.To1(url.Parse(endpoint))
	u = u.JoinPath("..", "measure", fmt.Sprint(id))
	req := try.To1(http.NewRequestWithContext(ctx, http.MethodPut, u.String(), nil))
	res := try.To1(http.DefaultClient.Do(req))
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		return fmt.Errorf("subscribe: %s", res.Status)
	}
	return nil
}
