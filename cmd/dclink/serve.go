package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/pion/logging"
	"github.com/shynome/dclink/answerer"
	"github.com/shynome/dclink/mux"
	"github.com/shynome/dclink/signaler/httpsig"
	"github.com/spf13/pflag"
)

func serve(args []string) (err error) {
	defer err2.Handle(&err)

	fs := pflag.NewFlagSet("serve", pflag.ExitOnError)
	listen := fs.String("listen", envOr("DCLINK_LISTEN", ":8080"), "http listen address")
	udpPort := fs.Uint16("udp-port", envUint16("DCLINK_UDP_PORT", 0), "serve every peer on this one udp port, 0 picks ports per peer")
	timeout := fs.Duration("answer-timeout", 10*time.Second, "how long an offer may wait for its answer")
	measures := fs.Bool("measures", false, "read \"x y z\" lines from stdin and broadcast them to subscribers")
	level := fs.String("log", envOr("DCLINK_LOG", "info"), "log level: disabled, error, warn, info, debug, trace")
	try.To(fs.Parse(args))

	lf := try.To1(newLoggerFactory(*level))
	log := lf.NewLogger("dclink")

	sig := httpsig.NewServer(lf)
	sig.Timeout = *timeout
	a := try.To1(answerer.New(answerer.Config{
		Acceptor:      sig,
		Engine:        mux.Config{UDPPort: *udpPort},
		LoggerFactory: lf,
		OnControl: func(v [4]float64) {
			log.Infof("control %v", v)
		},
	}))
	defer a.Close()
	try.To(a.Open())

	r := chi.NewRouter()
	r.Use(requestLogger(lf.NewLogger("http")))
	r.Post("/api/webrtc", sig.ServeHTTP)
	r.Mount("/api", a.Registry().Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *measures {
		go broadcastLines(ctx, a, os.Stdin, log)
	}

	srv := &http.Server{Addr: *listen, Handler: r}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	log.Infof("dclink: answering on %s/api/webrtc", *listen)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(log logging.LeveledLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.Infof("%s %s %d from %s in %s", r.Method, r.RequestURI, ww.Status(), r.RemoteAddr, time.Since(start))
		})
	}
}

func broadcastLines(ctx context.Context, a *answerer.Answerer, in io.Reader, log logging.LeveledLogger) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		v, err := parseMeasure(sc.Text())
		if err != nil {
			log.Warnf("skipping measure line: %v", err)
			continue
		}
		a.Broadcast(v)
	}
}

var errMeasureFields = errors.New("want three numbers")

func parseMeasure(line string) (v [3]float64, err error) {
	fields := strings.Fields(line)
	if len(fields) != len(v) {
		return v, errMeasureFields
	}
	for i, f := range fields {
		if v[i], err = strconv.ParseFloat(f, 64); err != nil {
			return v, err
		}
	}
	return v, nil
}
