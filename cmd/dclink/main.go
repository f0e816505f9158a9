package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pion/logging"
)

const usage = `usage: dclink <command> [flags]

commands:
  serve     answer offers on POST /api/webrtc and serve the registry
  connect   open a session to a server and print what arrives
  watch     follow the registry status feed

run "dclink <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = serve(args)
	case "connect":
		err = connect(args)
	case "watch":
		err = watch(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "dclink: unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "dclink:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envUint16(key string, def uint16) uint16 {
	v, err := strconv.ParseUint(os.Getenv(key), 10, 16)
	if err != nil {
		return def
	}
	return uint16(v)
}

var levels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

// newLoggerFactory applies level to dclink's own scopes. pion's internal
// scopes stay one step quieter unless tracing.
func newLoggerFactory(level string) (logging.LoggerFactory, error) {
	l, ok := levels[strings.ToLower(level)]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = l
	if l > logging.LogLevelError && l < logging.LogLevelTrace {
		lf.DefaultLogLevel = l - 1
	}
	for _, scope := range []string{"dclink", "httpsig", "answerer", "registry", "http"} {
		lf.ScopeLevels[scope] = l
	}
	return lf, nil
}
