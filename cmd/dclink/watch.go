package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/donovanhide/eventsource"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/spf13/pflag"
)

func watch(args []string) (err error) {
	defer err2.Handle(&err)

	fs := pflag.NewFlagSet("watch", pflag.ExitOnError)
	feed := fs.String("url", envOr("DCLINK_EVENTS_URL", "http://localhost:8080/api/events"), "registry status feed")
	try.To(fs.Parse(args))

	stream := try.To1(eventsource.Subscribe(*feed, ""))
	defer stream.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-stream.Events:
			fmt.Printf("%s %s %s\n", ev.Id(), ev.Event(), ev.Data())
		case err := <-stream.Errors:
			fmt.Fprintln(os.Stderr, "dclink: feed:", err)
		}
	}
}
