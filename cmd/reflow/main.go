// Package main is the entry point for the reflow runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshills/reflow/internal/app"
	"github.com/dshills/reflow/internal/event"
	"github.com/dshills/reflow/internal/observability"
	"github.com/dshills/reflow/internal/service"
	"github.com/dshills/reflow/internal/state"
	"github.com/dshills/reflow/internal/store"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath, demo, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("reflow %s (%s, %s)\n", version, commit, date)
		return 0
	}

	application, err := app.New(app.Options{ConfigPath: configPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	if demo {
		if err := registerCounterDemo(application); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start demo service: %v\n", err)
			shutdown(application)
			return 1
		}
	}

	// Handle signals for graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signals
		shutdown(application)
	}()

	application.Wait()
	return 0
}

func shutdown(application *app.Application) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", err)
	}
}

func parseFlags() (configPath string, demo, showVersion bool) {
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (shorthand)")
	flag.BoolVar(&demo, "demo", false, "Run the counter demo service")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Reflow - reactive state runtime\n\n")
		fmt.Fprintf(os.Stderr, "Usage: reflow [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	return configPath, demo, showVersion
}

type counterInit struct{}

func (counterInit) Kind() string  { return "counter/init" }
func (counterInit) Slice() string { return "counter" }
func (counterInit) InitAction()   {}

type counterIncrement struct{}

func (counterIncrement) Kind() string  { return "counter/increment" }
func (counterIncrement) Slice() string { return "counter" }

// registerCounterDemo runs a small self-driving service: a reducer on the
// counter slice, an autorun logging each distinct value, and a ticking
// task dispatching increments.
func registerCounterDemo(application *app.Application) error {
	_, err := application.Runtime().Register(
		service.Descriptor{ID: "svc.counter-demo"},
		func(ctx context.Context, svc *service.Context) error {
			if err := svc.RegisterReducer("counter", counterReducer); err != nil {
				return err
			}

			if _, err := svc.Autorun(
				func(tree *state.Tree) (any, error) {
					v, ok := tree.Get("counter")
					if !ok {
						return float64(0), nil
					}
					return v, nil
				},
				func(cbCtx context.Context, v any) {
					svc.Log(cbCtx, observability.LevelInfo, "counter changed", map[string]any{"value": v})
				},
			); err != nil {
				return err
			}

			if _, err := svc.OnEvent("counter.*", func(evCtx context.Context, ev event.Event) error {
				svc.Log(evCtx, observability.LevelDebug, "counter event", map[string]any{
					"kind":    string(ev.Kind),
					"payload": ev.Payload,
				})
				return nil
			}); err != nil {
				return err
			}

			if !application.Store().Tree().Has("counter") {
				if _, err := svc.Dispatch(ctx, counterInit{}); err != nil {
					return err
				}
			}
			return scheduleTick(svc)
		})
	return err
}

func scheduleTick(svc *service.Context) error {
	var tick func(ctx context.Context) error
	tick = func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := svc.Dispatch(ctx, counterIncrement{}); err != nil {
			return err
		}
		_, err := svc.GoAfter(time.Second, tick)
		return err
	}
	_, err := svc.GoAfter(time.Second, tick)
	return err
}

func counterReducer(prev any, ok bool, act store.Action) (any, []event.Event, error) {
	if !ok {
		return float64(0), nil, nil
	}
	if act.Kind() != "counter/increment" {
		return prev, nil, nil
	}
	count, isNum := prev.(float64)
	if !isNum {
		return prev, nil, fmt.Errorf("counter slice holds %T, not a number", prev)
	}
	next := count + 1
	return next, []event.Event{event.New("counter.changed", next, "svc.counter-demo")}, nil
}
