package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jobengine/worker-core/internal/actions"
	"github.com/jobengine/worker-core/internal/app"
)

var version = "dev"

func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to an optional YAML config overlay")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	a, err := app.New(app.Options{
		ConfigPath: configPath,
		Actions:    demoActions(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build application: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		select {
		case <-sigCh:
			os.Exit(1)
		case <-time.After(10 * time.Second):
		}
	}()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "worker exited with error: %v\n", err)
		os.Exit(1)
	}
}

// demoActions registers a trivial echo action so a fresh checkout is
// immediately exercisable through POST /dev/job in dev mode. Real
// deployments supply their own action set via app.Options.
func demoActions() []actions.Definition {
	return []actions.Definition{
		{
			Name: "echo",
			Handler: func(ctx context.Context, input map[string]any, deps map[string]any) (any, error) {
				return input, nil
			},
		},
	}
}
