package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"chartbot/internal/app"
	"chartbot/internal/command"
)

func main() {
	// .env is optional; real deployments set DISCORD_TOKEN in the unit file.
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (json or yaml)")
	flag.Parse()

	a, err := app.New(cfgPath, previewRunner())
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}

	sig := <-sigCh
	cancel()

	reason := app.StopSIGTERM
	if sig == os.Interrupt {
		reason = app.StopSIGINT
	}
	_ = a.Stop(context.Background(), reason)
}

// previewRunner stands in for the chart render pipeline, which runs as a
// separate deployment. It echoes the parsed request as the preview caption so
// the confirmation flow has something meaningful to show.
func previewRunner() command.Runner {
	return command.RunnerFunc(func(_ context.Context, req command.RenderRequest) (command.Preview, error) {
		caption := req.Ticker
		if len(req.Arguments) > 0 {
			caption += ", " + strings.Join(req.Arguments, " ")
		}
		return command.Preview{Caption: caption}, nil
	})
}
