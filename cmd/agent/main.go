package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/petasbytes/mcp-agent/internal/agent"
	"github.com/petasbytes/mcp-agent/internal/payload"
	"github.com/petasbytes/mcp-agent/internal/provider"
	"github.com/petasbytes/mcp-agent/internal/telemetry"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: agent <payload.json>")
	fmt.Fprintln(os.Stderr, "   or: agent --json '<payload>'")
}

func main() {
	// Optional; a missing .env is fine.
	_ = godotenv.Load()

	args := os.Args[1:]
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	var (
		p   *payload.Payload
		err error
	)
	if args[0] == "--json" {
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "--json requires a payload argument")
			os.Exit(2)
		}
		p, err = payload.Parse([]byte(args[1]))
	} else {
		p, err = payload.Load(args[0])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "payload: %v\n", err)
		os.Exit(1)
	}

	// Fatal before any provider connection is attempted.
	apiKey, err := p.Config.ResolveAPIKey()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	obs := telemetry.Nop()
	if os.Getenv("AGENT_OBSERVE_JSON") == "1" {
		obs = telemetry.New(os.Stderr)
	}

	// Ctrl-C / SIGTERM cancels at the next loop boundary.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigch)
	go func() {
		<-sigch
		cancel()
	}()

	a := agent.New(provider.NewClient(apiKey), obs)
	result, err := a.Run(ctx, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
