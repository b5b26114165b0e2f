// Package main is the entrypoint for invoke-bridge.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/morezero/invoke-bridge/internal/config"
	"github.com/morezero/invoke-bridge/internal/demo"
	"github.com/morezero/invoke-bridge/internal/server"
	"github.com/morezero/invoke-bridge/pkg/commsutil"
	"github.com/morezero/invoke-bridge/pkg/dispatcher"
	"github.com/morezero/invoke-bridge/pkg/events"
)

const usage = `Usage: invoke-bridge [command]
       invoke-bridge serve           Start the bridge (COMMS, bridge listener, admin HTTP).
       invoke-bridge script [file]   Print the view initialization script, or write it to file.
       invoke-bridge demo            Serve the demo host commands over COMMS.

Commands:
  serve          (default) Start the invoke bridge for the configured binding.
  script [file]  Render the initialization script for BRIDGE_BINDING and BRIDGE_PORT.
  demo           Answer my_command and report_time_elapsed (emits time_elapsed events).

Environment: BRIDGE_BINDING (http or ws), BRIDGE_PORT (0 picks one), BRIDGE_ALLOWED_ORIGINS,
BRIDGE_VIEWS_FILE, BRIDGE_ADMIN_ADDR, COMMS_URL, COMMS_EMBEDDED, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "script":
		file := ""
		if len(args) > 1 {
			file = args[1]
		}
		if err := runScript(file); err != nil {
			log.Fatalf("invoke-bridge script: %v", err)
		}
		return
	case "demo":
		if err := runDemo(); err != nil {
			log.Fatalf("invoke-bridge demo: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("invoke-bridge: %v", err)
	}
}

func runScript(file string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForScript(); err != nil {
		return err
	}
	// A picked port would not match the one serve picks later.
	if cfg.Port == 0 {
		return fmt.Errorf("BRIDGE_PORT is required to render the script")
	}
	bridge, _, err := server.NewBinding(cfg)
	if err != nil {
		return err
	}
	script := bridge.InitializationScript()
	if file == "" {
		fmt.Print(script)
		return nil
	}
	if err := os.WriteFile(file, []byte(script), 0o644); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	fmt.Printf("Wrote %s initialization script to %s.\n", cfg.Binding, file)
	return nil
}

func runDemo() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	server.SetupLogging(cfg.LogLevel)

	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-demo")
	if err != nil {
		return err
	}
	defer nc.Drain()

	svc := &demo.Service{
		Emitter:  events.NewCommsPublisher(nc, &events.CommsPublisherOpts{Prefix: cfg.EventPrefix}),
		Interval: time.Second,
		Ticks:    10,
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	commands := svc.Commands()
	if _, err := dispatcher.Serve(ctx, nc, commands, dispatcher.ServeOpts{
		Prefix:         cfg.CommandPrefix,
		Queue:          "demo",
		RequestTimeout: cfg.RequestTimeout,
	}); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("invoke-bridge:demo - Serving %v", commands.Commands()))

	<-ctx.Done()
	return nil
}
