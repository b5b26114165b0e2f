// Package server runs the invoke bridge: COMMS wiring, the configured binding and the admin endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/invoke-bridge/internal/config"
	"github.com/morezero/invoke-bridge/pkg/bootstrap"
	"github.com/morezero/invoke-bridge/pkg/commsutil"
	"github.com/morezero/invoke-bridge/pkg/dispatcher"
	"github.com/morezero/invoke-bridge/pkg/events"
	"github.com/morezero/invoke-bridge/pkg/httpbridge"
	"github.com/morezero/invoke-bridge/pkg/invoke"
	"github.com/morezero/invoke-bridge/pkg/origin"
	"github.com/morezero/invoke-bridge/pkg/registry"
	"github.com/morezero/invoke-bridge/pkg/script"
	"github.com/morezero/invoke-bridge/pkg/semver"
	"github.com/morezero/invoke-bridge/pkg/wsbridge"
)

const logPrefix = "server:server"

// Binding is what the server needs from either bridge binding.
type Binding interface {
	Port() int
	Addr() net.Addr
	InitializationScript() string
	Responder() invoke.Responder
	Start(ctx context.Context, views invoke.ViewResolver, dispatcher invoke.Dispatcher) error
	Stop(ctx context.Context) error
}

// Server is the invoke-bridge orchestrator.
type Server struct {
	cfg      *config.Config
	manifest *bootstrap.BootstrapConfig
	views    *registry.Registry

	embedded   *commsserver.Server
	nc         *comms.Conn
	bridge     Binding
	dispatcher *dispatcher.CommsDispatcher
	emitter    events.Emitter
	forwarder  *events.CommsForwarder

	adminServer   *http.Server
	adminListener net.Listener
	adminDone     chan struct{}
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting invoke-bridge (%s binding)", logPrefix, cfg.Binding))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(cfg)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - invoke-bridge is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	err = s.Shutdown(shutdownCtx)

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}

// SetupLogging installs the default text logger at level.
func SetupLogging(level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLogLevel(level)})))
}

// ParseLogLevel maps LOG_LEVEL onto a slog level; unknown values are info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New loads the view manifest and constructs the bridge binding. The
// bridge port is fixed here; nothing listens until Start.
func New(cfg *config.Config) (*Server, error) {
	manifest, err := bootstrap.LoadBootstrapConfig(cfg.ViewsFile)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load view manifest: %w", logPrefix, err)
	}
	views := registry.NewRegistry(manifest.ViewSpecs()...)
	slog.Info(fmt.Sprintf("%s - Views: %v", logPrefix, views.Labels()))

	bridge, emitter, err := NewBinding(cfg)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		manifest: manifest,
		views:    views,
		bridge:   bridge,
		emitter:  emitter,
	}, nil
}

// NewBinding builds the configured bridge binding and its event emitter.
// The HTTP binding has no event channel.
func NewBinding(cfg *config.Config) (Binding, events.Emitter, error) {
	gate, err := semver.NewGate(cfg.ProtocolConstraint)
	if err != nil {
		return nil, nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	if len(cfg.AllowedOrigins) == 0 {
		slog.Warn(fmt.Sprintf("%s - BRIDGE_ALLOWED_ORIGINS is empty; no origin will be allowed", logPrefix))
	}
	allowlist := origin.New(cfg.AllowedOrigins)
	scriptOpts := script.Options{
		PostMessageGlobal: cfg.PostMessageGlobal,
		LabelExpr:         cfg.LabelExpr,
		EventGlobal:       cfg.EventGlobal,
	}

	switch cfg.Binding {
	case config.BindingWS:
		b, err := wsbridge.New(wsbridge.Params{
			Allowlist: allowlist,
			Host:      cfg.Host,
			Port:      cfg.Port,
			SendQueue: cfg.SendQueue,
			Gate:      gate,
			Script:    scriptOpts,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%s - failed to create WebSocket bridge: %w", logPrefix, err)
		}
		return b, b.Emitter(), nil
	default:
		b, err := httpbridge.New(httpbridge.Params{
			Allowlist:     allowlist,
			Host:          cfg.Host,
			Port:          cfg.Port,
			Gate:          gate,
			InvokeTimeout: cfg.InvokeTimeout,
			Script:        scriptOpts,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%s - failed to create HTTP bridge: %w", logPrefix, err)
		}
		return b, events.NoOpEmitter{}, nil
	}
}

// Start brings COMMS up, wires the dispatcher to the bridge and starts
// listening. On error everything already started is torn down.
func (s *Server) Start(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		_ = s.Shutdown(context.Background())
		return err
	}
	return nil
}

func (s *Server) start(ctx context.Context) error {
	cfg := s.cfg

	// Step 1: COMMS, embedded or remote
	if cfg.COMMSEmbedded {
		host, port, err := embeddedAddress(cfg.COMMSURL)
		if err != nil {
			return err
		}
		ns, err := commsutil.StartEmbedded(commsutil.EmbeddedOpts{Host: host, Port: port})
		if err != nil {
			return fmt.Errorf("%s - failed to start embedded COMMS: %w", logPrefix, err)
		}
		s.embedded = ns
	}
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	s.nc = nc

	// Step 2: Dispatcher bound to the bridge responder
	s.dispatcher = dispatcher.NewCommsDispatcher(dispatcher.CommsParams{
		Conn:      nc,
		Responder: s.bridge.Responder(),
		Prefix:    cfg.CommandPrefix,
		Timeout:   cfg.RequestTimeout,
	})

	// Step 3: Bridge listener
	if err := s.bridge.Start(ctx, s.views, s.dispatcher); err != nil {
		return fmt.Errorf("%s - failed to start bridge: %w", logPrefix, err)
	}

	// Step 4: Event forwarding (broadcast binding only)
	if cfg.Binding == config.BindingWS {
		s.forwarder = events.NewCommsForwarder(nc, s.emitter, cfg.EventPrefix)
		if err := s.forwarder.Start(ctx); err != nil {
			return err
		}
	} else {
		slog.Info(fmt.Sprintf("%s - HTTP binding has no event channel; events on %s are not forwarded", logPrefix, cfg.EventPrefix))
	}

	// Step 5: Initialization script
	if cfg.ScriptFile != "" {
		if err := os.WriteFile(cfg.ScriptFile, []byte(s.bridge.InitializationScript()), 0o644); err != nil {
			return fmt.Errorf("%s - failed to write initialization script: %w", logPrefix, err)
		}
		slog.Info(fmt.Sprintf("%s - Wrote initialization script to %s", logPrefix, cfg.ScriptFile))
	}

	// Step 6: Admin HTTP
	if cfg.AdminAddr != "" {
		if err := s.startAdmin(); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops everything Start brought up, in reverse order.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s - admin shutdown: %w", logPrefix, err))
		}
		<-s.adminDone
		s.adminServer = nil
	}
	if s.forwarder != nil {
		if err := s.forwarder.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s - forwarder stop: %w", logPrefix, err))
		}
		s.forwarder = nil
	}
	if err := s.bridge.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("%s - bridge stop: %w", logPrefix, err))
	}
	if s.dispatcher != nil {
		s.dispatcher.Close()
		s.dispatcher = nil
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("%s - COMMS drain: %w", logPrefix, err))
		}
		s.nc = nil
	}
	if s.embedded != nil {
		s.embedded.Shutdown()
		s.embedded.WaitForShutdown()
		s.embedded = nil
	}
	return errors.Join(errs...)
}

// BridgeAddr returns the bridge listener address, or nil before Start.
func (s *Server) BridgeAddr() net.Addr { return s.bridge.Addr() }

// AdminAddr returns the admin listener address, or nil when disabled.
func (s *Server) AdminAddr() net.Addr {
	if s.adminListener == nil {
		return nil
	}
	return s.adminListener.Addr()
}

// InitializationScript returns the script views must run.
func (s *Server) InitializationScript() string { return s.bridge.InitializationScript() }

// Emitter returns the event emitter of the configured binding.
func (s *Server) Emitter() events.Emitter { return s.emitter }

// Views returns the view registry.
func (s *Server) Views() *registry.Registry { return s.views }

// embeddedAddress derives the embedded server's listen address from the
// COMMS URL so clients of that URL reach it.
func embeddedAddress(raw string) (string, int, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("%s - invalid COMMS_URL %q: %w", logPrefix, raw, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("%s - COMMS_URL %q has no host", logPrefix, raw)
	}
	port := 4222
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("%s - invalid port in COMMS_URL %q: %w", logPrefix, raw, err)
		}
	}
	return host, port, nil
}
