// Package httpbridge is the request/response binding of the invoke bridge.
//
// A view POSTs each invocation to /<view-id>/<command>. The handler parks
// the connection in the pending table and submits the payload to the host;
// the connection is answered when the host fires the bridge's responder
// for the payload's correlation id (200 on success, 400 on failure).
package httpbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/morezero/invoke-bridge/pkg/invoke"
	"github.com/morezero/invoke-bridge/pkg/origin"
	"github.com/morezero/invoke-bridge/pkg/pending"
	"github.com/morezero/invoke-bridge/pkg/port"
	"github.com/morezero/invoke-bridge/pkg/script"
	"github.com/morezero/invoke-bridge/pkg/semver"
)

const logPrefix = "httpbridge:bridge"

// DefaultHost is the interface the HTTP binding listens on.
const DefaultHost = "localhost"

// Params configures a Bridge.
type Params struct {
	Allowlist *origin.Allowlist
	// Host defaults to DefaultHost.
	Host string
	// Port 0 picks an unused port at construction.
	Port int
	// Gate rejects scripts announcing an incompatible protocol. Nil
	// accepts all.
	Gate *semver.Gate
	// InvokeTimeout answers 504 for invocations still pending after this
	// long. Zero waits forever.
	InvokeTimeout time.Duration
	Script        script.Options
	Logger        *slog.Logger
}

// Bridge is the HTTP binding.
type Bridge struct {
	allowlist  *origin.Allowlist
	host       string
	port       int
	gate       *semver.Gate
	timeout    time.Duration
	scriptOpts script.Options
	log        *slog.Logger

	table      *pending.Table
	views      invoke.ViewResolver
	dispatcher invoke.Dispatcher

	// expired holds keys answered 504 whose late result is still owed.
	expiredMu sync.Mutex
	expired   map[string]struct{}

	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a bridge and fixes its port. Failing to find a port is fatal
// for the caller.
func New(p Params) (*Bridge, error) {
	host := p.Host
	if host == "" {
		host = DefaultHost
	}
	allowlist := p.Allowlist
	if allowlist == nil {
		allowlist = origin.New(nil)
	}
	bridgePort := p.Port
	if bridgePort == 0 {
		picked, err := port.Pick(host)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to get unused port for invoke: %w", logPrefix, err)
		}
		bridgePort = picked
	}
	return &Bridge{
		allowlist:  allowlist,
		host:       host,
		port:       bridgePort,
		gate:       p.Gate,
		timeout:    p.InvokeTimeout,
		scriptOpts: p.Script,
		log:        p.Logger,
		table:      pending.NewTable(),
		expired:    make(map[string]struct{}),
	}, nil
}

func (b *Bridge) logger() *slog.Logger {
	if b.log != nil {
		return b.log
	}
	return slog.Default()
}

// Port returns the bridge port embedded in the initialization script.
func (b *Bridge) Port() int { return b.port }

// Addr returns the bound listener address, or nil before Start.
func (b *Bridge) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Pending returns the number of invocations awaiting a result.
func (b *Bridge) Pending() int { return b.table.Len() }

// InitializationScript returns the script to inject into every view.
func (b *Bridge) InitializationScript() string {
	opts := b.scriptOpts
	opts.Port = b.port
	return script.HTTP(opts)
}

// Start binds the listener and serves in the background. views and
// dispatcher are the host capabilities; dispatcher must have been built
// with b.Responder().
func (b *Bridge) Start(ctx context.Context, views invoke.ViewResolver, dispatcher invoke.Dispatcher) error {
	if views == nil || dispatcher == nil {
		return fmt.Errorf("%s - views and dispatcher are required", logPrefix)
	}
	b.bind(views, dispatcher)

	addr := net.JoinHostPort(b.host, strconv.Itoa(b.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, addr, err)
	}
	b.listener = listener
	b.server = &http.Server{
		Handler:           b,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		if err := b.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger().Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	b.logger().Info(fmt.Sprintf("%s - Listening on %s", logPrefix, listener.Addr()))
	return nil
}

func (b *Bridge) bind(views invoke.ViewResolver, dispatcher invoke.Dispatcher) {
	b.views = views
	b.dispatcher = dispatcher
}

// Stop shuts the listener down, waiting for held connections until ctx
// expires, then closes whatever is left.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.server == nil {
		return nil
	}
	err := b.server.Shutdown(ctx)
	if err != nil {
		b.server.Close()
	}
	<-b.done
	return err
}

func (b *Bridge) expire(key string) {
	b.expiredMu.Lock()
	b.expired[key] = struct{}{}
	b.expiredMu.Unlock()
}

// forgetExpired reports whether key timed out, clearing it.
func (b *Bridge) forgetExpired(key string) bool {
	b.expiredMu.Lock()
	defer b.expiredMu.Unlock()
	if _, ok := b.expired[key]; !ok {
		return false
	}
	delete(b.expired, key)
	return true
}

// Responder returns the callback the host fires once per submitted payload.
// A late result for an invocation already answered 504 is dropped quietly.
// Any other call for an id with no pending invocation is a host contract
// violation; it is logged and never propagated back into the host.
func (b *Bridge) Responder() invoke.Responder {
	return func(viewID string, result invoke.Result, callback, errorID invoke.CallbackID) {
		id := invoke.CorrelationID(callback, errorID)
		key := invoke.PendingKey(callback, errorID)
		entry, err := b.table.Remove(key)
		if err != nil {
			if b.forgetExpired(key) {
				b.logger().Debug(fmt.Sprintf("%s - dropped late result for view %s id %s: invocation timed out", logPrefix, viewID, id))
				return
			}
			b.logger().Error(fmt.Sprintf("%s - result for view %s id %s has no pending invocation: %v", logPrefix, viewID, id, err))
			return
		}
		entry.Done <- result
		if entry.Abandoned() {
			b.logger().Debug(fmt.Sprintf("%s - dropped result for id %s: view %s disconnected", logPrefix, id, viewID))
		}
	}
}
