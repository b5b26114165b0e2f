// Package wsbridge is the broadcast binding of the invoke bridge.
//
// Views open a WebSocket to the bridge and send JSON-RPC invoke envelopes.
// Every status update (Processing, then Success, Error or Invalid) and every
// host event is broadcast to all connected sockets; each view picks out the
// messages carrying its own correlation id or event subscriptions.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/morezero/invoke-bridge/pkg/invoke"
	"github.com/morezero/invoke-bridge/pkg/netutil"
	"github.com/morezero/invoke-bridge/pkg/origin"
	"github.com/morezero/invoke-bridge/pkg/port"
	"github.com/morezero/invoke-bridge/pkg/script"
	"github.com/morezero/invoke-bridge/pkg/semver"
)

const logPrefix = "wsbridge:bridge"

// DefaultHost is the interface the broadcast binding listens on.
const DefaultHost = "0.0.0.0"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// MaxFrameSize bounds an inbound envelope.
	MaxFrameSize int64 = 8 << 20
)

// Params configures a Bridge.
type Params struct {
	Allowlist *origin.Allowlist
	// Host defaults to DefaultHost.
	Host string
	// Port 0 picks an unused port at construction.
	Port int
	// SendQueue is the per-socket outbound queue; defaults to
	// DefaultSendQueue.
	SendQueue int
	Gate      *semver.Gate
	Script    script.Options
	Logger    *slog.Logger
}

// Bridge is the broadcast binding.
type Bridge struct {
	allowlist  *origin.Allowlist
	host       string
	port       int
	gate       *semver.Gate
	scriptOpts script.Options
	log        *slog.Logger

	hub        *Hub
	upgrader   websocket.Upgrader
	views      invoke.ViewResolver
	dispatcher invoke.Dispatcher

	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a bridge and fixes its port.
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
	b := &Bridge{
		allowlist:  allowlist,
		host:       host,
		port:       bridgePort,
		gate:       p.Gate,
		scriptOpts: p.Script,
		log:        p.Logger,
	}
	b.hub = newHub(p.SendQueue, b.logger())
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     allowlist.CheckRequest,
	}
	return b, nil
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

// Clients returns the number of connected sockets.
func (b *Bridge) Clients() int { return b.hub.Len() }

// Hub returns the broadcast channel.
func (b *Bridge) Hub() *Hub { return b.hub }

// InitializationScript returns the script to inject into every view.
func (b *Bridge) InitializationScript() string {
	opts := b.scriptOpts
	opts.Port = b.port
	return script.WebSocket(opts)
}

// Start binds the listener and serves in the background. dispatcher must
// have been built with b.Responder().
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
			b.logger().Error(fmt.Sprintf("%s - WebSocket server error: %v", logPrefix, err))
		}
	}()

	b.logger().Info(fmt.Sprintf("%s - Listening on %s", logPrefix, listener.Addr()))
	return nil
}

func (b *Bridge) bind(views invoke.ViewResolver, dispatcher invoke.Dispatcher) {
	b.views = views
	b.dispatcher = dispatcher
}

// Stop closes the listener and every connected socket.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.server == nil {
		b.hub.closeAll()
		return nil
	}
	err := b.server.Shutdown(ctx)
	if err != nil {
		b.server.Close()
	}
	// Upgraded sockets are hijacked and outlive Shutdown.
	b.hub.closeAll()
	<-b.done
	return err
}

// ServeHTTP upgrades the connection. The upgrader refuses disallowed
// origins with 403 before a socket exists.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger().Debug(fmt.Sprintf("%s - upgrade from %s (origin %q) refused: %v",
			logPrefix, r.RemoteAddr, r.Header.Get("Origin"), err))
		return
	}
	c := b.hub.add(conn)
	go b.writePump(c)
	go b.readPump(c)
}

func (b *Bridge) readPump(c *client) {
	defer func() {
		b.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(MaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				b.logger().Debug(fmt.Sprintf("%s - client %s closed: %v", logPrefix, c.id, err))
			} else {
				b.logger().Warn(fmt.Sprintf("%s - read from client %s failed: %v", logPrefix, c.id, err))
			}
			return
		}
		b.handleFrame(c, data)
	}
}

func (b *Bridge) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if netutil.IsExpectedCloseError(err) {
					b.logger().Debug(fmt.Sprintf("%s - client %s went away: %v", logPrefix, c.id, err))
				} else {
					b.logger().Warn(fmt.Sprintf("%s - write to client %s failed: %v", logPrefix, c.id, err))
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame is the invocation listener for one inbound envelope.
func (b *Bridge) handleFrame(c *client, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		b.reply(c, invalidMessage("", fmt.Sprintf("malformed envelope: %v", err)))
		return
	}
	if req.Method != MethodInvoke {
		b.reply(c, invalidMessage("", fmt.Sprintf("unsupported method %q", req.Method)))
		return
	}

	var payload invoke.Payload
	if err := json.Unmarshal(req.Params.Payload, &payload); err != nil {
		b.reply(c, invalidMessage("", fmt.Sprintf("malformed payload: %v", err)))
		return
	}
	id := payload.CorrelationID()

	if err := b.gate.Check(req.Protocol); err != nil {
		b.broadcast(invalidMessage(id, err.Error()))
		return
	}
	if payload.Command == "" {
		b.broadcast(invalidMessage(id, "payload is missing cmd"))
		return
	}
	view, err := b.views.Resolve(req.Params.ViewID)
	if err != nil {
		b.logger().Debug(fmt.Sprintf("%s - invocation %s: %v", logPrefix, id, err))
		b.broadcast(invalidMessage(id, err.Error()))
		return
	}

	b.broadcast(resultMessage(id, StatusProcessing, nil))
	b.logger().Debug(fmt.Sprintf("%s - submitting %s for view %s id %s", logPrefix, payload.Command, view.Label(), id))
	b.dispatcher.Submit(view, &payload)
}

func (b *Bridge) reply(c *client, msg Message) {
	if err := b.hub.sendTo(c, msg); err != nil {
		b.logger().Error(fmt.Sprintf("%s - reply to client %s failed: %v", logPrefix, c.id, err))
	}
}

func (b *Bridge) broadcast(msg Message) {
	if err := b.hub.Broadcast(msg); err != nil {
		b.logger().Error(fmt.Sprintf("%s - broadcast failed: %v", logPrefix, err))
	}
}

// Responder returns the callback the host fires once per submitted payload.
// The result is broadcast to every socket.
func (b *Bridge) Responder() invoke.Responder {
	return func(viewID string, result invoke.Result, callback, errorID invoke.CallbackID) {
		id := invoke.CorrelationID(callback, errorID)
		status := StatusSuccess
		if !result.OK {
			status = StatusError
		}
		data, err := result.MarshalValue()
		if err != nil {
			b.logger().Error(fmt.Sprintf("%s - failed to encode result for view %s id %s: %v", logPrefix, viewID, id, err))
			status = StatusError
			data, _ = json.Marshal("result is not serializable")
		}
		b.broadcast(resultMessage(id, status, data))
	}
}

// Emitter returns the event broadcaster for this bridge.
func (b *Bridge) Emitter() *Emitter {
	return &Emitter{hub: b.hub}
}
