package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/morezero/invoke-bridge/pkg/invoke"
	"github.com/morezero/invoke-bridge/pkg/netutil"
	"github.com/morezero/invoke-bridge/pkg/semver"
)

const clientLogPrefix = "wsbridge:client"

// ErrClosed is returned by Invoke when the socket closes before a terminal
// status arrives.
var ErrClosed = errors.New("wsbridge: connection closed before terminal status")

// Client speaks the broadcast binding from Go, the same way the injected
// script does: one socket per invocation, one socket per subscription.
type Client struct {
	URL string
	// Origin is sent on the upgrade request; the bridge refuses origins
	// outside its allowlist.
	Origin          string
	ProtocolVersion string
	Dialer          *websocket.Dialer
	Logger          *slog.Logger
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if c.Origin != "" {
		header.Set("Origin", c.Origin)
	}
	conn, resp, err := dialer.DialContext(ctx, c.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%s - dial %s: %s: %w", clientLogPrefix, c.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("%s - dial %s: %w", clientLogPrefix, c.URL, err)
	}
	return conn, nil
}

// Invoke sends payload to viewID and waits for the terminal status of its
// correlation id. Processing updates are skipped.
func (c *Client) Invoke(ctx context.Context, viewID string, payload *invoke.Payload) (RpcResult, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return RpcResult{}, fmt.Errorf("%s - failed to encode payload: %w", clientLogPrefix, err)
	}
	protocol := c.ProtocolVersion
	if protocol == "" {
		protocol = semver.ProtocolVersion
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return RpcResult{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := Request{
		JSONRPC:  jsonRPCVersion,
		Method:   MethodInvoke,
		Protocol: protocol,
		Params:   InvokeParams{ViewID: viewID, Payload: encoded},
	}
	if err := conn.WriteJSON(req); err != nil {
		return RpcResult{}, fmt.Errorf("%s - failed to send invocation: %w", clientLogPrefix, err)
	}

	id := payload.CorrelationID()
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return RpcResult{}, ctxErr
			}
			if netutil.IsExpectedCloseError(err) {
				return RpcResult{}, ErrClosed
			}
			return RpcResult{}, fmt.Errorf("%s - read failed: %w", clientLogPrefix, err)
		}
		// An Invalid without an id is a rejection of this socket's envelope.
		if msg.Result != nil && msg.ID == "" && msg.Result.Status == StatusInvalid {
			return *msg.Result, nil
		}
		if !msg.MatchesInvocation(id) || !msg.Result.Status.Terminal() {
			continue
		}
		return *msg.Result, nil
	}
}

// Listen subscribes handler to event as seen by the view labelled viewID:
// events addressed to every view or to viewID. The returned function
// unsubscribes and is safe to call more than once.
func (c *Client) Listen(ctx context.Context, event, viewID string, handler func(payload json.RawMessage)) (func(), error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	unsubscribe := func() {
		stop()
		conn.Close()
	}

	go func() {
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				if !netutil.IsExpectedCloseError(err) {
					c.logger().Debug(fmt.Sprintf("%s - listener for %s stopped: %v", clientLogPrefix, event, err))
				}
				return
			}
			if msg.MatchesEvent(event, viewID) {
				handler(msg.Params.Payload)
			}
		}
	}()
	return unsubscribe, nil
}
