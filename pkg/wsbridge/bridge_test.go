package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/morezero/invoke-bridge/internal/testutil"
	"github.com/morezero/invoke-bridge/pkg/invoke"
	"github.com/morezero/invoke-bridge/pkg/origin"
	"github.com/morezero/invoke-bridge/pkg/registry"
	"github.com/morezero/invoke-bridge/pkg/script"
	"github.com/morezero/invoke-bridge/pkg/semver"
)

const (
	bridgeTestPrefix = "wsbridge:bridge_test"
	allowedOrigin    = "http://localhost:8080"
	waitTimeout      = 5 * time.Second
)

type submission struct {
	view    invoke.View
	payload *invoke.Payload
}

type recordingDispatcher struct {
	submitted chan submission
}

func (d *recordingDispatcher) Submit(view invoke.View, payload *invoke.Payload) {
	d.submitted <- submission{view: view, payload: payload}
}

func newTestBridge(t *testing.T, p Params) (*Bridge, string, *recordingDispatcher) {
	t.Helper()
	if p.Allowlist == nil {
		p.Allowlist = origin.New([]string{allowedOrigin})
	}
	if p.Port == 0 {
		p.Port = 1
	}
	b, err := New(p)
	if err != nil {
		t.Fatalf("%s - New failed: %v", bridgeTestPrefix, err)
	}
	disp := &recordingDispatcher{submitted: make(chan submission, 16)}
	b.bind(registry.NewRegistry(registry.ViewSpec{Label: "main"}, registry.ViewSpec{Label: "other"}), disp)

	srv := httptest.NewServer(b)
	t.Cleanup(func() {
		b.hub.closeAll()
		srv.Close()
	})
	return b, "ws" + strings.TrimPrefix(srv.URL, "http"), disp
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", allowedOrigin)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("%s - dial failed: %v", bridgeTestPrefix, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForClients blocks until the hub has registered n sockets; the
// handshake completes slightly before registration.
func waitForClients(t *testing.T, b *Bridge, n int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for b.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("%s - Clients = %d, want %d", bridgeTestPrefix, b.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("%s - read failed: %v", bridgeTestPrefix, err)
	}
	return msg
}

func requireSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var msg Message
	if err := conn.ReadJSON(&msg); err == nil {
		t.Fatalf("%s - unexpected message %+v", bridgeTestPrefix, msg)
	}
}

const invokeFrame = `{"jsonrpc":"2.0","method":"invoke","protocol":"1.0.0",` +
	`"params":{"viewId":%q,"payload":{"cmd":"my_command","args":64,"callback":"cb1","error":"err1"}}}`

func sendInvoke(t *testing.T, conn *websocket.Conn, viewID string) {
	t.Helper()
	frame := fmt.Sprintf(invokeFrame, viewID)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("%s - write failed: %v", bridgeTestPrefix, err)
	}
}

func TestInvoke_ProcessingThenSuccess(t *testing.T) {
	b, url, disp := newTestBridge(t, Params{})
	conn := dial(t, url)
	waitForClients(t, b, 1)

	sendInvoke(t, conn, "main")

	msg := readMessage(t, conn)
	if msg.ID != "cb1err1" || msg.Result == nil || msg.Result.Status != StatusProcessing {
		t.Fatalf("%s - first message = %+v, want Processing for cb1err1", bridgeTestPrefix, msg)
	}

	s := testutil.RequireReceive(t, disp.submitted, waitTimeout, "waiting for submission")
	if s.view.Label() != "main" || s.payload.Command != "my_command" {
		t.Errorf("%s - submitted %s/%s, want main/my_command", bridgeTestPrefix, s.view.Label(), s.payload.Command)
	}
	if string(s.payload.Args) != `{"args":64}` {
		t.Errorf("%s - args = %s", bridgeTestPrefix, s.payload.Args)
	}

	b.Responder()("main", invoke.Ok("executed"), s.payload.Callback, s.payload.Error)

	msg = readMessage(t, conn)
	if !msg.MatchesInvocation("cb1err1") || msg.Result.Status != StatusSuccess {
		t.Fatalf("%s - second message = %+v, want Success for cb1err1", bridgeTestPrefix, msg)
	}
	if string(msg.Result.Data) != `"executed"` {
		t.Errorf("%s - data = %s, want \"executed\"", bridgeTestPrefix, msg.Result.Data)
	}
	if msg.JSONRPC != "2.0" {
		t.Errorf("%s - jsonrpc = %q, want 2.0", bridgeTestPrefix, msg.JSONRPC)
	}
}

func TestInvoke_ErrorBroadcastToEverySocket(t *testing.T) {
	b, url, disp := newTestBridge(t, Params{})
	caller := dial(t, url)
	observer := dial(t, url)
	waitForClients(t, b, 2)

	sendInvoke(t, caller, "main")
	s := testutil.RequireReceive(t, disp.submitted, waitTimeout, "waiting for submission")
	b.Responder()("main", invoke.Err("bad args"), s.payload.Callback, s.payload.Error)

	for name, conn := range map[string]*websocket.Conn{"caller": caller, "observer": observer} {
		if msg := readMessage(t, conn); msg.Result == nil || msg.Result.Status != StatusProcessing {
			t.Errorf("%s - %s first message = %+v, want Processing", bridgeTestPrefix, name, msg)
		}
		msg := readMessage(t, conn)
		if !msg.MatchesInvocation("cb1err1") || msg.Result.Status != StatusError {
			t.Errorf("%s - %s second message = %+v, want Error", bridgeTestPrefix, name, msg)
			continue
		}
		if string(msg.Result.Data) != `"bad args"` {
			t.Errorf("%s - %s data = %s, want \"bad args\"", bridgeTestPrefix, name, msg.Result.Data)
		}
	}
}

func TestInvoke_MissingView(t *testing.T) {
	b, url, disp := newTestBridge(t, Params{})
	conn := dial(t, url)
	waitForClients(t, b, 1)

	sendInvoke(t, conn, "missing")

	msg := readMessage(t, conn)
	if !msg.MatchesInvocation("cb1err1") || msg.Result.Status != StatusInvalid {
		t.Fatalf("%s - message = %+v, want Invalid for cb1err1", bridgeTestPrefix, msg)
	}
	testutil.RequireNoReceive(t, disp.submitted, 100*time.Millisecond, "dispatcher called for unknown view")
}

func TestInvoke_MalformedEnvelopeRepliesToSenderOnly(t *testing.T) {
	b, url, disp := newTestBridge(t, Params{})
	sender := dial(t, url)
	observer := dial(t, url)
	waitForClients(t, b, 2)

	frames := []string{
		`not json`,
		`{"jsonrpc":"2.0","method":"subscribe","params":{"viewId":"main","payload":{}}}`,
		`{"jsonrpc":"2.0","method":"invoke","params":{"viewId":"main","payload":{"cmd":"x"}}}`,
	}
	for _, frame := range frames {
		if err := sender.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("%s - write failed: %v", bridgeTestPrefix, err)
		}
		msg := readMessage(t, sender)
		if msg.Result == nil || msg.Result.Status != StatusInvalid || msg.ID != "" {
			t.Errorf("%s - reply to %s = %+v, want Invalid without id", bridgeTestPrefix, frame, msg)
		}
	}
	requireSilence(t, observer)
	testutil.RequireNoReceive(t, disp.submitted, 50*time.Millisecond, "malformed envelope submitted")
}

func TestInvoke_ProtocolMismatch(t *testing.T) {
	gate, err := semver.NewGate(semver.DefaultConstraint)
	if err != nil {
		t.Fatalf("%s - NewGate failed: %v", bridgeTestPrefix, err)
	}
	b, url, disp := newTestBridge(t, Params{Gate: gate})
	conn := dial(t, url)
	waitForClients(t, b, 1)

	frame := `{"jsonrpc":"2.0","method":"invoke","protocol":"2.0.0",` +
		`"params":{"viewId":"main","payload":{"cmd":"my_command","callback":1,"error":2}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("%s - write failed: %v", bridgeTestPrefix, err)
	}
	msg := readMessage(t, conn)
	if !msg.MatchesInvocation("12") || msg.Result.Status != StatusInvalid {
		t.Errorf("%s - message = %+v, want Invalid for 12", bridgeTestPrefix, msg)
	}
	testutil.RequireNoReceive(t, disp.submitted, 50*time.Millisecond, "mismatched protocol submitted")
}

func TestUpgrade_DisallowedOrigin(t *testing.T) {
	b, url, _ := newTestBridge(t, Params{})

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatalf("%s - expected the upgrade to be refused", bridgeTestPrefix)
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("%s - response = %v, want 403", bridgeTestPrefix, resp)
	}
	if b.Clients() != 0 {
		t.Errorf("%s - Clients = %d, want 0", bridgeTestPrefix, b.Clients())
	}
}

func TestClient_InvokeAndListen(t *testing.T) {
	b, url, disp := newTestBridge(t, Params{})
	client := &Client{URL: url, Origin: allowedOrigin}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	mainEvents := make(chan string, 4)
	otherEvents := make(chan string, 4)
	listen := func(viewID string, out chan string) {
		unsubscribe, err := client.Listen(ctx, "time_elapsed", viewID, func(payload json.RawMessage) {
			out <- string(payload)
		})
		if err != nil {
			t.Fatalf("%s - Listen(%s) failed: %v", bridgeTestPrefix, viewID, err)
		}
		t.Cleanup(unsubscribe)
	}
	listen("main", mainEvents)
	listen("other", otherEvents)
	waitForClients(t, b, 2)

	emitter := b.Emitter()
	if err := emitter.Emit(ctx, "time_elapsed", map[string]int{"elapsed": 1}); err != nil {
		t.Fatalf("%s - Emit failed: %v", bridgeTestPrefix, err)
	}
	if err := emitter.EmitTo(ctx, "main", "time_elapsed", map[string]int{"elapsed": 2}); err != nil {
		t.Fatalf("%s - EmitTo failed: %v", bridgeTestPrefix, err)
	}
	if err := emitter.Emit(ctx, "something_else", 3); err != nil {
		t.Fatalf("%s - Emit failed: %v", bridgeTestPrefix, err)
	}

	if got := testutil.RequireReceive(t, mainEvents, waitTimeout); got != `{"elapsed":1}` {
		t.Errorf("%s - main first event = %s", bridgeTestPrefix, got)
	}
	if got := testutil.RequireReceive(t, mainEvents, waitTimeout); got != `{"elapsed":2}` {
		t.Errorf("%s - main second event = %s", bridgeTestPrefix, got)
	}
	if got := testutil.RequireReceive(t, otherEvents, waitTimeout); got != `{"elapsed":1}` {
		t.Errorf("%s - other event = %s", bridgeTestPrefix, got)
	}
	testutil.RequireNoReceive(t, otherEvents, 100*time.Millisecond, "targeted event leaked to another view")
	testutil.RequireNoReceive(t, mainEvents, 50*time.Millisecond, "event with another name delivered")

	type outcome struct {
		result RpcResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := client.Invoke(ctx, "main", &invoke.Payload{
			Command:  "my_command",
			Callback: "cb1",
			Error:    "err1",
			Args:     json.RawMessage(`{"args":64}`),
		})
		done <- outcome{r, err}
	}()
	s := testutil.RequireReceive(t, disp.submitted, waitTimeout, "waiting for submission")
	b.Responder()("main", invoke.Ok("executed"), s.payload.Callback, s.payload.Error)

	got := testutil.RequireReceive(t, done, waitTimeout, "waiting for Invoke")
	if got.err != nil {
		t.Fatalf("%s - Invoke failed: %v", bridgeTestPrefix, got.err)
	}
	if got.result.Status != StatusSuccess || string(got.result.Data) != `"executed"` {
		t.Errorf("%s - result = %+v, want Success \"executed\"", bridgeTestPrefix, got.result)
	}
}

func TestClient_InvokeMissingView(t *testing.T) {
	_, url, _ := newTestBridge(t, Params{})
	client := &Client{URL: url, Origin: allowedOrigin}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	r, err := client.Invoke(ctx, "missing", &invoke.Payload{Command: "my_command", Callback: "cb1", Error: "err1"})
	if err != nil {
		t.Fatalf("%s - Invoke failed: %v", bridgeTestPrefix, err)
	}
	if r.Status != StatusInvalid {
		t.Errorf("%s - status = %s, want Invalid", bridgeTestPrefix, r.Status)
	}
}

func TestClient_InvokeCancelled(t *testing.T) {
	_, url, disp := newTestBridge(t, Params{})
	client := &Client{URL: url, Origin: allowedOrigin}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Invoke(ctx, "main", &invoke.Payload{Command: "slow", Callback: "a", Error: "b"})
		done <- err
	}()
	testutil.RequireReceive(t, disp.submitted, waitTimeout, "waiting for submission")
	cancel()
	if err := testutil.RequireReceive(t, done, waitTimeout, "waiting for Invoke"); err == nil {
		t.Errorf("%s - expected an error after cancel", bridgeTestPrefix)
	}
}

func TestBridge_StartStop(t *testing.T) {
	b, err := New(Params{Host: "127.0.0.1", Allowlist: origin.New([]string{allowedOrigin})})
	if err != nil {
		t.Fatalf("%s - New failed: %v", bridgeTestPrefix, err)
	}
	disp := &recordingDispatcher{submitted: make(chan submission, 1)}
	if err := b.Start(context.Background(), registry.NewRegistry(registry.ViewSpec{Label: "main"}), disp); err != nil {
		t.Fatalf("%s - Start failed: %v", bridgeTestPrefix, err)
	}

	conn := dial(t, "ws://"+b.Addr().String())
	waitForClients(t, b, 1)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := b.Stop(ctx); err != nil {
		t.Errorf("%s - Stop failed: %v", bridgeTestPrefix, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("%s - read after Stop = %v, want normal close", bridgeTestPrefix, err)
	}
}

func TestInitializationScript(t *testing.T) {
	b, err := New(Params{Port: 4567, Script: script.Options{EventGlobal: "MyEvents"}})
	if err != nil {
		t.Fatalf("%s - New failed: %v", bridgeTestPrefix, err)
	}
	s := b.InitializationScript()
	if !strings.Contains(s, "ws://localhost:4567") {
		t.Errorf("%s - script does not target the bridge port", bridgeTestPrefix)
	}
	if !strings.Contains(s, "'MyEvents'") {
		t.Errorf("%s - script does not define the configured event global", bridgeTestPrefix)
	}
}
