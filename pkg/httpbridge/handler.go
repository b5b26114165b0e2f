package httpbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/morezero/invoke-bridge/pkg/invoke"
	"github.com/morezero/invoke-bridge/pkg/netutil"
	"github.com/morezero/invoke-bridge/pkg/pending"
)

const handlerLogPrefix = "httpbridge:handler"

// MaxBodySize bounds an invocation body.
const MaxBodySize int64 = 8 << 20

// ProtocolHeader carries the protocol version announced by the script.
const ProtocolHeader = "X-Bridge-Protocol"

// ServeHTTP is the invocation listener.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestOrigin := r.Header.Get("Origin")
	b.allowlist.Apply(w.Header(), requestOrigin)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	label, command, ok := splitPath(r.URL.Path)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	view, err := b.views.Resolve(label)
	if err != nil {
		b.logger().Debug(fmt.Sprintf("%s - %s %s: %v", handlerLogPrefix, r.Method, r.URL.Path, err))
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err := b.gate.Check(r.Header.Get(ProtocolHeader)); err != nil {
		b.writeError(w, http.StatusBadRequest, invoke.NewBridgeError(invoke.CodeProtocolMismatch, err.Error()))
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			b.writeError(w, http.StatusUnsupportedMediaType,
				invoke.NewBridgeError(invoke.CodeUnsupportedEncoding, fmt.Sprintf("unsupported content type %q", ct)))
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		b.writeError(w, http.StatusBadRequest, invoke.NewBridgeError(invoke.CodeInvalidPayload, err.Error()))
		return
	}
	var payload invoke.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		b.writeError(w, http.StatusBadRequest, invoke.NewBridgeError(invoke.CodeInvalidPayload, err.Error()))
		return
	}
	payload.Command = command

	id := payload.CorrelationID()
	key := payload.PendingKey()
	entry := pending.NewEntry(label, requestOrigin)
	if err := b.table.Insert(key, entry); err != nil {
		b.writeError(w, http.StatusConflict,
			invoke.NewBridgeError(invoke.CodeDuplicateID, fmt.Sprintf("invocation %s is already pending", id)))
		return
	}

	b.logger().Debug(fmt.Sprintf("%s - submitting %s for view %s id %s", handlerLogPrefix, command, label, id))
	b.dispatcher.Submit(view, &payload)
	b.await(w, r, key, id, entry)
}

// await holds the connection until the responder hands over the result.
// key is the table key; id names the invocation in logs.
func (b *Bridge) await(w http.ResponseWriter, r *http.Request, key, id string, entry *pending.Entry) {
	var timeout <-chan time.Time
	if b.timeout > 0 {
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case result := <-entry.Done:
		b.writeResult(w, id, result)
	case <-r.Context().Done():
		entry.Abandon()
		b.logger().Debug(fmt.Sprintf("%s - view disconnected while %s was pending", handlerLogPrefix, id))
	case <-timeout:
		if _, err := b.table.Remove(key); err == nil {
			b.expire(key)
			b.logger().Warn(fmt.Sprintf("%s - invocation %s timed out after %s", handlerLogPrefix, id, b.timeout))
			b.writeError(w, http.StatusGatewayTimeout,
				invoke.NewBridgeError(invoke.CodeTimeout, fmt.Sprintf("no result after %s", b.timeout)))
			return
		}
		// The responder claimed the entry first; its result is buffered.
		b.writeResult(w, id, <-entry.Done)
	}
}

func (b *Bridge) writeResult(w http.ResponseWriter, id string, result invoke.Result) {
	status := http.StatusOK
	if !result.OK {
		status = http.StatusBadRequest
	}
	body, err := result.MarshalValue()
	if err != nil {
		b.logger().Error(fmt.Sprintf("%s - failed to encode result for %s: %v", handlerLogPrefix, id, err))
		b.writeError(w, http.StatusInternalServerError,
			invoke.NewBridgeError(invoke.CodeInvalidPayload, "result is not serializable"))
		return
	}
	b.write(w, status, body)
}

func (b *Bridge) writeError(w http.ResponseWriter, status int, bErr *invoke.BridgeError) {
	body, _ := json.Marshal(bErr)
	b.write(w, status, body)
}

func (b *Bridge) write(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		if netutil.IsExpectedCloseError(err) || errors.Is(err, http.ErrHandlerTimeout) {
			b.logger().Debug(fmt.Sprintf("%s - view went away before response: %v", handlerLogPrefix, err))
			return
		}
		b.logger().Warn(fmt.Sprintf("%s - failed to write response: %v", handlerLogPrefix, err))
	}
}

// splitPath extracts /<view-id>/<command>.
func splitPath(path string) (label, command string, ok bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
