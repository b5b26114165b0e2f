// Package script generates the initialization scripts injected into a view
// before any other script runs. Each script replaces the view's outgoing
// message global so invocations travel over the bridge.
package script

import (
	"bytes"
	"text/template"

	"github.com/morezero/invoke-bridge/pkg/semver"
)

// Defaults for Options.
const (
	DefaultPostMessageGlobal = "__TAURI_POST_MESSAGE__"
	DefaultLabelExpr         = "window.__TAURI__.__currentWindow.label"
	DefaultEventGlobal       = "BridgeEvent"
)

// Options parameterizes a script. Zero fields take the defaults.
type Options struct {
	Port int
	// PostMessageGlobal is the window property overridden with
	// (command, args) => void.
	PostMessageGlobal string
	// LabelExpr is a JavaScript expression evaluating to the view label.
	LabelExpr string
	// EventGlobal is the window property exposing listen(event, handler).
	// Broadcast binding only.
	EventGlobal     string
	ProtocolVersion string
}

func (o Options) withDefaults() Options {
	if o.PostMessageGlobal == "" {
		o.PostMessageGlobal = DefaultPostMessageGlobal
	}
	if o.LabelExpr == "" {
		o.LabelExpr = DefaultLabelExpr
	}
	if o.EventGlobal == "" {
		o.EventGlobal = DefaultEventGlobal
	}
	if o.ProtocolVersion == "" {
		o.ProtocolVersion = semver.ProtocolVersion
	}
	return o
}

var (
	httpTemplate      = template.Must(template.New("http").Parse(httpScript))
	websocketTemplate = template.Must(template.New("websocket").Parse(websocketScript))
)

// HTTP returns the script for the HTTP binding.
func HTTP(o Options) string {
	return render(httpTemplate, o.withDefaults())
}

// WebSocket returns the script for the broadcast binding.
func WebSocket(o Options) string {
	return render(websocketTemplate, o.withDefaults())
}

func render(t *template.Template, o Options) string {
	var buf bytes.Buffer
	// Options only holds strings and an int; execution cannot fail.
	if err := t.Execute(&buf, o); err != nil {
		panic(err)
	}
	return buf.String()
}

const httpScript = `
(function () {
  const label = () => encodeURIComponent({{.LabelExpr}})
  Object.defineProperty(window, '{{js .PostMessageGlobal}}', {
    value: (command, args) => {
      const request = new XMLHttpRequest()
      request.addEventListener('load', function () {
        let arg
        let success = this.status === 200
        try {
          arg = JSON.parse(this.response)
        } catch (e) {
          arg = e
          success = false
        }
        window[success ? args.callback : args.error](arg)
      })
      request.addEventListener('error', function (e) {
        window[args.error](e)
      })
      request.open('POST', 'http://localhost:{{.Port}}/' + label() + '/' + encodeURIComponent(command), true)
      request.setRequestHeader('Content-Type', 'application/json')
      request.setRequestHeader('X-Bridge-Protocol', '{{js .ProtocolVersion}}')
      request.send(JSON.stringify(args))
    }
  })
})()
`

const websocketScript = `
(function () {
  const url = 'ws://localhost:{{.Port}}'
  const label = () => {{.LabelExpr}}
  const parse = (data) => {
    try {
      return JSON.parse(data)
    } catch (e) {
      return null
    }
  }
  Object.defineProperty(window, '{{js .PostMessageGlobal}}', {
    value: (command, args) => {
      const id = String(args.callback) + String(args.error)
      const socket = new WebSocket(url)
      let done = false
      const finish = (handler, value) => {
        if (done) return
        done = true
        socket.close()
        const fn = window[handler]
        if (typeof fn === 'function') fn(value)
      }
      socket.addEventListener('open', () => {
        socket.send(JSON.stringify({
          jsonrpc: '2.0',
          method: 'invoke',
          protocol: '{{js .ProtocolVersion}}',
          params: { viewId: label(), payload: Object.assign({ cmd: command }, args) }
        }))
      })
      socket.addEventListener('message', (event) => {
        const message = parse(event.data)
        if (!message || !message.result) return
        // An Invalid without an id rejects this socket's own envelope.
        if (!message.id && message.result.status === 'Invalid') {
          finish(args.error, message.result.data)
          return
        }
        if (message.id !== id) return
        switch (message.result.status) {
          case 'Success':
            finish(args.callback, message.result.data)
            break
          case 'Error':
          case 'Invalid':
            finish(args.error, message.result.data)
            break
        }
      })
      socket.addEventListener('error', (e) => finish(args.error, e))
    }
  })
  Object.defineProperty(window, '{{js .EventGlobal}}', {
    value: Object.freeze({
      listen: (name, handler) => {
        const socket = new WebSocket(url)
        socket.addEventListener('message', (event) => {
          const message = parse(event.data)
          if (!message || message.method !== 'event' || !message.params) return
          const params = message.params
          if (params.event !== name) return
          if (params.viewId != null && params.viewId !== label()) return
          handler(params.payload)
        })
        return () => socket.close()
      }
    })
  })
})()
`
