package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const embeddedLogPrefix = "commsutil:embedded"

// RandomPort asks the embedded server to pick a free port.
const RandomPort = commsserver.RANDOM_PORT

// EmbeddedOpts configures an in-process COMMS server.
type EmbeddedOpts struct {
	Host string
	// Port 0 uses the COMMS default port; RandomPort picks one.
	Port         int
	ReadyTimeout time.Duration
}

// StartEmbedded runs a COMMS server inside this process and waits until it
// accepts connections. Callers own Shutdown.
func StartEmbedded(opts EmbeddedOpts) (*commsserver.Server, error) {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	readyTimeout := opts.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 10 * time.Second
	}

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   host,
		Port:   opts.Port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create server: %w", embeddedLogPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("%s - server not ready after %s", embeddedLogPrefix, readyTimeout)
	}
	slog.Info(fmt.Sprintf("%s - Embedded COMMS listening at %s", embeddedLogPrefix, ns.ClientURL()))
	return ns, nil
}
