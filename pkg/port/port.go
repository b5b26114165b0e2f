// Package port picks the bridge's local listener port.
package port

import (
	"fmt"
	"net"
)

const logPrefix = "port:pick"

// Pick returns a TCP port on host that was unused at the time of the call.
// An empty host means all interfaces.
func Pick(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("%s - failed to find an unused port on %q: %w", logPrefix, host, err)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("%s - unexpected listener address %s", logPrefix, l.Addr())
	}
	return addr.Port, nil
}
