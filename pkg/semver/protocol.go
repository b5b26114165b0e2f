// Package semver gates inbound invocations on the bridge protocol version
// announced by the injected script.
package semver

import (
	"fmt"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:protocol"

// ProtocolVersion is the version the initialization scripts announce.
const ProtocolVersion = "1.0.0"

// DefaultConstraint accepts any 1.x script.
const DefaultConstraint = "^1.0.0"

// Gate checks announced protocol versions against a constraint. A nil Gate
// accepts everything.
type Gate struct {
	raw        string
	constraint *masterminds.Constraints
}

// NewGate parses constraint. An empty constraint returns a nil Gate.
func NewGate(constraint string) (*Gate, error) {
	if constraint == "" {
		return nil, nil
	}
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid protocol constraint %q: %w", logPrefix, constraint, err)
	}
	return &Gate{raw: constraint, constraint: c}, nil
}

// Check returns nil when version satisfies the constraint. Scripts that do
// not announce a version (empty string) are accepted.
func (g *Gate) Check(version string) error {
	if g == nil || version == "" {
		return nil
	}
	v, err := masterminds.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%s - invalid protocol version %q: %w", logPrefix, version, err)
	}
	if !g.constraint.Check(v) {
		return fmt.Errorf("%s - protocol version %s does not satisfy %s", logPrefix, version, g.raw)
	}
	return nil
}

// String returns the raw constraint.
func (g *Gate) String() string {
	if g == nil {
		return ""
	}
	return g.raw
}
