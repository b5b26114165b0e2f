package commsutil

import (
	"strings"
)

// Default COMMS subject prefixes.
const (
	DefaultCommandPrefix = "bridge.cmd"
	DefaultEventPrefix   = "bridge.events"
)

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_", "\n", "_", "\r", "_")

// SanitizeToken makes s usable as a single subject token.
func SanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}

// BuildCommandSubject builds the subject a view's command is requested on.
func BuildCommandSubject(prefix, view, command string) string {
	return prefix + "." + SanitizeToken(view) + "." + SanitizeToken(command)
}

// BuildEventSubject builds the subject a host event is published on.
func BuildEventSubject(prefix, event string) string {
	return prefix + "." + SanitizeToken(event)
}

// Wildcard matches every subject under prefix.
func Wildcard(prefix string) string {
	return prefix + ".>"
}

// ParseCommandSubject splits a subject built by BuildCommandSubject.
func ParseCommandSubject(prefix, subject string) (view, command string, ok bool) {
	rest, found := strings.CutPrefix(subject, prefix+".")
	if !found {
		return "", "", false
	}
	view, command, found = strings.Cut(rest, ".")
	if !found || view == "" || command == "" || strings.Contains(command, ".") {
		return "", "", false
	}
	return view, command, true
}
