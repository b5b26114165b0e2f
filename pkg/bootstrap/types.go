// Package bootstrap loads the view manifest: the views the host exposes to
// the bridge and, optionally, the commands each may invoke.
package bootstrap

import (
	"sort"

	"github.com/morezero/invoke-bridge/pkg/registry"
)

// BootstrapView is one view entry in the manifest.
type BootstrapView struct {
	Title string `json:"title,omitempty"`
	// Commands restricts the view to these commands; empty allows all.
	Commands []string `json:"commands,omitempty"`
}

// BootstrapConfig is the root manifest.
type BootstrapConfig struct {
	Name    string                   `json:"name"`
	Version string                   `json:"version"`
	Views   map[string]BootstrapView `json:"views"`
}

// ViewSpecs converts the manifest into registry specs, sorted by label.
func (c *BootstrapConfig) ViewSpecs() []registry.ViewSpec {
	labels := make([]string, 0, len(c.Views))
	for l := range c.Views {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	specs := make([]registry.ViewSpec, 0, len(labels))
	for _, l := range labels {
		v := c.Views[l]
		specs = append(specs, registry.ViewSpec{
			Label:    l,
			Title:    v.Title,
			Commands: append([]string(nil), v.Commands...),
		})
	}
	return specs
}
