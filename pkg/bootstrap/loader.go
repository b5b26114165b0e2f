package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

const logPrefix = "bootstrap:loader"

// LoadBootstrapConfig loads the view manifest. It tries paths in order: any
// paths passed in, then BRIDGE_VIEWS_FILE, then the defaults. A file that
// exists but fails to parse is an error; when no file is found the default
// manifest is returned.
func LoadBootstrapConfig(paths ...string) (*BootstrapConfig, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("BRIDGE_VIEWS_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/views.json", "views.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cfg BootstrapConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s - failed to parse view manifest %s: %w", logPrefix, p, err)
		}
		if len(cfg.Views) == 0 {
			return nil, fmt.Errorf("%s - view manifest %s declares no views", logPrefix, p)
		}

		slog.Info(fmt.Sprintf("%s - Loaded view manifest from %s (%d views)", logPrefix, p, len(cfg.Views)))
		return &cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default view manifest", logPrefix))
	return GetDefaultBootstrapConfig(), nil
}

// GetDefaultBootstrapConfig returns the fallback manifest: a single
// unrestricted "main" view.
func GetDefaultBootstrapConfig() *BootstrapConfig {
	return &BootstrapConfig{
		Name:    "invoke-bridge-default",
		Version: "1.0.0",
		Views: map[string]BootstrapView{
			"main": {Title: "Main window"},
		},
	}
}
