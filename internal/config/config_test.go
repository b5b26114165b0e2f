package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

const configTestPrefix = "config:config_test"

var envVars = []string{
	"BRIDGE_BINDING", "BRIDGE_ALLOWED_ORIGINS", "BRIDGE_HOST", "BRIDGE_PORT",
	"BRIDGE_INVOKE_TIMEOUT", "BRIDGE_SEND_QUEUE", "BRIDGE_PROTOCOL_CONSTRAINT",
	"BRIDGE_VIEWS_FILE", "BRIDGE_SCRIPT_FILE", "BRIDGE_POST_MESSAGE_GLOBAL",
	"BRIDGE_LABEL_EXPR", "BRIDGE_EVENT_GLOBAL", "BRIDGE_ADMIN_ADDR",
	"COMMS_URL", "COMMS_EMBEDDED", "SERVICE_NAME",
	"COMMAND_SUBJECT_PREFIX", "EVENT_SUBJECT_PREFIX",
	"REQUEST_TIMEOUT", "SHUTDOWN_TIMEOUT", "LOG_LEVEL",
}

// clearEnv unsets every variable for the test. envconfig treats a variable
// set to "" as present, so t.Setenv(name, "") would skip defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envVars {
		if prev, ok := os.LookupEnv(env); ok {
			t.Cleanup(func() { os.Setenv(env, prev) })
		}
		os.Unsetenv(env)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", configTestPrefix, err)
	}

	if cfg.Binding != BindingHTTP {
		t.Errorf("%s - Binding = %q, want %q", configTestPrefix, cfg.Binding, BindingHTTP)
	}
	if strings.Join(cfg.AllowedOrigins, ",") != "http://localhost:8080,tauri://localhost" {
		t.Errorf("%s - AllowedOrigins = %v", configTestPrefix, cfg.AllowedOrigins)
	}
	if cfg.Port != 0 {
		t.Errorf("%s - Port = %d, want 0", configTestPrefix, cfg.Port)
	}
	if cfg.InvokeTimeout != 0 {
		t.Errorf("%s - InvokeTimeout = %v, want 0", configTestPrefix, cfg.InvokeTimeout)
	}
	if cfg.SendQueue != 256 {
		t.Errorf("%s - SendQueue = %d, want 256", configTestPrefix, cfg.SendQueue)
	}
	if cfg.ProtocolConstraint != "^1.0.0" {
		t.Errorf("%s - ProtocolConstraint = %q, want ^1.0.0", configTestPrefix, cfg.ProtocolConstraint)
	}
	if cfg.COMMSURL != "nats://127.0.0.1:4222" {
		t.Errorf("%s - COMMSURL = %q, want %q", configTestPrefix, cfg.COMMSURL, "nats://127.0.0.1:4222")
	}
	if cfg.COMMSEmbedded {
		t.Errorf("%s - expected COMMSEmbedded=false by default", configTestPrefix)
	}
	if cfg.COMMSName != "invoke-bridge" {
		t.Errorf("%s - COMMSName = %q, want invoke-bridge", configTestPrefix, cfg.COMMSName)
	}
	if cfg.CommandPrefix != "bridge.cmd" || cfg.EventPrefix != "bridge.events" {
		t.Errorf("%s - prefixes = %q, %q", configTestPrefix, cfg.CommandPrefix, cfg.EventPrefix)
	}
	if cfg.RequestTimeout != 25*time.Second {
		t.Errorf("%s - RequestTimeout = %v, want 25s", configTestPrefix, cfg.RequestTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("%s - ShutdownTimeout = %v, want 10s", configTestPrefix, cfg.ShutdownTimeout)
	}
	if cfg.AdminAddr != "" {
		t.Errorf("%s - AdminAddr = %q, want empty", configTestPrefix, cfg.AdminAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("%s - LogLevel = %q, want info", configTestPrefix, cfg.LogLevel)
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("%s - defaults should validate: %v", configTestPrefix, err)
	}
}

func TestLoadConfig_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("BRIDGE_BINDING", "ws")
	t.Setenv("BRIDGE_ALLOWED_ORIGINS", "http://localhost:*,https://app.example")
	t.Setenv("BRIDGE_PORT", "9123")
	t.Setenv("BRIDGE_INVOKE_TIMEOUT", "30s")
	t.Setenv("COMMS_EMBEDDED", "true")
	t.Setenv("REQUEST_TIMEOUT", "5s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", configTestPrefix, err)
	}
	if cfg.Binding != BindingWS {
		t.Errorf("%s - Binding = %q, want ws", configTestPrefix, cfg.Binding)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "http://localhost:*" {
		t.Errorf("%s - AllowedOrigins = %v", configTestPrefix, cfg.AllowedOrigins)
	}
	if cfg.Port != 9123 {
		t.Errorf("%s - Port = %d, want 9123", configTestPrefix, cfg.Port)
	}
	if cfg.InvokeTimeout != 30*time.Second {
		t.Errorf("%s - InvokeTimeout = %v, want 30s", configTestPrefix, cfg.InvokeTimeout)
	}
	if !cfg.COMMSEmbedded {
		t.Errorf("%s - expected COMMSEmbedded=true", configTestPrefix)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("%s - RequestTimeout = %v, want 5s", configTestPrefix, cfg.RequestTimeout)
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("REQUEST_TIMEOUT", "not-a-duration")

	if _, err := LoadConfig(); err == nil {
		t.Errorf("%s - expected error for invalid duration", configTestPrefix)
	}
}

func validConfig() *Config {
	return &Config{
		Binding:            BindingHTTP,
		SendQueue:          256,
		ProtocolConstraint: "^1.0.0",
		COMMSURL:           "nats://127.0.0.1:4222",
		RequestTimeout:     25 * time.Second,
		ShutdownTimeout:    10 * time.Second,
	}
}

func TestValidateForServe(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty constraint disables gate", mutate: func(c *Config) { c.ProtocolConstraint = "" }},
		{name: "binding", mutate: func(c *Config) { c.Binding = "grpc" }, wantErr: "BRIDGE_BINDING"},
		{name: "port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "BRIDGE_PORT"},
		{name: "comms url", mutate: func(c *Config) { c.COMMSURL = "" }, wantErr: "COMMS_URL"},
		{name: "request timeout", mutate: func(c *Config) { c.RequestTimeout = 0 }, wantErr: "REQUEST_TIMEOUT"},
		{name: "shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: "SHUTDOWN_TIMEOUT"},
		{name: "invoke timeout", mutate: func(c *Config) { c.InvokeTimeout = -time.Second }, wantErr: "BRIDGE_INVOKE_TIMEOUT"},
		{name: "send queue", mutate: func(c *Config) { c.SendQueue = 0 }, wantErr: "BRIDGE_SEND_QUEUE"},
		{name: "constraint", mutate: func(c *Config) { c.ProtocolConstraint = "not a range" }, wantErr: "BRIDGE_PROTOCOL_CONSTRAINT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateForServe()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("%s - unexpected error: %v", configTestPrefix, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("%s - error = %v, want mention of %s", configTestPrefix, err, tt.wantErr)
			}
		})
	}
}
