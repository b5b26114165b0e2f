// Package config provides bridge configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/invoke-bridge/pkg/semver"
)

const logPrefix = "config:LoadConfig"

// Bindings.
const (
	BindingHTTP = "http"
	BindingWS   = "ws"
)

// Config holds invoke-bridge configuration.
type Config struct {
	// Bridge binding: "http" (held connections) or "ws" (broadcast).
	Binding        string   `envconfig:"BRIDGE_BINDING" default:"http"`
	AllowedOrigins []string `envconfig:"BRIDGE_ALLOWED_ORIGINS" default:"http://localhost:8080,tauri://localhost"`
	// Host is the listen interface; empty uses the binding default.
	Host string `envconfig:"BRIDGE_HOST"`
	// Port 0 picks an unused port.
	Port          int           `envconfig:"BRIDGE_PORT" default:"0"`
	InvokeTimeout time.Duration `envconfig:"BRIDGE_INVOKE_TIMEOUT" default:"0s"`
	SendQueue     int           `envconfig:"BRIDGE_SEND_QUEUE" default:"256"`
	// ProtocolConstraint gates the script protocol version; empty disables it.
	ProtocolConstraint string `envconfig:"BRIDGE_PROTOCOL_CONSTRAINT" default:"^1.0.0"`

	// Views manifest (empty = search default locations)
	ViewsFile string `envconfig:"BRIDGE_VIEWS_FILE"`

	// Initialization script
	ScriptFile        string `envconfig:"BRIDGE_SCRIPT_FILE"`
	PostMessageGlobal string `envconfig:"BRIDGE_POST_MESSAGE_GLOBAL"`
	LabelExpr         string `envconfig:"BRIDGE_LABEL_EXPR"`
	EventGlobal       string `envconfig:"BRIDGE_EVENT_GLOBAL"`

	// Admin HTTP endpoint (e.g. "127.0.0.1:8081"); empty disables it.
	AdminAddr string `envconfig:"BRIDGE_ADMIN_ADDR"`

	// COMMS: connect to NATS at COMMSURL, or serve it in-process there when
	// COMMSEmbedded is set.
	COMMSURL      string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSEmbedded bool   `envconfig:"COMMS_EMBEDDED" default:"false"`
	COMMSName     string `envconfig:"SERVICE_NAME" default:"invoke-bridge"`

	// Subject prefixes
	CommandPrefix string `envconfig:"COMMAND_SUBJECT_PREFIX" default:"bridge.cmd"`
	EventPrefix   string `envconfig:"EVENT_SUBJECT_PREFIX" default:"bridge.events"`

	// Timeouts
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the bridge.
func (c *Config) ValidateForServe() error {
	if err := c.ValidateForScript(); err != nil {
		return err
	}
	if c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required for serve", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%s - SHUTDOWN_TIMEOUT must be positive", logPrefix)
	}
	if c.InvokeTimeout < 0 {
		return fmt.Errorf("%s - BRIDGE_INVOKE_TIMEOUT must not be negative", logPrefix)
	}
	if c.SendQueue <= 0 {
		return fmt.Errorf("%s - BRIDGE_SEND_QUEUE must be positive", logPrefix)
	}
	if _, err := semver.NewGate(c.ProtocolConstraint); err != nil {
		return fmt.Errorf("%s - BRIDGE_PROTOCOL_CONSTRAINT: %w", logPrefix, err)
	}
	return nil
}

// ValidateForScript checks the config needed to render the initialization
// script.
func (c *Config) ValidateForScript() error {
	if c.Binding != BindingHTTP && c.Binding != BindingWS {
		return fmt.Errorf("%s - BRIDGE_BINDING must be %q or %q, got %q", logPrefix, BindingHTTP, BindingWS, c.Binding)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%s - BRIDGE_PORT %d out of range", logPrefix, c.Port)
	}
	return nil
}
