package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/morezero/invoke-bridge/pkg/httpbridge"
	"github.com/morezero/invoke-bridge/pkg/wsbridge"
)

const adminLogPrefix = "server:admin"

// HealthOutput is the /health body.
type HealthOutput struct {
	Status    string   `json:"status"`
	Binding   string   `json:"binding"`
	Port      int      `json:"port"`
	Views     []string `json:"views"`
	Pending   int      `json:"pending"`
	Clients   int      `json:"clients"`
	COMMS     bool     `json:"comms"`
	Timestamp string   `json:"timestamp"`
}

// Health reports the bridge state. The bridge is unhealthy while COMMS is
// disconnected, since no command can reach the host.
func (s *Server) Health() *HealthOutput {
	h := &HealthOutput{
		Status:    "healthy",
		Binding:   s.cfg.Binding,
		Port:      s.bridge.Port(),
		Views:     s.views.Labels(),
		COMMS:     s.nc != nil && s.nc.IsConnected(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	switch b := s.bridge.(type) {
	case *httpbridge.Bridge:
		h.Pending = b.Pending()
	case *wsbridge.Bridge:
		h.Clients = b.Clients()
	}
	if !h.COMMS {
		h.Status = "unhealthy"
	}
	return h
}

func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := s.Health()
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/script", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		if _, err := w.Write([]byte(s.bridge.InitializationScript())); err != nil {
			slog.Debug(fmt.Sprintf("%s - script write: %v", adminLogPrefix, err))
		}
	})
	return mux
}

func (s *Server) startAdmin() error {
	listener, err := net.Listen("tcp", s.cfg.AdminAddr)
	if err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", adminLogPrefix, s.cfg.AdminAddr, err)
	}
	s.adminListener = listener
	s.adminServer = &http.Server{Handler: s.adminHandler(), ReadHeaderTimeout: 10 * time.Second}
	s.adminDone = make(chan struct{})
	go func() {
		defer close(s.adminDone)
		slog.Info(fmt.Sprintf("%s - Admin HTTP listening on %s", adminLogPrefix, listener.Addr()))
		if err := s.adminServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - Admin HTTP server error: %v", adminLogPrefix, err))
		}
	}()
	return nil
}
