// Package demo is a sample host command service: the commands a view can
// try against a running bridge.
package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/invoke-bridge/pkg/dispatcher"
	"github.com/morezero/invoke-bridge/pkg/events"
)

const logPrefix = "demo:demo"

// TimeElapsedEvent is emitted once per tick by report_time_elapsed.
const TimeElapsedEvent = "time_elapsed"

// Service holds the demo commands. Events go through Emitter.
type Service struct {
	Emitter  events.Emitter
	Interval time.Duration
	// Ticks bounds each report_time_elapsed run.
	Ticks int
}

// Commands returns a dispatcher with the demo commands registered.
func (s *Service) Commands() *dispatcher.Dispatcher {
	d := dispatcher.NewDispatcher()
	d.Handle("my_command", s.myCommand)
	d.Handle("report_time_elapsed", s.reportTimeElapsed)
	return d
}

func (s *Service) myCommand(_ context.Context, call *dispatcher.Call) (any, error) {
	var in struct {
		Args int `json:"args"`
	}
	if err := call.Bind(&in); err != nil {
		return nil, err
	}
	if in.Args < 0 {
		return nil, errors.New("args must not be negative")
	}
	slog.Info(fmt.Sprintf("%s - my_command called from %s with %d", logPrefix, call.View, in.Args))
	return "executed", nil
}

// reportTimeElapsed acknowledges at once and emits the elapsed seconds to the
// calling view in the background.
func (s *Service) reportTimeElapsed(_ context.Context, call *dispatcher.Call) (any, error) {
	if s.Emitter == nil {
		return nil, errors.New("events are not available")
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticks := s.Ticks
	if ticks <= 0 {
		ticks = 10
	}
	go s.tick(call.View, interval, ticks)
	return "started", nil
}

func (s *Service) tick(viewID string, interval time.Duration, ticks int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for elapsed := 1; elapsed <= ticks; elapsed++ {
		<-ticker.C
		if err := s.Emitter.EmitTo(context.Background(), viewID, TimeElapsedEvent, elapsed); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to emit %s: %v", logPrefix, TimeElapsedEvent, err))
			return
		}
	}
}
