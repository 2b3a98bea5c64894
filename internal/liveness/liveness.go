// Package liveness reports whether the monitored process is running.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/drewfead/vigil/internal/executil"
	"github.com/drewfead/vigil/internal/logging"
)

// Probe reports whether the process exists.
type Probe func(ctx context.Context) (bool, error)

// Callbacks are invoked on state edges, from the monitor goroutine.
type Callbacks struct {
	OnDetected func()
	OnLost     func()
}

// ProcessProbe matches the exact process name with pgrep.
func ProcessProbe(name string) Probe {
	return func(ctx context.Context) (bool, error) {
		cmd, err := executil.CommandContext(ctx, "pgrep", "-x", name)
		if err != nil {
			return false, err
		}
		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
				return false, nil
			}
			return false, fmt.Errorf("pgrep %s: %w", name, err)
		}
		return true, nil
	}
}

// Monitor polls a probe and reports detected/lost transitions.
type Monitor struct {
	probe    Probe
	interval time.Duration
	cb       Callbacks
	log      *slog.Logger

	mu    sync.Mutex
	alive bool
}

// NewMonitor creates a monitor. The initial state is "not running".
func NewMonitor(probe Probe, interval time.Duration, cb Callbacks) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		cb:       cb,
		log:      logging.Component("liveness"),
	}
}

// Alive reports the last observed state.
func (m *Monitor) Alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive
}

// Run checks immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs the probe once and fires a callback on a state change. Probe
// errors leave the state unchanged.
func (m *Monitor) Check(ctx context.Context) {
	alive, err := m.probe(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Debug("liveness probe failed", "error", err)
		}
		return
	}

	m.mu.Lock()
	changed := alive != m.alive
	m.alive = alive
	m.mu.Unlock()

	if !changed {
		return
	}
	if alive {
		m.log.Info("monitored process detected")
		if m.cb.OnDetected != nil {
			m.cb.OnDetected()
		}
		return
	}
	m.log.Info("monitored process exited")
	if m.cb.OnLost != nil {
		m.cb.OnLost()
	}
}
