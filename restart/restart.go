// Package restart performs the controlled restart that applies committed keys.
package restart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/godbus/dbus/v5"
)

const (
	systemdDest      = "org.freedesktop.systemd1"
	systemdPath      = dbus.ObjectPath("/org/freedesktop/systemd1")
	systemdRestartFn = "org.freedesktop.systemd1.Manager.RestartUnit"
)

// ExitCode is the status the process exits with to request a supervisor restart.
const ExitCode = 75

// Systemd restarts a unit through the systemd manager on the system bus.
type Systemd struct {
	unit string
	log  *slog.Logger
}

// NewSystemd creates a restarter for unit, e.g. "hybridtag.service".
func NewSystemd(unit string, log *slog.Logger) (*Systemd, error) {
	if unit == "" {
		return nil, errors.New("systemd unit name is required")
	}
	return &Systemd{unit: unit, log: log}, nil
}

// Restart asks systemd to restart the unit. The call returns once the job is
// queued; systemd then stops this process.
func (s *Systemd) Restart(ctx context.Context) error {
	bus, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connecting to system bus: %w", err)
	}

	var job dbus.ObjectPath
	obj := bus.Object(systemdDest, systemdPath)
	if err := obj.CallWithContext(ctx, systemdRestartFn, 0, s.unit, "replace").Store(&job); err != nil {
		var derr dbus.Error
		if errors.As(err, &derr) {
			return fmt.Errorf("restarting %s: %s", s.unit, derr.Name)
		}
		return fmt.Errorf("restarting %s: %w", s.unit, err)
	}

	s.log.Info("Restart job queued", "unit", s.unit, "job", string(job))
	return nil
}

// Exit terminates the process so the supervisor starts it again.
type Exit struct {
	log  *slog.Logger
	exit func(code int)
}

// NewExit creates an exit restarter. A nil exit function selects os.Exit.
func NewExit(log *slog.Logger, exit func(code int)) *Exit {
	if exit == nil {
		exit = os.Exit
	}
	return &Exit{log: log, exit: exit}
}

// Restart exits the process with ExitCode.
func (e *Exit) Restart(ctx context.Context) error {
	e.log.Info("Exiting for restart", "code", ExitCode)
	e.exit(ExitCode)
	return nil
}

// Restarter matches interfaces.Restarter.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Fallback tries each restarter in order until one succeeds.
type Fallback struct {
	log        *slog.Logger
	restarters []Restarter
}

// NewFallback creates a restarter chain.
func NewFallback(log *slog.Logger, restarters ...Restarter) *Fallback {
	return &Fallback{log: log, restarters: restarters}
}

// Restart runs the chain.
func (f *Fallback) Restart(ctx context.Context) error {
	var errs []error
	for _, r := range f.restarters {
		err := r.Restart(ctx)
		if err == nil {
			return nil
		}
		f.log.Warn("Restarter failed, trying next", "err", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return errors.New("no restarter configured")
	}
	return errors.Join(errs...)
}
