// Package indicator renders the tag status for people looking at the device.
package indicator

import (
	"log/slog"
	"sync"

	"github.com/ruteri/hybrid-tag/interfaces"
)

// Log writes status changes to the log. Faults are logged at error level.
type Log struct {
	log *slog.Logger

	mu   sync.Mutex
	last interfaces.Status
	seen bool
}

// NewLog creates a log indicator.
func NewLog(log *slog.Logger) *Log {
	return &Log{log: log}
}

// Show logs s unless it is already shown.
func (l *Log) Show(s interfaces.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen && l.last == s {
		return
	}
	l.last, l.seen = s, true

	if s == interfaces.StatusFault {
		l.log.Error("Status indicator", "status", s.String())
		return
	}
	l.log.Info("Status indicator", "status", s.String())
}

// Last returns the status currently shown.
func (l *Log) Last() interfaces.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Recorder keeps every status shown. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	shown []interfaces.Status
}

// Show records s.
func (r *Recorder) Show(s interfaces.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, s)
}

// Shown returns the recorded statuses in order.
func (r *Recorder) Shown() []interfaces.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interfaces.Status(nil), r.shown...)
}

// Multi fans a status out to several indicators.
type Multi []interfaces.Indicator

// Show shows s on every indicator.
func (m Multi) Show(s interfaces.Status) {
	for _, i := range m {
		i.Show(s)
	}
}
