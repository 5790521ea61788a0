// Package tag is the top-level driver. It boots the radio and identity, owns
// the deferred worker and connects the provisioning session, the advertising
// controller and the rotation scheduler to it.
//
// Key material committed by provisioning is never advertised by the running
// process. It takes effect after the restart the commit schedules.
package tag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/hybrid-tag/advertising"
	"github.com/ruteri/hybrid-tag/beacon"
	"github.com/ruteri/hybrid-tag/cryptoutils"
	"github.com/ruteri/hybrid-tag/identity"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/ruteri/hybrid-tag/metrics"
	"github.com/ruteri/hybrid-tag/provisioning"
	"github.com/ruteri/hybrid-tag/scheduler"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// ErrRadioUnavailable is returned by Boot when the radio cannot be enabled.
// There is no degraded mode: the tag does not advertise.
var ErrRadioUnavailable = errors.New("radio unavailable")

const (
	// MinRestartDelay is the shortest delay between a commit and the restart applying it.
	MinRestartDelay = time.Second
	// DefaultRestartDelay is used when no restart delay is configured.
	DefaultRestartDelay = 2 * time.Second
)

// Config holds the driver settings.
type Config struct {
	Mode             provisioning.Mode
	AuthCode         string
	GoogleFormat     interfaces.GoogleFormat
	InitialProtocol  interfaces.Protocol
	RotationInterval time.Duration
	RestartDelay     time.Duration
	QueueSize        int
}

// Collaborators are the external systems the tag drives.
type Collaborators struct {
	Radio     interfaces.Radio
	GATT      interfaces.GATTServer
	Store     *identity.Store
	Indicator interfaces.Indicator
	Restarter interfaces.Restarter
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Tag is a running tracking tag.
type Tag struct {
	cfg Config
	log *slog.Logger
	c   Collaborators

	worker     *scheduler.Worker
	scheduler  *scheduler.Scheduler
	controller *advertising.Controller
	session    *provisioning.Session

	// retry is only touched by the worker.
	retry *backoff.ExponentialBackOff

	mu      sync.RWMutex
	applied interfaces.Identity
	status  interfaces.Status

	restartPending atomic.Bool
}

// New wires a tag. Nothing touches the radio until Boot.
func New(cfg Config, log *slog.Logger, c Collaborators) (*Tag, error) {
	if c.Radio == nil || c.GATT == nil || c.Store == nil || c.Indicator == nil || c.Restarter == nil {
		return nil, errors.New("tag: missing collaborator")
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.RestartDelay < MinRestartDelay {
		return nil, fmt.Errorf("restart delay %s is below the minimum %s", cfg.RestartDelay, MinRestartDelay)
	}

	t := &Tag{
		cfg:     cfg,
		log:     log,
		c:       c,
		applied: c.Store.Snapshot(),
	}

	session, err := provisioning.NewSession(log, cfg.Mode, cfg.AuthCode, t)
	if err != nil {
		return nil, err
	}
	t.session = session

	t.worker = scheduler.NewWorker(log, c.Clock, cfg.QueueSize)
	t.scheduler = scheduler.New(log, c.Clock, cfg.RotationInterval, t.worker, t.rotate)

	broadcast := interfaces.Advertisement{
		LocalName:   provisioning.LocalName,
		ServiceUUID: cfg.Mode.Layout().ServiceUUID,
	}
	t.controller = advertising.NewController(log, c.Radio, beacon.NewEncoder(cfg.GoogleFormat), t, broadcast, cfg.InitialProtocol)

	t.retry = backoff.NewExponentialBackOff()
	t.retry.InitialInterval = 500 * time.Millisecond
	t.retry.MaxInterval = 30 * time.Second
	t.retry.MaxElapsedTime = 0
	t.retry.Clock = c.Clock
	t.retry.Reset()

	return t, nil
}

// Boot enables the radio, loads the identity and queues the first refresh.
func (t *Tag) Boot(ctx context.Context) error {
	t.show(interfaces.StatusIdle)

	if err := t.c.Radio.Enable(ctx); err != nil {
		t.show(interfaces.StatusFault)
		t.log.Error("Radio unavailable", "err", err)
		return fmt.Errorf("%w: %w", ErrRadioUnavailable, err)
	}

	id, err := t.c.Store.Load(ctx)
	if err != nil {
		t.log.Warn("Booting with default identity", "err", err)
	}
	t.mu.Lock()
	t.applied = id
	t.mu.Unlock()

	if id.Provisioned {
		metrics.Provisioned.Set(1)
		t.show(interfaces.StatusBeaconing)
	} else {
		metrics.Provisioned.Set(0)
		if err := t.c.GATT.ServeProvisioning(ctx, t.cfg.Mode.Layout(), t); err != nil {
			t.show(interfaces.StatusFault)
			return fmt.Errorf("%w: provisioning service: %w", ErrRadioUnavailable, err)
		}
		t.session.Begin()
		t.show(interfaces.StatusProvisioning)
	}

	t.log.Info("Tag booted",
		slog.Bool("provisioned", id.Provisioned),
		slog.String("mode", t.cfg.Mode.String()),
		slog.String("protocol", t.controller.Active().String()))

	t.submitRefresh()
	return nil
}

// Run runs the worker, and the rotation scheduler when provisioned, until ctx ends.
func (t *Tag) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.worker.Run(ctx)
	})
	if t.Snapshot().Provisioned {
		g.Go(func() error {
			return t.scheduler.Run(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Snapshot returns the identity being advertised. It does not change until restart.
func (t *Tag) Snapshot() interfaces.Identity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.applied
}

// Session returns the provisioning session.
func (t *Tag) Session() *provisioning.Session {
	return t.session
}

// Scheduler returns the rotation scheduler.
func (t *Tag) Scheduler() *scheduler.Scheduler {
	return t.scheduler
}

// Worker returns the deferred worker.
func (t *Tag) Worker() *scheduler.Worker {
	return t.worker
}

// RestartPending reports whether a committed identity awaits restart.
func (t *Tag) RestartPending() bool {
	return t.restartPending.Load()
}

// SubmitCommit hands a completed provisioning to the worker.
func (t *Tag) SubmitCommit(sub provisioning.Submission) bool {
	return t.worker.Submit(scheduler.Task{
		Name: "commit",
		Run: func(ctx context.Context) error {
			return t.commit(ctx, sub)
		},
	})
}

func (t *Tag) commit(ctx context.Context, sub provisioning.Submission) error {
	defer func() {
		if sub.Apple != nil {
			cryptoutils.Wipe(sub.Apple[:])
		}
		if sub.Google != nil {
			cryptoutils.Wipe(sub.Google[:])
		}
	}()

	if _, err := t.c.Store.Commit(ctx, sub.Apple, sub.Google); err != nil {
		metrics.Commits.WithLabelValues("failed").Inc()
		t.session.ReportCommit(err)
		return err
	}
	metrics.Commits.WithLabelValues("succeeded").Inc()
	t.session.ReportCommit(nil)

	if !t.restartPending.CompareAndSwap(false, true) {
		t.log.Info("Restart already scheduled")
		return nil
	}
	t.show(interfaces.StatusRestarting)
	t.log.Info("Identity committed, restart scheduled", "delay", t.cfg.RestartDelay)
	t.worker.SubmitAfter(t.cfg.RestartDelay, scheduler.Task{Name: "restart", Run: t.restart})
	return nil
}

func (t *Tag) restart(ctx context.Context) error {
	t.log.Info("Restarting to apply identity")
	if err := t.c.Restarter.Restart(ctx); err != nil {
		t.show(interfaces.StatusFault)
		return fmt.Errorf("restart failed: %w", err)
	}
	return nil
}

func (t *Tag) submitRefresh() {
	t.worker.Submit(scheduler.Task{Name: "refresh", Run: t.refresh})
}

func (t *Tag) refresh(ctx context.Context) error {
	if t.restartPending.Load() {
		return nil
	}
	return t.retryOnFailure(t.controller.Refresh(ctx))
}

func (t *Tag) rotate(ctx context.Context) error {
	if t.restartPending.Load() {
		return nil
	}
	return t.retryOnFailure(t.controller.Rotate(ctx))
}

// retryOnFailure schedules another refresh after a backoff delay when err is set.
func (t *Tag) retryOnFailure(err error) error {
	if err == nil {
		t.retry.Reset()
		return nil
	}

	delay := t.retry.NextBackOff()
	if delay == backoff.Stop {
		t.retry.Reset()
		return fmt.Errorf("giving up on advertising: %w", err)
	}
	t.worker.SubmitAfter(delay, scheduler.Task{Name: "refresh", Run: t.refresh})
	return err
}

// HandleWrite forwards a provisioning write to the session.
func (t *Tag) HandleWrite(req interfaces.WriteRequest) (int, error) {
	return t.session.HandleWrite(req)
}

// Connected arms the session for the new peer.
func (t *Tag) Connected(conn interfaces.ConnectionID) {
	t.log.Info("Peer connected", "conn", conn)
	if !t.Snapshot().Provisioned {
		t.session.Begin()
	}
}

// Disconnected abandons any partial session and re-advertises.
func (t *Tag) Disconnected(conn interfaces.ConnectionID) {
	t.log.Info("Peer disconnected", "conn", conn)
	t.session.Disconnect()
	t.submitRefresh()
}

// ReadStatus returns the status characteristic value.
func (t *Tag) ReadStatus() []byte {
	return t.session.ReadStatus()
}

func (t *Tag) show(s interfaces.Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
	t.c.Indicator.Show(s)
}

// IndicatorStatus returns the last status shown.
func (t *Tag) IndicatorStatus() interfaces.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// OnAir returns the broadcast currently on air.
func (t *Tag) OnAir() (advertising.OnAir, bool) {
	return t.controller.Current()
}

// ActiveProtocol returns the protocol the scheduler is on.
func (t *Tag) ActiveProtocol() interfaces.Protocol {
	return t.controller.Active()
}
