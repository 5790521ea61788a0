// Package advertising decides what the tag broadcasts and drives the radio
// through each change in a fixed order: stop, set address, start.
package advertising

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/hybrid-tag/beacon"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/ruteri/hybrid-tag/metrics"
)

// Op names the radio operation an AdvError failed in.
type Op string

const (
	OpStop       Op = "stop"
	OpSetAddress Op = "set_address"
	OpStart      Op = "start"
)

// ErrStartFailed matches an AdvError raised by the start-advertising call.
var ErrStartFailed = errors.New("advertising start failed")

// NoCode is reported when the radio error carries no result code.
const NoCode = -1

// AdvError is a radio failure during Refresh. It is never fatal.
type AdvError struct {
	Op   Op
	Code int
	Err  error
}

func newAdvError(op Op, err error) *AdvError {
	code := NoCode
	var rerr *interfaces.RadioError
	if errors.As(err, &rerr) {
		code = rerr.Code
	}
	return &AdvError{Op: op, Code: code, Err: err}
}

func (e *AdvError) Error() string {
	return fmt.Sprintf("advertising %s failed (code %d): %v", e.Op, e.Code, e.Err)
}

func (e *AdvError) Unwrap() error {
	return e.Err
}

// Is reports start failures as ErrStartFailed.
func (e *AdvError) Is(target error) bool {
	return target == ErrStartFailed && e.Op == OpStart
}

// IdentitySource supplies the identity to advertise.
type IdentitySource interface {
	Snapshot() interfaces.Identity
}

// OnAir describes the broadcast that was last started successfully.
type OnAir struct {
	Kind     interfaces.AdvertisementKind
	Protocol interfaces.Protocol
	Address  interfaces.LinkAddress
	Payload  []byte
}

// Controller owns the active protocol. Refresh and Rotate must be called from
// the deferred worker only; Active and Current are safe from any goroutine.
type Controller struct {
	log          *slog.Logger
	radio        interfaces.Radio
	encoder      *beacon.Encoder
	identity     IdentitySource
	provisioning interfaces.Advertisement

	mu     sync.RWMutex
	active interfaces.Protocol
	onAir  *OnAir
}

// NewController creates a controller starting on the initial protocol.
// provisioning is the connectable broadcast used while the tag is unprovisioned.
func NewController(log *slog.Logger, radio interfaces.Radio, encoder *beacon.Encoder, identity IdentitySource, provisioning interfaces.Advertisement, initial interfaces.Protocol) *Controller {
	provisioning.Kind = interfaces.ProvisioningAdvertisement
	provisioning.Payload = nil
	return &Controller{
		log:          log,
		radio:        radio,
		encoder:      encoder,
		identity:     identity,
		provisioning: provisioning,
		active:       initial,
	}
}

// Active returns the active protocol.
func (c *Controller) Active() interfaces.Protocol {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Current returns the broadcast on air, or false when nothing is advertised.
func (c *Controller) Current() (OnAir, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.onAir == nil {
		return OnAir{}, false
	}
	cur := *c.onAir
	cur.Payload = append([]byte(nil), c.onAir.Payload...)
	return cur, true
}

// Refresh re-advertises for the current identity and active protocol.
func (c *Controller) Refresh(ctx context.Context) error {
	id := c.identity.Snapshot()
	active := c.Active()

	if err := c.radio.StopAdvertising(ctx); err != nil {
		return c.fail(OpStop, err)
	}
	c.setOnAir(nil)

	if !id.Provisioned {
		if err := c.radio.StartAdvertising(ctx, c.provisioning); err != nil {
			return c.fail(OpStart, err)
		}
		c.setOnAir(&OnAir{Kind: interfaces.ProvisioningAdvertisement})
		c.log.Info("Advertising provisioning service", "name", c.provisioning.LocalName)
		return nil
	}

	frame := c.encoder.Frame(active, id)

	// The radio latches the address only while idle.
	if err := c.radio.SetLinkAddress(ctx, frame.Address); err != nil {
		return c.fail(OpSetAddress, err)
	}

	adv := interfaces.Advertisement{
		Kind:     interfaces.BeaconAdvertisement,
		Protocol: active,
		Payload:  frame.Payload,
	}
	if err := c.radio.StartAdvertising(ctx, adv); err != nil {
		return c.fail(OpStart, err)
	}

	c.setOnAir(&OnAir{
		Kind:     interfaces.BeaconAdvertisement,
		Protocol: active,
		Address:  frame.Address,
		Payload:  frame.Payload,
	})
	c.log.Info("Advertising beacon",
		slog.String("protocol", active.String()),
		slog.String("addr", frame.Address.String()),
		slog.Int("len", len(frame.Payload)))
	return nil
}

// Rotate switches to the other protocol and refreshes. The switch sticks even
// if the refresh fails, so the next successful refresh advertises it.
func (c *Controller) Rotate(ctx context.Context) error {
	c.mu.Lock()
	c.active = c.active.Other()
	next := c.active
	c.mu.Unlock()

	metrics.Rotations.WithLabelValues(next.String()).Inc()
	c.log.Debug("Rotating protocol", "protocol", next.String())
	return c.Refresh(ctx)
}

func (c *Controller) setOnAir(a *OnAir) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAir = a
}

func (c *Controller) fail(op Op, err error) error {
	aerr := newAdvError(op, err)
	metrics.AdvertisingErrors.WithLabelValues(string(op)).Inc()
	c.log.Error("Advertising refresh failed", "op", string(op), "code", aerr.Code, "err", err)
	return aerr
}
