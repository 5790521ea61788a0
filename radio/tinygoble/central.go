package tinygoble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/hybrid-tag/beacon"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/ruteri/hybrid-tag/provisioning"
	"tinygo.org/x/bluetooth"
)

// ErrTagNotFound is returned when no provisioning tag was seen before ctx ended.
var ErrTagNotFound = errors.New("no provisioning tag found")

// Sighting is one decoded tracking frame seen by the scanner.
type Sighting struct {
	Address     interfaces.LinkAddress
	RSSI        int16
	Observation *beacon.Observation
	// AppleKey is set for offline-finding frames whose key could be rebuilt.
	AppleKey *interfaces.AppleKey
}

// Central is the provisioner side of the link.
type Central struct {
	adapter *bluetooth.Adapter
	log     *slog.Logger
}

// NewCentral creates a central on adapter. A nil adapter selects the default one.
func NewCentral(adapter *bluetooth.Adapter, log *slog.Logger) *Central {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	return &Central{adapter: adapter, log: log}
}

// Enable brings the adapter up.
func (c *Central) Enable() error {
	return c.adapter.Enable()
}

// scan runs the adapter scan until ctx ends or stop is called from the callback.
func (c *Central) scan(ctx context.Context, fn func(r bluetooth.ScanResult) (stop bool)) error {
	done := make(chan error, 1)
	go func() {
		done <- c.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if fn(r) {
				if err := a.StopScan(); err != nil {
					c.log.Warn("Failed to stop scan", "err", err)
				}
			}
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := c.adapter.StopScan(); err != nil {
			c.log.Warn("Failed to stop scan", "err", err)
		}
		<-done
		return ctx.Err()
	}
}

// Scan reports every tracking frame seen until ctx ends.
func (c *Central) Scan(ctx context.Context, fn func(Sighting)) error {
	err := c.scan(ctx, func(r bluetooth.ScanResult) bool {
		for _, s := range decodeSightings(r) {
			fn(s)
		}
		return false
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func decodeSightings(r bluetooth.ScanResult) []Sighting {
	addr := interfaces.LinkAddress(r.Address.MAC)
	var out []Sighting

	for _, md := range r.ManufacturerData() {
		obs, err := beacon.ParseApple(md.CompanyID, md.Data)
		if err != nil {
			continue
		}
		s := Sighting{Address: addr, RSSI: r.RSSI, Observation: obs}
		if key, err := beacon.RecoverAppleKey(addr, obs); err == nil {
			s.AppleKey = &key
		}
		out = append(out, s)
	}

	for _, sd := range r.ServiceData() {
		if !sd.UUID.Is16Bit() {
			continue
		}
		obs, err := beacon.ParseGoogle(sd.UUID.Get16Bit(), sd.Data)
		if err != nil {
			continue
		}
		out = append(out, Sighting{Address: addr, RSSI: r.RSSI, Observation: obs})
	}
	return out
}

// FindTag scans for a tag advertising the provisioning service of layout.
func (c *Central) FindTag(ctx context.Context, layout interfaces.ServiceLayout) (bluetooth.Address, error) {
	svc, err := bluetooth.ParseUUID(layout.ServiceUUID)
	if err != nil {
		return bluetooth.Address{}, err
	}

	var found *bluetooth.Address
	err = c.scan(ctx, func(r bluetooth.ScanResult) bool {
		if r.LocalName() != provisioning.LocalName && !r.HasServiceUUID(svc) {
			return false
		}
		addr := r.Address
		found = &addr
		c.log.Info("Found provisioning tag", "addr", addr.String(), "rssi", r.RSSI)
		return true
	})
	if found != nil {
		return *found, nil
	}
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return bluetooth.Address{}, ErrTagNotFound
	}
	return bluetooth.Address{}, err
}

// Provision connects to addr, performs the planned writes in order and returns
// the status characteristic value read afterwards.
func (c *Central) Provision(ctx context.Context, addr bluetooth.Address, layout interfaces.ServiceLayout, plan []provisioning.PlannedWrite) ([]byte, error) {
	svc, err := bluetooth.ParseUUID(layout.ServiceUUID)
	if err != nil {
		return nil, err
	}

	device, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr.String(), err)
	}
	defer func() {
		if err := device.Disconnect(); err != nil {
			c.log.Warn("Disconnect failed", "err", err)
		}
	}()

	services, err := device.DiscoverServices([]bluetooth.UUID{svc})
	if err != nil {
		return nil, fmt.Errorf("discovering provisioning service: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("tag does not expose service %s", layout.ServiceUUID)
	}
	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("discovering characteristics: %w", err)
	}
	byUUID := make(map[string]bluetooth.DeviceCharacteristic, len(chars))
	for _, ch := range chars {
		byUUID[strings.ToLower(ch.UUID().String())] = ch
	}

	for i, w := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ch, ok := byUUID[w.UUID]
		if !ok {
			return nil, fmt.Errorf("characteristic %s (%s) missing", w.UUID, w.Role)
		}
		if _, err := ch.Write(w.Data); err != nil {
			return nil, fmt.Errorf("write %d to %s rejected: %w", i, w.Role, err)
		}
		c.log.Debug("Write acknowledged", "characteristic", w.Role.String(), "len", len(w.Data))
	}

	statusUUID, ok := layout.UUIDFor(interfaces.CharStatus)
	if !ok {
		return nil, nil
	}
	ch, ok := byUUID[statusUUID]
	if !ok {
		return nil, nil
	}
	buf := make([]byte, 16)
	n, err := ch.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}
	return buf[:n], nil
}
