// Package tinygoble drives a real Bluetooth LE controller through
// tinygo.org/x/bluetooth. It provides the tag-side radio and GATT server as
// well as the central-side helpers used by the provisioner.
package tinygoble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/hybrid-tag/beacon"
	"github.com/ruteri/hybrid-tag/interfaces"
	"tinygo.org/x/bluetooth"
)

// CodeUnknown is reported when the stack error carries no result code.
const CodeUnknown = -1

// MaxLegacyAdvertisement is the size of a legacy advertising data PDU.
const MaxLegacyAdvertisement = 31

// addressSetter is implemented by stacks that let the host pick the random address.
type addressSetter interface {
	SetRandomAddress(mac bluetooth.MAC) error
}

// Radio advertises through a tinygo bluetooth adapter.
type Radio struct {
	adapter *bluetooth.Adapter
	log     *slog.Logger

	mu          sync.Mutex
	adv         *bluetooth.Advertisement
	advertising bool
	warnedAddr  bool
}

// NewRadio creates a radio on adapter. A nil adapter selects the default one.
func NewRadio(adapter *bluetooth.Adapter, log *slog.Logger) *Radio {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	return &Radio{adapter: adapter, log: log}
}

// Adapter returns the underlying adapter.
func (r *Radio) Adapter() *bluetooth.Adapter {
	return r.adapter
}

func radioError(op string, err error) error {
	return &interfaces.RadioError{Op: op, Code: CodeUnknown, Err: err}
}

func (r *Radio) Enable(ctx context.Context) error {
	if err := r.adapter.Enable(); err != nil {
		return radioError("enable", err)
	}

	r.mu.Lock()
	r.adv = r.adapter.DefaultAdvertisement()
	r.mu.Unlock()

	if addr, err := r.adapter.Address(); err == nil {
		r.log.Info("Bluetooth adapter enabled", "addr", addr.MAC.String())
	}
	return nil
}

func (r *Radio) StopAdvertising(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.advertising || r.adv == nil {
		return nil
	}
	if err := r.adv.Stop(); err != nil {
		return radioError("stop", err)
	}
	r.advertising = false
	return nil
}

// SetLinkAddress sets the random address on stacks that allow it. Host stacks
// that manage the address themselves keep theirs and a warning is logged once.
func (r *Radio) SetLinkAddress(ctx context.Context, addr interfaces.LinkAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.advertising {
		return radioError("set_address", fmt.Errorf("address change while advertising"))
	}

	setter, ok := any(r.adapter).(addressSetter)
	if !ok {
		if !r.warnedAddr {
			r.log.Warn("Host stack does not support setting the link address", "addr", addr.String())
			r.warnedAddr = true
		}
		return nil
	}
	if err := setter.SetRandomAddress(bluetooth.MAC(addr)); err != nil {
		return radioError("set_address", err)
	}
	return nil
}

func (r *Radio) StartAdvertising(ctx context.Context, adv interfaces.Advertisement) error {
	opts, err := advertisementOptions(adv)
	if err != nil {
		return radioError("start", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.adv == nil {
		return radioError("start", fmt.Errorf("adapter not enabled"))
	}
	if err := r.adv.Configure(opts); err != nil {
		return radioError("start", err)
	}
	if err := r.adv.Start(); err != nil {
		return radioError("start", err)
	}
	r.advertising = true
	return nil
}

// advertisementOptions maps an advertisement onto the stack's options and
// checks it fits a legacy advertising PDU. Beacon payloads carry their 16-bit
// identifier in the first two bytes, which the stack writes itself.
func advertisementOptions(adv interfaces.Advertisement) (bluetooth.AdvertisementOptions, error) {
	opts, err := mapAdvertisement(adv)
	if err != nil {
		return opts, err
	}
	if n := advertisingDataLen(opts); n > MaxLegacyAdvertisement {
		return opts, fmt.Errorf("advertising data is %d bytes, limit %d", n, MaxLegacyAdvertisement)
	}
	return opts, nil
}

func mapAdvertisement(adv interfaces.Advertisement) (bluetooth.AdvertisementOptions, error) {
	if adv.Kind == interfaces.ProvisioningAdvertisement {
		// Flags, name and a 128-bit service UUID do not fit together. The
		// central matches on the name, the UUID is found by service discovery.
		if _, err := bluetooth.ParseUUID(adv.ServiceUUID); err != nil {
			return bluetooth.AdvertisementOptions{}, fmt.Errorf("provisioning service uuid: %w", err)
		}
		return bluetooth.AdvertisementOptions{
			AdvertisementType: bluetooth.AdvertisingTypeInd,
			LocalName:         adv.LocalName,
		}, nil
	}

	if len(adv.Payload) < 3 {
		return bluetooth.AdvertisementOptions{}, fmt.Errorf("beacon payload too short: %d bytes", len(adv.Payload))
	}
	id := uint16(adv.Payload[0]) | uint16(adv.Payload[1])<<8
	data := adv.Payload[2:]

	opts := bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeNonConnInd,
	}
	if adv.Protocol == interfaces.ProtocolAppleFindMy {
		if id != beacon.AppleCompanyID {
			return opts, fmt.Errorf("unexpected company id 0x%04x", id)
		}
		opts.ManufacturerData = []bluetooth.ManufacturerDataElement{{CompanyID: id, Data: data}}
		return opts, nil
	}

	svc := bluetooth.New16BitUUID(id)
	opts.ServiceUUIDs = []bluetooth.UUID{svc}
	opts.ServiceData = []bluetooth.ServiceDataElement{{UUID: svc, Data: data}}
	return opts, nil
}

// advertisingDataLen returns the legacy AD size of opts. The flags field is
// only sent by connectable advertisements.
func advertisingDataLen(opts bluetooth.AdvertisementOptions) int {
	n := 0
	if opts.AdvertisementType == bluetooth.AdvertisingTypeInd {
		n += 3
	}
	if opts.LocalName != "" {
		n += 2 + len(opts.LocalName)
	}
	for _, u := range opts.ServiceUUIDs {
		n += 2 + uuidLen(u)
	}
	for _, m := range opts.ManufacturerData {
		n += 4 + len(m.Data)
	}
	for _, sd := range opts.ServiceData {
		n += 2 + uuidLen(sd.UUID) + len(sd.Data)
	}
	return n
}

func uuidLen(u bluetooth.UUID) int {
	if u.Is16Bit() {
		return 2
	}
	return 16
}
