package advertising

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/hybrid-tag/beacon"
	"github.com/ruteri/hybrid-tag/identity"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/ruteri/hybrid-tag/radio/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticIdentity struct {
	id interfaces.Identity
}

func (s *staticIdentity) Snapshot() interfaces.Identity {
	return s.id
}

var provisioningBroadcast = interfaces.Advertisement{
	LocalName:   "HYBRID-TAG",
	ServiceUUID: "12345678-1234-5678-1234-56789abcdef0",
}

func newTestController(t *testing.T, provisioned bool, initial interfaces.Protocol) (*Controller, *sim.Radio) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	radio := sim.NewRadio(log)
	require.NoError(t, radio.Enable(context.Background()))
	radio.ResetCalls()

	id := identity.Defaults()
	id.Provisioned = provisioned
	c := NewController(log, radio, beacon.NewEncoder(interfaces.GoogleFormatFEAA), &staticIdentity{id: id}, provisioningBroadcast, initial)
	return c, radio
}

func ops(calls []sim.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}

func TestRefreshUnprovisionedStartsProvisioningBroadcast(t *testing.T) {
	c, radio := newTestController(t, false, interfaces.ProtocolAppleFindMy)

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, []string{sim.OpStop, sim.OpStart}, ops(radio.Calls()), "no address change while unprovisioned")

	adv, on := radio.Advertising()
	require.True(t, on)
	assert.Equal(t, interfaces.ProvisioningAdvertisement, adv.Kind)
	assert.Equal(t, "HYBRID-TAG", adv.LocalName)
	assert.Empty(t, adv.Payload, "provisioning broadcast carries no key material")

	cur, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, interfaces.ProvisioningAdvertisement, cur.Kind)
}

func TestRefreshProvisionedOrder(t *testing.T) {
	c, radio := newTestController(t, true, interfaces.ProtocolAppleFindMy)

	require.NoError(t, c.Refresh(context.Background()))
	calls := radio.Calls()
	assert.Equal(t, []string{sim.OpStop, sim.OpSetAddress, sim.OpStart}, ops(calls))

	id := identity.Defaults()
	assert.Equal(t, beacon.AppleAddress(id.Apple), calls[1].Addr)
	assert.Equal(t, beacon.EncodeApple(id.Apple), calls[2].Adv.Payload)
	assert.Equal(t, interfaces.BeaconAdvertisement, calls[2].Adv.Kind)
	assert.Equal(t, interfaces.ProtocolAppleFindMy, calls[2].Adv.Protocol)
}

func TestRefreshIsIdempotent(t *testing.T) {
	c, radio := newTestController(t, true, interfaces.ProtocolGoogleFMDN)
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx))
	first, _ := c.Current()
	require.NoError(t, c.Refresh(ctx))
	second, _ := c.Current()

	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, first.Address, second.Address)

	calls := radio.Calls()
	require.Len(t, calls, 6)
	assert.Equal(t, calls[2].Adv.Payload, calls[5].Adv.Payload)
}

func TestRotateSwitchesProtocolAndAddress(t *testing.T) {
	c, radio := newTestController(t, true, interfaces.ProtocolAppleFindMy)
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, byte(0xC0), radio.Address()[5]&0xC0)

	require.NoError(t, c.Rotate(ctx))
	assert.Equal(t, interfaces.ProtocolGoogleFMDN, c.Active())
	assert.Equal(t, byte(0x00), radio.Address()[5]&0xC0)

	adv, on := radio.Advertising()
	require.True(t, on)
	assert.Len(t, adv.Payload, 24)
	assert.Equal(t, []byte{0xAA, 0xFE, 0x40}, adv.Payload[:3])

	require.NoError(t, c.Rotate(ctx))
	assert.Equal(t, interfaces.ProtocolAppleFindMy, c.Active())
	adv, _ = radio.Advertising()
	assert.Len(t, adv.Payload, 29)
}

func TestRefreshFailures(t *testing.T) {
	tests := []struct {
		name      string
		op        string
		wantOp    Op
		wantStart bool
		wantCalls []string
	}{
		{"stop", sim.OpStop, OpStop, false, []string{sim.OpStop}},
		{"set address", sim.OpSetAddress, OpSetAddress, false, []string{sim.OpStop, sim.OpSetAddress}},
		{"start", sim.OpStart, OpStart, true, []string{sim.OpStop, sim.OpSetAddress, sim.OpStart}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, radio := newTestController(t, true, interfaces.ProtocolAppleFindMy)
			radio.FailNext(tt.op, 1)

			err := c.Refresh(context.Background())
			require.Error(t, err)

			var aerr *AdvError
			require.True(t, errors.As(err, &aerr))
			assert.Equal(t, tt.wantOp, aerr.Op)
			assert.Equal(t, sim.CodeInjected, aerr.Code)
			assert.Equal(t, tt.wantStart, errors.Is(err, ErrStartFailed))
			assert.Equal(t, tt.wantCalls, ops(radio.Calls()), "refresh stops at the failing step")

			_, ok := c.Current()
			assert.False(t, ok)

			require.NoError(t, c.Refresh(context.Background()), "failure is not sticky")
		})
	}
}

func TestAdvErrorWithoutRadioCode(t *testing.T) {
	err := newAdvError(OpStart, errors.New("plain"))
	assert.Equal(t, NoCode, err.Code)
	assert.ErrorIs(t, err, ErrStartFailed)
	assert.Contains(t, err.Error(), "start")
}
