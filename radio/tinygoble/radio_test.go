package tinygoble

import (
	"testing"

	"github.com/ruteri/hybrid-tag/beacon"
	"github.com/ruteri/hybrid-tag/identity"
	"github.com/ruteri/hybrid-tag/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

func TestAdvertisementOptions(t *testing.T) {
	id := identity.Defaults()

	t.Run("apple", func(t *testing.T) {
		payload := beacon.EncodeApple(id.Apple)
		opts, err := advertisementOptions(interfaces.Advertisement{
			Kind:     interfaces.BeaconAdvertisement,
			Protocol: interfaces.ProtocolAppleFindMy,
			Payload:  payload,
		})
		require.NoError(t, err)
		assert.Equal(t, bluetooth.AdvertisingTypeNonConnInd, opts.AdvertisementType)
		require.Len(t, opts.ManufacturerData, 1)
		assert.Equal(t, uint16(0x004C), opts.ManufacturerData[0].CompanyID)
		assert.Equal(t, payload[2:], opts.ManufacturerData[0].Data)
		assert.Empty(t, opts.ServiceData)
	})

	for _, format := range []interfaces.GoogleFormat{interfaces.GoogleFormatFEAA, interfaces.GoogleFormatFE2C} {
		t.Run("google "+format.String(), func(t *testing.T) {
			payload := beacon.EncodeGoogle(format, id.Google)
			opts, err := advertisementOptions(interfaces.Advertisement{
				Kind:     interfaces.BeaconAdvertisement,
				Protocol: interfaces.ProtocolGoogleFMDN,
				Payload:  payload,
			})
			require.NoError(t, err)
			require.Len(t, opts.ServiceData, 1)
			assert.Equal(t, format.ServiceUUID(), opts.ServiceData[0].UUID.Get16Bit())
			assert.Equal(t, payload[2:], opts.ServiceData[0].Data)
			assert.Empty(t, opts.ManufacturerData)
		})
	}

	t.Run("provisioning", func(t *testing.T) {
		opts, err := advertisementOptions(interfaces.Advertisement{
			Kind:        interfaces.ProvisioningAdvertisement,
			LocalName:   "HYBRID-TAG",
			ServiceUUID: "12345678-1234-5678-1234-56789abcdef0",
		})
		require.NoError(t, err)
		assert.Equal(t, bluetooth.AdvertisingTypeInd, opts.AdvertisementType)
		assert.Equal(t, "HYBRID-TAG", opts.LocalName)
		assert.Empty(t, opts.ServiceUUIDs)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := advertisementOptions(interfaces.Advertisement{Kind: interfaces.BeaconAdvertisement, Payload: []byte{1}})
		assert.Error(t, err)

		_, err = advertisementOptions(interfaces.Advertisement{Kind: interfaces.ProvisioningAdvertisement, ServiceUUID: "nope"})
		assert.Error(t, err)

		bad := beacon.EncodeApple(id.Apple)
		bad[0] = 0x01
		_, err = advertisementOptions(interfaces.Advertisement{Kind: interfaces.BeaconAdvertisement, Protocol: interfaces.ProtocolAppleFindMy, Payload: bad})
		assert.Error(t, err)
	})
}

func TestAdvertisementsFitLegacyPDU(t *testing.T) {
	id := identity.Defaults()
	tests := []struct {
		name string
		adv  interfaces.Advertisement
		want int
	}{
		{
			name: "apple",
			adv:  interfaces.Advertisement{Kind: interfaces.BeaconAdvertisement, Protocol: interfaces.ProtocolAppleFindMy, Payload: beacon.EncodeApple(id.Apple)},
			want: 31,
		},
		{
			name: "google feaa",
			adv:  interfaces.Advertisement{Kind: interfaces.BeaconAdvertisement, Protocol: interfaces.ProtocolGoogleFMDN, Payload: beacon.EncodeGoogle(interfaces.GoogleFormatFEAA, id.Google)},
			want: 30,
		},
		{
			name: "google fe2c",
			adv:  interfaces.Advertisement{Kind: interfaces.BeaconAdvertisement, Protocol: interfaces.ProtocolGoogleFMDN, Payload: beacon.EncodeGoogle(interfaces.GoogleFormatFE2C, id.Google)},
			want: 29,
		},
		{
			name: "provisioning dual",
			adv:  interfaces.Advertisement{Kind: interfaces.ProvisioningAdvertisement, LocalName: "HYBRID-TAG", ServiceUUID: "12345678-1234-5678-1234-56789abcdef0"},
			want: 15,
		},
		{
			name: "provisioning single",
			adv:  interfaces.Advertisement{Kind: interfaces.ProvisioningAdvertisement, LocalName: "HYBRID-TAG", ServiceUUID: "8c5debdb-ad8d-4810-a31f-53862e79ee77"},
			want: 15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := advertisementOptions(tt.adv)
			require.NoError(t, err)
			n := advertisingDataLen(opts)
			assert.Equal(t, tt.want, n)
			assert.LessOrEqual(t, n, MaxLegacyAdvertisement)
		})
	}

	t.Run("oversized name rejected", func(t *testing.T) {
		_, err := advertisementOptions(interfaces.Advertisement{
			Kind:        interfaces.ProvisioningAdvertisement,
			LocalName:   "A-NAME-THAT-IS-FAR-TOO-LONG-FOR-ONE-PDU",
			ServiceUUID: "12345678-1234-5678-1234-56789abcdef0",
		})
		assert.ErrorContains(t, err, "limit 31")
	})
}
