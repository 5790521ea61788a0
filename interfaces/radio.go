package interfaces

import (
	"context"
	"fmt"
)

// AdvertisementKind distinguishes beacon frames from the provisioning broadcast.
type AdvertisementKind int

const (
	// BeaconAdvertisement carries a tracking-network frame and is non-connectable.
	BeaconAdvertisement AdvertisementKind = iota
	// ProvisioningAdvertisement is the connectable broadcast of an unprovisioned tag.
	ProvisioningAdvertisement
)

// String returns kind name.
func (k AdvertisementKind) String() string {
	if k == ProvisioningAdvertisement {
		return "provisioning"
	}
	return "beacon"
}

// Advertisement describes everything the radio needs to start advertising.
type Advertisement struct {
	Kind     AdvertisementKind
	Protocol Protocol
	// Payload is the complete encoded frame, company or service identifier included.
	Payload []byte

	// Provisioning broadcast only.
	LocalName   string
	ServiceUUID string
}

// RadioError reports a transport failure together with the stack's result code.
type RadioError struct {
	Op   string
	Code int
	Err  error
}

func (e *RadioError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("radio %s failed (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("radio %s failed (code %d)", e.Op, e.Code)
}

func (e *RadioError) Unwrap() error {
	return e.Err
}

// Radio is the advertising side of the wireless transport.
type Radio interface {
	// Enable brings the radio up. Failure is fatal for the tag.
	Enable(ctx context.Context) error

	// StopAdvertising stops any active advertising. Stopping an idle radio succeeds.
	StopAdvertising(ctx context.Context) error

	// SetLinkAddress sets the identity address. Only valid while not advertising.
	SetLinkAddress(ctx context.Context, addr LinkAddress) error

	// StartAdvertising starts advertising adv.
	StartAdvertising(ctx context.Context, adv Advertisement) error
}

// CharacteristicRole identifies what a provisioning characteristic carries.
type CharacteristicRole int

const (
	CharAuth CharacteristicRole = iota
	CharKey
	CharAppleKey
	CharGoogleKey
	CharStatus
)

// String returns role name.
func (r CharacteristicRole) String() string {
	switch r {
	case CharAuth:
		return "auth"
	case CharKey:
		return "key"
	case CharAppleKey:
		return "apple"
	case CharGoogleKey:
		return "google"
	case CharStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Characteristic binds a role to its 128-bit UUID.
type Characteristic struct {
	Role CharacteristicRole
	UUID string
}

// ServiceLayout is the provisioning GATT service exposed by the tag.
type ServiceLayout struct {
	ServiceUUID     string
	Characteristics []Characteristic
}

// UUIDFor returns the UUID of the characteristic with the given role.
func (l ServiceLayout) UUIDFor(role CharacteristicRole) (string, bool) {
	for _, c := range l.Characteristics {
		if c.Role == role {
			return c.UUID, true
		}
	}
	return "", false
}

// RoleFor returns the role of the characteristic with the given UUID.
func (l ServiceLayout) RoleFor(uuid string) (CharacteristicRole, bool) {
	for _, c := range l.Characteristics {
		if c.UUID == uuid {
			return c.Role, true
		}
	}
	return 0, false
}

// ConnectionID identifies a peer connection on the transport.
type ConnectionID uint16

// WriteRequest is a single characteristic write from a connected peer.
type WriteRequest struct {
	Conn   ConnectionID
	Role   CharacteristicRole
	Offset int
	Data   []byte
}

// ProvisioningHandler receives provisioning traffic from the GATT transport.
// HandleWrite returns the accepted length, or an error carrying a protocol code.
type ProvisioningHandler interface {
	HandleWrite(req WriteRequest) (int, error)
	Connected(conn ConnectionID)
	Disconnected(conn ConnectionID)
	ReadStatus() []byte
}

// GATTServer exposes the provisioning service to peers.
type GATTServer interface {
	ServeProvisioning(ctx context.Context, layout ServiceLayout, handler ProvisioningHandler) error
}

// Status is what the tag signals on its status indicator.
type Status int

const (
	StatusIdle Status = iota
	StatusProvisioning
	StatusBeaconing
	StatusRestarting
	StatusFault
)

// String returns status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusProvisioning:
		return "provisioning"
	case StatusBeaconing:
		return "beaconing"
	case StatusRestarting:
		return "restarting"
	case StatusFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Indicator shows the tag status to a human (LED, log line, ...).
type Indicator interface {
	Show(status Status)
}

// Restarter performs the controlled restart that applies committed keys.
type Restarter interface {
	Restart(ctx context.Context) error
}
