package tinygoble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/hybrid-tag/interfaces"
	"tinygo.org/x/bluetooth"
)

// GATT serves the provisioning service on a tinygo bluetooth adapter.
//
// The stack acknowledges every write before the handler sees it, so rejected
// writes are logged and reflected in the status characteristic rather than
// returned to the peer as ATT errors.
type GATT struct {
	adapter *bluetooth.Adapter
	log     *slog.Logger

	mu     sync.Mutex
	status bluetooth.Characteristic
	conns  uint16
}

// NewGATT creates a GATT server on adapter. A nil adapter selects the default one.
func NewGATT(adapter *bluetooth.Adapter, log *slog.Logger) *GATT {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	return &GATT{adapter: adapter, log: log}
}

// ServeProvisioning registers the service described by layout.
func (g *GATT) ServeProvisioning(ctx context.Context, layout interfaces.ServiceLayout, handler interfaces.ProvisioningHandler) error {
	svcUUID, err := bluetooth.ParseUUID(layout.ServiceUUID)
	if err != nil {
		return fmt.Errorf("service uuid %q: %w", layout.ServiceUUID, err)
	}

	chars := make([]bluetooth.CharacteristicConfig, 0, len(layout.Characteristics))
	for _, c := range layout.Characteristics {
		u, err := bluetooth.ParseUUID(c.UUID)
		if err != nil {
			return fmt.Errorf("characteristic uuid %q: %w", c.UUID, err)
		}

		if c.Role == interfaces.CharStatus {
			chars = append(chars, bluetooth.CharacteristicConfig{
				Handle: &g.status,
				UUID:   u,
				Value:  handler.ReadStatus(),
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			})
			continue
		}

		role := c.Role
		chars = append(chars, bluetooth.CharacteristicConfig{
			UUID:  u,
			Flags: bluetooth.CharacteristicWritePermission,
			WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
				req := interfaces.WriteRequest{
					Conn:   interfaces.ConnectionID(client),
					Role:   role,
					Offset: offset,
					Data:   append([]byte(nil), value...),
				}
				if _, err := handler.HandleWrite(req); err != nil {
					g.log.Warn("Provisioning write rejected after acknowledgement", "characteristic", role.String(), "err", err)
				}
				g.publishStatus(handler)
			},
		})
	}

	g.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		g.mu.Lock()
		if connected {
			g.conns++
		}
		conn := interfaces.ConnectionID(g.conns)
		g.mu.Unlock()

		if connected {
			g.log.Info("Central connected", "addr", device.Address.String())
			handler.Connected(conn)
		} else {
			g.log.Info("Central disconnected", "addr", device.Address.String())
			handler.Disconnected(conn)
		}
		g.publishStatus(handler)
	})

	if err := g.adapter.AddService(&bluetooth.Service{
		UUID:            svcUUID,
		Characteristics: chars,
	}); err != nil {
		return fmt.Errorf("adding provisioning service: %w", err)
	}
	g.log.Info("Provisioning service registered", "service", layout.ServiceUUID)
	return nil
}

func (g *GATT) publishStatus(handler interfaces.ProvisioningHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.status.Write(handler.ReadStatus()); err != nil {
		g.log.Debug("Status characteristic update failed", "err", err)
	}
}
