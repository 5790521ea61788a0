// Package sim is an in-process radio and GATT transport. It records every
// call, enforces the radio ordering rules and lets a bench or a test play the
// role of a provisioning peer.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/hybrid-tag/interfaces"
)

const (
	OpEnable     = "enable"
	OpStop       = "stop"
	OpSetAddress = "set_address"
	OpStart      = "start"
)

// Result codes reported by the simulated stack.
const (
	CodeNotEnabled = 8
	CodeBusy       = 16
	CodeInjected   = 99
)

var (
	ErrNotServing   = errors.New("no provisioning service registered")
	ErrNotConnected = errors.New("connection not open")
	ErrUnknownUUID  = errors.New("characteristic not in layout")
)

// Call is one recorded radio operation.
type Call struct {
	Op   string
	Addr interfaces.LinkAddress
	Adv  interfaces.Advertisement
}

// Radio is a simulated advertising radio.
type Radio struct {
	log *slog.Logger

	mu          sync.Mutex
	enabled     bool
	advertising bool
	addr        interfaces.LinkAddress
	current     interfaces.Advertisement
	calls       []Call
	failNext    map[string]int
}

// NewRadio creates a disabled radio.
func NewRadio(log *slog.Logger) *Radio {
	return &Radio{
		log:      log,
		failNext: make(map[string]int),
	}
}

// FailNext makes the next n calls of op fail with CodeInjected.
func (r *Radio) FailNext(op string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext[op] += n
}

func (r *Radio) injectedLocked(op string) error {
	if r.failNext[op] == 0 {
		return nil
	}
	r.failNext[op]--
	return &interfaces.RadioError{Op: op, Code: CodeInjected, Err: errors.New("injected failure")}
}

func (r *Radio) Enable(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Op: OpEnable})
	if err := r.injectedLocked(OpEnable); err != nil {
		return err
	}
	r.enabled = true
	return nil
}

func (r *Radio) StopAdvertising(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Op: OpStop})
	if err := r.injectedLocked(OpStop); err != nil {
		return err
	}
	r.advertising = false
	return nil
}

func (r *Radio) SetLinkAddress(ctx context.Context, addr interfaces.LinkAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Op: OpSetAddress, Addr: addr})
	if err := r.injectedLocked(OpSetAddress); err != nil {
		return err
	}
	if r.advertising {
		return &interfaces.RadioError{Op: OpSetAddress, Code: CodeBusy, Err: errors.New("address change while advertising")}
	}
	r.addr = addr
	return nil
}

func (r *Radio) StartAdvertising(ctx context.Context, adv interfaces.Advertisement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	adv.Payload = append([]byte(nil), adv.Payload...)
	r.calls = append(r.calls, Call{Op: OpStart, Adv: adv})
	if err := r.injectedLocked(OpStart); err != nil {
		return err
	}
	if !r.enabled {
		return &interfaces.RadioError{Op: OpStart, Code: CodeNotEnabled, Err: errors.New("radio not enabled")}
	}
	r.advertising = true
	r.current = adv
	r.log.Debug("Simulated advertising started", "kind", adv.Kind.String(), "addr", r.addr.String())
	return nil
}

// Calls returns a copy of the recorded calls.
func (r *Radio) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// ResetCalls clears the call log.
func (r *Radio) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Advertising returns what is on air, if anything.
func (r *Radio) Advertising() (interfaces.Advertisement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.advertising
}

// Address returns the latched link address.
func (r *Radio) Address() interfaces.LinkAddress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// GATT is a simulated GATT server with a bench-side peer API.
type GATT struct {
	mu       sync.Mutex
	layout   interfaces.ServiceLayout
	handler  interfaces.ProvisioningHandler
	nextConn interfaces.ConnectionID
	open     map[interfaces.ConnectionID]bool
}

// NewGATT creates a GATT server with no service.
func NewGATT() *GATT {
	return &GATT{open: make(map[interfaces.ConnectionID]bool)}
}

// ServeProvisioning registers the provisioning service.
func (g *GATT) ServeProvisioning(ctx context.Context, layout interfaces.ServiceLayout, handler interfaces.ProvisioningHandler) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.layout = layout
	g.handler = handler
	return nil
}

// Layout returns the registered layout.
func (g *GATT) Layout() (interfaces.ServiceLayout, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.layout, g.handler != nil
}

// Connect opens a peer connection.
func (g *GATT) Connect() (interfaces.ConnectionID, error) {
	g.mu.Lock()
	if g.handler == nil {
		g.mu.Unlock()
		return 0, ErrNotServing
	}
	g.nextConn++
	conn := g.nextConn
	g.open[conn] = true
	h := g.handler
	g.mu.Unlock()

	h.Connected(conn)
	return conn, nil
}

// Disconnect closes a peer connection.
func (g *GATT) Disconnect(conn interfaces.ConnectionID) error {
	g.mu.Lock()
	if !g.open[conn] {
		g.mu.Unlock()
		return ErrNotConnected
	}
	delete(g.open, conn)
	h := g.handler
	g.mu.Unlock()

	h.Disconnected(conn)
	return nil
}

// Write delivers a characteristic write from conn to the handler.
func (g *GATT) Write(conn interfaces.ConnectionID, uuid string, offset int, data []byte) (int, error) {
	h, role, err := g.resolve(conn, uuid)
	if err != nil {
		return 0, err
	}
	return h.HandleWrite(interfaces.WriteRequest{Conn: conn, Role: role, Offset: offset, Data: data})
}

// Read reads the status characteristic.
func (g *GATT) Read(conn interfaces.ConnectionID, uuid string) ([]byte, error) {
	h, role, err := g.resolve(conn, uuid)
	if err != nil {
		return nil, err
	}
	if role != interfaces.CharStatus {
		return nil, fmt.Errorf("%w: %s is not readable", ErrUnknownUUID, role)
	}
	return h.ReadStatus(), nil
}

func (g *GATT) resolve(conn interfaces.ConnectionID, uuid string) (interfaces.ProvisioningHandler, interfaces.CharacteristicRole, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.handler == nil {
		return nil, 0, ErrNotServing
	}
	if !g.open[conn] {
		return nil, 0, ErrNotConnected
	}
	role, ok := g.layout.RoleFor(uuid)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownUUID, uuid)
	}
	return g.handler, role, nil
}
