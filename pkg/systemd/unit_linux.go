//go:build linux

package systemd

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// UnitProber reads unit state from the system manager. The connection is
// opened lazily and reopened after a failure.
type UnitProber struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func NewUnitProber() *UnitProber { return &UnitProber{} }

func (p *UnitProber) connLocked(ctx context.Context) (*dbus.Conn, error) {
	if p.conn != nil && p.conn.Connected() {
		return p.conn, nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	p.conn = conn
	return conn, nil
}

// State returns the current state of name. A missing unit is reported with
// LoadState "not-found" rather than an error.
func (p *UnitProber) State(ctx context.Context, name string) (UnitState, error) {
	unit := unitName(name)
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := p.connLocked(ctx)
	if err != nil {
		return UnitState{}, err
	}
	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchUnit") {
			return UnitState{Name: unit, Active: "unknown", LoadState: "not-found"}, nil
		}
		return UnitState{}, fmt.Errorf("unit %s: %w", unit, err)
	}
	return UnitState{
		Name:        unit,
		Active:      getString(props, "ActiveState"),
		SubState:    getString(props, "SubState"),
		LoadState:   getString(props, "LoadState"),
		StateChange: getTimestamp(props, "StateChangeTimestamp"),
	}, nil
}

func (p *UnitProber) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
