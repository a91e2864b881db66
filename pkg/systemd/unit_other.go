//go:build !linux

package systemd

import "context"

type UnitProber struct{}

func NewUnitProber() *UnitProber { return &UnitProber{} }

func (p *UnitProber) State(ctx context.Context, name string) (UnitState, error) {
	return UnitState{}, ErrUnsupported
}

func (p *UnitProber) Close() {}
