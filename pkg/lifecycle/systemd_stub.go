//go:build !linux

package lifecycle

import (
	"context"
	"errors"

	"unitforge/pkg/logx"
)

// ErrUnsupported is returned on platforms without a system bus.
// Rendering and compilation still work everywhere; only the live
// systemd connection is linux-only.
var ErrUnsupported = errors.New("lifecycle: systemd requires linux")

type DBusClient struct{}

func NewDBusClient(ctx context.Context, log logx.Logger) (*DBusClient, error) {
	_ = ctx
	_ = log
	return nil, ErrUnsupported
}

func (c *DBusClient) StartUnit(context.Context, string) error          { return ErrUnsupported }
func (c *DBusClient) StopUnit(context.Context, string) error           { return ErrUnsupported }
func (c *DBusClient) EnableUnitFiles(context.Context, []string) error  { return ErrUnsupported }
func (c *DBusClient) DisableUnitFiles(context.Context, []string) error { return ErrUnsupported }
func (c *DBusClient) Reload(context.Context) error                     { return ErrUnsupported }
func (c *DBusClient) UnitStatus(context.Context, string) (UnitStatus, error) {
	return UnitStatus{}, ErrUnsupported
}
func (c *DBusClient) Close() error { return nil }
