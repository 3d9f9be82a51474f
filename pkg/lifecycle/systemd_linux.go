//go:build linux

package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"

	"unitforge/pkg/logx"
)

// DBusClient talks to systemd over the system bus. It implements
// Client; everything above it is platform-neutral.
type DBusClient struct {
	conn *dbus.Conn
	log  logx.Logger
}

func NewDBusClient(ctx context.Context, log logx.Logger) (*DBusClient, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to systemd: %w", err)
	}
	return &DBusClient{conn: conn, log: log}, nil
}

func (c *DBusClient) StartUnit(ctx context.Context, unit string) error {
	if _, err := c.conn.StartUnitContext(ctx, unit, "replace", nil); err != nil {
		return fmt.Errorf("starting %s: %w", unit, err)
	}
	return nil
}

func (c *DBusClient) StopUnit(ctx context.Context, unit string) error {
	if _, err := c.conn.StopUnitContext(ctx, unit, "replace", nil); err != nil {
		if isNoSuchUnitErr(err) {
			// Stopping a unit that does not exist is a no-op, not a failure.
			return nil
		}
		return fmt.Errorf("stopping %s: %w", unit, err)
	}
	return nil
}

func (c *DBusClient) EnableUnitFiles(ctx context.Context, units []string) error {
	if _, _, err := c.conn.EnableUnitFilesContext(ctx, units, false, true); err != nil {
		return fmt.Errorf("enabling %v: %w", units, err)
	}
	return nil
}

func (c *DBusClient) DisableUnitFiles(ctx context.Context, units []string) error {
	if _, err := c.conn.DisableUnitFilesContext(ctx, units, false); err != nil {
		return fmt.Errorf("disabling %v: %w", units, err)
	}
	return nil
}

func (c *DBusClient) Reload(ctx context.Context) error {
	return c.conn.ReloadContext(ctx)
}

// UnitStatus reads the unit's state. The lightweight pattern listing
// covers the common case; the full property map is only pulled when the
// listing misses or a timestamp is needed.
func (c *DBusClient) UnitStatus(ctx context.Context, unit string) (UnitStatus, error) {
	st := UnitStatus{Name: unit, Enabled: c.enabled(ctx, unit)}

	units, err := c.conn.ListUnitsByPatternsContext(ctx, nil, []string{unit})
	if err == nil && len(units) > 0 {
		u := units[0]
		for _, x := range units {
			if x.Name == unit {
				u = x
				break
			}
		}
		st.ActiveState = u.ActiveState
		st.SubState = u.SubState
		st.LoadState = u.LoadState
		if st.ActiveState == "active" {
			if props, perr := c.conn.GetUnitPropertiesContext(ctx, unit); perr == nil {
				st.Since = parseTimestamp(props, "ActiveEnterTimestamp")
			}
		}
		return st, nil
	}

	props, err := c.conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			st.ActiveState = "unknown"
			st.LoadState = "not-found"
			return st, nil
		}
		return UnitStatus{}, fmt.Errorf("reading status of %s: %w", unit, err)
	}
	st.ActiveState, _ = stringProp(props, "ActiveState")
	st.SubState, _ = stringProp(props, "SubState")
	st.LoadState, _ = stringProp(props, "LoadState")
	st.Since = parseTimestamp(props, "ActiveEnterTimestamp")
	return st, nil
}

func (c *DBusClient) Close() error {
	c.conn.Close()
	return nil
}

func (c *DBusClient) enabled(ctx context.Context, unit string) bool {
	states, err := c.conn.ListUnitFilesByPatternsContext(ctx, nil, []string{unit})
	if err != nil {
		return false
	}
	for _, s := range states {
		if s.Path == unit || strings.HasSuffix(s.Path, "/"+unit) {
			return s.Type == "enabled"
		}
	}
	return false
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}

func parseTimestamp(props map[string]interface{}, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// systemd timestamps are microseconds since the Unix epoch
		return time.Unix(int64(ts/1_000_000), 0)
	}
	return time.Time{}
}

func stringProp(props map[string]interface{}, key string) (string, bool) {
	v, ok := props[key].(string)
	return v, ok
}
