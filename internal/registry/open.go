package registry

import (
	"errors"
	"strings"

	"unitforge/pkg/logx"
)

// Open initializes the configured registry store.
// It returns (nil, nil) if the registry is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown registry driver: " + driver)
	}
}
