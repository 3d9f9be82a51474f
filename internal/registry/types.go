package registry

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("registry disabled")

// Config configures the deployment registry.
//
// Driver values:
//   - "file": dependency-free file backend (journal + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the registry is disabled and lifecycle
// operations fall back to scanning the unit directory.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Deployment records what create() put on disk for one service, so
// remove() and glob matching do not have to guess from directory
// listings alone.
type Deployment struct {
	Name      string    `json:"name"`
	Mode      string    `json:"mode"`
	Container string    `json:"container,omitempty"` // unified/docker modes
	UnitFiles []string  `json:"unit_files"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence API consumed by the lifecycle manager.
type Store interface {
	PutDeployment(d Deployment) error
	GetDeployment(name string) (Deployment, bool, error)
	ListDeployments() ([]Deployment, error)
	DeleteDeployment(name string) error
	Close() error
}
