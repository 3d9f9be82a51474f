// Package lifecycle ties compiled resource and schedule models to the
// OS: it renders unit files, writes them into the unit directory, and
// drives systemd (and, for container modes, the docker CLI) through
// the create/start/stop/enable/disable/remove operations.
//
// The compilers underneath are pure; everything with a side effect
// lives here. The manager performs blocking I/O and relies on
// systemd's own per-unit serialization for concurrent calls against
// the same unit name — it adds no mutex of its own.
package lifecycle

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"unitforge/internal/registry"
	"unitforge/pkg/logx"
	"unitforge/pkg/resmodel"
	"unitforge/pkg/schedule"
	"unitforge/pkg/sysdunit"
)

// Mode selects which backends a service is compiled for.
type Mode string

const (
	// ModeSystemd runs a plain executable under a systemd service.
	ModeSystemd Mode = "systemd"
	// ModeDocker runs a container; systemd only supervises the
	// docker CLI, resource limits live on the container.
	ModeDocker Mode = "docker"
	// ModeUnified runs a container inside a systemd slice with
	// delegated cgroup control: the slice's limits apply whenever
	// systemd starts the container, the container's own limits apply
	// on direct docker CLI starts.
	ModeUnified Mode = "unified"
)

// State is the deployment half of the lifecycle state machine. The
// run-state half (active/inactive/failed) is owned by systemd and read
// back via Status.
type State string

const (
	StateUndeployed State = "undeployed"
	StateCreated    State = "created"
)

// Definition is one operator-authored service: what to run, under
// which constraints, on which schedules.
type Definition struct {
	Name        string
	Description string
	Mode        Mode

	// ModeSystemd
	ExecStart []string

	// Container modes
	Image   string
	Command []string

	Resources *resmodel.Model
	Schedules []schedule.Model

	// EnvFile is resolved against the manager's allowed root before
	// it lands in an EnvironmentFile directive.
	EnvFile string
}

func (d Definition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("service name is required")
	}
	switch d.Mode {
	case ModeSystemd:
		if len(d.ExecStart) == 0 {
			return fmt.Errorf("service %s: exec command is required for systemd mode", d.Name)
		}
	case ModeDocker, ModeUnified:
		if d.Image == "" {
			return fmt.Errorf("service %s: image is required for %s mode", d.Name, d.Mode)
		}
	default:
		return fmt.Errorf("service %s: unknown mode %q", d.Name, d.Mode)
	}
	if d.Resources != nil {
		if err := d.Resources.Validate(); err != nil {
			return fmt.Errorf("service %s: %w", d.Name, err)
		}
	}
	return nil
}

// OperationResult wraps the result of a single unit operation.
type OperationResult struct {
	ServiceName string
	Success     bool
	Error       error
	Message     string
}

// BatchResult wraps results of one operation applied to every unit a
// name pattern matched. Zero matches is an empty success, not an
// error; callers can tell "nothing matched" from "operation failed".
type BatchResult struct {
	Results      []OperationResult
	SuccessCount int
	FailureCount int
	Total        int
}

// Affected lists the service names the operation touched.
func (b BatchResult) Affected() []string {
	out := make([]string, len(b.Results))
	for i, r := range b.Results {
		out[i] = r.ServiceName
	}
	return out
}

// UnitStatus is the systemd-side view of one unit.
type UnitStatus struct {
	Name        string
	ActiveState string // active, inactive, failed, ...
	SubState    string
	LoadState   string
	Enabled     bool
	Since       time.Time
}

// Client is the systemd control surface the manager drives. The D-Bus
// implementation lives in systemd_linux.go; tests substitute a fake.
type Client interface {
	StartUnit(ctx context.Context, unit string) error
	StopUnit(ctx context.Context, unit string) error
	EnableUnitFiles(ctx context.Context, units []string) error
	DisableUnitFiles(ctx context.Context, units []string) error
	Reload(ctx context.Context) error
	UnitStatus(ctx context.Context, unit string) (UnitStatus, error)
	Close() error
}

// ContainerRuntime is the docker-side control surface.
type ContainerRuntime interface {
	Create(ctx context.Context, spec ContainerSpec) error
	Remove(ctx context.Context, name string, force bool) error
}

// ContainerSpec is everything a docker create invocation needs.
type ContainerSpec struct {
	Name         string
	Image        string
	Command      []string
	Args         []string // compiled resource flags
	CgroupParent string   // unified mode: the slice unit name
}

// Options wires a Manager.
type Options struct {
	// UnitDir is where rendered unit files land,
	// e.g. /etc/systemd/system.
	UnitDir string
	// EnvRoot is the only directory environment files may come from.
	// Empty disables EnvFile support.
	EnvRoot string

	Client   Client
	Runtime  ContainerRuntime
	Registry registry.Store // optional
	Log      logx.Logger

	// ReloadPerSec throttles daemon-reload after unit writes; bursts
	// of create() calls coalesce behind the limiter. 0 = 1/s.
	ReloadPerSec float64
}

// Manager orchestrates the service lifecycle state machine.
//
// Caller contract: Create must complete before Start or Enable target
// the same service name; the manager does not enforce that ordering.
type Manager struct {
	unitDir string
	envRoot string
	client  Client
	runtime ContainerRuntime
	store   registry.Store
	log     logx.Logger
	comp    *schedule.Compiler
	reload  *rate.Limiter
}

func NewManager(opts Options) *Manager {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	per := opts.ReloadPerSec
	if per <= 0 {
		per = 1
	}
	return &Manager{
		unitDir: opts.UnitDir,
		envRoot: opts.EnvRoot,
		client:  opts.Client,
		runtime: opts.Runtime,
		store:   opts.Registry,
		log:     log,
		comp:    schedule.NewCompiler(log),
		reload:  rate.NewLimiter(rate.Limit(per), 1),
	}
}

// Create compiles and renders the definition, writes the artifacts,
// creates the container for container modes, and records the
// deployment. Re-running overwrites prior content (idempotent).
func (m *Manager) Create(ctx context.Context, def Definition) (*Artifacts, error) {
	art, err := m.Render(def)
	if err != nil {
		return nil, err
	}

	if err := m.writeArtifacts(art); err != nil {
		return nil, err
	}

	if def.Mode == ModeDocker || def.Mode == ModeUnified {
		if m.runtime == nil {
			return nil, fmt.Errorf("service %s: mode %s needs a container runtime", def.Name, def.Mode)
		}
		// Idempotency: replace any previous container of the same name.
		_ = m.runtime.Remove(ctx, def.Name, true)
		if err := m.runtime.Create(ctx, art.Container); err != nil {
			return nil, fmt.Errorf("creating container %s: %w", def.Name, err)
		}
	}

	if m.store != nil {
		rec := registry.Deployment{
			Name:      def.Name,
			Mode:      string(def.Mode),
			UnitFiles: art.paths(),
			CreatedAt: time.Now(),
		}
		if def.Mode != ModeSystemd {
			rec.Container = def.Name
		}
		if err := m.store.PutDeployment(rec); err != nil {
			m.log.Warn("recording deployment failed", logx.String("service", def.Name), logx.Err(err))
		}
	}

	m.daemonReload(ctx)

	m.log.Info("service created",
		logx.String("service", def.Name),
		logx.String("mode", string(def.Mode)),
		logx.Int("units", len(art.Units)))
	return art, nil
}

// Start activates every unit the pattern matches.
func (m *Manager) Start(ctx context.Context, pattern string) (BatchResult, error) {
	return m.batch(ctx, pattern, "start", func(ctx context.Context, name string) error {
		return m.client.StartUnit(ctx, sysdunit.ServiceUnit(name))
	})
}

// Stop deactivates every unit the pattern matches.
func (m *Manager) Stop(ctx context.Context, pattern string) (BatchResult, error) {
	return m.batch(ctx, pattern, "stop", func(ctx context.Context, name string) error {
		return m.client.StopUnit(ctx, sysdunit.ServiceUnit(name))
	})
}

// Restart is stop followed by start, not a distinct primitive, so any
// side effect visible only during the stop phase always fires.
func (m *Manager) Restart(ctx context.Context, pattern string) (BatchResult, error) {
	return m.batch(ctx, pattern, "restart", func(ctx context.Context, name string) error {
		unit := sysdunit.ServiceUnit(name)
		if err := m.client.StopUnit(ctx, unit); err != nil {
			// Stopping an already-dead unit is not a restart failure.
			m.log.Debug("stop during restart", logx.String("unit", unit), logx.Err(err))
		}
		return m.client.StartUnit(ctx, unit)
	})
}

// Enable toggles boot-time activation on without touching run state.
// Timer-driven services enable the timer unit as well so schedules
// survive reboots.
func (m *Manager) Enable(ctx context.Context, pattern string) (BatchResult, error) {
	return m.batch(ctx, pattern, "enable", func(ctx context.Context, name string) error {
		return m.client.EnableUnitFiles(ctx, m.installableUnits(name))
	})
}

// Disable toggles boot-time activation off without touching run state.
func (m *Manager) Disable(ctx context.Context, pattern string) (BatchResult, error) {
	return m.batch(ctx, pattern, "disable", func(ctx context.Context, name string) error {
		return m.client.DisableUnitFiles(ctx, m.installableUnits(name))
	})
}

// Remove stops the service best-effort, then deletes every artifact
// create() produced, returning the service to Undeployed.
func (m *Manager) Remove(ctx context.Context, pattern string) (BatchResult, error) {
	return m.batch(ctx, pattern, "remove", func(ctx context.Context, name string) error {
		// Best-effort stop; a unit that never ran must not block removal.
		if err := m.client.StopUnit(ctx, sysdunit.ServiceUnit(name)); err != nil {
			m.log.Debug("stop before remove", logx.String("service", name), logx.Err(err))
		}
		if err := m.removeArtifacts(ctx, name); err != nil {
			return err
		}
		m.daemonReload(ctx)
		return nil
	})
}

// Status reads the systemd view of every unit the pattern matches.
func (m *Manager) Status(ctx context.Context, pattern string) ([]UnitStatus, error) {
	names, err := m.resolve(pattern)
	if err != nil {
		return nil, err
	}
	out := make([]UnitStatus, 0, len(names))
	for _, name := range names {
		st, err := m.client.UnitStatus(ctx, sysdunit.ServiceUnit(name))
		if err != nil {
			out = append(out, UnitStatus{Name: name, ActiveState: "unknown", LoadState: "error"})
			continue
		}
		st.Name = name
		out = append(out, st)
	}
	return out, nil
}

func (m *Manager) batch(
	ctx context.Context,
	pattern, action string,
	op func(context.Context, string) error,
) (BatchResult, error) {
	names, err := m.resolve(pattern)
	if err != nil {
		return BatchResult{}, err
	}

	results := make([]OperationResult, 0, len(names))
	for _, name := range names {
		// Bound each unit operation to avoid hanging on one D-Bus call.
		opCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		opErr := op(opCtx, name)
		cancel()

		results = append(results, OperationResult{
			ServiceName: name,
			Success:     opErr == nil,
			Error:       opErr,
			Message:     formatOperationMessage(action, name, opErr),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].ServiceName < results[j].ServiceName
	})

	successCount := 0
	for _, r := range results {
		if r.Success {
			successCount++
		}
	}
	return BatchResult{
		Results:      results,
		SuccessCount: successCount,
		FailureCount: len(results) - successCount,
		Total:        len(results),
	}, nil
}

// resolve expands a service name or glob-style pattern into the sorted
// set of known service names. Known names come from the deployment
// registry plus a scan of the unit directory; a pattern that matches
// nothing resolves to the empty set.
func (m *Manager) resolve(pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("empty service name pattern")
	}

	known := m.knownServices()
	if !strings.ContainsAny(pattern, "*?[") {
		// A plain name only resolves if artifacts exist for it; a name
		// with zero unit files yields the empty set (reported as an
		// empty success, distinct from an operation failure).
		for _, name := range known {
			if name == pattern {
				return []string{pattern}, nil
			}
		}
		return nil, nil
	}

	var out []string
	for _, name := range known {
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Manager) knownServices() []string {
	seen := map[string]bool{}
	if m.store != nil {
		if list, err := m.store.ListDeployments(); err == nil {
			for _, d := range list {
				seen[d.Name] = true
			}
		}
	}
	for _, name := range m.scanUnitDir() {
		seen[name] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// installableUnits lists the units enable/disable should install for a
// service: the service itself plus its timer when one was deployed.
func (m *Manager) installableUnits(name string) []string {
	units := []string{sysdunit.ServiceUnit(name)}
	if m.hasUnitFile(sysdunit.TimerUnit(name)) {
		units = append(units, sysdunit.TimerUnit(name))
	}
	return units
}

func (m *Manager) daemonReload(ctx context.Context) {
	if m.client == nil {
		return
	}
	// Coalesce bursts of unit rewrites behind the limiter.
	if err := m.reload.Wait(ctx); err != nil {
		return
	}
	if err := m.client.Reload(ctx); err != nil {
		m.log.Warn("daemon reload failed", logx.Err(err))
	}
}

func formatOperationMessage(action, serviceName string, err error) string {
	if err != nil {
		return fmt.Sprintf("%s %s: error: %v", action, serviceName, err)
	}
	return fmt.Sprintf("%s %s: ok", action, serviceName)
}
