package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"unitforge/internal/fsguard"
	"unitforge/pkg/dockerargs"
	"unitforge/pkg/logx"
	"unitforge/pkg/resmodel"
	"unitforge/pkg/sysdunit"
)

// dockerBin is the CLI path baked into Exec directives; systemd needs
// an absolute path there.
const dockerBin = "/usr/bin/docker"

// UnitFile is one rendered unit and its destination.
type UnitFile struct {
	Name string // backup.service, backup.timer, backup.slice
	Path string
	Text string
}

// Artifacts is everything Create materializes for one definition. It is
// also the Render-only output, so callers can inspect or dry-run
// without touching the filesystem.
type Artifacts struct {
	Service string
	Mode    Mode

	Units []UnitFile

	// Container is populated for docker and unified modes.
	Container ContainerSpec

	// CloudExpressions holds one scheduler expression per schedule that
	// the cloud grammar can express; inexpressible schedules are skipped
	// with a log line rather than failing the deployment.
	CloudExpressions []string
}

func (a *Artifacts) paths() []string {
	out := make([]string, len(a.Units))
	for i, u := range a.Units {
		out[i] = u.Path
	}
	return out
}

// Render compiles the definition into its full artifact set without
// side effects: unit files for the mode, the container spec for
// container modes, and cloud expressions for the schedules.
func (m *Manager) Render(def Definition) (*Artifacts, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}

	var res resmodel.Model
	if def.Resources != nil {
		res = *def.Resources
	}

	art := &Artifacts{Service: def.Name, Mode: def.Mode}

	svc, err := m.renderService(def, res)
	if err != nil {
		return nil, err
	}
	art.Units = append(art.Units, m.unitFile(sysdunit.ServiceUnit(def.Name), svc))

	if def.Mode == ModeUnified {
		art.Units = append(art.Units, m.unitFile(sysdunit.SliceUnit(def.Name), renderSlice(def, res)))
	}

	if len(def.Schedules) > 0 {
		timer, err := m.renderTimer(def)
		if err != nil {
			return nil, err
		}
		art.Units = append(art.Units, m.unitFile(sysdunit.TimerUnit(def.Name), timer))

		for _, s := range def.Schedules {
			expr, err := m.comp.CloudExpression(s)
			if err != nil {
				m.log.Debug("schedule has no cloud expression",
					logx.String("service", def.Name), logx.Err(err))
				continue
			}
			art.CloudExpressions = append(art.CloudExpressions, expr)
		}
	}

	if def.Mode == ModeDocker || def.Mode == ModeUnified {
		art.Container = ContainerSpec{
			Name:    def.Name,
			Image:   def.Image,
			Command: def.Command,
			Args:    dockerargs.Compile(res).Strings(),
		}
		if def.Mode == ModeUnified {
			// The container joins the slice so systemd-side limits apply
			// whenever systemd launches it; its own flags still cover
			// direct docker starts.
			art.Container.CgroupParent = sysdunit.SliceUnit(def.Name)
		}
	}

	return art, nil
}

func (m *Manager) renderService(def Definition, res resmodel.Model) (string, error) {
	f := sysdunit.NewFile()
	f.Set("Unit", "Description", description(def))
	if def.Mode != ModeSystemd {
		f.Set("Unit", "Requires", "docker.service")
		f.Set("Unit", "After", "docker.service")
	}

	switch def.Mode {
	case ModeSystemd:
		f.Set("Service", "ExecStart", execLine(def.ExecStart))
		f.AddDirectives("Service", sysdunit.Compile(res))
	case ModeDocker, ModeUnified:
		if def.Mode == ModeUnified {
			f.Set("Service", "Slice", sysdunit.SliceUnit(def.Name))
			// Delegation hands the cgroup subtree to the runtime; without
			// it systemd fights docker over controller files.
			f.Set("Service", "Delegate", "yes")
		}
		f.Set("Service", "ExecStart", dockerBin+" start -a "+def.Name)
		f.Set("Service", "ExecStop", dockerBin+" stop "+def.Name)
		// The container's processes live under dockerd, not this unit;
		// killing the unit's cgroup would miss them.
		f.Set("Service", "KillMode", "none")
		f.AddDirectives("Service", supervisionDirectives(res))
	}

	if def.EnvFile != "" {
		if m.envRoot == "" {
			return "", fmt.Errorf("service %s: environment files are disabled (no allowed root)", def.Name)
		}
		p, err := fsguard.ResolveWithin(m.envRoot, def.EnvFile)
		if err != nil {
			return "", fmt.Errorf("service %s: environment file: %w", def.Name, err)
		}
		f.Set("Service", "EnvironmentFile", p)
	}

	f.Set("Install", "WantedBy", "multi-user.target")
	return f.Render(), nil
}

func renderSlice(def Definition, res resmodel.Model) string {
	f := sysdunit.NewFile()
	f.Set("Unit", "Description", "Resource slice for "+def.Name)
	f.AddDirectives("Slice", sysdunit.CompileSlice(res))
	return f.Render()
}

func (m *Manager) renderTimer(def Definition) (string, error) {
	f := sysdunit.NewFile()
	f.Set("Unit", "Description", "Timer for "+def.Name)
	for _, s := range def.Schedules {
		dirs, err := m.comp.Timer(s)
		if err != nil {
			return "", fmt.Errorf("service %s: %w", def.Name, err)
		}
		// Several schedules concatenate; systemd fires on any of them.
		f.AddDirectives("Timer", dirs)
	}
	f.Set("Timer", "Unit", sysdunit.ServiceUnit(def.Name))
	f.Set("Install", "WantedBy", "timers.target")
	return f.Render(), nil
}

// supervisionDirectives keeps only what a docker-supervising unit
// needs from the compiled set. Resource limits stay on the container
// (or the slice); duplicating them on the supervisor would constrain
// the docker CLI process instead.
func supervisionDirectives(res resmodel.Model) sysdunit.Directives {
	keep := map[string]bool{
		"Restart": true, "RestartSec": true, "StartLimitBurst": true,
		"TimeoutStartSec": true, "TimeoutStopSec": true,
	}
	var out sysdunit.Directives
	for _, d := range sysdunit.Compile(res) {
		if keep[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

func (m *Manager) unitFile(name, text string) UnitFile {
	return UnitFile{Name: name, Path: filepath.Join(m.unitDir, name), Text: text}
}

func (m *Manager) writeArtifacts(art *Artifacts) error {
	if m.unitDir == "" {
		return fmt.Errorf("no unit directory configured")
	}
	for _, u := range art.Units {
		if err := os.WriteFile(u.Path, []byte(u.Text), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", u.Name, err)
		}
	}
	return nil
}

// removeArtifacts deletes everything create() produced for the name:
// unit files (from the registry record when one exists, otherwise the
// derivable set), the container, and the registry record itself.
func (m *Manager) removeArtifacts(ctx context.Context, name string) error {
	var files []string
	container := true // no record: try the container best-effort

	if m.store != nil {
		if rec, ok, err := m.store.GetDeployment(name); err == nil && ok {
			files = rec.UnitFiles
			container = rec.Container != ""
		}
	}
	if len(files) == 0 {
		for _, unit := range []string{
			sysdunit.ServiceUnit(name),
			sysdunit.TimerUnit(name),
			sysdunit.SliceUnit(name),
		} {
			p := filepath.Join(m.unitDir, unit)
			if _, err := os.Stat(p); err == nil {
				files = append(files, p)
			}
		}
	}

	for _, p := range files {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}

	if container && m.runtime != nil {
		if err := m.runtime.Remove(ctx, name, true); err != nil {
			m.log.Debug("container removal", logx.String("service", name), logx.Err(err))
		}
	}

	if m.store != nil {
		if err := m.store.DeleteDeployment(name); err != nil {
			m.log.Warn("deleting deployment record", logx.String("service", name), logx.Err(err))
		}
	}
	return nil
}

// scanUnitDir lists service names that have a unit file on disk, so
// patterns also reach services deployed before the registry existed.
func (m *Manager) scanUnitDir() []string {
	entries, err := os.ReadDir(m.unitDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), ".service"); ok {
			out = append(out, name)
		}
	}
	return out
}

func (m *Manager) hasUnitFile(unit string) bool {
	_, err := os.Stat(filepath.Join(m.unitDir, unit))
	return err == nil
}

func description(def Definition) string {
	if def.Description != "" {
		return def.Description
	}
	return "Managed service " + def.Name
}

// execLine quotes argv elements that need it; systemd splits ExecStart
// on whitespace with double-quote grouping.
func execLine(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if strings.ContainsAny(a, " \t\"'") {
			parts[i] = fmt.Sprintf("%q", a)
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}
