// Package config decodes operator-authored service specs (YAML or
// JSON) into lifecycle definitions. Decoding is strict: unknown fields
// are an error, not a silent drop.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"unitforge/pkg/lifecycle"
	"unitforge/pkg/resmodel"
	"unitforge/pkg/schedule"
)

// DefaultVenvRoot is where venv runtimes look for their interpreter
// when no root is configured.
const DefaultVenvRoot = "/opt/venvs"

// SpecFile is one spec document; a file may declare several services.
type SpecFile struct {
	Services []ServiceSpec `json:"services"`
}

type ServiceSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Mode is optional; when omitted it is derived from the runtime
	// kind (container runtimes default to docker mode).
	Mode string `json:"mode,omitempty"`

	Runtime   RuntimeSpec    `json:"runtime"`
	EnvFile   string         `json:"env_file,omitempty"`
	Resources *ResourceSpec  `json:"resources,omitempty"`
	Schedules []ScheduleSpec `json:"schedules,omitempty"`
}

// RuntimeSpec is a tagged union. The "type" discriminator wins when
// present; untagged specs fall back to shape matching in a fixed
// order: image implies container, env_name implies venv, command alone
// implies exec. No matching shape is a decode error.
type RuntimeSpec struct {
	Type string `json:"type,omitempty"` // exec | venv | container

	// exec / container
	Command []string `json:"command,omitempty"`

	// venv
	EnvName string   `json:"env_name,omitempty"`
	Entry   []string `json:"entry,omitempty"`

	// container
	Image string `json:"image,omitempty"`
}

const (
	runtimeExec      = "exec"
	runtimeVenv      = "venv"
	runtimeContainer = "container"
)

func (r RuntimeSpec) kind() (string, error) {
	if r.Type != "" {
		switch r.Type {
		case runtimeExec, runtimeVenv, runtimeContainer:
			return r.Type, nil
		}
		return "", fmt.Errorf("unknown runtime type %q", r.Type)
	}
	switch {
	case r.Image != "":
		return runtimeContainer, nil
	case r.EnvName != "":
		return runtimeVenv, nil
	case len(r.Command) > 0:
		return runtimeExec, nil
	}
	return "", fmt.Errorf("runtime matches no known shape (want image, env_name, or command)")
}

// ResourceSpec mirrors resmodel.Model with operator-friendly encodings:
// byte sizes as humanized strings ("512MiB"), durations as Go duration
// strings ("30s").
type ResourceSpec struct {
	CPUQuota   uint64 `json:"cpu_quota,omitempty"`
	CPUPeriod  uint64 `json:"cpu_period,omitempty"`
	CPUShares  uint64 `json:"cpu_shares,omitempty"`
	CPUWeight  uint64 `json:"cpu_weight,omitempty"`
	CPUSetCPUs string `json:"cpuset_cpus,omitempty"`

	MemoryLimit       string `json:"memory_limit,omitempty"`
	MemoryHigh        string `json:"memory_high,omitempty"`
	MemoryReservation string `json:"memory_reservation,omitempty"`
	MemoryLow         string `json:"memory_low,omitempty"`
	MemoryMin         string `json:"memory_min,omitempty"`
	MemorySwapLimit   string `json:"memory_swap_limit,omitempty"`
	MemorySwapMax     string `json:"memory_swap_max,omitempty"`
	MemorySwappiness  *int   `json:"memory_swappiness,omitempty"`

	BlkioWeight     uint64            `json:"blkio_weight,omitempty"`
	IOWeight        uint64            `json:"io_weight,omitempty"`
	BlockIOWeight   uint64            `json:"block_io_weight,omitempty"`
	DeviceReadBPS   map[string]string `json:"device_read_bps,omitempty"`
	DeviceWriteBPS  map[string]string `json:"device_write_bps,omitempty"`
	DeviceReadIOPS  map[string]uint64 `json:"device_read_iops,omitempty"`
	DeviceWriteIOPS map[string]uint64 `json:"device_write_iops,omitempty"`

	PidsLimit int64 `json:"pids_limit,omitempty"`

	OOMScoreAdj       *int     `json:"oom_score_adj,omitempty"`
	ReadOnlyRootfs    bool     `json:"read_only_rootfs,omitempty"`
	CapAdd            []string `json:"cap_add,omitempty"`
	CapDrop           []string `json:"cap_drop,omitempty"`
	Devices           []string `json:"devices,omitempty"`
	DeviceCgroupRules []string `json:"device_cgroup_rules,omitempty"`

	RestartPolicy     string `json:"restart_policy,omitempty"`
	RestartMaxRetries int    `json:"restart_max_retries,omitempty"`
	RestartDelay      string `json:"restart_delay,omitempty"`
	TimeoutStart      string `json:"timeout_start,omitempty"`
	TimeoutStop       string `json:"timeout_stop,omitempty"`

	Environment map[string]string `json:"environment,omitempty"`
	User        string            `json:"user,omitempty"`
	Group       string            `json:"group,omitempty"`
	WorkingDir  string            `json:"working_dir,omitempty"`
}

// ScheduleSpec is the schedule union: calendar and every are mutually
// exclusive discriminating fields.
type ScheduleSpec struct {
	// Calendar variant
	Calendar   string `json:"calendar,omitempty"`
	Persistent bool   `json:"persistent,omitempty"`
	Accuracy   string `json:"accuracy,omitempty"`
	Timezone   string `json:"timezone,omitempty"`

	// Periodic variant
	Every      string `json:"every,omitempty"`
	StartOn    string `json:"start_on,omitempty"`
	RelativeTo string `json:"relative_to,omitempty"`
}

// ResolveOptions parameterizes spec resolution.
type ResolveOptions struct {
	// VenvRoot anchors venv interpreter paths; empty uses DefaultVenvRoot.
	VenvRoot string
}

// Resolve turns the decoded file into lifecycle definitions. It is a
// pure translation: no definition is mutated after construction, and
// every field error names its spec path.
func (f *SpecFile) Resolve(opts ResolveOptions) ([]lifecycle.Definition, error) {
	venvRoot := opts.VenvRoot
	if venvRoot == "" {
		venvRoot = DefaultVenvRoot
	}

	seen := map[string]bool{}
	defs := make([]lifecycle.Definition, 0, len(f.Services))
	for i, svc := range f.Services {
		at := fmt.Sprintf("services[%d]", i)
		if strings.TrimSpace(svc.Name) == "" {
			return nil, fmt.Errorf("%s: name is required", at)
		}
		at = fmt.Sprintf("services[%s]", svc.Name)
		if seen[svc.Name] {
			return nil, fmt.Errorf("%s: duplicate service name", at)
		}
		seen[svc.Name] = true

		def, err := svc.resolve(at, venvRoot)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (s ServiceSpec) resolve(at, venvRoot string) (lifecycle.Definition, error) {
	var zero lifecycle.Definition

	kind, err := s.Runtime.kind()
	if err != nil {
		return zero, fmt.Errorf("%s.runtime: %w", at, err)
	}

	def := lifecycle.Definition{
		Name:        s.Name,
		Description: s.Description,
		EnvFile:     s.EnvFile,
	}

	switch kind {
	case runtimeExec:
		def.Mode = lifecycle.ModeSystemd
		def.ExecStart = s.Runtime.Command
	case runtimeVenv:
		if len(s.Runtime.Entry) == 0 {
			return zero, fmt.Errorf("%s.runtime: venv needs an entry command", at)
		}
		def.Mode = lifecycle.ModeSystemd
		def.ExecStart = append(
			[]string{filepath.Join(venvRoot, s.Runtime.EnvName, "bin", "python")},
			s.Runtime.Entry...)
	case runtimeContainer:
		def.Mode = lifecycle.ModeDocker
		def.Image = s.Runtime.Image
		def.Command = s.Runtime.Command
	}

	if s.Mode != "" {
		mode := lifecycle.Mode(s.Mode)
		switch mode {
		case lifecycle.ModeSystemd, lifecycle.ModeDocker, lifecycle.ModeUnified:
		default:
			return zero, fmt.Errorf("%s: unknown mode %q", at, s.Mode)
		}
		if kind != runtimeContainer && mode != lifecycle.ModeSystemd {
			return zero, fmt.Errorf("%s: mode %s requires a container runtime", at, mode)
		}
		def.Mode = mode
	}

	if s.Resources != nil {
		res, err := s.Resources.resolve(at + ".resources")
		if err != nil {
			return zero, err
		}
		def.Resources = res
	}

	for i, sch := range s.Schedules {
		m, err := sch.resolve(fmt.Sprintf("%s.schedules[%d]", at, i))
		if err != nil {
			return zero, err
		}
		def.Schedules = append(def.Schedules, m)
	}

	return def, nil
}

func (r ResourceSpec) resolve(at string) (*resmodel.Model, error) {
	m := &resmodel.Model{
		CPUQuota:   r.CPUQuota,
		CPUPeriod:  r.CPUPeriod,
		CPUShares:  r.CPUShares,
		CPUWeight:  r.CPUWeight,
		CPUSetCPUs: r.CPUSetCPUs,

		MemorySwappiness: r.MemorySwappiness,

		BlkioWeight:     r.BlkioWeight,
		IOWeight:        r.IOWeight,
		BlockIOWeight:   r.BlockIOWeight,
		DeviceReadIOPS:  r.DeviceReadIOPS,
		DeviceWriteIOPS: r.DeviceWriteIOPS,

		PidsLimit: r.PidsLimit,

		OOMScoreAdj:       r.OOMScoreAdj,
		ReadOnlyRootfs:    r.ReadOnlyRootfs,
		CapAdd:            r.CapAdd,
		CapDrop:           r.CapDrop,
		Devices:           r.Devices,
		DeviceCgroupRules: r.DeviceCgroupRules,

		RestartPolicy:     resmodel.RestartPolicy(r.RestartPolicy),
		RestartMaxRetries: r.RestartMaxRetries,

		Environment: r.Environment,
		User:        r.User,
		Group:       r.Group,
		WorkingDir:  r.WorkingDir,
	}

	var err error
	sizes := []struct {
		name string
		raw  string
		dst  *uint64
	}{
		{"memory_limit", r.MemoryLimit, &m.MemoryLimit},
		{"memory_high", r.MemoryHigh, &m.MemoryHigh},
		{"memory_reservation", r.MemoryReservation, &m.MemoryReservation},
		{"memory_low", r.MemoryLow, &m.MemoryLow},
		{"memory_min", r.MemoryMin, &m.MemoryMin},
		{"memory_swap_limit", r.MemorySwapLimit, &m.MemorySwapLimit},
		{"memory_swap_max", r.MemorySwapMax, &m.MemorySwapMax},
	}
	for _, s := range sizes {
		if *s.dst, err = ParseSizeField(at+"."+s.name, s.raw); err != nil {
			return nil, err
		}
	}

	if m.DeviceReadBPS, err = parseDeviceSizes(at+".device_read_bps", r.DeviceReadBPS); err != nil {
		return nil, err
	}
	if m.DeviceWriteBPS, err = parseDeviceSizes(at+".device_write_bps", r.DeviceWriteBPS); err != nil {
		return nil, err
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"restart_delay", r.RestartDelay, &m.RestartDelay},
		{"timeout_start", r.TimeoutStart, &m.TimeoutStart},
		{"timeout_stop", r.TimeoutStop, &m.TimeoutStop},
	}
	for _, d := range durations {
		if *d.dst, err = ParseDurationField(at+"."+d.name, d.raw); err != nil {
			return nil, err
		}
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", at, err)
	}
	return m, nil
}

func (s ScheduleSpec) resolve(at string) (schedule.Model, error) {
	switch {
	case s.Calendar != "" && s.Every != "":
		return nil, fmt.Errorf("%s: calendar and every are mutually exclusive", at)
	case s.Calendar != "":
		accuracy, err := ParseDurationField(at+".accuracy", s.Accuracy)
		if err != nil {
			return nil, err
		}
		cal := schedule.Calendar{
			Spec:       s.Calendar,
			Persistent: s.Persistent,
			Accuracy:   accuracy,
			Timezone:   s.Timezone,
		}
		if err := cal.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", at, err)
		}
		return cal, nil
	case s.Every != "":
		period, err := ParseDurationField(at+".every", s.Every)
		if err != nil {
			return nil, err
		}
		p := schedule.Periodic{
			Period:     period,
			StartOn:    schedule.StartOn(s.StartOn),
			RelativeTo: schedule.RelativeTo(s.RelativeTo),
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", at, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("%s: schedule needs calendar or every", at)
}
