package resmodel

import (
	"fmt"
	"sort"
	"time"
)

// DefaultCPUPeriod is the CFS scheduling period assumed whenever a CPU
// quota is given without an explicit period (100ms, both backends).
const DefaultCPUPeriod = 100000

// RestartPolicy mirrors the Docker restart policy vocabulary. systemd
// directives are derived from it at compile time.
type RestartPolicy string

const (
	RestartNone          RestartPolicy = "no"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartAlways        RestartPolicy = "always"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// Model is the backend-neutral resource constraint set for one service.
//
// Every field is optional; the zero value means "unset, inherit the
// backend default". Fields where zero is itself a meaningful setting
// (swappiness, OOM score) are pointers.
//
// Model is a plain value object: construct it, optionally Resolve() it,
// and hand it to a compiler. Compilers never mutate it.
type Model struct {
	// CPU
	CPUQuota   uint64 // µs of CPU time per period
	CPUPeriod  uint64 // µs; DefaultCPUPeriod applied by Resolve when quota is set
	CPUShares  uint64 // Docker-native relative weight (default scale 1024)
	CPUWeight  uint64 // systemd-native relative weight, 1..10000
	CPUSetCPUs string // affinity list, e.g. "0-3,8"

	// Memory, bytes unless noted
	MemoryLimit       uint64 // hard ceiling
	MemoryHigh        uint64 // soft ceiling, systemd name
	MemoryReservation uint64 // soft ceiling, Docker name
	MemoryLow         uint64 // guaranteed floor (best-effort tier)
	MemoryMin         uint64 // guaranteed floor (hard tier)
	MemorySwapLimit   uint64 // Docker: total memory+swap
	MemorySwapMax     uint64 // systemd: swap allowance alone
	MemorySwappiness  *int   // 0..100

	// I/O
	BlkioWeight     uint64            // Docker, 10..1000
	IOWeight        uint64            // systemd cgroup v2, 1..10000
	BlockIOWeight   uint64            // systemd cgroup v1, 10..1000
	DeviceReadBPS   map[string]uint64 // device path -> bytes/s
	DeviceWriteBPS  map[string]uint64
	DeviceReadIOPS  map[string]uint64 // device path -> ops/s
	DeviceWriteIOPS map[string]uint64

	// Process
	PidsLimit int64

	// Security / isolation
	OOMScoreAdj       *int // -1000..1000
	ReadOnlyRootfs    bool
	CapAdd            []string
	CapDrop           []string
	Devices           []string // host[:container[:perm]], Docker form
	DeviceCgroupRules []string

	// Lifecycle
	RestartPolicy     RestartPolicy
	RestartMaxRetries int
	RestartDelay      time.Duration
	TimeoutStart      time.Duration
	TimeoutStop       time.Duration

	// Execution
	Environment map[string]string
	User        string
	Group       string
	WorkingDir  string
}

// Resolve returns a copy with derived defaults filled in. The receiver
// is never modified; callers that need raw operator input keep it.
func (m Model) Resolve() Model {
	out := m
	if out.CPUQuota > 0 && out.CPUPeriod == 0 {
		out.CPUPeriod = DefaultCPUPeriod
	}
	return out
}

// Validate rejects combinations no backend can make sense of. Numeric
// ranges for weight-like fields are deliberately NOT validated here:
// compilers clamp them (see Clamp), favoring availability over strict
// rejection.
func (m Model) Validate() error {
	switch m.RestartPolicy {
	case "", RestartNone, RestartOnFailure, RestartAlways, RestartUnlessStopped:
	default:
		return fmt.Errorf("unknown restart policy %q", m.RestartPolicy)
	}
	if m.RestartMaxRetries > 0 && m.RestartPolicy != RestartOnFailure {
		return fmt.Errorf("restart_max_retries requires restart policy %q", RestartOnFailure)
	}
	if m.MemorySwappiness != nil && (*m.MemorySwappiness < 0 || *m.MemorySwappiness > 100) {
		return fmt.Errorf("memory_swappiness %d outside 0..100", *m.MemorySwappiness)
	}
	if m.CPUQuota > 0 && m.CPUQuota < 1000 {
		// systemd and docker both reject quotas below 1ms.
		return fmt.Errorf("cpu_quota %dµs below minimum 1000µs", m.CPUQuota)
	}
	return nil
}

// EffectiveReservation is the soft-ceiling / floor precedence rule
// shared by both compilers: memory_high always outranks memory_low and
// memory_min when set, regardless of which is numerically larger.
func (m Model) EffectiveReservation() uint64 {
	if m.MemoryHigh > 0 {
		return m.MemoryHigh
	}
	if m.MemoryLow > 0 {
		return m.MemoryLow
	}
	return m.MemoryMin
}

// SortedDevices returns the keys of a per-device map in stable order so
// compiled output is deterministic.
func SortedDevices(m map[string]uint64) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SortedEnv returns environment keys in stable order.
func SortedEnv(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
