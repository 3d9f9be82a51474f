// Package sysdunit compiles a resource model into systemd unit-file
// directives and renders complete unit files.
//
// Compile is a total function. Accounting directives are always
// emitted: without CPUAccounting=yes and friends, systemd silently
// ignores the corresponding limit directives.
package sysdunit

import (
	"fmt"
	"strconv"

	"unitforge/pkg/resmodel"
)

// Directive is one unit-file key/value line.
//
// Per-device directives carry a numbered suffix (IOReadBandwidthMax_0,
// IOReadBandwidthMax_1, ...) so that a directive map never collapses
// multiple devices into one surviving entry.
type Directive struct {
	Name  string
	Value string
}

// Directives preserves emission order.
type Directives []Directive

// Get returns the value of the first directive with the given name.
func (d Directives) Get(name string) (string, bool) {
	for _, dir := range d {
		if dir.Name == name {
			return dir.Value, true
		}
	}
	return "", false
}

// Names lists directive names in order.
func (d Directives) Names() []string {
	out := make([]string, len(d))
	for i, dir := range d {
		out[i] = dir.Name
	}
	return out
}

// Compile translates the model into [Service]-section directives.
//
// Unit-pair precedence mirrors dockerargs: the systemd-native member of
// each pair wins when both are set, and conversion only happens when
// the native field is absent.
func Compile(m resmodel.Model) Directives {
	m = m.Resolve()

	// Resource accounting must be switched on before any limit
	// directive is meaningful.
	dirs := Directives{
		{"CPUAccounting", "yes"},
		{"MemoryAccounting", "yes"},
		{"IOAccounting", "yes"},
		{"TasksAccounting", "yes"},
	}

	// CPU
	if m.CPUQuota > 0 && m.CPUPeriod > 0 {
		pct := float64(m.CPUQuota) / float64(m.CPUPeriod) * 100
		dirs = append(dirs, Directive{"CPUQuota", fmt.Sprintf("%.0f%%", pct)})
	}
	switch {
	case m.CPUWeight > 0:
		w := resmodel.Clamp(m.CPUWeight, uint64(resmodel.CPUWeightMin), uint64(resmodel.CPUWeightMax))
		dirs = append(dirs, Directive{"CPUWeight", strconv.FormatUint(w, 10)})
	case m.CPUShares > 0:
		w := resmodel.SystemdWeightFromShares(m.CPUShares)
		dirs = append(dirs, Directive{"CPUWeight", strconv.FormatUint(w, 10)})
	}
	if m.CPUSetCPUs != "" {
		dirs = append(dirs, Directive{"AllowedCPUs", m.CPUSetCPUs})
	}

	// Memory
	if m.MemoryLimit > 0 {
		dirs = append(dirs, Directive{"MemoryMax", strconv.FormatUint(m.MemoryLimit, 10)})
	}
	if high := memoryHigh(m); high > 0 {
		dirs = append(dirs, Directive{"MemoryHigh", strconv.FormatUint(high, 10)})
	}
	if m.MemoryLow > 0 {
		dirs = append(dirs, Directive{"MemoryLow", strconv.FormatUint(m.MemoryLow, 10)})
	}
	if m.MemoryMin > 0 {
		dirs = append(dirs, Directive{"MemoryMin", strconv.FormatUint(m.MemoryMin, 10)})
	}
	if swap, ok := swapAllowance(m); ok {
		dirs = append(dirs, Directive{"MemorySwapMax", strconv.FormatUint(swap, 10)})
	}

	// I/O
	dirs = append(dirs, ioWeightDirectives(m)...)
	dirs = appendDeviceMap(dirs, "IOReadBandwidthMax", m.DeviceReadBPS)
	dirs = appendDeviceMap(dirs, "IOWriteBandwidthMax", m.DeviceWriteBPS)
	dirs = appendDeviceMap(dirs, "IOReadIOPSMax", m.DeviceReadIOPS)
	dirs = appendDeviceMap(dirs, "IOWriteIOPSMax", m.DeviceWriteIOPS)

	// Process
	if m.PidsLimit > 0 {
		dirs = append(dirs, Directive{"TasksMax", strconv.FormatInt(m.PidsLimit, 10)})
	}

	// Security / isolation
	if m.OOMScoreAdj != nil {
		adj := resmodel.Clamp(*m.OOMScoreAdj, -1000, 1000)
		dirs = append(dirs, Directive{"OOMScoreAdjust", strconv.Itoa(adj)})
	}
	if m.ReadOnlyRootfs {
		dirs = append(dirs, Directive{"ProtectSystem", "strict"})
	}
	if caps, ok := capabilityBoundingSet(m.CapDrop, m.CapAdd); ok {
		dirs = append(dirs, Directive{"CapabilityBoundingSet", caps})
	} else if amb, ok := ambientCapabilities(m.CapAdd); ok {
		dirs = append(dirs, Directive{"AmbientCapabilities", amb})
	}
	dirs = append(dirs, deviceAllowDirectives(m.Devices)...)

	// Lifecycle
	if m.RestartPolicy != "" {
		dirs = append(dirs, Directive{"Restart", systemdRestart(m.RestartPolicy)})
	}
	if m.RestartPolicy == resmodel.RestartOnFailure && m.RestartMaxRetries > 0 {
		dirs = append(dirs, Directive{"StartLimitBurst", strconv.Itoa(m.RestartMaxRetries)})
	}
	if m.RestartDelay > 0 {
		dirs = append(dirs, Directive{"RestartSec", strconv.Itoa(int(m.RestartDelay.Seconds()))})
	}
	if m.TimeoutStart > 0 {
		dirs = append(dirs, Directive{"TimeoutStartSec", strconv.Itoa(int(m.TimeoutStart.Seconds()))})
	}
	if m.TimeoutStop > 0 {
		dirs = append(dirs, Directive{"TimeoutStopSec", strconv.Itoa(int(m.TimeoutStop.Seconds()))})
	}

	// Execution
	if env := environmentValue(m.Environment); env != "" {
		dirs = append(dirs, Directive{"Environment", env})
	}
	if m.User != "" {
		dirs = append(dirs, Directive{"User", m.User})
	}
	if m.Group != "" {
		dirs = append(dirs, Directive{"Group", m.Group})
	}
	if m.WorkingDir != "" {
		dirs = append(dirs, Directive{"WorkingDirectory", m.WorkingDir})
	}

	return dirs
}

// CompileSlice keeps only the directives a [Slice] section accepts:
// accounting plus cgroup controller limits. Service-scoped settings
// (restart, exec identity, capabilities, OOM score) have no meaning on
// a slice and are dropped.
func CompileSlice(m resmodel.Model) Directives {
	sliceable := map[string]bool{
		"CPUAccounting": true, "MemoryAccounting": true, "IOAccounting": true, "TasksAccounting": true,
		"CPUQuota": true, "CPUWeight": true, "AllowedCPUs": true,
		"MemoryMax": true, "MemoryHigh": true, "MemoryLow": true, "MemoryMin": true, "MemorySwapMax": true,
		"IOWeight": true, "BlockIOWeight": true, "TasksMax": true,
	}
	var out Directives
	for _, d := range Compile(m) {
		if sliceable[d.Name] || hasNumberedPrefix(d.Name, "IOReadBandwidthMax") ||
			hasNumberedPrefix(d.Name, "IOWriteBandwidthMax") ||
			hasNumberedPrefix(d.Name, "IOReadIOPSMax") ||
			hasNumberedPrefix(d.Name, "IOWriteIOPSMax") ||
			hasNumberedPrefix(d.Name, "DeviceAllow") {
			out = append(out, d)
		}
	}
	return out
}

func hasNumberedPrefix(name, prefix string) bool {
	if len(name) <= len(prefix)+1 {
		return false
	}
	return name[:len(prefix)] == prefix && name[len(prefix)] == '_'
}

// memoryHigh: the effective high-water mark is memory_high when set,
// falling back to Docker's spelling of the same concept.
func memoryHigh(m resmodel.Model) uint64 {
	if m.MemoryHigh > 0 {
		return m.MemoryHigh
	}
	return m.MemoryReservation
}

// swapAllowance derives systemd's swap-alone budget. Docker's
// memory-swap counts memory too, so the limit is subtracted and the
// result only used when positive.
func swapAllowance(m resmodel.Model) (uint64, bool) {
	if m.MemorySwapMax > 0 {
		return m.MemorySwapMax, true
	}
	if m.MemorySwapLimit > 0 && m.MemoryLimit > 0 && m.MemorySwapLimit > m.MemoryLimit {
		return m.MemorySwapLimit - m.MemoryLimit, true
	}
	return 0, false
}

func ioWeightDirectives(m resmodel.Model) Directives {
	switch {
	case m.IOWeight > 0:
		w := resmodel.Clamp(m.IOWeight, uint64(resmodel.IOWeightMin), uint64(resmodel.IOWeightMax))
		return Directives{{"IOWeight", strconv.FormatUint(w, 10)}}
	case m.BlockIOWeight > 0:
		// cgroup-v1 directive, same 10..1000 scale as Docker.
		w := resmodel.Clamp(m.BlockIOWeight, uint64(resmodel.BlkioWeightMin), uint64(resmodel.BlkioWeightMax))
		return Directives{{"BlockIOWeight", strconv.FormatUint(w, 10)}}
	case m.BlkioWeight > 0:
		w := resmodel.SystemdIOWeightFromBlkio(resmodel.Clamp(m.BlkioWeight,
			uint64(resmodel.BlkioWeightMin), uint64(resmodel.BlkioWeightMax)))
		return Directives{{"IOWeight", strconv.FormatUint(w, 10)}}
	}
	return nil
}

func appendDeviceMap(dirs Directives, name string, devs map[string]uint64) Directives {
	for i, dev := range resmodel.SortedDevices(devs) {
		key := fmt.Sprintf("%s_%d", name, i)
		dirs = append(dirs, Directive{key, fmt.Sprintf("%s %d", dev, devs[dev])})
	}
	return dirs
}

func systemdRestart(p resmodel.RestartPolicy) string {
	switch p {
	case resmodel.RestartNone:
		return "no"
	case resmodel.RestartOnFailure:
		return "on-failure"
	case resmodel.RestartAlways, resmodel.RestartUnlessStopped:
		// systemd has no unless-stopped; always is the closest fit
		// since boot-time activation is governed by enable/disable.
		return "always"
	}
	return string(p)
}

func environmentValue(env map[string]string) string {
	keys := resmodel.SortedEnv(env)
	if len(keys) == 0 {
		return ""
	}
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%q", k+"="+env[k])
	}
	return out
}
