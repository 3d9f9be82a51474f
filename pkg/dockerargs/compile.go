// Package dockerargs compiles a resource model into a Docker CLI
// argument vector.
//
// Compile is a total function: no field combination fails. Fields the
// Docker backend cannot express (memory_low, memory_min, cpu-weight
// native form, ...) are converted when a formula exists and omitted
// otherwise.
package dockerargs

import (
	"fmt"
	"strconv"

	"unitforge/pkg/resmodel"
)

// Arg is one flag/value pair. Repeatable flags (devices, capabilities,
// environment) appear once per occurrence, in deterministic order.
type Arg struct {
	Flag  string
	Value string
}

// Args preserves insertion order; Docker honors the last occurrence of
// a repeated scalar flag, so order is part of the contract.
type Args []Arg

// Strings flattens the vector for exec: ["--memory", "1073741824", ...].
// Boolean flags (empty value) contribute a single element.
func (a Args) Strings() []string {
	out := make([]string, 0, len(a)*2)
	for _, arg := range a {
		out = append(out, arg.Flag)
		if arg.Value != "" {
			out = append(out, arg.Value)
		}
	}
	return out
}

// Compile translates the model into docker run/create arguments.
//
// Unit-pair precedence: when both members of a pair are set the
// Docker-native field wins and no conversion happens; only when the
// native field is absent is the systemd-native one converted.
func Compile(m resmodel.Model) Args {
	m = m.Resolve()
	var args Args

	// CPU
	if m.CPUQuota > 0 {
		args = append(args,
			Arg{"--cpu-quota", strconv.FormatUint(m.CPUQuota, 10)},
			Arg{"--cpu-period", strconv.FormatUint(m.CPUPeriod, 10)},
		)
	}
	switch {
	case m.CPUShares > 0:
		args = append(args, Arg{"--cpu-shares", strconv.FormatUint(m.CPUShares, 10)})
	case m.CPUWeight > 0:
		shares := resmodel.DockerSharesFromWeight(resmodel.Clamp(m.CPUWeight,
			uint64(resmodel.CPUWeightMin), uint64(resmodel.CPUWeightMax)))
		args = append(args, Arg{"--cpu-shares", strconv.FormatUint(shares, 10)})
	}
	if m.CPUSetCPUs != "" {
		args = append(args, Arg{"--cpuset-cpus", m.CPUSetCPUs})
	}

	// Memory
	if m.MemoryLimit > 0 {
		args = append(args, Arg{"--memory", strconv.FormatUint(m.MemoryLimit, 10)})
	}
	if res := reservation(m); res > 0 {
		args = append(args, Arg{"--memory-reservation", strconv.FormatUint(res, 10)})
	}
	if swap := swapTotal(m); swap > 0 {
		args = append(args, Arg{"--memory-swap", strconv.FormatUint(swap, 10)})
	}
	if m.MemorySwappiness != nil {
		sw := resmodel.Clamp(*m.MemorySwappiness, 0, 100)
		args = append(args, Arg{"--memory-swappiness", strconv.Itoa(sw)})
	}

	// I/O
	if w := blkioWeight(m); w > 0 {
		args = append(args, Arg{"--blkio-weight", strconv.FormatUint(w, 10)})
	}
	args = appendDeviceMap(args, "--device-read-bps", m.DeviceReadBPS)
	args = appendDeviceMap(args, "--device-write-bps", m.DeviceWriteBPS)
	args = appendDeviceMap(args, "--device-read-iops", m.DeviceReadIOPS)
	args = appendDeviceMap(args, "--device-write-iops", m.DeviceWriteIOPS)

	// Process
	if m.PidsLimit > 0 {
		args = append(args, Arg{"--pids-limit", strconv.FormatInt(m.PidsLimit, 10)})
	}

	// Security / isolation
	if m.OOMScoreAdj != nil {
		adj := resmodel.Clamp(*m.OOMScoreAdj, -1000, 1000)
		args = append(args, Arg{"--oom-score-adj", strconv.Itoa(adj)})
	}
	if m.ReadOnlyRootfs {
		args = append(args, Arg{Flag: "--read-only"})
	}
	for _, c := range m.CapAdd {
		args = append(args, Arg{"--cap-add", c})
	}
	for _, c := range m.CapDrop {
		args = append(args, Arg{"--cap-drop", c})
	}
	for _, d := range m.Devices {
		args = append(args, Arg{"--device", d})
	}
	for _, r := range m.DeviceCgroupRules {
		args = append(args, Arg{"--device-cgroup-rule", r})
	}

	// Lifecycle
	if rp := restartValue(m); rp != "" {
		args = append(args, Arg{"--restart", rp})
	}
	if m.TimeoutStop > 0 {
		args = append(args, Arg{"--stop-timeout", strconv.Itoa(int(m.TimeoutStop.Seconds()))})
	}

	// Execution
	for _, k := range resmodel.SortedEnv(m.Environment) {
		args = append(args, Arg{"--env", k + "=" + m.Environment[k]})
	}
	if u := userSpec(m); u != "" {
		args = append(args, Arg{"--user", u})
	}
	if m.WorkingDir != "" {
		args = append(args, Arg{"--workdir", m.WorkingDir})
	}

	return args
}

// reservation picks the Docker soft ceiling. memory_high is the systemd
// spelling of the same concept and outranks memory_reservation.
func reservation(m resmodel.Model) uint64 {
	if m.MemoryHigh > 0 {
		return m.MemoryHigh
	}
	return m.MemoryReservation
}

// swapTotal produces Docker's --memory-swap, which counts memory plus
// swap. A systemd-style swap allowance is added on top of the limit.
func swapTotal(m resmodel.Model) uint64 {
	if m.MemorySwapLimit > 0 {
		return m.MemorySwapLimit
	}
	if m.MemorySwapMax > 0 && m.MemoryLimit > 0 {
		return m.MemoryLimit + m.MemorySwapMax
	}
	return 0
}

func blkioWeight(m resmodel.Model) uint64 {
	switch {
	case m.BlkioWeight > 0:
		return resmodel.Clamp(m.BlkioWeight, uint64(resmodel.BlkioWeightMin), uint64(resmodel.BlkioWeightMax))
	case m.IOWeight > 0:
		return resmodel.DockerBlkioFromIOWeight(m.IOWeight)
	case m.BlockIOWeight > 0:
		// cgroup-v1 systemd weight shares Docker's 10..1000 scale.
		return resmodel.Clamp(m.BlockIOWeight, uint64(resmodel.BlkioWeightMin), uint64(resmodel.BlkioWeightMax))
	}
	return 0
}

func appendDeviceMap(args Args, flag string, devs map[string]uint64) Args {
	for _, dev := range resmodel.SortedDevices(devs) {
		args = append(args, Arg{flag, fmt.Sprintf("%s:%d", dev, devs[dev])})
	}
	return args
}

// restartValue composes the restart policy with its retry budget. The
// count suffix only applies to on-failure, per Docker's grammar.
func restartValue(m resmodel.Model) string {
	if m.RestartPolicy == "" {
		return ""
	}
	if m.RestartPolicy == resmodel.RestartOnFailure && m.RestartMaxRetries > 0 {
		return fmt.Sprintf("%s:%d", m.RestartPolicy, m.RestartMaxRetries)
	}
	return string(m.RestartPolicy)
}

func userSpec(m resmodel.Model) string {
	if m.User == "" {
		return ""
	}
	if m.Group != "" {
		return m.User + ":" + m.Group
	}
	return m.User
}
