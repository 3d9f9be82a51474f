package sysdunit

import (
	"strconv"
	"strings"
	"testing"

	"unitforge/pkg/resmodel"
)

func get(t *testing.T, dirs Directives, name string) string {
	t.Helper()
	v, ok := dirs.Get(name)
	if !ok {
		t.Fatalf("directive %s not compiled (got %v)", name, dirs.Names())
	}
	return v
}

func absent(t *testing.T, dirs Directives, name string) {
	t.Helper()
	if v, ok := dirs.Get(name); ok {
		t.Fatalf("directive %s should not be compiled (value %q)", name, v)
	}
}

func TestAccountingAlwaysOn(t *testing.T) {
	t.Parallel()
	dirs := Compile(resmodel.Model{})
	for _, name := range []string{"CPUAccounting", "MemoryAccounting", "IOAccounting", "TasksAccounting"} {
		if got := get(t, dirs, name); got != "yes" {
			t.Fatalf("%s = %s, want yes", name, got)
		}
	}
}

func TestCPUQuotaPercentage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		quota  uint64
		period uint64
		want   string
	}{
		{"half with default period", 50000, 0, "50%"},
		{"explicit period", 25000, 100000, "25%"},
		{"over 100 percent", 300000, 100000, "300%"},
		{"rounded", 33333, 100000, "33%"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			dirs := Compile(resmodel.Model{CPUQuota: tt.quota, CPUPeriod: tt.period})
			if got := get(t, dirs, "CPUQuota"); got != tt.want {
				t.Fatalf("CPUQuota = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCPUSharesConversion(t *testing.T) {
	t.Parallel()
	dirs := Compile(resmodel.Model{CPUShares: 512})
	if got := get(t, dirs, "CPUWeight"); got != "50" {
		t.Fatalf("CPUWeight = %s, want 50", got)
	}

	// Native weight wins over converted shares.
	dirs = Compile(resmodel.Model{CPUWeight: 9000, CPUShares: 512})
	if got := get(t, dirs, "CPUWeight"); got != "9000" {
		t.Fatalf("CPUWeight = %s, want native 9000", got)
	}

	// Conversion output stays in range even for extreme shares.
	dirs = Compile(resmodel.Model{CPUShares: 262144})
	if got := get(t, dirs, "CPUWeight"); got != "10000" {
		t.Fatalf("CPUWeight = %s, want clamped 10000", got)
	}
	dirs = Compile(resmodel.Model{CPUShares: 2})
	if got := get(t, dirs, "CPUWeight"); got != "1" {
		t.Fatalf("CPUWeight = %s, want clamped 1", got)
	}
}

func TestBlkioConversionNotInverse(t *testing.T) {
	t.Parallel()
	// blkio 500 -> IOWeight 5000 (x10 scale-up, not the inverse of /10).
	dirs := Compile(resmodel.Model{BlkioWeight: 500})
	if got := get(t, dirs, "IOWeight"); got != "5000" {
		t.Fatalf("IOWeight = %s, want 5000", got)
	}

	// Native v2 weight wins.
	dirs = Compile(resmodel.Model{IOWeight: 42, BlkioWeight: 500})
	if got := get(t, dirs, "IOWeight"); got != "42" {
		t.Fatalf("IOWeight = %s, want native 42", got)
	}

	// v1 weight compiles to the v1 directive.
	dirs = Compile(resmodel.Model{BlockIOWeight: 300})
	if got := get(t, dirs, "BlockIOWeight"); got != "300" {
		t.Fatalf("BlockIOWeight = %s", got)
	}
	absent(t, dirs, "IOWeight")
}

func TestMemoryDirectives(t *testing.T) {
	t.Parallel()
	m := resmodel.Model{
		MemoryLimit: 1 << 30,
		MemoryHigh:  1 << 29,
		MemoryLow:   1 << 28,
		MemoryMin:   1 << 27,
	}
	dirs := Compile(m)
	if got := get(t, dirs, "MemoryMax"); got != strconv.Itoa(1<<30) {
		t.Fatalf("MemoryMax = %s", got)
	}
	if got := get(t, dirs, "MemoryHigh"); got != strconv.Itoa(1<<29) {
		t.Fatalf("MemoryHigh = %s", got)
	}
	if got := get(t, dirs, "MemoryLow"); got != strconv.Itoa(1<<28) {
		t.Fatalf("MemoryLow = %s", got)
	}
	if got := get(t, dirs, "MemoryMin"); got != strconv.Itoa(1<<27) {
		t.Fatalf("MemoryMin = %s", got)
	}
}

func TestMemoryReservationFallsBackToHigh(t *testing.T) {
	t.Parallel()
	dirs := Compile(resmodel.Model{MemoryReservation: 8192})
	if got := get(t, dirs, "MemoryHigh"); got != "8192" {
		t.Fatalf("MemoryHigh = %s, want reservation 8192", got)
	}
}

func TestSwapAllowance(t *testing.T) {
	t.Parallel()
	// Native swap-alone budget passes through.
	dirs := Compile(resmodel.Model{MemorySwapMax: 4096})
	if got := get(t, dirs, "MemorySwapMax"); got != "4096" {
		t.Fatalf("MemorySwapMax = %s", got)
	}

	// Docker's total is converted: swap = total - limit, only if positive.
	dirs = Compile(resmodel.Model{MemoryLimit: 1 << 30, MemorySwapLimit: 1<<30 + 1<<20})
	if got := get(t, dirs, "MemorySwapMax"); got != strconv.Itoa(1<<20) {
		t.Fatalf("MemorySwapMax = %s, want %d", got, 1<<20)
	}

	// Non-positive difference is dropped rather than emitted as zero.
	dirs = Compile(resmodel.Model{MemoryLimit: 1 << 30, MemorySwapLimit: 1 << 30})
	absent(t, dirs, "MemorySwapMax")
}

func TestDeviceBandwidthNumbering(t *testing.T) {
	t.Parallel()
	m := resmodel.Model{
		DeviceReadBPS: map[string]uint64{
			"/dev/sda": 1048576,
			"/dev/sdb": 2097152,
			"/dev/sdc": 4194304,
		},
	}
	dirs := Compile(m)
	want := map[string]string{
		"IOReadBandwidthMax_0": "/dev/sda 1048576",
		"IOReadBandwidthMax_1": "/dev/sdb 2097152",
		"IOReadBandwidthMax_2": "/dev/sdc 4194304",
	}
	for name, value := range want {
		if got := get(t, dirs, name); got != value {
			t.Fatalf("%s = %q, want %q", name, got, value)
		}
	}
}

func TestPidsAndOOM(t *testing.T) {
	t.Parallel()
	adj := 1500 // out of range, must clamp
	dirs := Compile(resmodel.Model{PidsLimit: 256, OOMScoreAdj: &adj})
	if got := get(t, dirs, "TasksMax"); got != "256" {
		t.Fatalf("TasksMax = %s", got)
	}
	if got := get(t, dirs, "OOMScoreAdjust"); got != "1000" {
		t.Fatalf("OOMScoreAdjust = %s, want clamped 1000", got)
	}
}

func TestCapabilityDropRebuild(t *testing.T) {
	t.Parallel()
	m := resmodel.Model{
		CapDrop: []string{"ALL"},
		CapAdd:  []string{"NET_BIND_SERVICE", "cap_sys_time"},
	}
	dirs := Compile(m)
	if got := get(t, dirs, "CapabilityBoundingSet"); got != "CAP_NET_BIND_SERVICE CAP_SYS_TIME" {
		t.Fatalf("CapabilityBoundingSet = %q", got)
	}

	// Dropping one capability keeps the rest of the bounding set.
	dirs = Compile(resmodel.Model{CapDrop: []string{"SYS_ADMIN"}})
	caps := get(t, dirs, "CapabilityBoundingSet")
	if strings.Contains(caps, "CAP_SYS_ADMIN") {
		t.Fatalf("CAP_SYS_ADMIN not dropped: %q", caps)
	}
	if !strings.Contains(caps, "CAP_NET_ADMIN") {
		t.Fatalf("unrelated capability missing: %q", caps)
	}

	// Sorted, space-joined.
	fields := strings.Fields(caps)
	for i := 1; i < len(fields); i++ {
		if fields[i-1] >= fields[i] {
			t.Fatalf("capability list not sorted: %q", caps)
		}
	}
}

func TestCapAddAloneIsAmbient(t *testing.T) {
	t.Parallel()
	dirs := Compile(resmodel.Model{CapAdd: []string{"NET_RAW"}})
	if got := get(t, dirs, "AmbientCapabilities"); got != "CAP_NET_RAW" {
		t.Fatalf("AmbientCapabilities = %q", got)
	}
	absent(t, dirs, "CapabilityBoundingSet")
}

func TestDeviceAllow(t *testing.T) {
	t.Parallel()
	m := resmodel.Model{Devices: []string{
		"/dev/snd:/dev/snd:rw",
		"/dev/fuse",
		"/dev/ttyUSB0:/dev/ttyUSB0",
	}}
	dirs := Compile(m)
	if got := get(t, dirs, "DeviceAllow_0"); got != "/dev/snd rw" {
		t.Fatalf("DeviceAllow_0 = %q", got)
	}
	if got := get(t, dirs, "DeviceAllow_1"); got != "/dev/fuse rwm" {
		t.Fatalf("DeviceAllow_1 = %q", got)
	}
	// No perm segment: container path is not a permission string.
	if got := get(t, dirs, "DeviceAllow_2"); got != "/dev/ttyUSB0 rwm" {
		t.Fatalf("DeviceAllow_2 = %q", got)
	}
}

func TestLifecycleDirectives(t *testing.T) {
	t.Parallel()
	m := resmodel.Model{
		RestartPolicy:     resmodel.RestartOnFailure,
		RestartMaxRetries: 3,
	}
	dirs := Compile(m)
	if got := get(t, dirs, "Restart"); got != "on-failure" {
		t.Fatalf("Restart = %s", got)
	}
	if got := get(t, dirs, "StartLimitBurst"); got != "3" {
		t.Fatalf("StartLimitBurst = %s", got)
	}

	// unless-stopped maps to always; enable/disable governs boot behavior.
	dirs = Compile(resmodel.Model{RestartPolicy: resmodel.RestartUnlessStopped})
	if got := get(t, dirs, "Restart"); got != "always" {
		t.Fatalf("Restart = %s, want always", got)
	}
}

func TestExecutionDirectives(t *testing.T) {
	t.Parallel()
	m := resmodel.Model{
		Environment: map[string]string{"PORT": "8080", "MODE": "prod"},
		User:        "svc",
		Group:       "svc",
		WorkingDir:  "/srv/app",
	}
	dirs := Compile(m)
	if got := get(t, dirs, "Environment"); got != `"MODE=prod" "PORT=8080"` {
		t.Fatalf("Environment = %q", got)
	}
	if got := get(t, dirs, "User"); got != "svc" {
		t.Fatalf("User = %s", got)
	}
	if got := get(t, dirs, "WorkingDirectory"); got != "/srv/app" {
		t.Fatalf("WorkingDirectory = %s", got)
	}
}

func TestPidsLimitMatchesDockerValue(t *testing.T) {
	t.Parallel()
	// Same integer lands in TasksMax and --pids-limit.
	dirs := Compile(resmodel.Model{PidsLimit: 4096})
	if got := get(t, dirs, "TasksMax"); got != "4096" {
		t.Fatalf("TasksMax = %s", got)
	}
}

func TestCompileSliceFiltersServiceScope(t *testing.T) {
	t.Parallel()
	adj := 100
	m := resmodel.Model{
		CPUWeight:   200,
		MemoryLimit: 1 << 30,
		PidsLimit:   100,
		OOMScoreAdj: &adj,
		User:        "svc",
		DeviceReadBPS: map[string]uint64{
			"/dev/sda": 1,
		},
		RestartPolicy: resmodel.RestartAlways,
	}
	dirs := CompileSlice(m)
	if _, ok := dirs.Get("CPUWeight"); !ok {
		t.Fatal("CPUWeight missing from slice directives")
	}
	if _, ok := dirs.Get("MemoryMax"); !ok {
		t.Fatal("MemoryMax missing from slice directives")
	}
	if _, ok := dirs.Get("IOReadBandwidthMax_0"); !ok {
		t.Fatal("IOReadBandwidthMax_0 missing from slice directives")
	}
	absent(t, dirs, "OOMScoreAdjust")
	absent(t, dirs, "User")
	absent(t, dirs, "Restart")
}
