package dockerargs

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"unitforge/pkg/resmodel"
)

func find(t *testing.T, args Args, flag string) string {
	t.Helper()
	for _, a := range args {
		if a.Flag == flag {
			return a.Value
		}
	}
	t.Fatalf("flag %s not compiled (got %v)", flag, args)
	return ""
}

func findAll(args Args, flag string) []string {
	var out []string
	for _, a := range args {
		if a.Flag == flag {
			out = append(out, a.Value)
		}
	}
	return out
}

func absent(t *testing.T, args Args, flag string) {
	t.Helper()
	for _, a := range args {
		if a.Flag == flag {
			t.Fatalf("flag %s should not be compiled (value %q)", flag, a.Value)
		}
	}
}

func TestCPUWeightConversion(t *testing.T) {
	t.Parallel()
	args := Compile(resmodel.Model{CPUWeight: 100})
	if got := find(t, args, "--cpu-shares"); got != "1024" {
		t.Fatalf("--cpu-shares = %s, want 1024", got)
	}

	// Native shares win over a converted weight.
	args = Compile(resmodel.Model{CPUShares: 512, CPUWeight: 100})
	if got := find(t, args, "--cpu-shares"); got != "512" {
		t.Fatalf("--cpu-shares = %s, want native 512", got)
	}
}

func TestCPUQuotaDefaultsPeriod(t *testing.T) {
	t.Parallel()
	args := Compile(resmodel.Model{CPUQuota: 50000})
	if got := find(t, args, "--cpu-quota"); got != "50000" {
		t.Fatalf("--cpu-quota = %s", got)
	}
	if got := find(t, args, "--cpu-period"); got != "100000" {
		t.Fatalf("--cpu-period = %s, want default 100000", got)
	}
}

func TestIOWeightConversion(t *testing.T) {
	t.Parallel()
	args := Compile(resmodel.Model{IOWeight: 5000})
	if got := find(t, args, "--blkio-weight"); got != "500" {
		t.Fatalf("--blkio-weight = %s, want 500", got)
	}

	// Conversion output is clamped into 10..1000.
	args = Compile(resmodel.Model{IOWeight: 1})
	if got := find(t, args, "--blkio-weight"); got != "10" {
		t.Fatalf("--blkio-weight = %s, want clamped 10", got)
	}
}

func TestMemoryFields(t *testing.T) {
	t.Parallel()
	m := resmodel.Model{
		MemoryLimit:   1 << 30,
		MemorySwapMax: 1 << 29,
	}
	args := Compile(m)
	if got := find(t, args, "--memory"); got != strconv.Itoa(1<<30) {
		t.Fatalf("--memory = %s", got)
	}
	// memory-swap counts memory plus swap.
	if got := find(t, args, "--memory-swap"); got != strconv.Itoa(1<<30+1<<29) {
		t.Fatalf("--memory-swap = %s, want limit+swap", got)
	}
}

func TestMemoryHighBecomesReservation(t *testing.T) {
	t.Parallel()
	args := Compile(resmodel.Model{MemoryHigh: 4096, MemoryReservation: 8192})
	if got := find(t, args, "--memory-reservation"); got != "4096" {
		t.Fatalf("--memory-reservation = %s, want memory_high 4096", got)
	}
}

func TestMemoryMinOmitted(t *testing.T) {
	t.Parallel()
	// Docker has no guaranteed-floor concept; the field is silently omitted.
	args := Compile(resmodel.Model{MemoryMin: 4096, MemoryLow: 4096})
	absent(t, args, "--memory-reservation")
}

func TestDeviceMapsRepeatFlag(t *testing.T) {
	t.Parallel()
	m := resmodel.Model{
		DeviceReadBPS: map[string]uint64{
			"/dev/sdb": 2097152,
			"/dev/sda": 1048576,
		},
	}
	got := findAll(Compile(m), "--device-read-bps")
	want := []string{"/dev/sda:1048576", "/dev/sdb:2097152"}
	if len(got) != len(want) {
		t.Fatalf("device flags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("device flags = %v, want %v", got, want)
		}
	}
}

func TestRestartPolicy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		m    resmodel.Model
		want string
	}{
		{"always", resmodel.Model{RestartPolicy: resmodel.RestartAlways}, "always"},
		{"on-failure with retries", resmodel.Model{RestartPolicy: resmodel.RestartOnFailure, RestartMaxRetries: 5}, "on-failure:5"},
		{"on-failure bare", resmodel.Model{RestartPolicy: resmodel.RestartOnFailure}, "on-failure"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := find(t, Compile(tt.m), "--restart"); got != tt.want {
				t.Fatalf("--restart = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPassThroughFields(t *testing.T) {
	t.Parallel()
	adj := -500
	sw := 0
	m := resmodel.Model{
		PidsLimit:        256,
		OOMScoreAdj:      &adj,
		MemorySwappiness: &sw,
		ReadOnlyRootfs:   true,
		TimeoutStop:      90 * time.Second,
	}
	args := Compile(m)
	if got := find(t, args, "--pids-limit"); got != "256" {
		t.Fatalf("--pids-limit = %s", got)
	}
	if got := find(t, args, "--oom-score-adj"); got != "-500" {
		t.Fatalf("--oom-score-adj = %s", got)
	}
	// Zero swappiness is meaningful, not unset.
	if got := find(t, args, "--memory-swappiness"); got != "0" {
		t.Fatalf("--memory-swappiness = %s", got)
	}
	if got := find(t, args, "--stop-timeout"); got != "90" {
		t.Fatalf("--stop-timeout = %s", got)
	}
	joined := strings.Join(args.Strings(), " ")
	if !strings.Contains(joined, "--read-only") {
		t.Fatalf("--read-only missing in %q", joined)
	}
}

func TestEnvironmentAndUser(t *testing.T) {
	t.Parallel()
	m := resmodel.Model{
		Environment: map[string]string{"B": "2", "A": "1"},
		User:        "svc",
		Group:       "svc",
		WorkingDir:  "/srv/app",
	}
	args := Compile(m)
	envs := findAll(args, "--env")
	if len(envs) != 2 || envs[0] != "A=1" || envs[1] != "B=2" {
		t.Fatalf("--env = %v, want sorted [A=1 B=2]", envs)
	}
	if got := find(t, args, "--user"); got != "svc:svc" {
		t.Fatalf("--user = %s", got)
	}
	if got := find(t, args, "--workdir"); got != "/srv/app" {
		t.Fatalf("--workdir = %s", got)
	}
}

func TestStringsFlattening(t *testing.T) {
	t.Parallel()
	args := Args{{"--memory", "1024"}, {Flag: "--read-only"}}
	got := args.Strings()
	want := []string{"--memory", "1024", "--read-only"}
	if len(got) != len(want) {
		t.Fatalf("Strings() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Strings() = %v, want %v", got, want)
		}
	}
}
