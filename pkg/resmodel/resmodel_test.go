package resmodel

import (
	"testing"
	"time"
)

func TestResolveFillsCPUPeriod(t *testing.T) {
	t.Parallel()
	m := Model{CPUQuota: 50000}
	r := m.Resolve()
	if r.CPUPeriod != DefaultCPUPeriod {
		t.Fatalf("CPUPeriod = %d, want %d", r.CPUPeriod, DefaultCPUPeriod)
	}
	if m.CPUPeriod != 0 {
		t.Fatal("Resolve mutated the receiver")
	}

	// An explicit period is kept.
	m2 := Model{CPUQuota: 50000, CPUPeriod: 250000}
	if r2 := m2.Resolve(); r2.CPUPeriod != 250000 {
		t.Fatalf("CPUPeriod = %d, want 250000", r2.CPUPeriod)
	}
}

func TestEffectiveReservationPrecedence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		m    Model
		want uint64
	}{
		{name: "high outranks larger low", m: Model{MemoryHigh: 100, MemoryLow: 500}, want: 100},
		{name: "high outranks smaller low", m: Model{MemoryHigh: 500, MemoryLow: 100}, want: 500},
		{name: "low when no high", m: Model{MemoryLow: 200, MemoryMin: 900}, want: 200},
		{name: "min as last resort", m: Model{MemoryMin: 300}, want: 300},
		{name: "unset", m: Model{}, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.EffectiveReservation(); got != tt.want {
				t.Fatalf("EffectiveReservation() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	ok := Model{
		RestartPolicy:     RestartOnFailure,
		RestartMaxRetries: 3,
		RestartDelay:      5 * time.Second,
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	if err := (Model{RestartPolicy: "sometimes"}).Validate(); err == nil {
		t.Fatal("expected error for unknown restart policy")
	}
	if err := (Model{RestartPolicy: RestartAlways, RestartMaxRetries: 2}).Validate(); err == nil {
		t.Fatal("expected error for retries without on-failure")
	}
	bad := 101
	if err := (Model{MemorySwappiness: &bad}).Validate(); err == nil {
		t.Fatal("expected error for swappiness > 100")
	}
}

func TestSortedDevicesStable(t *testing.T) {
	t.Parallel()
	m := map[string]uint64{"/dev/sdb": 2, "/dev/sda": 1, "/dev/nvme0n1": 3}
	got := SortedDevices(m)
	want := []string{"/dev/nvme0n1", "/dev/sda", "/dev/sdb"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedDevices order = %v, want %v", got, want)
		}
	}
	if SortedDevices(nil) != nil {
		t.Fatal("SortedDevices(nil) should be nil")
	}
}
