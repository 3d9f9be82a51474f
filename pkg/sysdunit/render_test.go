package sysdunit

import (
	"strings"
	"testing"

	"unitforge/pkg/resmodel"
)

func TestRenderServiceFile(t *testing.T) {
	t.Parallel()
	f := NewFile().
		Set("Unit", "Description", "nightly backup").
		Set("Service", "ExecStart", "/usr/local/bin/backup run").
		AddDirectives("Service", Compile(resmodel.Model{MemoryLimit: 1 << 30, CPUWeight: 100})).
		Set("Install", "WantedBy", "multi-user.target")

	text := f.Render()
	for _, want := range []string{
		"[Unit]",
		"Description=nightly backup",
		"[Service]",
		"ExecStart=/usr/local/bin/backup run",
		"CPUAccounting=yes",
		"MemoryMax=1073741824",
		"CPUWeight=100",
		"[Install]",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("rendered unit missing %q:\n%s", want, text)
		}
	}
}

func TestRenderRepeatedDirectives(t *testing.T) {
	t.Parallel()
	m := resmodel.Model{DeviceReadBPS: map[string]uint64{
		"/dev/sda": 1048576,
		"/dev/sdb": 2097152,
	}}
	text := NewFile().AddDirectives("Service", Compile(m)).Render()
	if !strings.Contains(text, "IOReadBandwidthMax_0=/dev/sda 1048576") {
		t.Fatalf("first device entry missing:\n%s", text)
	}
	if !strings.Contains(text, "IOReadBandwidthMax_1=/dev/sdb 2097152") {
		t.Fatalf("second device entry missing:\n%s", text)
	}
}

func TestUnitNames(t *testing.T) {
	t.Parallel()
	if got := ServiceUnit("backup"); got != "backup.service" {
		t.Fatalf("ServiceUnit = %s", got)
	}
	if got := TimerUnit("backup"); got != "backup.timer" {
		t.Fatalf("TimerUnit = %s", got)
	}
	if got := SliceUnit("nightly-backup"); got != "nightly_backup.slice" {
		t.Fatalf("SliceUnit = %s", got)
	}
}
