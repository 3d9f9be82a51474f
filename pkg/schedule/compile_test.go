package schedule

import (
	"errors"
	"testing"
	"time"

	"unitforge/pkg/logx"
)

func newTestCompiler() *Compiler { return NewCompiler(logx.Nop()) }

func TestCalendarCloudExpression(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cal  Calendar
		want string
	}{
		{"weekday range", Calendar{Spec: "Mon-Fri 14:00"}, "cron(00 14 ? * MON-FRI *)"},
		{"every day sentinel", Calendar{Spec: "Mon-Sun 00:00"}, "cron(00 00 ? * * *)"},
		{"sun-sat sentinel", Calendar{Spec: "Sun-Sat 06:30"}, "cron(30 06 ? * * *)"},
		{"day list", Calendar{Spec: "Mon,Wed,Fri 09:15"}, "cron(15 09 ? * MON,WED,FRI *)"},
		{"single day", Calendar{Spec: "Sat 23:45"}, "cron(45 23 ? * SAT *)"},
		{"seconds truncated", Calendar{Spec: "Mon-Fri 14:00:59"}, "cron(00 14 ? * MON-FRI *)"},
		{"timezone token ignored", Calendar{Spec: "Mon-Fri 08:00 Europe/Paris"}, "cron(00 08 ? * MON-FRI *)"},
	}
	c := newTestCompiler()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.CloudExpression(tt.cal)
			if err != nil {
				t.Fatalf("CloudExpression(%q) error: %v", tt.cal.Spec, err)
			}
			if got != tt.want {
				t.Fatalf("CloudExpression(%q) = %s, want %s", tt.cal.Spec, got, tt.want)
			}
		})
	}
}

func TestCalendarMalformed(t *testing.T) {
	t.Parallel()
	c := newTestCompiler()
	for _, spec := range []string{"", "Mon-Fri", "daily", "Mon-Fri 25:00", "Mon-Fri 14"} {
		if _, err := c.CloudExpression(Calendar{Spec: spec}); !errors.Is(err, ErrMalformedCalendar) {
			t.Fatalf("CloudExpression(%q) error = %v, want ErrMalformedCalendar", spec, err)
		}
	}
}

func TestPeriodicRate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		period time.Duration
		want   string
	}{
		{"one hour singular", time.Hour, "rate(1 hour)"},
		{"largest exact unit", 2 * time.Hour, "rate(2 hours)"},
		{"day beats hours", 48 * time.Hour, "rate(2 days)"},
		{"minutes fallback", 90 * time.Minute, "rate(90 minutes)"},
		{"exactly one minute", time.Minute, "rate(1 minute)"},
		{"one day", 24 * time.Hour, "rate(1 day)"},
	}
	c := newTestCompiler()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.CloudExpression(Periodic{Period: tt.period, RelativeTo: RelativeFinish})
			if err != nil {
				t.Fatalf("CloudExpression error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("CloudExpression(%v) = %s, want %s", tt.period, got, tt.want)
			}
		})
	}
}

func TestPeriodicRateErrors(t *testing.T) {
	t.Parallel()
	c := newTestCompiler()

	_, err := c.CloudExpression(Periodic{Period: 30 * time.Second})
	if !errors.Is(err, ErrSubMinutePeriod) {
		t.Fatalf("30s error = %v, want ErrSubMinutePeriod", err)
	}

	_, err = c.CloudExpression(Periodic{Period: 90 * time.Second})
	if !errors.Is(err, ErrUnevenPeriod) {
		t.Fatalf("90s error = %v, want ErrUnevenPeriod", err)
	}
}

func TestUnknownModel(t *testing.T) {
	t.Parallel()
	c := newTestCompiler()
	if _, err := c.CloudExpression(nil); err == nil {
		t.Fatal("expected error for unknown model")
	}
	if _, err := c.Timer(nil); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestCalendarTimer(t *testing.T) {
	t.Parallel()
	c := newTestCompiler()
	dirs, err := c.Timer(Calendar{
		Spec:       "Mon-Fri 09:00",
		Persistent: true,
		Accuracy:   time.Minute,
		Timezone:   "Europe/Paris",
	})
	if err != nil {
		t.Fatalf("Timer error: %v", err)
	}
	if got, _ := dirs.Get("OnCalendar"); got != "Mon-Fri 09:00 Europe/Paris" {
		t.Fatalf("OnCalendar = %q", got)
	}
	if got, _ := dirs.Get("Persistent"); got != "true" {
		t.Fatalf("Persistent = %q", got)
	}
	if got, _ := dirs.Get("AccuracySec"); got != "60s" {
		t.Fatalf("AccuracySec = %q", got)
	}
}

func TestPeriodicTimer(t *testing.T) {
	t.Parallel()
	c := newTestCompiler()
	tests := []struct {
		name    string
		p       Periodic
		want    map[string]string
		notWant []string
	}{
		{
			name: "boot anchored, finish relative",
			p:    Periodic{StartOn: StartBoot, Period: time.Hour, RelativeTo: RelativeFinish},
			want: map[string]string{"OnBootSec": "3600s", "OnUnitInactiveSec": "3600s"},
		},
		{
			name: "login anchored, start relative",
			p:    Periodic{StartOn: StartLogin, Period: 30 * time.Minute, RelativeTo: RelativeStart},
			want: map[string]string{"OnStartupSec": "1800s", "OnUnitActiveSec": "1800s"},
		},
		{
			name:    "command has no boot anchor",
			p:       Periodic{StartOn: StartCommand, Period: time.Hour, RelativeTo: RelativeFinish},
			want:    map[string]string{"OnUnitInactiveSec": "3600s"},
			notWant: []string{"OnBootSec", "OnStartupSec"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			dirs, err := c.Timer(tt.p)
			if err != nil {
				t.Fatalf("Timer error: %v", err)
			}
			for name, value := range tt.want {
				if got, ok := dirs.Get(name); !ok || got != value {
					t.Fatalf("%s = %q, want %q (dirs %v)", name, got, value, dirs.Names())
				}
			}
			for _, name := range tt.notWant {
				if _, ok := dirs.Get(name); ok {
					t.Fatalf("%s should not be emitted", name)
				}
			}
		})
	}
}

func TestPeriodicValidate(t *testing.T) {
	t.Parallel()
	if err := (Periodic{StartOn: "weekly", Period: time.Hour}).Validate(); err == nil {
		t.Fatal("expected error for unknown start_on")
	}
	if err := (Periodic{RelativeTo: "middle", Period: time.Hour}).Validate(); err == nil {
		t.Fatal("expected error for unknown relative_to")
	}
	if err := (Periodic{}).Validate(); err == nil {
		t.Fatal("expected error for zero period")
	}
}
