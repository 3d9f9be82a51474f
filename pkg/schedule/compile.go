package schedule

import (
	"fmt"
	"strings"
	"time"

	"unitforge/pkg/logx"
	"unitforge/pkg/sysdunit"
)

// Compiler turns schedule models into backend configuration. The
// logger carries precision-loss warnings (ignored timezones,
// start-relative periods) that are expected and documented rather than
// silent.
type Compiler struct {
	log logx.Logger
}

func NewCompiler(log logx.Logger) *Compiler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Compiler{log: log}
}

// Timer compiles one model into [Timer]-section directives. A service
// with several schedules concatenates the directive sets into one
// timer unit; systemd triggers on any of them.
func (c *Compiler) Timer(m Model) (sysdunit.Directives, error) {
	switch v := m.(type) {
	case Calendar:
		return c.calendarTimer(v)
	case Periodic:
		return c.periodicTimer(v)
	default:
		return nil, fmt.Errorf("unrecognized schedule model %T", m)
	}
}

func (c *Compiler) calendarTimer(cal Calendar) (sysdunit.Directives, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}

	spec := cal.Spec
	if cal.Timezone != "" && !strings.Contains(spec, cal.Timezone) {
		// systemd accepts a trailing timezone on the calendar spec.
		spec += " " + cal.Timezone
	}

	dirs := sysdunit.Directives{{Name: "OnCalendar", Value: spec}}
	if cal.Persistent {
		dirs = append(dirs, sysdunit.Directive{Name: "Persistent", Value: "true"})
	}
	if cal.Accuracy > 0 {
		dirs = append(dirs, sysdunit.Directive{Name: "AccuracySec", Value: seconds(cal.Accuracy)})
	}
	return dirs, nil
}

func (c *Compiler) periodicTimer(p Periodic) (sysdunit.Directives, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var dirs sysdunit.Directives
	switch p.StartOn {
	case StartBoot:
		dirs = append(dirs, sysdunit.Directive{Name: "OnBootSec", Value: seconds(p.Period)})
	case StartLogin:
		dirs = append(dirs, sysdunit.Directive{Name: "OnStartupSec", Value: seconds(p.Period)})
	case StartCommand, "":
		// No boot anchor; the interval alone drives activation.
	}

	switch p.RelativeTo {
	case RelativeStart:
		dirs = append(dirs, sysdunit.Directive{Name: "OnUnitActiveSec", Value: seconds(p.Period)})
	case RelativeFinish, "":
		dirs = append(dirs, sysdunit.Directive{Name: "OnUnitInactiveSec", Value: seconds(p.Period)})
	}
	return dirs, nil
}

// CloudExpression compiles one model into the cloud scheduler grammar:
// cron(Minutes Hours DayOfMonth Month DayOfWeek Year) or rate(N unit).
func (c *Compiler) CloudExpression(m Model) (string, error) {
	switch v := m.(type) {
	case Calendar:
		return c.calendarCron(v)
	case Periodic:
		return c.periodicRate(v)
	default:
		return "", fmt.Errorf("unrecognized schedule model %T", m)
	}
}

func (c *Compiler) calendarCron(cal Calendar) (string, error) {
	p, err := cal.split()
	if err != nil {
		return "", err
	}

	if tz := firstNonEmpty(p.tzToken, cal.Timezone); tz != "" {
		// The target clock is UTC-only; the zone is dropped, loudly.
		c.log.Warn("calendar timezone ignored; cloud scheduler runs on UTC",
			logx.String("spec", cal.Spec), logx.String("timezone", tz))
	}
	if p.hasSec && p.second != 0 {
		// The grammar has no seconds field; truncation, not rounding.
		c.log.Debug("calendar seconds truncated for cloud expression",
			logx.String("spec", cal.Spec), logx.Int("seconds", p.second))
	}

	dow := "*"
	if !everyDay(p.days) {
		dow = strings.ToUpper(p.days)
	}
	// DayOfMonth is ? because the grammar forbids setting both it and
	// DayOfWeek; Year is unconstrained.
	return fmt.Sprintf("cron(%02d %02d ? * %s *)", p.minute, p.hour, dow), nil
}

func (c *Compiler) periodicRate(p Periodic) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	secs := int64(p.Period / time.Second)
	if secs < 60 {
		return "", fmt.Errorf("%w: %ds (rate() granularity is one minute)", ErrSubMinutePeriod, secs)
	}
	if secs%60 != 0 {
		return "", fmt.Errorf("%w: %ds", ErrUnevenPeriod, secs)
	}

	if p.RelativeTo == RelativeStart {
		// rate() measures from the previous completion; a
		// start-relative interval drifts by the run duration.
		c.log.Warn("start-relative period compiled to rate(); cloud scheduler measures from finish",
			logx.Duration("period", p.Period))
	}

	// Largest exact unit wins: days, then hours, then minutes.
	var n int64
	var unit string
	switch {
	case secs%86400 == 0:
		n, unit = secs/86400, "day"
	case secs%3600 == 0:
		n, unit = secs/3600, "hour"
	default:
		n, unit = secs/60, "minute"
	}
	if n != 1 {
		unit += "s"
	}
	return fmt.Sprintf("rate(%d %s)", n, unit), nil
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d/time.Second))
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
