// Package schedule models recurring activation of a service and
// compiles it into systemd timer directives and cloud scheduler
// expressions.
//
// Two variants exist: Calendar (recurring wall-clock pattern) and
// Periodic (interval relative to boot, login, or the previous run).
// Both are immutable value objects; compilers never modify them.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedCalendar marks calendar specs that cannot be split
	// into a day part and a time part.
	ErrMalformedCalendar = errors.New("malformed calendar spec")

	// ErrSubMinutePeriod marks periods below the cloud grammar's
	// one-minute floor. No clamp preserves intent here, so this is a
	// hard error rather than an adjustment.
	ErrSubMinutePeriod = errors.New("period below one minute")

	// ErrUnevenPeriod marks periods that are not a whole number of
	// minutes; the cloud grammar cannot express them.
	ErrUnevenPeriod = errors.New("period is not a whole number of minutes")
)

// Model is one schedule variant: Calendar or Periodic.
type Model interface {
	scheduleModel()
}

// Calendar is a recurring wall-clock pattern in systemd calendar
// style: "<day-spec> <HH:MM[:SS]>". The day spec is a day name, a
// comma list, or a dash range; "Mon-Sun" and "Sun-Sat" mean every day.
type Calendar struct {
	Spec       string
	Persistent bool          // fire missed activations on next boot
	Accuracy   time.Duration // activation slack; 0 = backend default
	Timezone   string        // optional IANA name
}

func (Calendar) scheduleModel() {}

// StartOn anchors a periodic schedule.
type StartOn string

const (
	StartBoot    StartOn = "boot"
	StartLogin   StartOn = "login"
	StartCommand StartOn = "command"
)

// RelativeTo picks which end of the previous run the interval counts
// from.
type RelativeTo string

const (
	RelativeStart  RelativeTo = "start"
	RelativeFinish RelativeTo = "finish"
)

// Periodic is an interval schedule.
type Periodic struct {
	StartOn    StartOn
	Period     time.Duration
	RelativeTo RelativeTo
}

func (Periodic) scheduleModel() {}

// parts is a Calendar spec split into its components.
type parts struct {
	days    string
	hour    int
	minute  int
	second  int // truncated by the cloud target
	hasSec  bool
	tzToken string // third whitespace token, if any
}

func (c Calendar) split() (parts, error) {
	fields := strings.Fields(c.Spec)
	if len(fields) < 2 {
		return parts{}, fmt.Errorf("%w: %q needs a day spec and a time", ErrMalformedCalendar, c.Spec)
	}

	p := parts{days: fields[0]}
	if len(fields) > 2 {
		p.tzToken = fields[2]
	}

	clock := strings.Split(fields[1], ":")
	if len(clock) < 2 || len(clock) > 3 {
		return parts{}, fmt.Errorf("%w: time %q is not HH:MM[:SS]", ErrMalformedCalendar, fields[1])
	}
	var err error
	if p.hour, err = clockField(clock[0], 23); err != nil {
		return parts{}, fmt.Errorf("%w: %v", ErrMalformedCalendar, err)
	}
	if p.minute, err = clockField(clock[1], 59); err != nil {
		return parts{}, fmt.Errorf("%w: %v", ErrMalformedCalendar, err)
	}
	if len(clock) == 3 {
		if p.second, err = clockField(clock[2], 59); err != nil {
			return parts{}, fmt.Errorf("%w: %v", ErrMalformedCalendar, err)
		}
		p.hasSec = true
	}
	return p, nil
}

func clockField(s string, max int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("clock field %q is not a number", s)
	}
	if n < 0 || n > max {
		return 0, fmt.Errorf("clock field %d outside 0..%d", n, max)
	}
	return n, nil
}

// everyDay reports whether a day spec is one of the sentinels covering
// the whole week.
func everyDay(days string) bool {
	d := strings.ToLower(days)
	return d == "mon-sun" || d == "sun-sat"
}

// Validate checks the spec without compiling it.
func (c Calendar) Validate() error {
	_, err := c.split()
	return err
}

// Validate checks the interval shape shared by both compile targets.
func (p Periodic) Validate() error {
	switch p.StartOn {
	case "", StartBoot, StartLogin, StartCommand:
	default:
		return fmt.Errorf("unknown start_on %q", p.StartOn)
	}
	switch p.RelativeTo {
	case "", RelativeStart, RelativeFinish:
	default:
		return fmt.Errorf("unknown relative_to %q", p.RelativeTo)
	}
	if p.Period <= 0 {
		return errors.New("period must be positive")
	}
	return nil
}
