package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextActivations previews the next n firings of a calendar schedule
// after the given instant. Used by the CLI to let operators sanity
// check a spec before deploying it; the backends do their own
// scheduling.
func NextActivations(cal Calendar, after time.Time, n int) ([]time.Time, error) {
	p, err := cal.split()
	if err != nil {
		return nil, err
	}

	dow := "*"
	if !everyDay(p.days) {
		dow = p.days
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * %s", p.minute, p.hour, dow))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCalendar, err)
	}

	if loc := cal.Timezone; loc != "" {
		l, lerr := time.LoadLocation(loc)
		if lerr != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", ErrMalformedCalendar, loc)
		}
		after = after.In(l)
	}

	out := make([]time.Time, 0, n)
	t := after
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
