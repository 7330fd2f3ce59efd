package subscription

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseWindow parses a standard 5-field cron expression into a delivery
// window. An empty expression means the always-open default.
func ParseWindow(expr string) (Window, error) {
	if expr == "" {
		expr = DefaultCronExpr
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Window{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return Window{sched: sched}, nil
}

// Window is the delivery-eligibility filter derived from a cron expression.
// The expression's occurrence grid, widened to minute granularity and
// inclusive at both boundaries, forms the open intervals during which a
// subscription fires: "* 9-17 * * *" is an inclusive 09:00-17:59 window,
// "* * * * *" is always open, and an expression pinned to another hour is
// closed. This is a window test, not a point-in-time trigger match.
type Window struct {
	sched cron.Schedule
}

// Contains reports whether now falls inside the delivery window.
func (w Window) Contains(now time.Time) bool {
	if w.sched == nil {
		return true
	}
	// Schedule.Next is exclusive of its argument, so step one second behind
	// the minute boundary to treat an occurrence on the boundary as inside.
	start := now.Truncate(time.Minute)
	next := w.sched.Next(start.Add(-time.Second))
	return !next.After(now)
}
