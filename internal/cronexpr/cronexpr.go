// Package cronexpr wraps robfig/cron's schedule parsing so the
// trigger scheduler can compute period advance (spec §4.1) uniformly
// for both fixed-period and cron-driven triggers.
package cronexpr

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the standard five-field cron expression (minute hour
// dom month dow); seconds precision is not needed — spec §9 notes
// RFC3339 second precision is sufficient for the cron domain.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is a parsed cron expression that can compute the next fire
// time strictly after a given instant.
type Schedule struct {
	expr string
	sch  cron.Schedule
}

// Parse parses a cron expression, returning an error for malformed
// input (spec §7's "Schedule malformed" error kind).
func Parse(expr string) (*Schedule, error) {
	sch, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cronexpr: malformed schedule %q: %w", expr, err)
	}
	return &Schedule{expr: expr, sch: sch}, nil
}

// After returns the next fire time strictly after t. It returns the
// zero time when robfig/cron finds no matching instant within five
// years of t, which happens for an expression that parses but can
// never fire (e.g. "0 0 30 2 *").
func (s *Schedule) After(t time.Time) time.Time {
	return s.sch.Next(t)
}

// String returns the original expression text.
func (s *Schedule) String() string { return s.expr }
