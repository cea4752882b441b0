package trigsched

import (
	"fmt"
	"time"

	"github.com/waterwheel/waterwheel/internal/cronexpr"
	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// advance computes a trigger's next trigger_datetime strictly after
// dt: cron schedules delegate to robfig/cron's Next, fixed-period
// triggers add Period seconds (spec §4.1 "Period advance").
func advance(trg *waterwheel.Trigger, dt time.Time) (time.Time, error) {
	if trg.IsCron() {
		sch, err := cronexpr.Parse(trg.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("trigsched: trigger %s: %w", trg.ID, err)
		}
		next := sch.After(dt)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("trigsched: trigger %s: cron schedule %q has no fire time after %s", trg.ID, trg.Cron, dt)
		}
		return next, nil
	}
	if trg.Period == nil {
		return time.Time{}, fmt.Errorf("trigsched: trigger %s has neither cron nor period set", trg.ID)
	}
	return dt.Add(*trg.Period), nil
}

// withinEnd reports whether dt is still admissible given end (nil
// means open-ended, spec §8's boundary property).
func withinEnd(dt time.Time, end *time.Time) bool {
	return end == nil || dt.Before(*end)
}

// scheduledAt computes the wake time a trigger_datetime maps to,
// honoring TriggerOffset (spec §4.1's TriggerTime.scheduled_datetime).
func scheduledAt(trg *waterwheel.Trigger, triggerDatetime time.Time) time.Time {
	return triggerDatetime.Add(trg.TriggerOffset)
}
