package trigsched

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// orderActivations sorts backfilled trigger_datetimes per the
// trigger's CatchupPolicy (spec §4.1's catchup token-ordering
// policies); CatchupNone is never passed a non-empty slice by the
// caller.
func orderActivations(policy waterwheel.CatchupPolicy, dts []time.Time) []time.Time {
	switch policy {
	case waterwheel.CatchupEarliest:
		sort.Slice(dts, func(i, j int) bool { return dts[i].Before(dts[j]) })
	case waterwheel.CatchupLatest:
		sort.Slice(dts, func(i, j int) bool { return dts[i].After(dts[j]) })
	case waterwheel.CatchupRandom:
		rand.Shuffle(len(dts), func(i, j int) { dts[i], dts[j] = dts[j], dts[i] })
	}
	return dts
}

// runCatchup implements spec §4.1's three-step catchup algorithm for
// a single trigger, called both at startup (for every active trigger)
// and whenever a TriggerUpdate notification is reloaded.
func (s *Scheduler) runCatchup(ctx context.Context, trg *waterwheel.Trigger) error {
	var backfill []time.Time

	// Step 1: the effective start moved backwards (an admin edited
	// start_datetime to something earlier than the trigger's recorded
	// earliest firing). Walk forward from start in period steps up to
	// (exclusive) the old earliest.
	if trg.Catchup != waterwheel.CatchupNone && trg.Earliest != nil && trg.Start.Before(*trg.Earliest) {
		for dt := trg.Start; dt.Before(*trg.Earliest); {
			backfill = append(backfill, dt)
			next, err := advance(trg, dt)
			if err != nil {
				return s.skipMalformed(trg, err)
			}
			dt = next
		}
	}

	// Step 2: walk forward from latest+period (or start, if the
	// trigger has never fired) up to min(now, end).
	next := trg.Start
	if trg.Latest != nil {
		advanced, err := advance(trg, *trg.Latest)
		if err != nil {
			return s.skipMalformed(trg, err)
		}
		next = advanced
	}

	last := s.Clock()
	if trg.End != nil && trg.End.Before(last) {
		last = *trg.End
	}

	for next.Before(last) {
		if trg.Catchup != waterwheel.CatchupNone {
			backfill = append(backfill, next)
		}
		advanced, err := advance(trg, next)
		if err != nil {
			return s.skipMalformed(trg, err)
		}
		next = advanced
	}

	// Step 3: queue the first future fire, if still admissible.
	if withinEnd(next, trg.End) {
		s.push(&triggerTime{
			TriggerID:         trg.ID,
			TriggerDatetime:   next,
			ScheduledDatetime: scheduledAt(trg, next),
		})
	}

	if len(backfill) == 0 {
		return nil
	}

	backfill = orderActivations(trg.Catchup, backfill)
	for _, dt := range backfill {
		if err := s.activateTrigger(ctx, trg, dt, waterwheel.PriorityBackFill); err != nil {
			return fmt.Errorf("trigsched: catchup activate trigger %s @ %s: %w", trg.ID, dt, err)
		}
		s.Metrics.CatchupActivated.WithLabelValues(trg.ID.String()).Inc()
	}
	return nil
}

// skipMalformed implements spec §7's "Schedule malformed" error kind:
// log and skip the offending trigger, without failing the whole
// scheduler loop or pausing its job.
func (s *Scheduler) skipMalformed(trg *waterwheel.Trigger, err error) error {
	s.Logger.Error("skipping malformed trigger schedule", "trigger_id", trg.ID, "error", err)
	return nil
}
