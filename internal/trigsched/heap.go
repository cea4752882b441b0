package trigsched

import (
	"time"

	"github.com/google/uuid"
)

// triggerTime is one entry in the scheduler's min-heap: the next wake
// time for a single trigger. epoch pins this entry to the trigger's
// generation at push time, so a reload that changes or removes the
// trigger can invalidate stale entries without draining and
// rebuilding the whole heap (spec §9's "either is acceptable" heap
// mutation note — this is the tombstone-by-id option).
type triggerTime struct {
	TriggerID         uuid.UUID
	TriggerDatetime   time.Time
	ScheduledDatetime time.Time
	epoch             int
}

// ttHeap is a container/heap.Interface ordered by ScheduledDatetime,
// earliest first.
type ttHeap []*triggerTime

func (h ttHeap) Len() int            { return len(h) }
func (h ttHeap) Less(i, j int) bool  { return h[i].ScheduledDatetime.Before(h[j].ScheduledDatetime) }
func (h ttHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *ttHeap) Push(x any)         { *h = append(*h, x.(*triggerTime)) }
func (h *ttHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
