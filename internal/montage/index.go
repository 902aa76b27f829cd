package montage

import (
	"sort"
	"time"

	"review-montage/internal/api"
)

// Index groups one search's events by monitor. It is built once per search
// result and replaced wholesale, never patched.
type Index struct {
	byMonitor map[api.MonitorID][]api.Event
	monitors  []api.MonitorID
	total     int
}

// BuildIndex groups events by monitor. Each group is stable-sorted by start,
// so server order survives for events starting at the same instant and the
// first match in a group is also the earliest-starting one.
func BuildIndex(events []api.Event) *Index {
	ix := &Index{byMonitor: make(map[api.MonitorID][]api.Event)}
	for _, ev := range events {
		if _, ok := ix.byMonitor[ev.MonitorID]; !ok {
			ix.monitors = append(ix.monitors, ev.MonitorID)
		}
		ix.byMonitor[ev.MonitorID] = append(ix.byMonitor[ev.MonitorID], ev)
	}
	for _, group := range ix.byMonitor {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Start.Before(group[j].Start)
		})
	}
	ix.total = len(events)
	return ix
}

// Events returns the ordered events of one monitor. The slice must not be
// modified.
func (ix *Index) Events(id api.MonitorID) []api.Event {
	if ix == nil {
		return nil
	}
	return ix.byMonitor[id]
}

// Monitors lists the monitors that have events, in first-seen order.
func (ix *Index) Monitors() []api.MonitorID {
	if ix == nil {
		return nil
	}
	return append([]api.MonitorID(nil), ix.monitors...)
}

// Len is the number of indexed events across all monitors.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return ix.total
}

// ActiveEvent returns the first event e with e.Start <= t < e.End.
// Events whose end does not follow their start are never active.
func ActiveEvent(events []api.Event, t time.Time) (api.Event, bool) {
	i := activeIndex(events, t)
	if i < 0 {
		return api.Event{}, false
	}
	return events[i], true
}

// NextEvent returns the event after the active one in sequence order. There is
// none when nothing is active or the active event is last.
func NextEvent(events []api.Event, t time.Time) (api.Event, bool) {
	i := activeIndex(events, t)
	if i < 0 || i+1 >= len(events) {
		return api.Event{}, false
	}
	return events[i+1], true
}

func activeIndex(events []api.Event, t time.Time) int {
	for i := range events {
		if !events[i].Start.After(t) && t.Before(events[i].End) {
			return i
		}
	}
	return -1
}

// FilterMinFrames drops events with minFrames frames or fewer. A minFrames of
// zero or less keeps everything.
func FilterMinFrames(events []api.Event, minFrames int64) []api.Event {
	if minFrames <= 0 {
		return events
	}
	out := make([]api.Event, 0, len(events))
	for _, ev := range events {
		if ev.Frames > minFrames {
			out = append(out, ev)
		}
	}
	return out
}
