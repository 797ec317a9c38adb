package sandbox

import (
	"time"

	"github.com/dop251/goja"
)

// timer is one scheduled callback inside an execution.
type timer struct {
	id     int64
	due    time.Time
	delay  time.Duration
	repeat bool
	fn     goja.Callable
	args   []goja.Value
}

// timerQueue holds the pending timers of a single execution. Scheduling is
// cooperative and single-threaded: callbacks fire on the executing goroutine
// between interpreter runs, never in parallel with script code. The queue is
// owned by one execution context and requires no locking.
type timerQueue struct {
	nextID int64
	timers map[int64]*timer
}

func newTimerQueue() *timerQueue {
	return &timerQueue{timers: make(map[int64]*timer)}
}

// schedule registers a callback and returns its timer id.
func (q *timerQueue) schedule(fn goja.Callable, delay time.Duration, repeat bool, args []goja.Value) int64 {
	q.nextID++
	t := &timer{
		id:     q.nextID,
		due:    time.Now().Add(delay),
		delay:  delay,
		repeat: repeat,
		fn:     fn,
		args:   args,
	}
	q.timers[t.id] = t
	return t.id
}

// clear cancels a pending timer. Unknown ids are ignored, matching timer
// semantics scripts expect.
func (q *timerQueue) clear(id int64) {
	delete(q.timers, id)
}

// next returns the earliest pending timer, or nil when nothing is scheduled.
func (q *timerQueue) next() *timer {
	var earliest *timer
	for _, t := range q.timers {
		if earliest == nil || t.due.Before(earliest.due) {
			earliest = t
		}
	}
	return earliest
}

// fire consumes a due timer: one-shot timers are removed, repeating timers
// are rescheduled relative to now.
func (q *timerQueue) fire(t *timer) {
	if t.repeat {
		t.due = time.Now().Add(t.delay)
		return
	}
	delete(q.timers, t.id)
}
