package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
)

var errUnsettled = errors.New("promise never settled and no timers are pending")

type timer struct {
	id     int64
	fn     goja.Callable
	args   []goja.Value
	due    time.Time
	period time.Duration
	repeat bool
}

// timerQueue holds the pending timers of one run. It is only touched from
// the goroutine driving the VM.
type timerQueue struct {
	next    int64
	pending map[int64]*timer
}

func newTimerQueue() *timerQueue {
	return &timerQueue{pending: make(map[int64]*timer)}
}

func (q *timerQueue) len() int { return len(q.pending) }

func (q *timerQueue) add(fn goja.Callable, delay time.Duration, repeat bool, args []goja.Value) int64 {
	if delay < 0 {
		delay = 0
	}
	if repeat && delay < time.Millisecond {
		delay = time.Millisecond
	}
	q.next++
	q.pending[q.next] = &timer{
		id:     q.next,
		fn:     fn,
		args:   args,
		due:    time.Now().Add(delay),
		period: delay,
		repeat: repeat,
	}
	return q.next
}

func (q *timerQueue) cancel(id int64) {
	delete(q.pending, id)
}

func (q *timerQueue) earliest() *timer {
	var first *timer
	for _, t := range q.pending {
		if first == nil || t.due.Before(first.due) || (t.due.Equal(first.due) && t.id < first.id) {
			first = t
		}
	}
	return first
}

// runNext waits for the earliest timer and fires it. It gives up at the
// deadline, on cancellation, or when the watchdog fires.
func (q *timerQueue) runNext(ctx context.Context, deadline time.Time, fired <-chan struct{}) error {
	t := q.earliest()
	if t == nil {
		return errUnsettled
	}

	wake := t.due
	expired := false
	if wake.After(deadline) {
		wake, expired = deadline, true
	}
	if wait := time.Until(wake); wait > 0 {
		sleep := time.NewTimer(wait)
		select {
		case <-sleep.C:
		case <-ctx.Done():
			sleep.Stop()
			return ctx.Err()
		case <-fired:
			sleep.Stop()
			return nil
		}
	}
	if expired {
		return errTimeLimit
	}

	if t.repeat {
		t.due = time.Now().Add(t.period)
	} else {
		delete(q.pending, t.id)
	}
	_, err := t.fn(goja.Undefined(), t.args...)
	return err
}
