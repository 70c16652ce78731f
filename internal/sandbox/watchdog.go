package sandbox

import (
	"context"
	"errors"
	"runtime/metrics"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

const heapMetric = "/memory/classes/heap/objects:bytes"

var (
	errTimeLimit   = errors.New("execution time limit reached")
	errMemoryLimit = errors.New("memory limit reached")
)

// sampleInterval is how often the watchdog samples the heap
var sampleInterval = 2 * time.Millisecond

func heapBytes() int64 {
	s := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return int64(s[0].Value.Uint64())
}

// watchdog interrupts a runtime when it runs past its deadline, grows the
// heap past its limit, or its context is cancelled
type watchdog struct {
	stopCh chan struct{}
	done   chan struct{}
	fired  chan struct{}
	once   sync.Once
	reason atomic.Value
	peak   atomic.Int64
}

func startWatchdog(ctx context.Context, vm *goja.Runtime, timeout time.Duration, baseline, memLimit int64) *watchdog {
	w := &watchdog{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		fired:  make(chan struct{}),
	}

	go func() {
		defer close(w.done)
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				w.fire(vm, ctx.Err())
				return
			case <-timer.C:
				w.fire(vm, errTimeLimit)
				return
			case <-ticker.C:
				delta := heapBytes() - baseline
				if delta > w.peak.Load() {
					w.peak.Store(delta)
				}
				if delta > memLimit {
					w.fire(vm, errMemoryLimit)
					return
				}
			}
		}
	}()
	return w
}

func (w *watchdog) fire(vm *goja.Runtime, reason error) {
	w.once.Do(func() {
		w.reason.Store(reason)
		vm.Interrupt(reason)
		close(w.fired)
	})
}

// Reason returns why the watchdog fired, or nil
func (w *watchdog) Reason() error {
	if v := w.reason.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// stop ends sampling and returns the peak heap growth observed
func (w *watchdog) stop() int64 {
	close(w.stopCh)
	<-w.done
	return w.peak.Load()
}
