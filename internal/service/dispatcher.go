package service

import (
	"sync"
	"time"
)

// Dispatcher executes tasks one at a time on a single owner goroutine. All
// SDK state transitions run on it, which removes locking from the state
// machine itself: a task observes and mutates state without interference.
//
// Delayed tasks are keyed so a pending one can be cancelled or replaced, the
// mechanism behind retry timers and the typing debounce.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool

	timers map[string]*time.Timer

	done chan struct{}
}

// NewDispatcher starts the owner goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		wake:   make(chan struct{}, 1),
		timers: make(map[string]*time.Timer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 {
			if d.stopped {
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			<-d.wake
			d.mu.Lock()
		}
		task := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		task()
	}
}

// Post enqueues a task. Tasks posted from within a task run after it, in
// order.
func (d *Dispatcher) Post(task func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, task)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// PostDelayed schedules a task under key after delay, replacing any pending
// task with the same key.
func (d *Dispatcher) PostDelayed(key string, delay time.Duration, task func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		d.Post(task)
	})
}

// Cancel drops the pending delayed task under key, if any.
func (d *Dispatcher) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// HasPending reports whether a delayed task is scheduled under key.
func (d *Dispatcher) HasPending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}

// Sync posts a task and waits for it to finish. Used by the public API to
// read state coherently and heavily in tests.
func (d *Dispatcher) Sync(task func()) {
	done := make(chan struct{})
	d.Post(func() {
		task()
		close(done)
	})
	select {
	case <-done:
	case <-d.done:
	}
}

// Stop cancels pending timers, runs tasks already queued, then parks the
// goroutine.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}
