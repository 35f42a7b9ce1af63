// internal/batch/scheduler.go
package batch

import (
	"sync"
	"time"
)

// Task is a unit of deferred work scheduled between processing cycles.
type Task func()

// Scheduler defers a task by a delay. The engine schedules its next cycle
// through this interface so tests can run cycles synchronously.
type Scheduler interface {
	Schedule(task Task, delay time.Duration)
}

// TimerScheduler runs tasks on goroutines after a timer fires. Stop cancels
// all timers that have not fired yet.
type TimerScheduler struct {
	mu      sync.Mutex
	timers  map[int]*time.Timer
	nextKey int
	stopped bool
}

// NewTimerScheduler creates a timer-backed scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[int]*time.Timer)}
}

// Schedule implements Scheduler.
func (s *TimerScheduler) Schedule(task Task, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	key := s.nextKey
	s.nextKey++
	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		stopped := s.stopped
		s.mu.Unlock()

		if !stopped {
			task()
		}
	})
}

// Stop cancels all pending timers and rejects further scheduling.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
}
