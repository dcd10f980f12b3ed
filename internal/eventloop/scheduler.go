package eventloop

import "sync"

// Scheduler is the deferred-task queue that serializes cross-goroutine work
// onto the control loop.
//
// Any goroutine may call Schedule; the queued function runs exactly once, on
// the control loop goroutine, strictly after Schedule returns. This is the
// sole mechanism by which workers and transport callbacks touch shared device
// state.
//
// Thread Safety:
//   - Schedule is safe from any goroutine.
//   - Drain must only be called from the control loop goroutine.
type Scheduler struct {
	mu    sync.Mutex
	tasks []func()
	flags *FlagGroup
}

// NewScheduler creates a scheduler that raises FlagSchedule on the given
// flag group whenever work is queued.
func NewScheduler(flags *FlagGroup) *Scheduler {
	return &Scheduler{
		flags: flags,
	}
}

// Schedule queues fn to run on the control loop and wakes it.
//
// Multiple Schedule calls between drains coalesce into a single wake-up, but
// every queued function still runs, in FIFO order.
func (s *Scheduler) Schedule(fn func()) {
	s.mu.Lock()
	s.tasks = append(s.tasks, fn)
	s.mu.Unlock()

	s.flags.Set(FlagSchedule)
}

// Drain removes and returns all queued tasks.
//
// The swap happens under the lock; execution is the caller's job, after the
// lock is released. Tasks scheduled while the returned batch executes land
// in the next batch, never recursively within the current one.
//
// Returns:
//   - []func(): Tasks in FIFO order (nil when nothing is pending)
func (s *Scheduler) Drain() []func() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()
	return tasks
}

// Pending returns the number of queued tasks. Intended for tests and debug
// logging only.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
