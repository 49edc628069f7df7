// Package scheduler runs deferred work once per server tick.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"
)

// Task is a unit of deferred work. Run must not block. Returning done
// removes the task; returning an error logs it and removes the task.
type Task interface {
	Name() string
	Run(now time.Time) (done bool, err error)
}

// Func adapts a function to Task. Use a pointer so the task can be cancelled.
type Func struct {
	name string
	fn   func(now time.Time) (bool, error)
}

// NewFunc wraps fn as a named task.
func NewFunc(name string, fn func(now time.Time) (bool, error)) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Run(now time.Time) (bool, error) { return f.fn(now) }

// Every runs fn at most once per interval and is never done on its own.
func Every(name string, interval time.Duration, fn func(now time.Time) error) *Func {
	var next time.Time
	return NewFunc(name, func(now time.Time) (bool, error) {
		if now.Before(next) {
			return false, nil
		}
		next = now.Add(interval)
		return false, fn(now)
	})
}

// Scheduler holds tasks in registration order. It is driven from the tick
// thread and is not safe for concurrent use.
type Scheduler struct {
	tasks   []Task
	running bool
	added   []Task
	logger  *slog.Logger
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Schedule appends t. Tasks added from inside a running task start on the
// next RunPending.
func (s *Scheduler) Schedule(t Task) {
	if s.running {
		s.added = append(s.added, t)
		return
	}
	s.tasks = append(s.tasks, t)
}

// Cancel removes t and reports whether it was scheduled.
func (s *Scheduler) Cancel(t Task) bool {
	for i, cur := range s.tasks {
		if cur == t {
			if s.running {
				s.tasks[i] = nil
			} else {
				s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			}
			return true
		}
	}
	for i, cur := range s.added {
		if cur == t {
			s.added = append(s.added[:i], s.added[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of scheduled tasks.
func (s *Scheduler) Len() int {
	n := len(s.added)
	for _, t := range s.tasks {
		if t != nil {
			n++
		}
	}
	return n
}

// RunPending runs every task once in registration order.
func (s *Scheduler) RunPending(now time.Time) {
	s.running = true
	for i, t := range s.tasks {
		if t == nil {
			continue
		}
		done, err := s.run(t, now)
		if err != nil {
			s.logger.Error("Background task failed, removing", "task", t.Name(), "error", err)
			done = true
		}
		if done && s.tasks[i] == t {
			s.tasks[i] = nil
		}
	}
	s.running = false

	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t != nil {
			kept = append(kept, t)
		}
	}
	clear(s.tasks[len(kept):])
	s.tasks = append(kept, s.added...)
	s.added = nil
}

func (s *Scheduler) run(t Task, now time.Time) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Run(now)
}
