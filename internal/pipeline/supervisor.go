package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Task states reported by Supervisor.Tasks.
const (
	TaskRunning = "running"
	TaskStopped = "stopped"
	TaskFailed  = "failed"
)

// Supervisor runs long-lived tasks in an errgroup. The first task to fail
// (error or panic) cancels the shared context; a clean return does not.
type Supervisor struct {
	g   *errgroup.Group
	ctx context.Context

	mu    sync.Mutex
	tasks map[string]string
	seq   map[string]int
}

// NewSupervisor creates a supervisor whose tasks share a child of ctx.
func NewSupervisor(ctx context.Context) *Supervisor {
	g, gCtx := errgroup.WithContext(ctx)
	return &Supervisor{
		g:     g,
		ctx:   gCtx,
		tasks: make(map[string]string),
		seq:   make(map[string]int),
	}
}

// Go starts fn as a named task. Repeated names get a numeric suffix.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.seq[name]++
	if n := s.seq[name]; n > 1 {
		name = fmt.Sprintf("%s-%d", name, n)
	}
	s.tasks[name] = TaskRunning
	s.mu.Unlock()

	s.g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			s.finish(name, err)
			if err != nil {
				err = fmt.Errorf("task %s: %w", name, err)
			}
		}()
		err = fn(s.ctx)
		if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
			err = nil
		}
		return err
	})
}

func (s *Supervisor) finish(name string, err error) {
	state := TaskStopped
	if err != nil {
		state = TaskFailed
		log.Error().Err(err).Str("task", name).Msg("supervisor: task failed")
	} else {
		log.Debug().Str("task", name).Msg("supervisor: task stopped")
	}
	s.mu.Lock()
	s.tasks[name] = state
	s.mu.Unlock()
}

// Wait blocks until every task has returned and reports the first failure.
func (s *Supervisor) Wait() error {
	return s.g.Wait()
}

// Tasks returns a copy of the task state map.
func (s *Supervisor) Tasks() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.tasks))
	for k, v := range s.tasks {
		out[k] = v
	}
	return out
}
