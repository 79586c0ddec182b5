package render

import (
	"context"
	"sync"
	"time"
)

// Stub is a canned Renderer for tests and dry runs.
type Stub struct {
	HTML  string
	Err   error
	Delay time.Duration

	mu   sync.Mutex
	jobs []Job
}

func (s *Stub) Render(ctx context.Context, job *Job) (*Result, error) {
	s.mu.Lock()
	s.jobs = append(s.jobs, *job)
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return &Result{HTML: s.HTML, Duration: s.Delay}, nil
}

func (s *Stub) Available() (bool, error) {
	return true, nil
}

// Jobs returns a copy of every job rendered so far.
func (s *Stub) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}
