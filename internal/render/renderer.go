// Package render drives a shared headless Chrome to produce HTML snapshots.
package render

import (
	"context"
	"time"
)

// Job describes one page render.
type Job struct {
	RequestID  string
	URL        string // loopback target, e.g. http://localhost:3000/pricing
	Origin     string // forwarded Origin header, may be empty
	UserAgent  string
	DeviceType string // cache.DeviceDesktop or cache.DeviceMobile

	RootSelector string        // primary selector of the readiness ladder
	Timeout      time.Duration // total render budget
	MaxParallel  int           // admission limit in force for this host
}

// Result is a completed render.
type Result struct {
	HTML     string
	Duration time.Duration
}

// Renderer produces HTML snapshots. The production implementation is Engine;
// tests substitute stubs.
type Renderer interface {
	Render(ctx context.Context, job *Job) (*Result, error)

	// Available reports whether the browser can accept work right now.
	Available() (bool, error)
}
