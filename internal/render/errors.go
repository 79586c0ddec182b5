package render

import "errors"

// Render errors - returned during page rendering
var (
	ErrNavigateFailed = errors.New("navigation failed")
	ErrExtractHTML    = errors.New("HTML extraction failed")
	ErrWaitTimeout    = errors.New("wait timeout exceeded")
	ErrEmptyHTML      = errors.New("rendered document is empty")
)

// Engine errors - returned before a render starts
var (
	ErrAtCapacity   = errors.New("render capacity exhausted")
	ErrLaunchFailed = errors.New("browser launch failed")
	ErrShutdown     = errors.New("engine is shutting down")
)
