package flow

import (
	"math"
	"time"
)

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// OnErrorPolicy selects what happens to the run when a step exhausts its
// attempts.
type OnErrorPolicy string

const (
	// OnErrorFail fails the run.
	OnErrorFail OnErrorPolicy = "fail"
	// OnErrorSkip marks the step skipped; descendants still run.
	OnErrorSkip OnErrorPolicy = "skip"
	// OnErrorContinue records the error as the step's output and proceeds.
	OnErrorContinue OnErrorPolicy = "continue"
)

// maxBackoff caps any single retry delay.
const maxBackoff = 300 * time.Second

// Policy is the per-step execution policy derived from node data.
type Policy struct {
	MaxAttempts     int
	BackoffStrategy BackoffStrategy
	BackoffBase     float64
	Timeout         time.Duration
	OnError         OnErrorPolicy
}

// PolicyFor reads a node's policy fields, applying defaults: a single
// attempt, fixed backoff with base 2 seconds, no timeout, fail on error.
func PolicyFor(n *Node) Policy {
	p := Policy{
		MaxAttempts:     n.Data.MaxAttempts,
		BackoffStrategy: BackoffStrategy(n.Data.BackoffStrategy),
		BackoffBase:     n.Data.BackoffBase,
		Timeout:         time.Duration(n.Data.TimeoutSeconds * float64(time.Second)),
		OnError:         OnErrorPolicy(n.Data.OnError),
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	switch p.BackoffStrategy {
	case BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		p.BackoffStrategy = BackoffFixed
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = 2.0
	}
	if p.Timeout < 0 {
		p.Timeout = 0
	}
	switch p.OnError {
	case OnErrorFail, OnErrorSkip, OnErrorContinue:
	default:
		p.OnError = OnErrorFail
	}
	return p
}

// Backoff returns the delay before the next attempt, given the attempt that
// just failed (1-based). Exponential growth is capped at 300s.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var seconds float64
	switch p.BackoffStrategy {
	case BackoffLinear:
		seconds = p.BackoffBase * float64(attempt)
	case BackoffExponential:
		seconds = math.Pow(p.BackoffBase, float64(attempt))
	default:
		seconds = p.BackoffBase
	}
	d := time.Duration(seconds * float64(time.Second))
	if d > maxBackoff {
		d = maxBackoff
	}
	if d < 0 {
		d = 0
	}
	return d
}
