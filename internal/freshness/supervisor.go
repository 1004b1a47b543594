// Package freshness tracks whether the input source is still producing samples.
package freshness

import (
	"sync"
	"time"
)

// State of the input freshness state machine.
type State int

const (
	// Idle means no sample was ever accepted.
	Idle State = iota
	// Publishing means a sample was accepted within the timeout.
	Publishing
	// TimedOut means the timeout elapsed since the last accepted sample.
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Publishing:
		return "publishing"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Transition describes a state change. Changed is false when the state stayed the same.
type Transition struct {
	From    State
	To      State
	At      time.Time
	Changed bool
}

// Policy settles behaviours the state machine leaves open.
type Policy struct {
	// RejectedSamplesRefresh makes samples that failed validation count as proof of
	// a live source. Off by default: only accepted samples reset the timer.
	RejectedSamplesRefresh bool
}

// Supervisor is the Idle -> Publishing <-> TimedOut state machine. Times are passed in
// by the caller so the supervisor follows whatever clock drives the processing cycle.
type Supervisor struct {
	mu       sync.RWMutex
	timeout  time.Duration
	policy   Policy
	state    State
	deadline time.Time
	armed    bool
}

func NewSupervisor(timeout time.Duration, policy Policy) *Supervisor {
	return &Supervisor{timeout: timeout, policy: policy}
}

// Arm starts the timeout without a sample, letting Idle time out. Used when the
// source is expected to be producing as soon as the service starts.
func (s *Supervisor) Arm(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = at.Add(s.timeout)
	s.armed = true
}

// OnSample records a sample arrival. Only accepted samples (or rejected ones when the
// policy says so) reset the timer and open the Publishing state.
func (s *Supervisor) OnSample(accepted bool, at time.Time) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !accepted && !s.policy.RejectedSamplesRefresh {
		return Transition{From: s.state, To: s.state, At: at}
	}

	s.deadline = at.Add(s.timeout)
	s.armed = true
	return s.moveTo(Publishing, at)
}

// Tick times out the supervisor when the deadline has passed.
func (s *Supervisor) Tick(now time.Time) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.armed || s.state == TimedOut || !now.After(s.deadline) {
		return Transition{From: s.state, To: s.state, At: now}
	}
	return s.moveTo(TimedOut, now)
}

func (s *Supervisor) IsPublishing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == Publishing
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Must be called with mu held.
func (s *Supervisor) moveTo(to State, at time.Time) Transition {
	from := s.state
	s.state = to
	return Transition{From: from, To: to, At: at, Changed: from != to}
}
