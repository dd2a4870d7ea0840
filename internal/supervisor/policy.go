package supervisor

import "time"

// Policy is the bounded-retry decision function. It is a pure function
// of the record's failure history and the configured limits; it never
// touches the process or the OS.
type Policy struct {
	// MaxAttempts is the number of failed launches after which the
	// session is marked Failed and no longer retried automatically.
	MaxAttempts int

	// Delay is the flat wait imposed before each relaunch. No relaunch
	// is issued before it elapses, preventing tight crash loops.
	Delay time.Duration

	// StabilityWindow is the continuous Running duration after which
	// restart history is forgiven. Must exceed the startup timeout.
	StabilityWindow time.Duration
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	GiveUp bool
	Delay  time.Duration // valid when GiveUp is false
}

// Decide evaluates a worker's failure history after a failure has been
// recorded. The caller increments RestartCount (and applies stability
// forgiveness) before calling.
func (p Policy) Decide(rec *WorkerRecord) Decision {
	if rec.RestartCount >= p.MaxAttempts {
		return Decision{GiveUp: true}
	}
	return Decision{Delay: p.Delay}
}
