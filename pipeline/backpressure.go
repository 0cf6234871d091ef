package pipeline

import (
	"sync/atomic"
	"time"
)

// Bottleneck classifies which stage currently limits throughput
type Bottleneck int

// Bottleneck classifications
const (
	Balanced Bottleneck = iota
	Capture
	Decode
	Consumer
)

// String returns the bottleneck name
func (b Bottleneck) String() string {
	switch b {
	case Balanced:
		return "balanced"
	case Capture:
		return "capture"
	case Decode:
		return "decode"
	case Consumer:
		return "consumer"
	}
	return "unknown"
}

// BackpressureState is the advisory telemetry recomputed on every output
// dequeue. Never required for correctness.
type BackpressureState struct {
	LastResidency time.Duration
	Bottleneck    Bottleneck
	At            time.Time
}

// Controller observes output queue residency and classifies the current
// bottleneck. It owns no data and never blocks; with autoPolicy it also
// switches queue drop policies, and it is the only writer of those.
type Controller struct {
	admission       *Queue
	output          *Queue
	residencyIdle   time.Duration
	residencyHigh   time.Duration
	autoPolicy      bool
	admissionPolicy Policy
	outputPolicy    Policy
	state           atomic.Value
}

// NewController creates a new Controller over the admission and output
// queues. The configured policies are what autoPolicy reverts to.
func NewController(admission *Queue, output *Queue,
	residencyIdle time.Duration, residencyHigh time.Duration,
	autoPolicy bool) *Controller {
	c := &Controller{
		admission:       admission,
		output:          output,
		residencyIdle:   residencyIdle,
		residencyHigh:   residencyHigh,
		autoPolicy:      autoPolicy,
		admissionPolicy: admission.Policy(),
		outputPolicy:    output.Policy(),
	}
	c.state.Store(BackpressureState{Bottleneck: Balanced, At: time.Now()})
	return c
}

// Observe classifies the bottleneck from the residency of the envelope just
// dequeued plus current queue occupancy. Cheap and synchronous, runs on the
// consumer's dequeue path.
func (c *Controller) Observe(residency time.Duration) {
	admissionLen := c.admission.Len()
	admissionCap := c.admission.Cap()
	outputLen := c.output.Len()
	var bottleneck Bottleneck
	switch {
	case residency >= c.residencyHigh:
		// backlog building in the output queue
		bottleneck = Consumer
	case admissionLen == 0 && outputLen == 0:
		// nothing downstream can do, diagnostic only
		bottleneck = Capture
	case residency <= c.residencyIdle && admissionLen >= admissionCap-1:
		// workers cannot keep up
		bottleneck = Decode
	default:
		bottleneck = Balanced
	}
	c.state.Store(BackpressureState{
		LastResidency: residency,
		Bottleneck:    bottleneck,
		At:            time.Now(),
	})
	if !c.autoPolicy {
		return
	}
	switch bottleneck {
	case Consumer:
		c.output.SetPolicy(DropOldest)
	case Decode:
		c.admission.SetPolicy(DropOldest)
	default:
		c.admission.SetPolicy(c.admissionPolicy)
		c.output.SetPolicy(c.outputPolicy)
	}
}

// State returns the last computed BackpressureState
func (c *Controller) State() BackpressureState {
	return c.state.Load().(BackpressureState)
}
