package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/jonoton/percept/videosource"
)

// pendingSlot holds one decoded envelope awaiting release, or a failed
// frame's slot being held until a deadline. A held slot blocks later frames
// until the deadline expires.
type pendingSlot struct {
	env      *videosource.Envelope
	deadline time.Time
}

// seqRange is an inclusive range of sequences declared dropped
type seqRange struct {
	lo uint64
	hi uint64
}

// sourceOrder tracks one source's release cursor. Envelopes and held failed
// slots live in pending; dropped sequences are merged into gap ranges so
// sustained overload costs one range, not one map entry per drop.
type sourceOrder struct {
	next    uint64
	pending map[uint64]*pendingSlot
	gaps    []seqRange
}

// addGap merges the sequence into the sorted disjoint gap ranges
func (so *sourceOrder) addGap(sequence uint64) {
	for i := range so.gaps {
		g := &so.gaps[i]
		if sequence >= g.lo && sequence <= g.hi {
			return
		}
		if sequence+1 == g.lo {
			g.lo = sequence
			if i > 0 && so.gaps[i-1].hi+1 == g.lo {
				so.gaps[i-1].hi = g.hi
				so.gaps = append(so.gaps[:i], so.gaps[i+1:]...)
			}
			return
		}
		if g.hi+1 == sequence {
			g.hi = sequence
			if i+1 < len(so.gaps) && so.gaps[i+1].lo == sequence+1 {
				g.hi = so.gaps[i+1].hi
				so.gaps = append(so.gaps[:i+1], so.gaps[i+2:]...)
			}
			return
		}
		if sequence < g.lo {
			so.gaps = append(so.gaps, seqRange{})
			copy(so.gaps[i+1:], so.gaps[i:])
			so.gaps[i] = seqRange{lo: sequence, hi: sequence}
			return
		}
	}
	so.gaps = append(so.gaps, seqRange{lo: sequence, hi: sequence})
}

// Reorderer restores per-source sequence order between the decode pool and
// the output queue. An envelope is released only once every lower sequence
// for its source was released or declared a gap. Pending occupancy is
// bounded by the worker count since each worker holds at most one envelope
// and dropped sequences collapse into ranges.
type Reorderer struct {
	mu          sync.Mutex
	sources     map[string]*sourceOrder
	out         *Queue
	holdFailed  bool
	holdTimeout time.Duration
}

// NewReorderer creates a new Reorderer releasing into out. With holdFailed
// a failed frame's slot blocks later frames until holdTimeout elapses
// instead of being skipped immediately.
func NewReorderer(out *Queue, holdFailed bool, holdTimeout time.Duration) *Reorderer {
	r := &Reorderer{
		sources:     make(map[string]*sourceOrder),
		out:         out,
		holdFailed:  holdFailed,
		holdTimeout: holdTimeout,
	}
	return r
}

func (r *Reorderer) source(sourceID string) *sourceOrder {
	so, found := r.sources[sourceID]
	if !found {
		// sequences start at 1
		so = &sourceOrder{
			next:    1,
			pending: make(map[uint64]*pendingSlot),
		}
		r.sources[sourceID] = so
	}
	return so
}

// Release hands a decoded envelope over for in-order delivery. Returns the
// output queue error when delivery fails, which only happens on shutdown.
func (r *Reorderer) Release(env *videosource.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	so := r.source(env.SourceID)
	if env.Sequence < so.next {
		env.Cleanup()
		return nil
	}
	so.pending[env.Sequence] = &pendingSlot{env: env}
	return r.flush(so)
}

// MarkGap declares a sequence dropped before decode so delivery of later
// frames never stalls on it
func (r *Reorderer) MarkGap(sourceID string, sequence uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	so := r.source(sourceID)
	if sequence < so.next {
		return
	}
	so.addGap(sequence)
	r.flush(so)
}

// MarkFailed declares a sequence lost to a decode failure. Skipped
// immediately unless the Reorderer was configured to hold failed slots.
func (r *Reorderer) MarkFailed(sourceID string, sequence uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	so := r.source(sourceID)
	if sequence < so.next {
		return
	}
	if r.holdFailed {
		so.pending[sequence] = &pendingSlot{deadline: time.Now().Add(r.holdTimeout)}
	} else {
		so.addGap(sequence)
	}
	r.flush(so)
}

// FlushExpired releases frames held behind failed slots whose deadline
// passed. Only needed when holding failed slots is enabled.
func (r *Reorderer) FlushExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, so := range r.sources {
		r.flush(so)
	}
}

// flush releases contiguous pending envelopes starting at next. Gap ranges
// advance the cursor; a held failed slot stops the scan until its deadline
// passes. Caller must hold mu.
func (r *Reorderer) flush(so *sourceOrder) error {
	for {
		if len(so.gaps) > 0 && so.gaps[0].lo <= so.next {
			if so.gaps[0].hi >= so.next {
				so.next = so.gaps[0].hi + 1
			}
			so.gaps = so.gaps[1:]
			continue
		}
		slot, found := so.pending[so.next]
		if !found {
			return nil
		}
		if slot.env == nil {
			if !slot.deadline.IsZero() && time.Now().Before(slot.deadline) {
				return nil
			}
			delete(so.pending, so.next)
			so.next++
			continue
		}
		err := r.out.Enqueue(slot.env)
		delete(so.pending, so.next)
		so.next++
		if err != nil {
			slot.env.Cleanup()
			return err
		}
	}
}

// Drain releases every remaining pending envelope in sequence order,
// ignoring hold deadlines. Called once the worker pool has exited so all
// in-flight decodes reach the consumer before the output queue closes.
func (r *Reorderer) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, so := range r.sources {
		sequences := make([]uint64, 0, len(so.pending))
		for sequence := range so.pending {
			sequences = append(sequences, sequence)
		}
		sort.Slice(sequences, func(i, j int) bool { return sequences[i] < sequences[j] })
		for _, sequence := range sequences {
			slot := so.pending[sequence]
			delete(so.pending, sequence)
			if slot.env == nil {
				continue
			}
			if err := r.out.Enqueue(slot.env); err != nil {
				slot.env.Cleanup()
			}
		}
		so.gaps = nil
		if len(sequences) > 0 {
			last := sequences[len(sequences)-1]
			if last >= so.next {
				so.next = last + 1
			}
		}
	}
}

// PendingLen returns the total pending slot count across sources
func (r *Reorderer) PendingLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, so := range r.sources {
		total += len(so.pending)
	}
	return total
}
