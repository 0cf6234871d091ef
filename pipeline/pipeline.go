// Package pipeline decouples frame acquisition, decoding, and consumption
// behind bounded queues so a slow stage never causes unbounded memory
// growth, deadlock, or silent frame loss. Peak in-flight envelopes are
// bounded by CIn + COut + Workers plus the reorder window.
package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jonoton/percept/videosource"
)

// Stats is a point-in-time snapshot of pipeline counters and occupancy
type Stats struct {
	Captured        uint64  `json:"captured"`
	Decoded         uint64  `json:"decoded"`
	Delivered       uint64  `json:"delivered"`
	DecodeFailures  uint64  `json:"decodeFailures"`
	AdmissionDrops  uint64  `json:"admissionDrops"`
	OutputDrops     uint64  `json:"outputDrops"`
	NotifyOverflow  uint64  `json:"notifyOverflow"`
	AdmissionLen    int     `json:"admissionLen"`
	AdmissionCap    int     `json:"admissionCap"`
	OutputLen       int     `json:"outputLen"`
	OutputCap       int     `json:"outputCap"`
	ReorderPending  int     `json:"reorderPending"`
	Workers         int     `json:"workers"`
	Bottleneck      string  `json:"bottleneck"`
	LastResidencyMs float64 `json:"lastResidencyMs"`
}

// Pipeline runs Source -> admission queue -> decode worker pool ->
// reorderer -> output queue. Sources are attached after Start; the consumer
// pulls decoded envelopes with Dequeue. Shutdown is cooperative: closing
// the admission queue lets workers drain in-flight work before the output
// queue closes.
type Pipeline struct {
	conf       Config
	admission  *Queue
	output     *Queue
	reorder    *Reorderer
	controller *Controller
	decoder    Decoder
	notify     chan Notification

	cancel chan bool
	done   chan bool

	workerWg sync.WaitGroup

	sourceCount   int32
	started       bool
	startGuard    sync.Mutex
	stopOnce      sync.Once
	admissionOnce sync.Once

	captured       uint64
	decoded        uint64
	delivered      uint64
	decodeFailures uint64
	admissionDrops uint64
	outputDrops    uint64
	notifyOverflow uint64
}

// New creates a new Pipeline from the Config, filling defaults
func New(conf Config) *Pipeline {
	conf = conf.withDefaults()
	p := &Pipeline{
		conf:    conf,
		decoder: NewJPEGDecoder(),
		notify:  make(chan Notification, conf.NotifyBuffer),
		cancel:  make(chan bool),
		done:    make(chan bool),
	}
	admissionPolicy, err := ParsePolicy(conf.Policy)
	if err != nil {
		log.Warnln(err, "- using", admissionPolicy)
	}
	outputPolicy := Block
	if conf.OutputPolicy != "" {
		outputPolicy, err = ParsePolicy(conf.OutputPolicy)
		if err != nil {
			log.Warnln(err, "- using", outputPolicy)
		}
	}
	p.admission = NewQueue(conf.CIn, admissionPolicy, p.onAdmissionDrop)
	if conf.BlockTimeoutMs > 0 {
		p.admission.SetBlockTimeout(time.Duration(conf.BlockTimeoutMs) * time.Millisecond)
	}
	p.output = NewQueue(conf.COut, outputPolicy, p.onOutputDrop)
	p.reorder = NewReorderer(p.output, conf.HoldFailed,
		time.Duration(conf.HoldTimeoutMs)*time.Millisecond)
	p.controller = NewController(p.admission, p.output,
		time.Duration(conf.ResidencyIdleMicros)*time.Microsecond,
		time.Duration(conf.ResidencyHighMs)*time.Millisecond,
		conf.AutoPolicy)
	return p
}

// SetDecoder replaces the default JPEG decoder. Must be called before Start.
func (p *Pipeline) SetDecoder(decoder Decoder) {
	if decoder != nil {
		p.decoder = decoder
	}
}

// Start spawns the decode worker pool
func (p *Pipeline) Start() {
	p.startGuard.Lock()
	defer p.startGuard.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.conf.Workers; i++ {
		p.workerWg.Add(1)
		go p.worker()
	}
	if p.conf.HoldFailed {
		go p.flushHeld()
	}
	go func() {
		p.workerWg.Wait()
		p.reorder.Drain()
		p.output.Close()
		close(p.done)
	}()
}

// Attach opens the Source and starts polling it on its own goroutine.
// When the last attached source disconnects the pipeline drains and closes.
func (p *Pipeline) Attach(src videosource.Source) error {
	select {
	case <-p.cancel:
		return ErrClosed
	default:
	}
	if err := src.Open(); err != nil {
		return err
	}
	atomic.AddInt32(&p.sourceCount, 1)
	go p.capture(src)
	return nil
}

// Dequeue removes the next decoded envelope in source order. See
// Queue.Dequeue for timeout semantics. Feeds the backpressure controller
// with the envelope's output residency.
func (p *Pipeline) Dequeue(timeout time.Duration) (*videosource.Envelope, error) {
	env, residency, err := p.output.Dequeue(timeout)
	if err != nil {
		return nil, err
	}
	atomic.AddUint64(&p.delivered, 1)
	p.controller.Observe(residency)
	return env, nil
}

// Notifications returns the drop and error side channel. The channel is
// never closed; select against Done for termination.
func (p *Pipeline) Notifications() <-chan Notification {
	return p.notify
}

// Done returns a channel closed once the pipeline fully drained
func (p *Pipeline) Done() <-chan bool {
	return p.done
}

// Backpressure returns the advisory controller state
func (p *Pipeline) Backpressure() BackpressureState {
	return p.controller.State()
}

// Stats returns a snapshot of counters and queue occupancy
func (p *Pipeline) Stats() Stats {
	state := p.controller.State()
	return Stats{
		Captured:        atomic.LoadUint64(&p.captured),
		Decoded:         atomic.LoadUint64(&p.decoded),
		Delivered:       atomic.LoadUint64(&p.delivered),
		DecodeFailures:  atomic.LoadUint64(&p.decodeFailures),
		AdmissionDrops:  atomic.LoadUint64(&p.admissionDrops),
		OutputDrops:     atomic.LoadUint64(&p.outputDrops),
		NotifyOverflow:  atomic.LoadUint64(&p.notifyOverflow),
		AdmissionLen:    p.admission.Len(),
		AdmissionCap:    p.admission.Cap(),
		OutputLen:       p.output.Len(),
		OutputCap:       p.output.Cap(),
		ReorderPending:  p.reorder.PendingLen(),
		Workers:         p.conf.Workers,
		Bottleneck:      state.Bottleneck.String(),
		LastResidencyMs: float64(state.LastResidency) / float64(time.Millisecond),
	}
}

// Stop cancels capture and closes the admission queue. Workers drain
// remaining entries, the reorderer releases in-flight results, then the
// output queue closes. Consumers keep dequeuing until ErrClosed.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.cancel)
	})
	p.closeAdmission()
}

// Wait until fully drained
func (p *Pipeline) Wait() {
	<-p.done
}

func (p *Pipeline) closeAdmission() {
	p.admissionOnce.Do(func() {
		p.admission.Close()
	})
}

// getTickInterval converts a max fps into a ticker interval, clamped to
// 1ms so very large fps values can never produce a zero interval
func (p *Pipeline) getTickInterval(fps int) time.Duration {
	interval := 5 * time.Millisecond
	if fps > 0 {
		interval = time.Second / time.Duration(fps)
		if interval < time.Millisecond {
			interval = time.Millisecond
		}
	}
	return interval
}

func (p *Pipeline) capture(src videosource.Source) {
	retryDelay := time.Duration(p.conf.TransientRetryMs) * time.Millisecond
	var tick *time.Ticker
	if p.conf.MaxCaptureFps > 0 {
		tick = time.NewTicker(p.getTickInterval(p.conf.MaxCaptureFps))
		defer tick.Stop()
	}
Loop:
	for {
		if tick != nil {
			select {
			case <-tick.C:
			case <-p.cancel:
				break Loop
			}
		} else {
			select {
			case <-p.cancel:
				break Loop
			default:
			}
		}
		env, err := src.NextFrame()
		if errors.Is(err, videosource.ErrTransient) {
			p.sendNotification(Notification{
				SourceID:   src.GetID(),
				SourceName: src.GetName(),
				Reason:     ReasonSourceTransient,
				Err:        err,
				At:         time.Now(),
			})
			select {
			case <-p.cancel:
				break Loop
			case <-time.After(retryDelay):
			}
			continue
		}
		if err != nil {
			log.Infoln("Done source", src.GetName())
			p.sendNotification(Notification{
				SourceID:   src.GetID(),
				SourceName: src.GetName(),
				Reason:     ReasonSourceDisconnected,
				Err:        err,
				At:         time.Now(),
			})
			break Loop
		}
		atomic.AddUint64(&p.captured, 1)
		if err := p.admission.Enqueue(env); err != nil {
			if errors.Is(err, ErrFull) {
				// Block policy timeout, shed the incoming frame
				p.onAdmissionDrop(env, ReasonDropNewest)
				continue
			}
			env.Cleanup()
			break Loop
		}
	}
	src.Close()
	if atomic.AddInt32(&p.sourceCount, -1) == 0 {
		p.closeAdmission()
	}
}

// worker pulls one envelope at a time, decodes it, and releases the result
// for in-order delivery. A decode failure never stalls the pool.
func (p *Pipeline) worker() {
	defer p.workerWg.Done()
	for {
		env, _, err := p.admission.Dequeue(-1)
		if err != nil {
			return
		}
		img, derr := p.decoder.Decode(env.Encoded)
		if derr != nil {
			atomic.AddUint64(&p.decodeFailures, 1)
			p.sendNotification(Notification{
				SourceID:   env.SourceID,
				SourceName: env.SourceName,
				Sequence:   env.Sequence,
				Reason:     ReasonDecodeFailure,
				Err:        derr,
				At:         time.Now(),
			})
			p.reorder.MarkFailed(env.SourceID, env.Sequence)
			env.Cleanup()
			continue
		}
		env.SetDecoded(img)
		atomic.AddUint64(&p.decoded, 1)
		if err := p.reorder.Release(env); err != nil {
			return
		}
	}
}

// flushHeld periodically releases frames stuck behind held failed slots
func (p *Pipeline) flushHeld() {
	interval := time.Duration(p.conf.HoldTimeoutMs) * time.Millisecond / 2
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			p.reorder.FlushExpired()
		case <-p.done:
			return
		}
	}
}

func (p *Pipeline) onAdmissionDrop(env *videosource.Envelope, reason Reason) {
	atomic.AddUint64(&p.admissionDrops, 1)
	p.sendNotification(Notification{
		SourceID:   env.SourceID,
		SourceName: env.SourceName,
		Sequence:   env.Sequence,
		Reason:     reason,
		At:         time.Now(),
	})
	p.reorder.MarkGap(env.SourceID, env.Sequence)
	env.Cleanup()
}

func (p *Pipeline) onOutputDrop(env *videosource.Envelope, reason Reason) {
	atomic.AddUint64(&p.outputDrops, 1)
	p.sendNotification(Notification{
		SourceID:   env.SourceID,
		SourceName: env.SourceName,
		Sequence:   env.Sequence,
		Reason:     ReasonOutputDrop,
		At:         time.Now(),
	})
	env.Cleanup()
}

// sendNotification never blocks; the side channel must not be able to
// stall the pipeline. Overflow stays observable through NotifyOverflow.
func (p *Pipeline) sendNotification(n Notification) {
	select {
	case p.notify <- n:
	default:
		atomic.AddUint64(&p.notifyOverflow, 1)
	}
}
