package videosource

import (
	"sync/atomic"
	"time"
)

// FrameStats contains frame accept and drop statistics
type FrameStats struct {
	acceptedTotal     uint64
	acceptedPerSecond uint64
	droppedTotal      uint64
	droppedPerSecond  uint64
	acceptedTmp       uint64
	droppedTmp        uint64
	fpsTick           *time.Ticker
	done              chan bool
}

// NewFrameStats creates a new FrameStats
func NewFrameStats() *FrameStats {
	f := &FrameStats{
		fpsTick: time.NewTicker(time.Second),
		done:    make(chan bool),
	}
	go func() {
		for {
			select {
			case <-f.fpsTick.C:
				atomic.StoreUint64(&f.acceptedPerSecond, atomic.SwapUint64(&f.acceptedTmp, 0))
				atomic.StoreUint64(&f.droppedPerSecond, atomic.SwapUint64(&f.droppedTmp, 0))
			case <-f.done:
				return
			}
		}
	}()
	return f
}

// AddAccepted adds an accepted frame
func (f *FrameStats) AddAccepted() {
	atomic.AddUint64(&f.acceptedTotal, 1)
	atomic.AddUint64(&f.acceptedTmp, 1)
}

// AddDropped adds a dropped frame
func (f *FrameStats) AddDropped() {
	atomic.AddUint64(&f.droppedTotal, 1)
	atomic.AddUint64(&f.droppedTmp, 1)
}

// AcceptedTotal returns the total accepted count
func (f *FrameStats) AcceptedTotal() uint64 {
	return atomic.LoadUint64(&f.acceptedTotal)
}

// AcceptedPerSecond returns the accepted rate over the last second
func (f *FrameStats) AcceptedPerSecond() uint64 {
	return atomic.LoadUint64(&f.acceptedPerSecond)
}

// DroppedTotal returns the total dropped count
func (f *FrameStats) DroppedTotal() uint64 {
	return atomic.LoadUint64(&f.droppedTotal)
}

// DroppedPerSecond returns the dropped rate over the last second
func (f *FrameStats) DroppedPerSecond() uint64 {
	return atomic.LoadUint64(&f.droppedPerSecond)
}

// Cleanup the FrameStats
func (f *FrameStats) Cleanup() {
	atomic.StoreUint64(&f.acceptedPerSecond, 0)
	atomic.StoreUint64(&f.droppedPerSecond, 0)
	if f.fpsTick != nil {
		f.fpsTick.Stop()
	}
	close(f.done)
}
