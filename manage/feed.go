// manage package

package manage

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jonoton/percept/pipeline"
	"github.com/jonoton/percept/videosource"
)

// Feed runs one video source through its own pipeline and fans decoded
// envelopes out to subscribers
type Feed struct {
	Name           string
	ConfigPaths    []string
	IsStale        bool
	StaleRetry     int
	StaleMaxRetry  int
	DeliveredStats *videosource.FrameStats
	staleTimeout   int
	source         videosource.Source
	pipe           *pipeline.Pipeline
	notifySink     func(pipeline.Notification)
	subscriptions  map[string]chan videosource.Envelope
	subGuard       sync.RWMutex
	done           chan bool
}

// Map of names to Feeds
type Map map[string]*Feed

// NewFeed creates a new Feed
func NewFeed(name string, source videosource.Source, pipe *pipeline.Pipeline) *Feed {
	f := &Feed{
		Name:           name,
		ConfigPaths:    make([]string, 0),
		DeliveredStats: videosource.NewFrameStats(),
		staleTimeout:   10,
		source:         source,
		pipe:           pipe,
		subscriptions:  make(map[string]chan videosource.Envelope, 0),
		done:           make(chan bool),
	}
	return f
}

// SetStaleConfig sets the stale settings
func (f *Feed) SetStaleConfig(timeoutSec int, maxRetry int) {
	if timeoutSec > 0 {
		f.staleTimeout = timeoutSec
	}
	f.StaleMaxRetry = maxRetry
	f.StaleRetry = maxRetry
}

// SetNotifySink sets a callback for pipeline notifications
func (f *Feed) SetNotifySink(sink func(pipeline.Notification)) {
	f.notifySink = sink
}

// FeedStats combines pipeline counters with delivery rates
type FeedStats struct {
	Name               string         `json:"name"`
	Pipeline           pipeline.Stats `json:"pipeline"`
	DeliveredPerSecond uint64         `json:"deliveredPerSecond"`
	DeliveredTotal     uint64         `json:"deliveredTotal"`
	DroppedPerSecond   uint64         `json:"droppedPerSecond"`
	DroppedTotal       uint64         `json:"droppedTotal"`
	IsStale            bool           `json:"isStale"`
}

// GetFeedStats returns the current FeedStats
func (f *Feed) GetFeedStats() *FeedStats {
	return &FeedStats{
		Name:               f.Name,
		Pipeline:           f.pipe.Stats(),
		DeliveredPerSecond: f.DeliveredStats.AcceptedPerSecond(),
		DeliveredTotal:     f.DeliveredStats.AcceptedTotal(),
		DroppedPerSecond:   f.DeliveredStats.DroppedPerSecond(),
		DroppedTotal:       f.DeliveredStats.DroppedTotal(),
		IsStale:            f.IsStale,
	}
}

// Start will run the processes
func (f *Feed) Start() {
	go func() {
		staleTicker := time.NewTicker(time.Second)
		defer staleTicker.Stop()
		staleSec := 0
		lastTotal := uint64(0)
		for {
			select {
			case <-f.done:
				return
			case <-staleTicker.C:
				curTotal := f.pipe.Stats().Captured
				if lastTotal == curTotal {
					staleSec++
				} else {
					staleSec = 0
					f.IsStale = false
					f.StaleRetry = f.StaleMaxRetry
				}
				lastTotal = curTotal
				if staleSec >= f.staleTimeout {
					f.IsStale = true
					return
				}
			}
		}
	}()
	go func() {
		for {
			select {
			case n := <-f.pipe.Notifications():
				f.handleNotification(n)
			case <-f.pipe.Done():
				for {
					select {
					case n := <-f.pipe.Notifications():
						f.handleNotification(n)
					default:
						return
					}
				}
			}
		}
	}()
	go func() {
		defer close(f.done)
		f.pipe.Start()
		if err := f.pipe.Attach(f.source); err != nil {
			log.Errorln("Could not attach source for", f.Name, err)
			f.pipe.Stop()
		}
		for {
			env, err := f.pipe.Dequeue(-1)
			if err != nil {
				break
			}
			f.DeliveredStats.AddAccepted()
			f.subGuard.RLock()
			for _, val := range f.subscriptions {
				val <- *env.Clone()
			}
			f.subGuard.RUnlock()
			env.Cleanup()
		}
		f.pipe.Wait()
		f.clearSubscriptions()
		f.DeliveredStats.Cleanup()
		f.IsStale = true
	}()
}

func (f *Feed) handleNotification(n pipeline.Notification) {
	if n.Reason.IsDrop() {
		f.DeliveredStats.AddDropped()
	}
	log.Debugln("Feed", f.Name, n.Reason, "seq", n.Sequence, n.Err)
	if f.notifySink != nil {
		f.notifySink(n)
	}
}

// Stop will stop the processes
func (f *Feed) Stop() {
	f.pipe.Stop()
}

// Wait until done
func (f *Feed) Wait() {
	<-f.done
}

// Subscribe to decoded envelopes
func (f *Feed) Subscribe(key string) <-chan videosource.Envelope {
	f.subGuard.Lock()
	defer f.subGuard.Unlock()
	f.subscriptions[key] = make(chan videosource.Envelope)
	return f.subscriptions[key]
}

// SubscribeWithChan to decoded envelopes using the channel given
func (f *Feed) SubscribeWithChan(key string, subChan chan videosource.Envelope) {
	f.subGuard.Lock()
	defer f.subGuard.Unlock()
	f.subscriptions[key] = subChan
}

// Unsubscribe to decoded envelopes
func (f *Feed) Unsubscribe(key string) {
	f.subGuard.Lock()
	defer f.subGuard.Unlock()
	if _, found := f.subscriptions[key]; found {
		close(f.subscriptions[key])
		delete(f.subscriptions, key)
	}
}

func (f *Feed) clearSubscriptions() {
	f.subGuard.Lock()
	defer f.subGuard.Unlock()
	for _, val := range f.subscriptions {
		close(val)
	}
	f.subscriptions = make(map[string]chan videosource.Envelope, 0)
}
