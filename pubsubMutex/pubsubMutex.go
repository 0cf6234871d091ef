package pubsubmutex

import (
	"sync"
	"time"

	"github.com/cskr/pubsub"
)

// PubSubMutex guards a pubsub instance so topics survive restarts and
// publishing after shutdown is a safe no-op
type PubSubMutex struct {
	pubsub    *pubsub.PubSub
	capacity  int
	isRunning bool
	guard     sync.RWMutex
}

// New creates a new PubSubMutex with the channel capacity given
func New(capacity int) *PubSubMutex {
	p := &PubSubMutex{
		pubsub:    nil,
		capacity:  capacity,
		isRunning: false,
	}
	return p
}

// Start creates the underlying pubsub
func (p *PubSubMutex) Start() {
	p.guard.Lock()
	defer p.guard.Unlock()
	p.shutdown()
	p.pubsub = pubsub.New(p.capacity)
	p.isRunning = true
}

// Use runs the callback with the underlying pubsub while running
func (p *PubSubMutex) Use(callback func(*pubsub.PubSub)) {
	p.guard.RLock()
	defer p.guard.RUnlock()
	if callback != nil && p.pubsub != nil && p.isRunning {
		callback(p.pubsub)
	}
}

// TryPub publishes the message to the topics without blocking
func (p *PubSubMutex) TryPub(msg interface{}, topics ...string) {
	p.Use(func(instance *pubsub.PubSub) {
		instance.TryPub(msg, topics...)
	})
}

// Sub subscribes to a topic
func (p *PubSubMutex) Sub(subTopic string) (result <-chan interface{}) {
	p.Use(func(instance *pubsub.PubSub) {
		result = instance.Sub(subTopic)
	})
	return
}

// SendReceive publishes sendMsg to sendTopic and waits up to timeoutMs for
// one message on receiveTopic
func (p *PubSubMutex) SendReceive(sendTopic string, receiveTopic string,
	sendMsg interface{}, timeoutMs int) (result interface{}) {
	curChan := make(chan interface{})
	go p.Use(func(instance *pubsub.PubSub) {
		instance.AddSubOnceEach(curChan, receiveTopic)
		instance.TryPub(sendMsg, sendTopic)
	})
	select {
	case r, ok := <-curChan:
		if ok {
			result = r
		}
	case <-time.After(time.Millisecond * time.Duration(timeoutMs)):
		go p.Use(func(instance *pubsub.PubSub) {
			instance.Unsub(curChan, receiveTopic)
		})
	}
	return
}

// Shutdown stops the underlying pubsub
func (p *PubSubMutex) Shutdown() {
	p.guard.Lock()
	defer p.guard.Unlock()
	p.shutdown()
}

func (p *PubSubMutex) shutdown() {
	if p.pubsub != nil && p.isRunning {
		p.pubsub.Shutdown()
		p.pubsub = nil
	}
	p.isRunning = false
}
