package pubsubmutex

import (
	"testing"
)

func TestPubSub(t *testing.T) {
	p := New(1)
	p.Start()
	defer p.Shutdown()
	sub := p.Sub("topic-test")
	if sub == nil {
		t.Fatalf("sub channel is nil after start\n")
	}
	p.TryPub("hello", "topic-test")
	msg := <-sub
	if msg.(string) != "hello" {
		t.Fatalf("msg = %v, expected hello\n", msg)
	}
}

func TestSendReceive(t *testing.T) {
	p := New(1)
	p.Start()
	defer p.Shutdown()
	requests := p.Sub("topic-request")
	go func() {
		for range requests {
			p.TryPub("pong", "topic-reply")
		}
	}()
	result := p.SendReceive("topic-request", "topic-reply", "ping", 1000)
	if result == nil {
		t.Fatalf("send receive timed out\n")
	}
	if result.(string) != "pong" {
		t.Fatalf("result = %v, expected pong\n", result)
	}
}

func TestSendReceiveTimeout(t *testing.T) {
	p := New(0)
	p.Start()
	defer p.Shutdown()
	result := p.SendReceive("topic-nobody", "topic-nothing", nil, 10)
	if result != nil {
		t.Fatalf("result = %v, expected nil on timeout\n", result)
	}
}

func TestShutdownSafe(t *testing.T) {
	p := New(0)
	p.Start()
	p.Shutdown()
	// all operations become no-ops after shutdown
	p.TryPub("late", "topic-test")
	if sub := p.Sub("topic-test"); sub != nil {
		t.Fatalf("sub channel should be nil after shutdown\n")
	}
	p.Shutdown()
}
