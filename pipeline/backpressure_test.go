package pipeline

import (
	"testing"
	"time"
)

func newTestController(autoPolicy bool) (*Controller, *Queue, *Queue) {
	admission := NewQueue(4, Block, nil)
	output := NewQueue(4, Block, nil)
	c := NewController(admission, output, 5*time.Millisecond, 100*time.Millisecond, autoPolicy)
	return c, admission, output
}

func TestBackpressureConsumerBound(t *testing.T) {
	c, _, output := newTestController(true)
	c.Observe(200 * time.Millisecond)
	state := c.State()
	if state.Bottleneck != Consumer {
		t.Fatalf("bottleneck = %v, expected consumer\n", state.Bottleneck)
	}
	if output.Policy() != DropOldest {
		t.Fatalf("output policy = %v, expected drop-oldest under consumer backlog\n", output.Policy())
	}
}

func TestBackpressureDecodeBound(t *testing.T) {
	c, admission, _ := newTestController(true)
	for seq := uint64(1); seq <= 4; seq++ {
		admission.Enqueue(testEnvelope("a", seq))
	}
	c.Observe(time.Millisecond)
	if state := c.State(); state.Bottleneck != Decode {
		t.Fatalf("bottleneck = %v, expected decode\n", state.Bottleneck)
	}
	if admission.Policy() != DropOldest {
		t.Fatalf("admission policy = %v, expected drop-oldest under decode backlog\n", admission.Policy())
	}
}

func TestBackpressureCaptureBound(t *testing.T) {
	c, _, _ := newTestController(false)
	c.Observe(time.Millisecond)
	if state := c.State(); state.Bottleneck != Capture {
		t.Fatalf("bottleneck = %v, expected capture with empty queues\n", state.Bottleneck)
	}
}

func TestBackpressureBalanced(t *testing.T) {
	c, admission, _ := newTestController(true)
	admission.Enqueue(testEnvelope("a", 1))
	c.Observe(time.Millisecond)
	if state := c.State(); state.Bottleneck != Balanced {
		t.Fatalf("bottleneck = %v, expected balanced\n", state.Bottleneck)
	}
}

func TestBackpressurePolicyRestore(t *testing.T) {
	c, admission, output := newTestController(true)
	c.Observe(200 * time.Millisecond)
	if output.Policy() != DropOldest {
		t.Fatalf("output policy = %v, expected drop-oldest\n", output.Policy())
	}
	admission.Enqueue(testEnvelope("a", 1))
	c.Observe(time.Millisecond)
	if output.Policy() != Block {
		t.Fatalf("output policy = %v, expected restored block policy\n", output.Policy())
	}
	if admission.Policy() != Block {
		t.Fatalf("admission policy = %v, expected restored block policy\n", admission.Policy())
	}
}
