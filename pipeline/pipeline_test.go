package pipeline

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/jonoton/percept/videosource"
)

// stubDecoder is a controllable Decoder for pipeline tests. With gate set
// every decode blocks until the gate yields or closes. With fail set the
// matching payload fails decode.
type stubDecoder struct {
	gate   chan bool
	fail   []byte
	jitter bool
}

func (d *stubDecoder) Decode(encoded []byte) (*videosource.Image, error) {
	if d.gate != nil {
		<-d.gate
	}
	if d.jitter {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	}
	if d.fail != nil && bytes.Equal(encoded, d.fail) {
		return nil, ErrMalformed
	}
	return &videosource.Image{Format: videosource.PixelFormatBGR}, nil
}

// stubSource emits payloads pushed on step, or generates frames up to
// limit (forever when limit is zero)
type stubSource struct {
	*videosource.BaseSource
	step  chan []byte
	limit int
	count int
}

func newStepSource(name string) *stubSource {
	return &stubSource{
		BaseSource: videosource.NewBaseSource(name),
		step:       make(chan []byte),
	}
}

func newAutoSource(name string, limit int) *stubSource {
	return &stubSource{
		BaseSource: videosource.NewBaseSource(name),
		limit:      limit,
	}
}

func (s *stubSource) Open() error { return nil }

func (s *stubSource) Close() {}

func (s *stubSource) NextFrame() (*videosource.Envelope, error) {
	if s.step != nil {
		payload, ok := <-s.step
		if !ok {
			return nil, videosource.ErrDisconnected
		}
		return s.NewEnvelope(payload), nil
	}
	if s.limit > 0 && s.count >= s.limit {
		return nil, videosource.ErrDisconnected
	}
	s.count++
	time.Sleep(time.Millisecond)
	return s.NewEnvelope([]byte("frame")), nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s\n", what)
}

func drainNotifications(p *Pipeline) (result []Notification) {
	for {
		select {
		case n := <-p.Notifications():
			result = append(result, n)
		default:
			return
		}
	}
}

func TestPipelineDeliversInOrder(t *testing.T) {
	p := New(Config{CIn: 8, COut: 8, Workers: 4, Policy: "block"})
	p.SetDecoder(&stubDecoder{jitter: true})
	p.Start()
	if err := p.Attach(newAutoSource("cam", 50)); err != nil {
		t.Fatalf("attach err = %v\n", err)
	}
	var got []uint64
	for {
		env, err := p.Dequeue(-1)
		if err == ErrClosed {
			break
		}
		if err != nil {
			t.Fatalf("dequeue err = %v\n", err)
		}
		if !env.IsDecoded() {
			t.Fatalf("envelope seq %d not decoded\n", env.Sequence)
		}
		got = append(got, env.Sequence)
		env.Cleanup()
	}
	p.Wait()
	if len(got) != 50 {
		t.Fatalf("delivered %d frames, expected 50\n", len(got))
	}
	for i, seq := range got {
		if seq != uint64(i+1) {
			t.Fatalf("sequence[%d] = %d, expected %d\n", i, seq, i+1)
		}
	}
}

// Drop-oldest with CIn=2 and one held worker: enqueuing 1,2,3,4 drops 2 and
// the consumer sees 1,3,4 plus an accurate drop notification.
func TestPipelineDropOldestScenario(t *testing.T) {
	gate := make(chan bool)
	p := New(Config{CIn: 2, COut: 8, Workers: 1, Policy: "drop-oldest"})
	p.SetDecoder(&stubDecoder{gate: gate})
	p.Start()
	src := newStepSource("cam")
	if err := p.Attach(src); err != nil {
		t.Fatalf("attach err = %v\n", err)
	}
	src.step <- []byte("f1")
	waitFor(t, "worker holding frame 1", func() bool {
		s := p.Stats()
		return s.Captured == 1 && s.AdmissionLen == 0
	})
	src.step <- []byte("f2")
	src.step <- []byte("f3")
	waitFor(t, "admission queue full", func() bool {
		return p.Stats().AdmissionLen == 2
	})
	src.step <- []byte("f4")
	waitFor(t, "oldest frame dropped", func() bool {
		return p.Stats().AdmissionDrops == 1
	})
	close(src.step)
	close(gate)
	var got []uint64
	for {
		env, err := p.Dequeue(-1)
		if err == ErrClosed {
			break
		}
		if err != nil {
			t.Fatalf("dequeue err = %v\n", err)
		}
		got = append(got, env.Sequence)
		env.Cleanup()
	}
	p.Wait()
	want := []uint64{1, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("sequences = %v, expected %v\n", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequences = %v, expected %v\n", got, want)
		}
	}
	dropCount := 0
	for _, n := range drainNotifications(p) {
		if n.Reason == ReasonDropOldest {
			dropCount++
			if n.Sequence != 2 {
				t.Fatalf("drop notification seq = %d, expected 2\n", n.Sequence)
			}
		}
	}
	if dropCount != 1 {
		t.Fatalf("drop notifications = %d, expected 1\n", dropCount)
	}
}

// One corrupted frame among valid ones: exactly one decode-failure
// notification and the valid frames still delivered in order.
func TestPipelineDecodeFailure(t *testing.T) {
	p := New(Config{CIn: 4, COut: 4, Workers: 1, Policy: "block"})
	p.SetDecoder(&stubDecoder{fail: []byte("bad")})
	p.Start()
	src := newStepSource("cam")
	if err := p.Attach(src); err != nil {
		t.Fatalf("attach err = %v\n", err)
	}
	go func() {
		src.step <- []byte("ok")
		src.step <- []byte("bad")
		src.step <- []byte("ok")
		close(src.step)
	}()
	var got []uint64
	for {
		env, err := p.Dequeue(-1)
		if err == ErrClosed {
			break
		}
		if err != nil {
			t.Fatalf("dequeue err = %v\n", err)
		}
		got = append(got, env.Sequence)
		env.Cleanup()
	}
	p.Wait()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("sequences = %v, expected [1 3]\n", got)
	}
	failures := 0
	for _, n := range drainNotifications(p) {
		if n.Reason == ReasonDecodeFailure {
			failures++
			if n.Sequence != 2 {
				t.Fatalf("failure notification seq = %d, expected 2\n", n.Sequence)
			}
		}
	}
	if failures != 1 {
		t.Fatalf("decode failure notifications = %d, expected 1\n", failures)
	}
	if p.Stats().DecodeFailures != 1 {
		t.Fatalf("decode failure count = %d, expected 1\n", p.Stats().DecodeFailures)
	}
}

// Stop with active producer and consumer drains in-flight work and closes
// without deadlock; occupancy never exceeds the configured bounds.
func TestPipelineShutdownDrains(t *testing.T) {
	p := New(Config{CIn: 8, COut: 8, Workers: 2, Policy: "block"})
	p.SetDecoder(&stubDecoder{})
	p.Start()
	if err := p.Attach(newAutoSource("cam", 0)); err != nil {
		t.Fatalf("attach err = %v\n", err)
	}
	consumerDone := make(chan []uint64, 1)
	go func() {
		var got []uint64
		for {
			env, err := p.Dequeue(-1)
			if err != nil {
				consumerDone <- got
				return
			}
			s := p.Stats()
			if s.AdmissionLen > s.AdmissionCap || s.OutputLen > s.OutputCap {
				got = nil
				consumerDone <- got
				return
			}
			got = append(got, env.Sequence)
			env.Cleanup()
		}
	}()
	time.Sleep(50 * time.Millisecond)
	p.Stop()
	var got []uint64
	select {
	case got = <-consumerDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("shutdown deadlocked\n")
	}
	p.Wait()
	if len(got) == 0 {
		t.Fatalf("no frames delivered before shutdown or occupancy bound exceeded\n")
	}
	for i := 1; i < len(got); i++ {
		if got[i] != got[i-1]+1 {
			t.Fatalf("sequences not contiguous at %d: %v -> %v\n", i, got[i-1], got[i])
		}
	}
}

// A capture fps above 1000 must clamp to a 1ms tick instead of producing a
// zero ticker interval, which would panic the capture goroutine.
func TestPipelineCaptureFpsClamp(t *testing.T) {
	p := New(Config{CIn: 4, COut: 4, Workers: 1, Policy: "block", MaxCaptureFps: 1500})
	if got := p.getTickInterval(1500); got != time.Millisecond {
		t.Fatalf("tick interval = %v, expected 1ms clamp\n", got)
	}
	if got := p.getTickInterval(10); got != 100*time.Millisecond {
		t.Fatalf("tick interval = %v, expected 100ms\n", got)
	}
	if got := p.getTickInterval(0); got != 5*time.Millisecond {
		t.Fatalf("tick interval = %v, expected 5ms default\n", got)
	}
	p.SetDecoder(&stubDecoder{})
	p.Start()
	if err := p.Attach(newAutoSource("cam", 3)); err != nil {
		t.Fatalf("attach err = %v\n", err)
	}
	var got []uint64
	for {
		env, err := p.Dequeue(-1)
		if err == ErrClosed {
			break
		}
		if err != nil {
			t.Fatalf("dequeue err = %v\n", err)
		}
		got = append(got, env.Sequence)
		env.Cleanup()
	}
	p.Wait()
	if len(got) != 3 {
		t.Fatalf("delivered %d frames, expected 3\n", len(got))
	}
}

// A second Dequeue consumer contract check: timed and non-blocking calls
// report ErrEmpty while the pipeline is idle.
func TestPipelineDequeueEmpty(t *testing.T) {
	p := New(Config{CIn: 2, COut: 2, Workers: 1})
	p.SetDecoder(&stubDecoder{})
	p.Start()
	if _, err := p.Dequeue(0); err != ErrEmpty {
		t.Fatalf("dequeue err = %v, expected ErrEmpty\n", err)
	}
	if _, err := p.Dequeue(10 * time.Millisecond); err != ErrEmpty {
		t.Fatalf("timed dequeue err = %v, expected ErrEmpty\n", err)
	}
	p.Stop()
	p.Wait()
	if _, err := p.Dequeue(-1); err != ErrClosed {
		t.Fatalf("dequeue err = %v, expected ErrClosed after stop\n", err)
	}
}
