package videosource

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Source errors
var (
	// ErrDisconnected means the Source is unrecoverable and has transitioned
	// to Closed. Callers must stop polling and construct a new Source to retry.
	ErrDisconnected = errors.New("videosource: source disconnected")
	// ErrTransient means the read failed but the Source is still usable.
	ErrTransient = errors.New("videosource: transient capture failure")
)

// Source interface for setting up and reading encoded frames
type Source interface {
	GetName() string
	GetID() string
	Open() error
	NextFrame() (*Envelope, error)
	Close()
}

// BaseSource contains common source info and assigns sequence numbers
type BaseSource struct {
	name string
	id   string
	seq  uint64
}

// NewBaseSource creates a new BaseSource
func NewBaseSource(name string) *BaseSource {
	b := &BaseSource{
		name: name,
		id:   uuid.New().String(),
	}
	return b
}

// GetName implements interface
func (b *BaseSource) GetName() string {
	return b.name
}

// GetID implements interface
func (b *BaseSource) GetID() string {
	return b.id
}

// NewEnvelope wraps encoded bytes with the next sequence number.
// NextFrame is only ever called from one goroutine per Source, so the
// sequence counter needs no synchronization.
func (b *BaseSource) NewEnvelope(encoded []byte) *Envelope {
	b.seq++
	e := &Envelope{
		SourceID:   b.id,
		SourceName: b.name,
		Sequence:   b.seq,
		CapturedAt: time.Now(),
		Encoded:    encoded,
	}
	return e
}
