package videosource

import (
	"time"
)

// Envelope is the unit moving through a pipeline. The payload is either
// Encoded bytes before decode or a Decoded Image after decode, never both.
type Envelope struct {
	SourceID   string
	SourceName string
	Sequence   uint64
	CapturedAt time.Time
	Encoded    []byte
	Decoded    *Image
}

// IsEncoded returns true when the payload still holds encoded bytes
func (e *Envelope) IsEncoded() bool {
	return e.Encoded != nil && e.Decoded == nil
}

// IsDecoded returns true when the payload holds a decoded Image
func (e *Envelope) IsDecoded() bool {
	return e.Decoded != nil
}

// SetDecoded replaces the encoded payload with the decoded Image
func (e *Envelope) SetDecoded(img *Image) {
	e.Decoded = img
	e.Encoded = nil
}

// Clone will clone the Envelope and any underlying Image
func (e *Envelope) Clone() *Envelope {
	clone := &Envelope{
		SourceID:   e.SourceID,
		SourceName: e.SourceName,
		Sequence:   e.Sequence,
		CapturedAt: e.CapturedAt,
	}
	if e.Encoded != nil {
		clone.Encoded = make([]byte, len(e.Encoded))
		copy(clone.Encoded, e.Encoded)
	}
	if e.Decoded != nil {
		clone.Decoded = e.Decoded.Clone()
	}
	return clone
}

// Cleanup will cleanup the Envelope payload
func (e *Envelope) Cleanup() {
	if e.Decoded != nil {
		e.Decoded.Cleanup()
		e.Decoded = nil
	}
	e.Encoded = nil
}
