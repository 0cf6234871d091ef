package pipeline

import (
	"time"
)

// Reason explains why a frame was dropped or an error occurred
type Reason int

// Notification reasons
const (
	ReasonDropOldest Reason = iota
	ReasonDropNewest
	ReasonOutputDrop
	ReasonDecodeFailure
	ReasonSourceTransient
	ReasonSourceDisconnected
)

// String returns the reason name
func (r Reason) String() string {
	switch r {
	case ReasonDropOldest:
		return "drop-oldest"
	case ReasonDropNewest:
		return "drop-newest"
	case ReasonOutputDrop:
		return "output-drop"
	case ReasonDecodeFailure:
		return "decode-failure"
	case ReasonSourceTransient:
		return "source-transient"
	case ReasonSourceDisconnected:
		return "source-disconnected"
	}
	return "unknown"
}

// IsDrop returns true when the reason means a frame was discarded
func (r Reason) IsDrop() bool {
	switch r {
	case ReasonDropOldest, ReasonDropNewest, ReasonOutputDrop, ReasonDecodeFailure:
		return true
	}
	return false
}

// Notification reports a dropped frame or a locally absorbed error.
// Sequence gaps seen by the consumer always match these.
type Notification struct {
	SourceID   string
	SourceName string
	Sequence   uint64
	Reason     Reason
	Err        error
	At         time.Time
}
