package pipeline

import (
	"fmt"
)

// Policy selects what happens when a bounded queue is full
type Policy int32

// Admission policies
const (
	// Block suspends the enqueuer until space is available. No frame loss.
	Block Policy = iota
	// DropOldest discards the queue head to admit the incoming frame.
	// The default, since a live viewer cares about recency over completeness.
	DropOldest
	// DropNewest discards the incoming frame.
	DropNewest
)

// String returns the policy name
func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	}
	return "unknown"
}

// ParsePolicy parses a policy name as found in yaml config
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "drop-oldest":
		return DropOldest, nil
	case "block":
		return Block, nil
	case "drop-newest":
		return DropNewest, nil
	}
	return DropOldest, fmt.Errorf("pipeline: unknown policy %q", name)
}
