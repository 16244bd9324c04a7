// Package tracker keeps the in-memory processing state of every message id
// seen by the engine. A Tracker is not safe for concurrent use; the engine
// only touches it from its serial queue.
package tracker

import (
	"github.com/ibs-source/delivery-engine/internal/message"
)

// Classification is the tracker's verdict for an incoming delivery.
type Classification int

const (
	// Fresh means the message must be processed. The id is now Active.
	Fresh Classification = iota
	// Duplicate means another copy is still being handled. Do not ack.
	Duplicate
	// AlreadyDone means the message was processed before. Ack, do nothing else.
	AlreadyDone
)

func (c Classification) String() string {
	switch c {
	case Fresh:
		return "fresh"
	case Duplicate:
		return "duplicate"
	case AlreadyDone:
		return "already_done"
	default:
		return "unknown"
	}
}

// Tracker maps message ids to processing states.
type Tracker struct {
	states map[string]message.ProcessingState
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{states: make(map[string]message.ProcessingState)}
}

// Classify decides what to do with a delivery of id. Absent and
// AwaitingRedelivery ids are moved to Active and reported Fresh.
func (t *Tracker) Classify(id string) Classification {
	switch t.states[id] {
	case message.StateActive:
		return Duplicate
	case message.StateProcessed:
		return AlreadyDone
	default:
		t.states[id] = message.StateActive
		return Fresh
	}
}

// MarkActive moves id to Active. Processed ids are left alone.
func (t *Tracker) MarkActive(id string) bool {
	if t.states[id] == message.StateProcessed {
		return false
	}
	t.states[id] = message.StateActive
	return true
}

// MarkProcessed moves id to the terminal Processed state.
func (t *Tracker) MarkProcessed(id string) bool {
	if t.states[id] == message.StateProcessed {
		return false
	}
	t.states[id] = message.StateProcessed
	return true
}

// MarkAwaitingRedelivery records a decrypt failure for id so the next copy
// is processed again. Processed ids are left alone.
func (t *Tracker) MarkAwaitingRedelivery(id string) bool {
	if t.states[id] == message.StateProcessed {
		return false
	}
	t.states[id] = message.StateAwaitingRedelivery
	return true
}

// State returns the current state of id, StateNew if unseen.
func (t *Tracker) State(id string) message.ProcessingState {
	return t.states[id]
}

// Len returns the number of tracked ids.
func (t *Tracker) Len() int {
	return len(t.states)
}
