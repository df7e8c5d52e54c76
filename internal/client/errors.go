package client

import (
	"fmt"
)

// Phase names one step of a sync cycle.
type Phase string

const (
	PhaseFetch     Phase = "fetch"
	PhaseReconcile Phase = "reconcile"
	PhaseExchange  Phase = "exchange"
	PhaseApply     Phase = "apply"
)

// PhaseError reports which phase aborted a sync cycle. Local state is
// unchanged whenever Sync returns a PhaseError; the next cycle starts over
// from fetch.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// TransportError is a failed round trip to the sync server. Status is zero
// when no response arrived (connection failure or timeout).
type TransportError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
