// Package ingestion provides the ingestion status state machine.
// Handles transition validation and stage ordering for the pipeline.
//
// Usage:
//
//	The pipeline runner validates every status change BEFORE persisting it,
//	and uses the stage ordering to decide whether a redelivered job's work
//	is already done (at-least-once queue delivery makes redelivery normal).
package ingestion

import (
	"errors"
	"fmt"
)

// Sentinel errors for state machine violations.
var (
	// ErrInvalidTransition indicates a status change outside the machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTerminalStatusImmutable indicates an attempt to move an ingestion
	// out of complete or failed.
	ErrTerminalStatusImmutable = errors.New("terminal status is immutable")
)

// validTransitions declares the status machine. The sole branch is
// mapping -> awaiting_review -> mapping; every non-terminal status may
// additionally fail.
var validTransitions = map[Status]map[Status]bool{
	StatusPending:        {StatusParsing: true},
	StatusParsing:        {StatusInferring: true},
	StatusInferring:      {StatusMapping: true},
	StatusMapping:        {StatusValidating: true, StatusAwaitingReview: true},
	StatusAwaitingReview: {StatusMapping: true},
	StatusValidating:     {StatusOutputting: true},
	StatusOutputting:     {StatusComplete: true},
}

// statusRank orders statuses along the pipeline so a stage handler can
// tell whether the record has already moved past its own work.
// awaiting_review sits between mapping and validating: once suspended,
// the map stage's work is done.
var statusRank = map[Status]int{
	StatusPending:        0,
	StatusParsing:        1,
	StatusInferring:      2,
	StatusMapping:        3,
	StatusAwaitingReview: 4,
	StatusValidating:     5,
	StatusOutputting:     6,
	StatusComplete:       7,
	StatusFailed:         8,
}

// stageActiveStatus maps each stage to the status during which it runs.
var stageActiveStatus = map[Stage]Status{
	StageParse:    StatusParsing,
	StageInfer:    StatusInferring,
	StageMap:      StatusMapping,
	StageValidate: StatusValidating,
	StageOutput:   StatusOutputting,
}

// ValidateTransition checks whether an ingestion may move from one status
// to another. Any non-terminal status may transition to failed.
//
// Returns nil if the transition is allowed, a wrapped sentinel error if not:
//   - ErrTerminalStatusImmutable when from is complete or failed
//   - ErrInvalidStatus when either status is unknown
//   - ErrInvalidTransition for any other disallowed move
func ValidateTransition(from, to Status) error {
	if !from.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, from)
	}

	if !to.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}

	if from.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalStatusImmutable, from, to)
	}

	if to == StatusFailed {
		return nil
	}

	if allowed := validTransitions[from]; allowed[to] {
		return nil
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Rank returns the position of s along the pipeline. Unknown statuses
// rank below pending so they never read as "already done".
func (s Status) Rank() int {
	if rank, ok := statusRank[s]; ok {
		return rank
	}

	return -1
}

// ActiveStatus returns the status during which the stage executes
// (parse runs while the ingestion is parsing, and so on).
func (st Stage) ActiveStatus() Status {
	return stageActiveStatus[st]
}
