package models

import (
	"fmt"
	"strings"
)

// Action is the directional opinion carried by a Signal.
type Action uint8

const (
	ActionUnknown Action = iota
	ActionBuy
	ActionSell
	ActionHold
)

var actionNames = map[Action]string{
	ActionBuy:  "buy",
	ActionSell: "sell",
	ActionHold: "hold",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Valid reports whether a is one of buy, sell, hold.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

// ParseAction converts raw text into an Action.
func ParseAction(s string) (Action, error) {
	for a, name := range actionNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return a, nil
		}
	}
	return ActionUnknown, NewValidationError("action", fmt.Sprintf("unknown action %q", s))
}

func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, NewValidationError("action", "invalid action")
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Source identifies which producer generated a Signal. It is the fusion weight key.
type Source uint8

const (
	SourceUnknown Source = iota
	SourceTechnical
	SourceSentiment
	SourcePattern
	SourcePrediction
	SourceComposite
)

var sourceNames = map[Source]string{
	SourceTechnical:  "technical",
	SourceSentiment:  "sentiment",
	SourcePattern:    "pattern",
	SourcePrediction: "prediction",
	SourceComposite:  "composite",
}

// AnalysisSources lists the non-composite producers.
func AnalysisSources() []Source {
	return []Source{SourceTechnical, SourceSentiment, SourcePattern, SourcePrediction}
}

func (s Source) String() string {
	if n, ok := sourceNames[s]; ok {
		return n
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

func (s Source) Valid() bool {
	_, ok := sourceNames[s]
	return ok
}

// ParseSource converts raw text into a Source.
func ParseSource(s string) (Source, error) {
	for src, name := range sourceNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return src, nil
		}
	}
	return SourceUnknown, NewValidationError("source", fmt.Sprintf("unknown source %q", s))
}

func (s Source) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, NewValidationError("source", "invalid source")
	}
	return []byte(s.String()), nil
}

func (s *Source) UnmarshalText(b []byte) error {
	v, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Status is the lifecycle state of a Signal.
//
//	pending -> executed | expired | cancelled
//
// All non-pending states are terminal.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusExecuted
	StatusExpired
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusExecuted:  "executed",
	StatusExpired:   "expired",
	StatusCancelled: "cancelled",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal reports whether no transition is defined out of s.
func (s Status) IsTerminal() bool {
	return s == StatusExecuted || s == StatusExpired || s == StatusCancelled
}

// CanTransition reports whether from -> to is an edge of the state machine.
func (s Status) CanTransition(to Status) bool {
	return s == StatusPending && to.IsTerminal()
}

// ParseStatus converts raw text into a Status.
func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return st, nil
		}
	}
	return StatusUnknown, NewValidationError("status", fmt.Sprintf("unknown status %q", s))
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, NewValidationError("status", "invalid status")
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
