package domain

import dErrors "forgecert/pkg/domain-errors"

// PipelineState is one of the fixed, totally ordered stages a forge passes
// through on its way to certification. The order is load-bearing: transitions
// may only advance by exactly one stage or roll back to any earlier stage,
// and StateCertified is terminal.
type PipelineState string

const (
	StateDraft        PipelineState = "DRAFT"
	StateSubmitted    PipelineState = "SUBMITTED"
	StateNormalized   PipelineState = "NORMALIZED"
	StateParametrized PipelineState = "PARAMETRIZED"
	StateValidated    PipelineState = "VALIDATED"
	StateApproved     PipelineState = "APPROVED"
	StateCertified    PipelineState = "CERTIFIED"
)

// pipelineOrder is the single source of truth for stage ordering.
var pipelineOrder = []PipelineState{
	StateDraft,
	StateSubmitted,
	StateNormalized,
	StateParametrized,
	StateValidated,
	StateApproved,
	StateCertified,
}

var pipelineIndex = func() map[PipelineState]int {
	m := make(map[PipelineState]int, len(pipelineOrder))
	for i, s := range pipelineOrder {
		m[s] = i
	}
	return m
}()

// PipelineStates returns the full ordered stage sequence.
func PipelineStates() []PipelineState {
	out := make([]PipelineState, len(pipelineOrder))
	copy(out, pipelineOrder)
	return out
}

// ParsePipelineState constructs a PipelineState from external input.
// Errors: returns CodeInvalidInput when the value is empty or unknown.
func ParsePipelineState(s string) (PipelineState, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "state cannot be empty")
	}
	st := PipelineState(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown pipeline state")
	}
	return st, nil
}

// IsValid checks the state against the ordered stage sequence.
func (s PipelineState) IsValid() bool {
	_, ok := pipelineIndex[s]
	return ok
}

// Index returns the position of the state in the pipeline order.
// Callers must hold a valid state; unknown states return -1.
func (s PipelineState) Index() int {
	i, ok := pipelineIndex[s]
	if !ok {
		return -1
	}
	return i
}

// IsTerminal reports whether the state is the certified terminal stage.
func (s PipelineState) IsTerminal() bool {
	return s == StateCertified
}

// Prev returns the immediately preceding stage, or false at the first stage.
func (s PipelineState) Prev() (PipelineState, bool) {
	i := s.Index()
	if i <= 0 {
		return "", false
	}
	return pipelineOrder[i-1], true
}

// Next returns the immediately following stage, or false at the terminal stage.
func (s PipelineState) Next() (PipelineState, bool) {
	i := s.Index()
	if i < 0 || i >= len(pipelineOrder)-1 {
		return "", false
	}
	return pipelineOrder[i+1], true
}

func (s PipelineState) String() string {
	return string(s)
}
