package services

import "liblend/internal/models"

// TransitionObserver receives document transitions after the conditional
// write has landed. Observation is synchronous but strictly decoupled from
// the write: an observer must swallow its own failures, because nothing a
// notification dispatch does may block or revert a completed transition.
type TransitionObserver interface {
	// OnCopyTransition fires once per successful copy state change. A nil
	// before means the copy was just created.
	OnCopyTransition(before, after *models.Copy)

	// OnRequestTransition fires once per loan request creation or decision.
	// A nil before means the request was just created.
	OnRequestTransition(before, after *models.LoanRequest)
}

// noopObserver keeps the state machine runnable without a dispatcher wired
// in (tests that only exercise transitions).
type noopObserver struct{}

func (noopObserver) OnCopyTransition(_, _ *models.Copy)           {}
func (noopObserver) OnRequestTransition(_, _ *models.LoanRequest) {}
