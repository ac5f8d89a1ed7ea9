package session

import (
	"github.com/pkg/errors"

	apperrors "github.com/jrsteele09/membership-session/internal/errors"
)

var legalTransitions = map[Phase]map[Phase]bool{
	// ANONYMOUS straight from UNINITIALIZED is a rehydration that found no token.
	PhaseUninitialized: {PhaseRehydrating: true, PhaseAnonymous: true},
	PhaseRehydrating:   {PhaseRehydrating: true, PhaseAuthenticated: true, PhaseAnonymous: true},
	PhaseAuthenticated: {PhaseAuthenticated: true, PhaseAnonymous: true},
	PhaseAnonymous:     {PhaseAnonymous: true, PhaseAuthenticated: true},
}

func canTransition(from, to Phase) bool {
	return legalTransitions[from][to]
}

func checkTransition(from, to Phase) error {
	if !canTransition(from, to) {
		return errors.Wrapf(apperrors.ErrIllegalTransition, "%s -> %s", from, to)
	}
	return nil
}
