// Package steps defines the application pipeline stages, their ordering,
// retry ceilings and the allowed status transitions between them.
package steps

import (
	"fmt"

	"github.com/jonathan/applymate/internal/types"
)

// Stage names
const (
	StageScrape  = "scrape"
	StageAnalyze = "analyze"
	StageCraft   = "craft"
	StageSubmit  = "submit"
)

// StageDefinition defines metadata for a pipeline stage
type StageDefinition struct {
	Name string
	// Status is the application status while the stage runs.
	Status types.ApplicationStatus
	// Entry lists the statuses a task for this stage may start from.
	Entry []types.ApplicationStatus
	// Dependencies are the stages that must have committed first.
	Dependencies []string
	// MaxAttempts is the default retry ceiling.
	MaxAttempts int
}

// StageRegistry holds all stage definitions
var StageRegistry = map[string]StageDefinition{
	StageScrape: {
		Name:         StageScrape,
		Status:       types.StatusScraping,
		Entry:        []types.ApplicationStatus{types.StatusQueued, types.StatusScraping},
		Dependencies: []string{},
		MaxAttempts:  3,
	},
	StageAnalyze: {
		Name:         StageAnalyze,
		Status:       types.StatusAnalyzing,
		Entry:        []types.ApplicationStatus{types.StatusAnalyzing},
		Dependencies: []string{StageScrape},
		MaxAttempts:  3,
	},
	StageCraft: {
		Name:         StageCraft,
		Status:       types.StatusCrafting,
		Entry:        []types.ApplicationStatus{types.StatusCrafting},
		Dependencies: []string{StageAnalyze},
		MaxAttempts:  3,
	},
	StageSubmit: {
		Name:         StageSubmit,
		Status:       types.StatusApplying,
		Entry:        []types.ApplicationStatus{types.StatusApplying},
		Dependencies: []string{StageCraft},
		MaxAttempts:  2,
	},
}

// Ceilings maps stage names to retry ceilings.
type Ceilings map[string]int

// DefaultCeilings returns the registry's retry ceilings.
func DefaultCeilings() Ceilings {
	c := make(Ceilings, len(StageRegistry))
	for name, def := range StageRegistry {
		c[name] = def.MaxAttempts
	}
	return c
}

// For returns the ceiling for stage, falling back to the registry default.
func (c Ceilings) For(stage string) int {
	if n, ok := c[stage]; ok && n > 0 {
		return n
	}
	if def, ok := StageRegistry[stage]; ok {
		return def.MaxAttempts
	}
	return 1
}

// ForStatus returns the stage that drives an application in status s.
// Terminal statuses have no stage.
func ForStatus(s types.ApplicationStatus) (StageDefinition, bool) {
	for _, def := range StageRegistry {
		for _, entry := range def.Entry {
			if entry == s {
				return def, true
			}
		}
	}
	return StageDefinition{}, false
}

// Next returns the status an application moves to when stage completes.
func Next(stage string, mode types.ApplicationMode) (types.ApplicationStatus, error) {
	switch stage {
	case StageScrape:
		return types.StatusAnalyzing, nil
	case StageAnalyze:
		return types.StatusCrafting, nil
	case StageCraft:
		if mode == types.ModeApply {
			return types.StatusApplying, nil
		}
		return types.StatusAnalyzed, nil
	case StageSubmit:
		return types.StatusConfirmed, nil
	default:
		return "", fmt.Errorf("unknown stage: %s", stage)
	}
}

// TransitionError represents a state machine guard violation
type TransitionError struct {
	From types.ApplicationStatus
	To   types.ApplicationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// ValidateTransition checks that an application in mode may move from one
// status to another.
func ValidateTransition(from, to types.ApplicationStatus, mode types.ApplicationMode) error {
	if from.IsTerminal() || !to.Valid() {
		return &TransitionError{From: from, To: to}
	}
	if to == types.StatusFailed {
		return nil
	}

	allowed := map[types.ApplicationStatus]types.ApplicationStatus{
		types.StatusQueued:    types.StatusScraping,
		types.StatusScraping:  types.StatusAnalyzing,
		types.StatusAnalyzing: types.StatusCrafting,
		types.StatusApplying:  types.StatusConfirmed,
	}
	if from == types.StatusCrafting {
		if mode == types.ModeApply {
			allowed[from] = types.StatusApplying
		} else {
			allowed[from] = types.StatusAnalyzed
		}
	}
	if allowed[from] != to {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
