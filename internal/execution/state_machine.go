package execution

import (
	"fmt"

	"flowhub/internal/models"
)

// validTransitions encodes the execution lifecycle. running may suspend,
// succeed or fail; a suspended execution may only resume to running;
// terminal states have no exits.
var validTransitions = map[models.ExecutionStatus][]models.ExecutionStatus{
	models.ExecutionStatusRunning: {
		models.ExecutionStatusWaitingBlock,
		models.ExecutionStatusSuccess,
		models.ExecutionStatusError,
	},
	models.ExecutionStatusWaitingBlock: {
		models.ExecutionStatusRunning,
		models.ExecutionStatusError,
	},
	models.ExecutionStatusSuccess: {},
	models.ExecutionStatusError:   {},
}

// CanTransition reports whether moving from one execution status to another
// is legal.
func CanTransition(from, to models.ExecutionStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a descriptive error for illegal transitions.
func ValidateTransition(from, to models.ExecutionStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid execution transition %s -> %s", from, to)
	}
	return nil
}

// TransitionSources returns every status allowed to transition into to.
// Stores use this to constrain status writes at the persistence layer.
func TransitionSources(to models.ExecutionStatus) []models.ExecutionStatus {
	var sources []models.ExecutionStatus
	for from, targets := range validTransitions {
		for _, target := range targets {
			if target == to {
				sources = append(sources, from)
			}
		}
	}
	return sources
}
