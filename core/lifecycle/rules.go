package lifecycle

import (
	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/repository"
)

// rule is the write discipline for a transition into one state
type rule struct {
	condition repository.Condition
	terminal  bool
	// recordless transitions are archived without touching the record store
	recordless bool
}

var rules = map[models.JobState]rule{
	models.JobStateSubmit: {
		condition: repository.Condition{StateIn: []models.JobState{models.JobStateCreate, models.JobStateStop}},
	},
	models.JobStateStop: {
		condition: repository.Condition{StateIn: []models.JobState{models.JobStateSubmit}},
	},
	models.JobStateSetup: {
		condition: repository.Condition{StateNotIn: models.RecordTerminalStates},
	},
	models.JobStateRunning: {
		condition: repository.Condition{StateNotIn: models.RecordTerminalStates},
	},
	models.JobStateSuccess: {
		condition: repository.Condition{StateNotIn: models.RecordTerminalStates},
		terminal:  true,
	},
	models.JobStateError: {
		condition: repository.Condition{StateNotIn: models.RecordTerminalStates},
		terminal:  true,
	},
	models.JobStateTerminate: {
		condition: repository.Condition{StateIn: models.ActiveJobStates},
		terminal:  true,
	},
	models.JobStateExpired: {
		terminal:   true,
		recordless: true,
	},
}

// ruleFor returns the rule for a requested state; create is never requested
func ruleFor(state models.JobState) (rule, bool) {
	r, ok := rules[state]
	return r, ok
}
