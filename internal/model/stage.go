package model

import "fmt"

// Stage represents the phase a mission is currently in.
type Stage string

const (
	StageUploading  Stage = "uploading"
	StageExtracting Stage = "extracting"
	StageGenerating Stage = "generating"
	StageCaptioning Stage = "captioning"
	StageComplete   Stage = "complete"
	StageErrored    Stage = "errored"
)

var terminalStages = map[Stage]bool{
	StageComplete: true,
	StageErrored:  true,
}

// Missions enter at uploading, extracting or generating depending on the
// descriptor; upload and extraction are both optional.
var validInitialStages = map[Stage]bool{
	StageUploading:  true,
	StageExtracting: true,
	StageGenerating: true,
}

// Stage transitions form a forward-only chain: no stage may be re-entered
// within one mission run. Retry loops live inside the generating stage
// (fallback resolver), never in the state machine.
var validStageTransitions = map[Stage]map[Stage]bool{
	StageUploading: {
		StageExtracting: true,
		StageGenerating: true,
	},
	StageExtracting: {
		StageGenerating: true,
	},
	StageGenerating: {
		StageCaptioning: true,
		StageComplete:   true,
	},
	StageCaptioning: {
		StageComplete: true,
	},
}

func IsTerminal(s Stage) bool {
	return terminalStages[s]
}

func ValidInitialStage(s Stage) bool {
	return validInitialStages[s]
}

// ValidateStageTransition checks a transition against the stage chain.
// Every non-terminal stage may transition to errored.
func ValidateStageTransition(from, to Stage) error {
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal stage %q", from)
	}
	if to == StageErrored {
		return nil
	}
	allowed, ok := validStageTransitions[from]
	if !ok {
		return fmt.Errorf("unknown stage %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid stage transition: %q → %q", from, to)
	}
	return nil
}
