// Package model defines the data structures for mission descriptors, inputs,
// results, progress events and engine configuration.
package model

// Gender selects gendered prompt templates and template pools.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// MissionKind selects the pipeline shape the orchestrator runs.
type MissionKind string

const (
	KindSingle  MissionKind = "single"  // one subject photo, prompt-driven generation
	KindMulti   MissionKind = "multi"   // several subject photos mapped onto workflow slots
	KindRestore MissionKind = "restore" // photo restoration with before/after artifacts
	KindCard    MissionKind = "card"    // local card draw, no remote generation
)

// MissionInput carries everything a single invocation owns. Image fields hold
// data URIs or already-public URLs; multi-subject missions use Images.
type MissionInput struct {
	Image  string
	Images []string
	Text   string
	Gender Gender
	Params map[string]string
}

// ProgressEvent is emitted on every stage transition and during long polls.
// Events are advisory and never persisted.
type ProgressEvent struct {
	Stage         Stage
	Percent       int
	Message       string
	ExtractedTags []string
	Err           string
}

// MissionResult is the immutable outcome of a successful run. It is owned by
// the result store from the moment it is written.
type MissionResult struct {
	TaskID        string         `json:"taskId"`
	ImageURL      string         `json:"image"`
	Caption       string         `json:"caption,omitempty"`
	Tags          []string       `json:"dna,omitempty"`
	OriginalURL   string         `json:"originalImage,omitempty"`
	ComparisonURL string         `json:"comparisonImage,omitempty"`
	Metadata      ResultMetadata `json:"metadata"`
}

type ResultMetadata struct {
	MissionID   string  `json:"missionId"`
	TimestampMs int64   `json:"timestampMs"`
	Cost        float64 `json:"providerCost,omitempty"`
}
