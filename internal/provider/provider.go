// Package provider defines the external capability contracts the engine
// depends on and the adapters that implement them. Remote status codes and
// moderation errors are translated here, at the boundary; the orchestration
// core only ever sees the tagged types below.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
)

// State is the tagged job state, translated from the remote numeric codes.
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// JobStatus is one status-check observation of an asynchronous job.
type JobStatus struct {
	State     State
	Fraction  float64 // provider-reported completion in [0,1]; 0 when unknown
	ResultURL string
	Cost      float64
	Code      string
	Message   string
}

// Request is a provider-agnostic generation request: a template reference
// plus the node graph built from a workflow's slot mapping.
type Request struct {
	TemplateUUID string
	WorkflowUUID string
	Nodes        map[string]model.GraphNode
	// UserSlots names the nodes fed by the user's own photo; the moderation
	// classifier uses them to attribute rejections.
	UserSlots []string
}

// Publisher publishes a local or inline asset to a publicly fetchable URL.
type Publisher interface {
	Publish(ctx context.Context, dataURI string) (string, error)
}

// VisionDescriber produces a free-text description of an image.
type VisionDescriber interface {
	Describe(ctx context.Context, imageRef, instruction string) (string, error)
}

// ImageGenerator is the asynchronous generation capability.
type ImageGenerator interface {
	Submit(ctx context.Context, req Request) (jobID string, err error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
}

// TextGenerator completes a prompt into text.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ErrorKind partitions provider failures the way the orchestration core
// branches on them.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindModerationUser
	KindModerationTemplate
	KindTimeout
	KindFatal
)

// Error carries the provider's failure code and message across the adapter
// boundary together with its classified kind.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("provider error (code %s): %s", e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("provider error: %s", e.Message)
	case e.Err != nil:
		return fmt.Sprintf("provider error: %v", e.Err)
	}
	return "provider error"
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies any error for the fallback resolver. Errors that are not
// *Error are treated as transient, the conservative choice: one bad attempt
// must not block the whole mission.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}
