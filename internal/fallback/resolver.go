// Package fallback implements the deterministic two-level search over
// generation workflows and template assets that recovers from provider-side
// content moderation without user intervention.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"time"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/provider"
)

// ErrExhausted is returned when every (workflow, template) combination has
// been tried without success.
var ErrExhausted = errors.New("no viable workflow/template combination")

// AttemptFunc runs one (workflow, template) combination to completion and
// returns the generated artifact URL.
type AttemptFunc func(ctx context.Context, wf model.WorkflowOption, tpl model.TemplateAsset) (string, error)

// Attempt records one tried combination, for logging and tests.
type Attempt struct {
	WorkflowID string
	TemplateID string
	Err        error
}

type Resolver struct {
	delay  time.Duration
	logger *log.Logger
}

// New creates a resolver. delay is the self-imposed pause between attempts
// that keeps the provider's rate limiter quiet; zero disables it.
func New(delay time.Duration, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Resolver{delay: delay, logger: logger}
}

// StartIndex computes the deterministic starting offset into a template pool
// for a task id: FNV-1a over the id, modulo the pool size. Same id, same
// starting template.
func StartIndex(taskID string, poolSize int) int {
	if poolSize <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(taskID))
	return int(h.Sum32() % uint32(poolSize))
}

// Resolve iterates workflows in priority order and, inside each, the
// template pool starting at the task-id offset and wrapping exactly once.
// It returns on the first success. A moderation rejection attributed to the
// user's own asset aborts the whole search, since no template change can fix
// the user's photo; a timeout aborts too, since a slow provider makes further
// full-length polls pointless. Every other failure advances to the next
// combination.
func (r *Resolver) Resolve(
	ctx context.Context,
	taskID string,
	workflows []model.WorkflowOption,
	pool []model.TemplateAsset,
	attempt AttemptFunc,
) (string, []Attempt, error) {
	enabled := model.EnabledWorkflows(workflows)
	if len(enabled) == 0 {
		return "", nil, fmt.Errorf("no enabled workflows configured")
	}
	if len(pool) == 0 {
		return "", nil, fmt.Errorf("empty template pool")
	}

	start := StartIndex(taskID, len(pool))
	var attempts []Attempt

	for _, wf := range enabled {
		for i := 0; i < len(pool); i++ {
			tpl := pool[(start+i)%len(pool)]

			if len(attempts) > 0 && r.delay > 0 {
				select {
				case <-ctx.Done():
					return "", attempts, ctx.Err()
				case <-time.After(r.delay):
				}
			}

			url, err := attempt(ctx, wf, tpl)
			attempts = append(attempts, Attempt{WorkflowID: wf.ID, TemplateID: tpl.ID, Err: err})
			if err == nil {
				r.logger.Printf("[fallback] task %s succeeded with workflow %s template %s after %d attempt(s)",
					taskID, wf.ID, tpl.ID, len(attempts))
				return url, attempts, nil
			}
			if ctx.Err() != nil {
				return "", attempts, ctx.Err()
			}

			switch provider.KindOf(err) {
			case provider.KindModerationUser:
				r.logger.Printf("[fallback] task %s aborted: user asset rejected by moderation", taskID)
				return "", attempts, fmt.Errorf("uploaded photo was rejected by content moderation: %w", err)
			case provider.KindTimeout:
				r.logger.Printf("[fallback] task %s aborted: generation timed out on workflow %s", taskID, wf.ID)
				return "", attempts, fmt.Errorf("generation timed out: %w", err)
			case provider.KindModerationTemplate:
				r.logger.Printf("[fallback] task %s: template %s rejected by moderation, advancing", taskID, tpl.ID)
			default:
				r.logger.Printf("[fallback] task %s: workflow %s template %s failed (%v), advancing", taskID, wf.ID, tpl.ID, err)
			}
		}
	}

	return "", attempts, fmt.Errorf("%w: tried %d workflow(s) × %d template(s)", ErrExhausted, len(enabled), len(pool))
}
