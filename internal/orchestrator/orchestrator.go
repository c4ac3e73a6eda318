// Package orchestrator runs missions end to end: publish inputs, extract
// features, drive the generation fallback search, caption, persist. One
// orchestrator serves one mission flow at a time.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/fallback"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/poller"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/provider"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/store"
)

// Providers bundles the external capabilities a mission may need. Nil fields
// are legal as long as no executed mission requires that capability.
type Providers struct {
	Publisher provider.Publisher
	Vision    provider.VisionDescriber
	Images    provider.ImageGenerator
	Text      provider.TextGenerator
}

// Catalog returns the current workflow list and template pools. The catalog
// may be hot-reloaded behind this function; each mission run reads it once.
type Catalog func() ([]model.WorkflowOption, model.TemplatePools)

// Orchestrator executes missions against a descriptor registry.
type Orchestrator struct {
	cfg      model.Config
	registry map[string]model.MissionDescriptor
	catalog  Catalog
	prov     Providers
	results  *store.Store
	poll     *poller.Poller
	resolver *fallback.Resolver
	logger   *log.Logger
	events   chan model.ProgressEvent
}

// New wires an orchestrator. results may be nil, in which case outcomes are
// returned to the caller but not persisted.
func New(cfg model.Config, catalog Catalog, prov Providers, results *store.Store, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	buffer := cfg.Engine.ProgressBuffer
	if buffer <= 0 {
		buffer = 16
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: model.Registry(),
		catalog:  catalog,
		prov:     prov,
		results:  results,
		poll: poller.New(poller.Config{
			Floor:       time.Duration(cfg.Poller.FloorMs) * time.Millisecond,
			Ceiling:     time.Duration(cfg.Poller.CeilingMs) * time.Millisecond,
			MaxAttempts: cfg.Poller.MaxAttempts,
		}, logger),
		resolver: fallback.New(time.Duration(cfg.Fallback.AttemptDelayMs)*time.Millisecond, logger),
		logger:   logger,
		events:   make(chan model.ProgressEvent, buffer),
	}
}

// Events exposes the progress stream. Events are advisory: when the consumer
// lags, the oldest buffered event is dropped in favor of the newest.
func (o *Orchestrator) Events() <-chan model.ProgressEvent {
	return o.events
}

func (o *Orchestrator) emit(ev model.ProgressEvent) {
	select {
	case o.events <- ev:
		return
	default:
	}
	select {
	case <-o.events:
	default:
	}
	select {
	case o.events <- ev:
	default:
	}
}

// Run executes the mission identified by missionID with the given input and
// returns its result. A fresh task id is minted per run; the mission's stage
// chain is forward-only and any failure lands it in the errored stage.
func (o *Orchestrator) Run(ctx context.Context, missionID string, input model.MissionInput) (model.MissionResult, error) {
	desc, ok := o.registry[missionID]
	if !ok {
		return model.MissionResult{}, fmt.Errorf("unknown mission: %s", missionID)
	}
	if err := validateInput(desc, input); err != nil {
		return model.MissionResult{}, err
	}

	run := &missionRun{
		o:      o,
		taskID: model.NewTaskID(),
		desc:   desc,
		input:  input,
	}
	o.logger.Printf("[engine] mission %s starting as %s", missionID, run.taskID)

	var (
		res model.MissionResult
		err error
	)
	switch desc.Kind {
	case model.KindSingle:
		res, err = o.runSingle(ctx, run)
	case model.KindMulti:
		res, err = o.runMulti(ctx, run)
	case model.KindRestore:
		res, err = o.runRestore(ctx, run)
	case model.KindCard:
		res, err = o.runCard(ctx, run)
	default:
		err = fmt.Errorf("mission %s has unsupported kind %q", missionID, desc.Kind)
	}
	if err != nil {
		run.fail(err)
		return model.MissionResult{}, fmt.Errorf("mission %s (%s): %w", missionID, run.taskID, err)
	}
	return res, nil
}

func validateInput(desc model.MissionDescriptor, input model.MissionInput) error {
	switch desc.Kind {
	case model.KindSingle, model.KindRestore:
		if input.Image == "" {
			return fmt.Errorf("mission %s requires a subject photo", desc.ID)
		}
	case model.KindMulti:
		if len(input.Images) != desc.SubjectCount {
			return fmt.Errorf("mission %s requires exactly %d photos, got %d",
				desc.ID, desc.SubjectCount, len(input.Images))
		}
	}
	return nil
}

// missionRun tracks one execution's stage chain and monotone percent.
type missionRun struct {
	o       *Orchestrator
	taskID  string
	desc    model.MissionDescriptor
	input   model.MissionInput
	stage   model.Stage
	percent int
}

// enter moves the run into the next stage, enforcing the forward-only chain.
func (r *missionRun) enter(next model.Stage, percent int, msg string) error {
	if r.stage == "" {
		if !model.ValidInitialStage(next) {
			return fmt.Errorf("mission cannot start at stage %q", next)
		}
	} else if err := model.ValidateStageTransition(r.stage, next); err != nil {
		return err
	}
	r.stage = next
	r.report(percent, msg, nil)
	return nil
}

// report emits a progress event. Percent never decreases within a run.
func (r *missionRun) report(percent int, msg string, tags []string) {
	if percent > 100 {
		percent = 100
	}
	if percent < r.percent {
		percent = r.percent
	}
	r.percent = percent
	r.o.emit(model.ProgressEvent{
		Stage:         r.stage,
		Percent:       percent,
		Message:       msg,
		ExtractedTags: tags,
	})
}

func (r *missionRun) fail(err error) {
	if r.stage != "" && model.IsTerminal(r.stage) {
		return
	}
	r.stage = model.StageErrored
	r.o.logger.Printf("[engine] task %s errored: %v", r.taskID, err)
	r.o.emit(model.ProgressEvent{
		Stage:   model.StageErrored,
		Percent: r.percent,
		Err:     err.Error(),
	})
}

// finish persists the result and only then reports completion. A result the
// caller saw as complete must already be readable from the store.
func (r *missionRun) finish(res model.MissionResult) (model.MissionResult, error) {
	if err := model.ValidateStageTransition(r.stage, model.StageComplete); err != nil {
		return model.MissionResult{}, err
	}
	if r.o.results != nil {
		if err := r.o.results.Put(res); err != nil {
			r.o.logger.Printf("[engine] task %s result not persisted: %v", r.taskID, err)
		}
	}
	r.stage = model.StageComplete
	r.report(100, "complete", nil)
	return res, nil
}

func (r *missionRun) newResult(imageURL, caption string, tags []string, cost float64) model.MissionResult {
	return model.MissionResult{
		TaskID:   r.taskID,
		ImageURL: imageURL,
		Caption:  caption,
		Tags:     tags,
		Metadata: model.ResultMetadata{
			MissionID:   r.desc.ID,
			TimestampMs: time.Now().UnixMilli(),
			Cost:        cost,
		},
	}
}
