package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/fallback"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/poller"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/provider"
)

// featureInstruction asks the vision model for generation-ready tags.
const featureInstruction = "Describe the person in this photo as short comma-separated English tags " +
	"covering hair style, hair color, glasses, facial hair, expression and notable accessories. " +
	"Output only the tags."

// comparisonWorkflowID names the optional catalog workflow that composes a
// before/after pair. Restoration missions use it when present.
const comparisonWorkflowID = "comparison"

func (o *Orchestrator) runSingle(ctx context.Context, r *missionRun) (model.MissionResult, error) {
	photoURL, err := o.publishSubject(ctx, r, r.input.Image, 5, 8)
	if err != nil {
		return model.MissionResult{}, err
	}

	var tags []string
	if r.desc.NeedsFeatureExtraction {
		if err := r.enter(model.StageExtracting, 10, "analyzing photo"); err != nil {
			return model.MissionResult{}, err
		}
		raw, err := o.prov.Vision.Describe(ctx, photoURL, featureInstruction)
		if err != nil {
			return model.MissionResult{}, fmt.Errorf("feature extraction: %w", err)
		}
		tags = CleanTags(raw, r.input.Gender)
		if len(tags) == 0 {
			return model.MissionResult{}, fmt.Errorf("feature extraction returned no usable tags")
		}
		r.report(30, "features extracted", tags)
	}

	positive, negative := r.desc.RenderPrompts(r.input.Gender, tags)
	imageURL, cost, err := o.generate(ctx, r, []string{photoURL}, positive, negative)
	if err != nil {
		return model.MissionResult{}, err
	}

	caption, err := o.caption(ctx, r, imageURL)
	if err != nil {
		return model.MissionResult{}, err
	}
	return r.finish(r.newResult(imageURL, caption, tags, cost))
}

func (o *Orchestrator) runMulti(ctx context.Context, r *missionRun) (model.MissionResult, error) {
	if err := r.enter(model.StageUploading, 5, "uploading photos"); err != nil {
		return model.MissionResult{}, err
	}
	urls := make([]string, 0, len(r.input.Images))
	for i, img := range r.input.Images {
		url, err := o.prov.Publisher.Publish(ctx, img)
		if err != nil {
			return model.MissionResult{}, fmt.Errorf("publish photo %d: %w", i+1, err)
		}
		urls = append(urls, url)
	}
	r.report(8, "photos published", nil)

	imageURL, cost, err := o.generate(ctx, r, urls, "", "")
	if err != nil {
		return model.MissionResult{}, err
	}

	caption, err := o.caption(ctx, r, imageURL)
	if err != nil {
		return model.MissionResult{}, err
	}
	return r.finish(r.newResult(imageURL, caption, nil, cost))
}

func (o *Orchestrator) runRestore(ctx context.Context, r *missionRun) (model.MissionResult, error) {
	originalURL, err := o.publishSubject(ctx, r, r.input.Image, 10, 30)
	if err != nil {
		return model.MissionResult{}, err
	}

	restoredURL, cost, err := o.generate(ctx, r, []string{originalURL}, "", "")
	if err != nil {
		return model.MissionResult{}, err
	}

	res := r.newResult(restoredURL, r.desc.DefaultCaption, nil, cost)
	res.OriginalURL = originalURL
	// The side-by-side artifact is decoration: a failure here never voids an
	// already restored photo.
	if comparison, err := o.composeComparison(ctx, r, originalURL, restoredURL); err != nil {
		o.logger.Printf("[engine] task %s comparison artifact skipped: %v", r.taskID, err)
	} else {
		res.ComparisonURL = comparison
	}
	return r.finish(res)
}

// composeComparison runs the catalog's comparison workflow over the
// original/restored pair, when the catalog carries one.
func (o *Orchestrator) composeComparison(ctx context.Context, r *missionRun, originalURL, restoredURL string) (string, error) {
	workflows, _ := o.catalog()
	for _, wf := range workflows {
		if wf.ID != comparisonWorkflowID || !wf.Enabled {
			continue
		}
		req := provider.BuildRequest(wf, []string{originalURL, restoredURL}, "")
		jobID, err := o.prov.Images.Submit(ctx, req)
		if err != nil {
			return "", err
		}
		status, err := o.poll.Wait(ctx, jobID, o.prov.Images.Status, nil)
		if err != nil {
			return "", err
		}
		return status.ResultURL, nil
	}
	return "", fmt.Errorf("no %s workflow in catalog", comparisonWorkflowID)
}

// runCard draws deterministically from the gendered template pool: same task
// id, same card. No remote generation is involved.
func (o *Orchestrator) runCard(ctx context.Context, r *missionRun) (model.MissionResult, error) {
	if err := r.enter(model.StageGenerating, 40, "drawing card"); err != nil {
		return model.MissionResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.MissionResult{}, err
	}

	_, pools := o.catalog()
	pool := pools.ForGender(r.input.Gender)
	if len(pool) == 0 {
		return model.MissionResult{}, fmt.Errorf("empty card pool")
	}
	card := pool[fallback.StartIndex(r.taskID, len(pool))]
	r.report(80, "card drawn", nil)

	caption := strings.TrimSpace(r.input.Text)
	if caption == "" {
		caption = r.desc.DefaultCaption
	}
	return r.finish(r.newResult(card.Location, caption, nil, 0))
}

// publishSubject runs the optional upload stage for a single-subject mission.
func (o *Orchestrator) publishSubject(ctx context.Context, r *missionRun, image string, enterPct, donePct int) (string, error) {
	if !r.desc.NeedsPublicUpload {
		return image, nil
	}
	if err := r.enter(model.StageUploading, enterPct, "uploading photo"); err != nil {
		return "", err
	}
	url, err := o.prov.Publisher.Publish(ctx, image)
	if err != nil {
		return "", fmt.Errorf("publish photo: %w", err)
	}
	r.report(donePct, "photo published", nil)
	return url, nil
}

// generate drives the fallback search across the current catalog. Progress
// during polling maps onto the 40..80 band.
func (o *Orchestrator) generate(ctx context.Context, r *missionRun, photoURLs []string, positive, negative string) (string, float64, error) {
	if err := r.enter(model.StageGenerating, 40, "generating image"); err != nil {
		return "", 0, err
	}

	workflows, pools := o.catalog()
	pool := pools.ForGender(r.input.Gender)

	var cost float64
	url, attempts, err := o.resolver.Resolve(ctx, r.taskID, workflows, pool,
		func(ctx context.Context, wf model.WorkflowOption, tpl model.TemplateAsset) (string, error) {
			req := provider.BuildRequest(wf, photoURLs, tpl.Location)
			injectPrompts(&req, positive, negative)

			jobID, err := o.prov.Images.Submit(ctx, req)
			if err != nil {
				return "", err
			}
			status, err := o.poll.Wait(ctx, jobID, o.prov.Images.Status, func(fraction float64) {
				r.report(40+int(fraction*40), "generating image", nil)
			})
			if errors.Is(err, poller.ErrTimeout) {
				return "", &provider.Error{Kind: provider.KindTimeout, Message: "generation job timed out", Err: err}
			}
			if err != nil {
				return "", err
			}
			cost += status.Cost
			return status.ResultURL, nil
		})
	if err != nil {
		return "", 0, err
	}
	r.report(80, "image ready", nil)
	o.logger.Printf("[engine] task %s generated after %d attempt(s)", r.taskID, len(attempts))
	return url, cost, nil
}

// caption runs the optional captioning stage. Text generation is best-effort:
// a failed or empty completion falls back to the mission's stock caption.
func (o *Orchestrator) caption(ctx context.Context, r *missionRun, imageURL string) (string, error) {
	if !r.desc.NeedsCaption {
		return r.desc.DefaultCaption, nil
	}
	if err := r.enter(model.StageCaptioning, 90, "writing caption"); err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(r.desc.CaptionPrompt, imageURL)
	out, err := o.prov.Text.Complete(ctx, prompt)
	if err != nil {
		o.logger.Printf("[engine] task %s caption fell back to default: %v", r.taskID, err)
		return r.desc.DefaultCaption, nil
	}
	if caption := cleanCaption(out); caption != "" {
		return caption, nil
	}
	return r.desc.DefaultCaption, nil
}

func injectPrompts(req *provider.Request, positive, negative string) {
	if positive != "" {
		req.Nodes["positive_prompt"] = model.GraphNode{
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]any{"text": positive},
		}
	}
	if negative != "" {
		req.Nodes["negative_prompt"] = model.GraphNode{
			ClassType: "CLIPTextEncode",
			Inputs:    map[string]any{"text": negative},
		}
	}
}
