package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/fallback"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/provider"
	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/store"
)

type fakePublisher struct{ calls int }

func (f *fakePublisher) Publish(ctx context.Context, dataURI string) (string, error) {
	f.calls++
	return fmt.Sprintf("https://cdn.example.com/in/%d.png", f.calls), nil
}

type fakeVision struct {
	reply string
	err   error
}

func (f *fakeVision) Describe(ctx context.Context, imageRef, instruction string) (string, error) {
	return f.reply, f.err
}

type fakeText struct {
	reply string
	err   error
}

func (f *fakeText) Complete(ctx context.Context, prompt string) (string, error) {
	return f.reply, f.err
}

// fakeImages scripts one outcome per submission, in order: failures reject at
// submit time, statusFailures reject the submitted job at its first status
// check. Submissions past either script succeed.
type fakeImages struct {
	mu             sync.Mutex
	submits        []provider.Request
	failures       []error
	statusFailures []error
}

func (f *fakeImages) Submit(ctx context.Context, req provider.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.submits)
	f.submits = append(f.submits, req)
	if n < len(f.failures) && f.failures[n] != nil {
		return "", f.failures[n]
	}
	return fmt.Sprintf("job-%d", n), nil
}

func (f *fakeImages) Status(ctx context.Context, jobID string) (provider.JobStatus, error) {
	var n int
	fmt.Sscanf(jobID, "job-%d", &n)

	f.mu.Lock()
	var scripted error
	if n < len(f.statusFailures) {
		scripted = f.statusFailures[n]
	}
	f.mu.Unlock()

	if scripted != nil {
		return provider.JobStatus{State: provider.StateFailed, Code: "6"}, scripted
	}
	return provider.JobStatus{
		State:     provider.StateSucceeded,
		ResultURL: "https://cdn.example.com/out/" + jobID + ".png",
		Cost:      0.25,
	}, nil
}

func (f *fakeImages) submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func testCatalog() Catalog {
	workflows := []model.WorkflowOption{
		{
			ID: "wf-main", Priority: 1, Enabled: true,
			TemplateUUID: "tpl-uuid", WorkflowUUID: "wf-uuid",
			Slots: model.SlotMapping{UserPhoto: []string{"19"}, TemplateImage: []string{"21"}},
		},
		{ID: "wf-off", Priority: 2, Enabled: false, TemplateUUID: "t", WorkflowUUID: "w"},
	}
	pools := model.TemplatePools{
		Female: []model.TemplateAsset{
			{ID: "f1", Location: "https://cdn.example.com/f1.png"},
			{ID: "f2", Location: "https://cdn.example.com/f2.png"},
			{ID: "f3", Location: "https://cdn.example.com/f3.png"},
		},
		Male: []model.TemplateAsset{
			{ID: "m1", Location: "https://cdn.example.com/m1.png"},
		},
	}
	return func() ([]model.WorkflowOption, model.TemplatePools) { return workflows, pools }
}

func testConfig() model.Config {
	return model.Config{
		Engine:   model.EngineConfig{ProgressBuffer: 256},
		Poller:   model.PollerConfig{FloorMs: 1, CeilingMs: 1, MaxAttempts: 5},
		Fallback: model.FallbackConfig{AttemptDelayMs: 0},
	}
}

func moderationTemplate() error {
	return &provider.Error{Kind: provider.KindModerationTemplate, Code: "100031", Message: "template rejected"}
}

func moderationUser() error {
	return &provider.Error{Kind: provider.KindModerationUser, Code: "100031", Message: "19.inputs.image rejected"}
}

func drainStages(o *Orchestrator) []model.Stage {
	var stages []model.Stage
	for {
		select {
		case ev := <-o.Events():
			if len(stages) == 0 || stages[len(stages)-1] != ev.Stage {
				stages = append(stages, ev.Stage)
			}
		default:
			return stages
		}
	}
}

func TestRunSingleFullPipeline(t *testing.T) {
	images := &fakeImages{}
	o := New(testConfig(), testCatalog(), Providers{
		Publisher: &fakePublisher{},
		Vision:    &fakeVision{reply: "curly hair, glasses, female, warm smile"},
		Images:    images,
		Text:      &fakeText{reply: "福到运到好运到"},
	}, nil, nil)

	res, err := o.Run(context.Background(), "M1", model.MissionInput{
		Image:  "data:image/png;base64,AAAA",
		Gender: model.GenderFemale,
	})
	require.NoError(t, err)

	assert.True(t, model.ValidateTaskID(res.TaskID))
	assert.Equal(t, "https://cdn.example.com/out/job-0.png", res.ImageURL)
	assert.Equal(t, "福到运到好运到", res.Caption)
	assert.Equal(t, []string{"curly hair", "glasses", "warm smile"}, res.Tags)
	assert.Equal(t, "M1", res.Metadata.MissionID)
	assert.Equal(t, 0.25, res.Metadata.Cost)
	assert.Equal(t, 1, images.submitted())

	assert.Equal(t, []model.Stage{
		model.StageUploading,
		model.StageExtracting,
		model.StageGenerating,
		model.StageCaptioning,
		model.StageComplete,
	}, drainStages(o))
}

func TestProgressPercentNeverDecreases(t *testing.T) {
	o := New(testConfig(), testCatalog(), Providers{
		Publisher: &fakePublisher{},
		Vision:    &fakeVision{reply: "curly hair, glasses"},
		Images:    &fakeImages{},
		Text:      &fakeText{reply: "福到运到"},
	}, nil, nil)

	_, err := o.Run(context.Background(), "M1", model.MissionInput{
		Image:  "data:image/png;base64,AAAA",
		Gender: model.GenderFemale,
	})
	require.NoError(t, err)

	prev := -1
	for {
		select {
		case ev := <-o.Events():
			require.GreaterOrEqual(t, ev.Percent, prev,
				"percent regressed at stage %s", ev.Stage)
			prev = ev.Percent
		default:
			assert.Equal(t, 100, prev, "final event must report completion")
			return
		}
	}
}

func TestRunSkipsExtractionWhenNotRequired(t *testing.T) {
	o := New(testConfig(), testCatalog(), Providers{
		Publisher: &fakePublisher{},
		Images:    &fakeImages{},
	}, nil, nil)

	_, err := o.Run(context.Background(), "M11", model.MissionInput{Image: "data:image/png;base64,AAAA"})
	require.NoError(t, err)

	assert.Equal(t, []model.Stage{
		model.StageUploading,
		model.StageGenerating,
		model.StageComplete,
	}, drainStages(o))
}

func TestGenerateAdvancesPastTemplateModeration(t *testing.T) {
	images := &fakeImages{failures: []error{moderationTemplate()}}
	o := New(testConfig(), testCatalog(), Providers{
		Publisher: &fakePublisher{},
		Images:    images,
	}, nil, nil)

	res, err := o.Run(context.Background(), "M11", model.MissionInput{Image: "data:image/png;base64,AAAA"})
	require.NoError(t, err)

	assert.Equal(t, 2, images.submitted())
	assert.NotEmpty(t, res.ImageURL)
	// The two attempts use different templates of the same workflow.
	first := images.submits[0].Nodes["21"].Inputs["image"]
	second := images.submits[1].Nodes["21"].Inputs["image"]
	assert.NotEqual(t, first, second)
}

func TestGenerateExhaustsAllCombinations(t *testing.T) {
	images := &fakeImages{failures: []error{
		moderationTemplate(), moderationTemplate(), moderationTemplate(),
	}}
	o := New(testConfig(), testCatalog(), Providers{
		Publisher: &fakePublisher{},
		Images:    images,
	}, nil, nil)

	_, err := o.Run(context.Background(), "M11", model.MissionInput{
		Image:  "data:image/png;base64,AAAA",
		Gender: model.GenderFemale,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, fallback.ErrExhausted)
	// One enabled workflow, three templates: exactly three submissions.
	assert.Equal(t, 3, images.submitted())

	stages := drainStages(o)
	assert.Equal(t, model.StageErrored, stages[len(stages)-1])
}

func TestGenerateAbortsOnUserModeration(t *testing.T) {
	images := &fakeImages{failures: []error{moderationUser()}}
	o := New(testConfig(), testCatalog(), Providers{
		Publisher: &fakePublisher{},
		Images:    images,
	}, nil, nil)

	_, err := o.Run(context.Background(), "M11", model.MissionInput{Image: "data:image/png;base64,AAAA"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content moderation")
	assert.Equal(t, 1, images.submitted())
}

func TestGenerateAdvancesPastTemplateModerationAtStatusTime(t *testing.T) {
	images := &fakeImages{statusFailures: []error{moderationTemplate()}}
	o := New(testConfig(), testCatalog(), Providers{
		Publisher: &fakePublisher{},
		Images:    images,
	}, nil, nil)

	res, err := o.Run(context.Background(), "M11", model.MissionInput{Image: "data:image/png;base64,AAAA"})
	require.NoError(t, err)

	// First job dies at its status check; the resolver moves to the next
	// template and resubmits.
	assert.Equal(t, 2, images.submitted())
	assert.Equal(t, "https://cdn.example.com/out/job-1.png", res.ImageURL)
}

func TestGenerateAbortsOnUserModerationAtStatusTime(t *testing.T) {
	images := &fakeImages{statusFailures: []error{moderationUser()}}
	o := New(testConfig(), testCatalog(), Providers{
		Publisher: &fakePublisher{},
		Images:    images,
	}, nil, nil)

	_, err := o.Run(context.Background(), "M11", model.MissionInput{Image: "data:image/png;base64,AAAA"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content moderation")
	// No further templates are tried once the user's photo is at fault.
	assert.Equal(t, 1, images.submitted())
}

func TestCaptionFailureFallsBackToDefault(t *testing.T) {
	o := New(testConfig(), testCatalog(), Providers{
		Publisher: &fakePublisher{},
		Images:    &fakeImages{},
		Text:      &fakeText{err: fmt.Errorf("model overloaded")},
	}, nil, nil)

	res, err := o.Run(context.Background(), "M2", model.MissionInput{
		Image:  "data:image/png;base64,AAAA",
		Gender: model.GenderMale,
	})
	require.NoError(t, err)
	assert.Equal(t, "马年财运旺，财神到你家！", res.Caption)
}

func TestRunPersistsBeforeComplete(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "results.db"), 10, nil)
	require.NoError(t, err)
	defer st.Close()

	o := New(testConfig(), testCatalog(), Providers{
		Publisher: &fakePublisher{},
		Images:    &fakeImages{},
	}, st, nil)

	res, err := o.Run(context.Background(), "M11", model.MissionInput{Image: "data:image/png;base64,AAAA"})
	require.NoError(t, err)

	stored, err := st.Get(res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, res, stored)
}

func TestRunMulti(t *testing.T) {
	pub := &fakePublisher{}
	images := &fakeImages{}
	o := New(testConfig(), testCatalog(), Providers{
		Publisher: pub,
		Images:    images,
		Text:      &fakeText{reply: "花好月圆人团圆"},
	}, nil, nil)

	res, err := o.Run(context.Background(), "M3", model.MissionInput{
		Images: []string{"data:image/png;base64,AA", "data:image/png;base64,BB"},
		Gender: model.GenderFemale,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, pub.calls)
	assert.Equal(t, "花好月圆人团圆", res.Caption)
}

func TestRunMultiRejectsWrongSubjectCount(t *testing.T) {
	o := New(testConfig(), testCatalog(), Providers{}, nil, nil)

	_, err := o.Run(context.Background(), "M3", model.MissionInput{
		Images: []string{"data:image/png;base64,AA"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly 2")
}

func TestRunRestoreKeepsOriginal(t *testing.T) {
	o := New(testConfig(), testCatalog(), Providers{
		Publisher: &fakePublisher{},
		Images:    &fakeImages{},
	}, nil, nil)

	res, err := o.Run(context.Background(), "M6", model.MissionInput{Image: "data:image/png;base64,AAAA"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/in/1.png", res.OriginalURL)
	assert.NotEmpty(t, res.ImageURL)
	// No comparison workflow in the catalog; the run still completes.
	assert.Empty(t, res.ComparisonURL)
}

func TestRunCardIsDeterministicPerTask(t *testing.T) {
	o := New(testConfig(), testCatalog(), Providers{}, nil, nil)

	res, err := o.Run(context.Background(), "M7", model.MissionInput{Gender: model.GenderFemale})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ImageURL)

	_, pools := testCatalog()()
	pool := pools.ForGender(model.GenderFemale)
	want := pool[fallback.StartIndex(res.TaskID, len(pool))].Location
	assert.Equal(t, want, res.ImageURL)
}

func TestRunCardUsesProvidedText(t *testing.T) {
	o := New(testConfig(), testCatalog(), Providers{}, nil, nil)

	res, err := o.Run(context.Background(), "M5", model.MissionInput{
		Gender: model.GenderMale,
		Text:   "恭喜发财，马到成功",
	})
	require.NoError(t, err)
	assert.Equal(t, "恭喜发财，马到成功", res.Caption)
	assert.Equal(t, "https://cdn.example.com/m1.png", res.ImageURL)
}

func TestRunUnknownMission(t *testing.T) {
	o := New(testConfig(), testCatalog(), Providers{}, nil, nil)

	_, err := o.Run(context.Background(), "M99", model.MissionInput{})
	assert.ErrorContains(t, err, "unknown mission")
}
