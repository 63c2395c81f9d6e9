package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ashureev/ecoplan/internal/agent"
	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/imagestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// Started by a dependency's init through the agent package.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type stubRenderer struct {
	mu    sync.Mutex
	views []agent.View
	refs  int
	fail  map[agent.View]error
}

func (s *stubRenderer) Name() string { return "stub" }

func (s *stubRenderer) Render(ctx context.Context, req agent.RenderRequest) (*agent.RenderResult, error) {
	s.mu.Lock()
	s.views = append(s.views, req.View)
	if req.Reference != nil {
		s.refs++
	}
	err := s.fail[req.View]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if req.View == agent.ViewInterior && s.fail[agent.ViewExterior] != nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &agent.RenderResult{Image: agent.Image{Data: []byte(req.View), MIMEType: "image/png"}}, nil
}

type recordingSink struct {
	mu        sync.Mutex
	halted    *domain.DesignContext
	ready     *domain.ImageRef
	summary   domain.Summary
	completed *domain.GenerationResult
	failed    string
	phase     domain.Phase
	started   int
	skip      error
	reject    error
}

func (r *recordingSink) Started(context.Context, Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	return r.skip
}

func (r *recordingSink) Halted(_ context.Context, _ Job, d *domain.DesignContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halted = d
	return r.reject
}

func (r *recordingSink) BlueprintReady(_ context.Context, _ Job, _ *domain.DesignContext, img domain.ImageRef, s domain.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = &img
	r.summary = s
	return r.reject
}

func (r *recordingSink) Completed(_ context.Context, _ Job, res *domain.GenerationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = res
	return r.reject
}

func (r *recordingSink) Failed(_ context.Context, _ Job, phase domain.Phase, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = msg
	r.phase = phase
	return r.reject
}

func newTestPipeline(r agent.Renderer) (*Pipeline, *memLog) {
	log := &memLog{}
	return New(r, imagestore.Inline{}, NewTracker(log, nil, nil), nil), log
}

func blueprintJob() Job {
	return Job{SessionID: "s1", AttemptID: "a1", ProjectType: domain.ProjectResidential, Inputs: kumarInputs()}
}

func TestRunBlueprintReady(t *testing.T) {
	r := &stubRenderer{}
	p, log := newTestPipeline(r)
	sink := &recordingSink{}

	p.RunBlueprint(context.Background(), blueprintJob(), sink)

	require.NotNil(t, sink.ready)
	assert.Equal(t, "stub", sink.ready.Agent)
	assert.Equal(t, "data:image/png;base64,Ymx1ZXByaW50", sink.ready.URL)
	assert.Equal(t, "40' x 60'", sink.summary.PlotSize)
	assert.Equal(t, []agent.View{agent.ViewBlueprint}, r.views)

	last := log.last()
	assert.Equal(t, domain.ProgressComplete, last.Status)
	assert.Equal(t, StageAwait, last.StageID)
	assert.Equal(t, domain.StageAwaitingConfirmation, stageStatus(last, StageAwait))
}

func TestRunBlueprintHalts(t *testing.T) {
	r := &stubRenderer{}
	p, log := newTestPipeline(r)
	sink := &recordingSink{}

	job := blueprintJob()
	job.Inputs["plotDimensions"] = domain.Fields(map[string]string{"width": "20", "depth": "25"})
	p.RunBlueprint(context.Background(), job, sink)

	require.NotNil(t, sink.halted)
	assert.NotEmpty(t, sink.halted.MajorConflicts())
	assert.Empty(t, r.views, "no render after a halt")
	assert.Nil(t, sink.ready)

	last := log.last()
	assert.Equal(t, domain.ProgressHalted, last.Status)
	assert.True(t, last.Terminal())
	assert.Empty(t, last.Error, "a halt is not an error")
	assert.Equal(t, domain.StageNeedsInput, stageStatus(last, StageValidate))
	assert.Contains(t, string(last.Result), "conflicts")
}

// panickingRenderer panics while rendering the given views.
type panickingRenderer struct {
	stubRenderer
	panicOn map[agent.View]bool
}

func (p *panickingRenderer) Render(ctx context.Context, req agent.RenderRequest) (*agent.RenderResult, error) {
	if p.panicOn[req.View] {
		var m map[string]int
		m["boom"]++
	}
	return p.stubRenderer.Render(ctx, req)
}

func TestRunBlueprintRendererPanicFails(t *testing.T) {
	r := &panickingRenderer{panicOn: map[agent.View]bool{agent.ViewBlueprint: true}}
	p, log := newTestPipeline(r)
	sink := &recordingSink{}

	require.NotPanics(t, func() { p.RunBlueprint(context.Background(), blueprintJob(), sink) })

	assert.Nil(t, sink.ready)
	assert.Equal(t, ErrInternal.Error(), sink.failed)
	assert.Equal(t, domain.PhaseBlueprint, sink.phase)
	assert.Equal(t, domain.ProgressFailed, log.last().Status)
	assert.Equal(t, domain.StageFailed, stageStatus(log.last(), StageBlueprint))
}

func TestRunIsometricViewPanicFails(t *testing.T) {
	r := &panickingRenderer{panicOn: map[agent.View]bool{agent.ViewInterior: true}}
	p, log := newTestPipeline(r)
	sink := &recordingSink{}

	require.NotPanics(t, func() { p.RunIsometric(context.Background(), isometricJob(t), sink) })

	assert.Nil(t, sink.completed)
	assert.Contains(t, sink.failed, ErrInternal.Error())
	assert.Contains(t, sink.failed, "interior")
	assert.Equal(t, domain.PhaseIsometric, sink.phase)
	assert.Equal(t, domain.ProgressFailed, log.last().Status)
}

func TestRunBlueprintRenderFailure(t *testing.T) {
	r := &stubRenderer{fail: map[agent.View]error{agent.ViewBlueprint: errors.New("model overloaded")}}
	p, log := newTestPipeline(r)
	sink := &recordingSink{}

	p.RunBlueprint(context.Background(), blueprintJob(), sink)

	assert.Equal(t, "model overloaded", sink.failed)
	assert.Equal(t, domain.PhaseBlueprint, sink.phase)
	assert.Equal(t, domain.ProgressFailed, log.last().Status)
	assert.Equal(t, domain.StageFailed, stageStatus(log.last(), StageBlueprint))
}

func TestRunBlueprintStaleAttempt(t *testing.T) {
	p, log := newTestPipeline(&stubRenderer{})
	sink := &recordingSink{reject: errors.New("stale attempt")}

	p.RunBlueprint(context.Background(), blueprintJob(), sink)

	require.NotNil(t, sink.ready)
	assert.NotEqual(t, domain.ProgressComplete, log.last().Status)
}

func TestRunBlueprintSkipsSupersededAttempt(t *testing.T) {
	r := &stubRenderer{}
	p, log := newTestPipeline(r)
	sink := &recordingSink{skip: errors.New("attempt superseded")}

	p.RunBlueprint(context.Background(), blueprintJob(), sink)

	assert.Equal(t, 1, sink.started)
	assert.Empty(t, r.views)
	assert.Nil(t, log.last())
}

func isometricJob(t *testing.T) Job {
	t.Helper()
	design, err := Derive(domain.ProjectResidential, kumarInputs())
	require.NoError(t, err)
	bp, err := imagestore.Inline{}.Put(context.Background(), "s1", "blueprint", []byte("bp"), "image/png")
	require.NoError(t, err)
	job := blueprintJob()
	job.AttemptID = "a2"
	job.Design = design
	job.Blueprint = &bp
	return job
}

func TestRunIsometricComplete(t *testing.T) {
	r := &stubRenderer{}
	p, log := newTestPipeline(r)
	sink := &recordingSink{}

	p.RunIsometric(context.Background(), isometricJob(t), sink)

	require.NotNil(t, sink.completed)
	assert.Len(t, sink.completed.Images, 4)
	assert.Contains(t, sink.completed.Images, "exterior")
	assert.Equal(t, sink.completed.Summary.Text, sink.completed.SummaryText)
	assert.ElementsMatch(t, agent.IsometricViews, r.views)
	assert.Equal(t, 3, r.refs, "every view gets the blueprint")

	last := log.last()
	assert.Equal(t, domain.ProgressComplete, last.Status)
	assert.Equal(t, 100, last.Percent)
	for _, s := range last.Stages {
		assert.Equal(t, domain.StageCompleted, s.Status, s.ID)
	}
}

func TestRunIsometricViewFailure(t *testing.T) {
	r := &stubRenderer{fail: map[agent.View]error{
		agent.ViewExterior: errors.New("exterior agent did not respond within 2m0s: agent call timed out"),
	}}
	p, log := newTestPipeline(r)
	sink := &recordingSink{}

	p.RunIsometric(context.Background(), isometricJob(t), sink)

	assert.Nil(t, sink.completed)
	assert.Equal(t, "exterior agent did not respond within 2m0s: agent call timed out", sink.failed)
	assert.Equal(t, domain.PhaseIsometric, sink.phase)
	assert.Equal(t, domain.ProgressFailed, log.last().Status)
}

func TestRunIsometricWithoutBlueprint(t *testing.T) {
	p, _ := newTestPipeline(&stubRenderer{})
	sink := &recordingSink{}

	p.RunIsometric(context.Background(), blueprintJob(), sink)
	assert.Equal(t, "confirmed blueprint is missing", sink.failed)
}

func TestRunBlueprintInterrupted(t *testing.T) {
	r := &stubRenderer{fail: map[agent.View]error{agent.ViewBlueprint: context.Canceled}}
	p, _ := newTestPipeline(r)
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.RunBlueprint(ctx, blueprintJob(), sink)
	assert.Equal(t, ErrInterrupted.Error(), sink.failed)
}
