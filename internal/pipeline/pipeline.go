package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ashureev/ecoplan/internal/agent"
	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/imagestore"
	"github.com/ashureev/ecoplan/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Job identifies one generation attempt.
type Job struct {
	SessionID   string
	AttemptID   string
	ProjectType domain.ProjectType
	Inputs      domain.Inputs
	// Design and Blueprint are set for the isometric phase.
	Design    *domain.DesignContext
	Blueprint *domain.ImageRef
}

// Sink receives the outcome of a phase. Implementations apply the session
// state change and return an error when the attempt is no longer current.
type Sink interface {
	// Started is called before any work. An error skips the attempt.
	Started(ctx context.Context, job Job) error
	Halted(ctx context.Context, job Job, design *domain.DesignContext) error
	BlueprintReady(ctx context.Context, job Job, design *domain.DesignContext, image domain.ImageRef, summary domain.Summary) error
	Completed(ctx context.Context, job Job, result *domain.GenerationResult) error
	Failed(ctx context.Context, job Job, phase domain.Phase, message string) error
}

// ErrInternal is the failure recorded when a phase panics.
var ErrInternal = errors.New("internal error during generation")

// ErrInterrupted is the failure recorded for attempts cut short by shutdown.
var ErrInterrupted = errors.New("generation interrupted by server restart")

// Pipeline runs the blueprint and isometric phases.
type Pipeline struct {
	renderer agent.Renderer
	images   imagestore.Store
	tracker  *Tracker
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a pipeline.
func New(renderer agent.Renderer, images imagestore.Store, tracker *Tracker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		renderer: renderer,
		images:   images,
		tracker:  tracker,
		logger:   logger,
		tracer:   otel.Tracer("ecoplan/pipeline"),
	}
}

var viewStages = map[agent.View]string{
	agent.ViewIsometric: StageIsometric,
	agent.ViewExterior:  StageExterior,
	agent.ViewInterior:  StageInterior,
}

// RunBlueprint derives the design, validates it and renders the floor plan.
func (p *Pipeline) RunBlueprint(ctx context.Context, job Job, sink Sink) {
	ctx, span := p.startSpan(ctx, job, domain.PhaseBlueprint)
	defer span.End()
	start := time.Now()
	logger := p.logger.With("session_id", job.SessionID, "attempt_id", job.AttemptID, "phase", domain.PhaseBlueprint)

	if err := sink.Started(ctx, job); err != nil {
		logger.Info("attempt skipped", "reason", err)
		return
	}
	prog, err := p.tracker.Begin(ctx, job.SessionID, job.AttemptID, domain.PhaseBlueprint)
	if err != nil {
		p.fail(ctx, logger, span, job, domain.PhaseBlueprint, nil, fmt.Errorf("record progress: %w", err), sink, start)
		return
	}
	defer p.recoverPanic(ctx, logger, span, job, domain.PhaseBlueprint, prog, sink, start)

	prog.Advance(ctx, StageExtract, "", 10)
	design, err := Derive(job.ProjectType, job.Inputs)
	if err != nil {
		p.fail(ctx, logger, span, job, domain.PhaseBlueprint, prog, err, sink, start)
		return
	}
	prog.StageDone(ctx, StageExtract, 25)

	prog.Advance(ctx, StageValidate, "", 30)
	if major := design.MajorConflicts(); len(major) > 0 {
		logger.Info("design halted on conflicts", "conflicts", len(major))
		if err := sink.Halted(ctx, job, design); err != nil {
			logger.Warn("halt outcome discarded", "error", err)
			return
		}
		prog.Halt(ctx, map[string]any{"conflicts": major})
		p.observe(domain.PhaseBlueprint, "halted", start)
		return
	}
	prog.StageDone(ctx, StageValidate, 35)

	prog.Advance(ctx, StageBlueprint, p.renderer.Name(), 50)
	res, err := p.renderer.Render(ctx, agent.RenderRequest{
		SessionID: job.SessionID,
		AttemptID: job.AttemptID,
		View:      agent.ViewBlueprint,
		Style:     design.Features.Style,
		Design:    design,
	})
	if err != nil {
		p.fail(ctx, logger, span, job, domain.PhaseBlueprint, prog, err, sink, start)
		return
	}
	img, err := p.images.Put(ctx, job.SessionID, string(agent.ViewBlueprint), res.Data, res.MIMEType)
	if err != nil {
		p.fail(ctx, logger, span, job, domain.PhaseBlueprint, prog, fmt.Errorf("store blueprint: %w", err), sink, start)
		return
	}
	img.Agent = p.renderer.Name()
	prog.StageDone(ctx, StageBlueprint, 90)

	summary := Summarize(design)
	design.Images = map[string]domain.ImageRef{string(agent.ViewBlueprint): img}
	if err := sink.BlueprintReady(ctx, job, design, img, summary); err != nil {
		logger.Warn("blueprint outcome discarded", "error", err)
		return
	}
	prog.Complete(ctx, map[string]any{"blueprintImage": img, "summary": summary})
	p.observe(domain.PhaseBlueprint, "ready", start)
	logger.Info("blueprint ready", "agent", img.Agent, "duration", time.Since(start))
}

// RunIsometric renders the three 3D views of a confirmed blueprint in
// parallel. The first failure cancels the other renders.
func (p *Pipeline) RunIsometric(ctx context.Context, job Job, sink Sink) {
	ctx, span := p.startSpan(ctx, job, domain.PhaseIsometric)
	defer span.End()
	start := time.Now()
	logger := p.logger.With("session_id", job.SessionID, "attempt_id", job.AttemptID, "phase", domain.PhaseIsometric)

	if err := sink.Started(ctx, job); err != nil {
		logger.Info("attempt skipped", "reason", err)
		return
	}
	prog, err := p.tracker.Begin(ctx, job.SessionID, job.AttemptID, domain.PhaseIsometric)
	if err != nil {
		p.fail(ctx, logger, span, job, domain.PhaseIsometric, nil, fmt.Errorf("record progress: %w", err), sink, start)
		return
	}
	defer p.recoverPanic(ctx, logger, span, job, domain.PhaseIsometric, prog, sink, start)
	if job.Design == nil || job.Blueprint == nil {
		p.fail(ctx, logger, span, job, domain.PhaseIsometric, prog, errors.New("confirmed blueprint is missing"), sink, start)
		return
	}

	data, mimeType, err := imagestore.Load(ctx, p.images, *job.Blueprint)
	if err != nil {
		p.fail(ctx, logger, span, job, domain.PhaseIsometric, prog, fmt.Errorf("load blueprint: %w", err), sink, start)
		return
	}
	reference := &agent.Image{Data: data, MIMEType: mimeType}
	design := job.Design.Clone()

	var (
		mu    sync.Mutex
		done  int
		views = make(map[string]domain.ImageRef, len(agent.IsometricViews)+1)
	)
	views[string(agent.ViewBlueprint)] = *job.Blueprint

	g, gctx := errgroup.WithContext(ctx)
	for _, view := range agent.IsometricViews {
		stage := viewStages[view]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("view render panicked", "view", view, "panic", r, "stack", string(debug.Stack()))
					err = fmt.Errorf("%w (%s view)", ErrInternal, view)
				}
			}()
			prog.Advance(gctx, stage, p.renderer.Name(), 10)
			res, err := p.renderer.Render(gctx, agent.RenderRequest{
				SessionID: job.SessionID,
				AttemptID: job.AttemptID,
				View:      view,
				Style:     design.Features.Style,
				Design:    design,
				Reference: reference,
			})
			if err != nil {
				return err
			}
			img, err := p.images.Put(gctx, job.SessionID, string(view), res.Data, res.MIMEType)
			if err != nil {
				return fmt.Errorf("store %s view: %w", view, err)
			}
			img.Agent = p.renderer.Name()

			mu.Lock()
			views[string(view)] = img
			done++
			percent := 10 + 25*done
			mu.Unlock()
			prog.StageDone(gctx, stage, percent)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.fail(ctx, logger, span, job, domain.PhaseIsometric, prog, err, sink, start)
		return
	}

	prog.Advance(ctx, StageAssemble, "", 90)
	design.Images = views
	summary := Summarize(design)
	result := &domain.GenerationResult{
		Images:        views,
		DesignContext: design,
		Summary:       summary,
		SummaryText:   summary.Text,
	}
	if err := sink.Completed(ctx, job, result); err != nil {
		logger.Warn("isometric outcome discarded", "error", err)
		return
	}
	prog.Complete(ctx, result)
	p.observe(domain.PhaseIsometric, "complete", start)
	logger.Info("design complete", "duration", time.Since(start))
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, span trace.Span, job Job, phase domain.Phase, prog *Progress, err error, sink Sink, start time.Time) {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = ErrInterrupted
	}
	logger.Error("generation failed", "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if sinkErr := sink.Failed(context.WithoutCancel(ctx), job, phase, err.Error()); sinkErr != nil {
		logger.Warn("failure outcome discarded", "error", sinkErr)
		return
	}
	if prog != nil {
		prog.Fail(ctx, err)
	}
	p.observe(phase, "failed", start)
}

// recoverPanic turns a panic in a phase into a failed outcome, so the session
// does not stay generating with nothing running.
func (p *Pipeline) recoverPanic(ctx context.Context, logger *slog.Logger, span trace.Span, job Job, phase domain.Phase, prog *Progress, sink Sink, start time.Time) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error("generation panicked", "panic", r, "stack", string(debug.Stack()))
	p.fail(ctx, logger, span, job, phase, prog, ErrInternal, sink, start)
}

func (p *Pipeline) observe(phase domain.Phase, status string, start time.Time) {
	metrics.GenerationTotal.WithLabelValues(string(phase), status).Inc()
	metrics.GenerationDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
}

func (p *Pipeline) startSpan(ctx context.Context, job Job, phase domain.Phase) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "pipeline."+string(phase), trace.WithAttributes(
		attribute.String("session_id", job.SessionID),
		attribute.String("attempt_id", job.AttemptID),
		attribute.String("project_type", string(job.ProjectType)),
	))
}
