package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/pipeline"
	"github.com/ashureev/ecoplan/internal/questionflow"
)

// errStaleAttempt rejects pipeline outcomes for an attempt the session has
// moved past.
var errStaleAttempt = errors.New("attempt is no longer current")

// beginAttempt moves s into the generating status for phase with a fresh
// attempt. The caller saves s.
func (o *Orchestrator) beginAttempt(s *domain.DesignSession, phase domain.Phase) {
	if phase == domain.PhaseBlueprint {
		s.Status = domain.StatusGenerating
		s.DesignContext = nil
		s.BlueprintImage = nil
		s.Summary = nil
	} else {
		s.Status = domain.StatusGeneratingIsometric
	}
	s.Result = nil
	s.Error = ""
	s.OpenQuestions = nil
	s.Phase = phase
	s.AttemptID = o.newID()
	s.AttemptOwner = ""
	s.Attempts++
	s.Generation = domain.GenerationNotStarted
}

// enqueue submits the current attempt of s and marks it pending. When the
// queue refuses it the attempt stays not_started and the next status poll
// tries again. The caller holds the session lock and saves s.
func (o *Orchestrator) enqueue(s *domain.DesignSession) {
	if !s.Status.IsGenerating() || s.Generation != domain.GenerationNotStarted {
		return
	}

	job := pipeline.Job{
		SessionID:   s.SessionID,
		AttemptID:   s.AttemptID,
		ProjectType: s.ProjectType,
		Inputs:      s.Inputs.Clone(),
	}
	phase := s.Phase
	if phase == domain.PhaseIsometric {
		job.Design = s.DesignContext.Clone()
		if s.BlueprintImage != nil {
			img := *s.BlueprintImage
			job.Blueprint = &img
		}
	}

	sink := &sessionSink{o: o}
	err := o.pool.Submit(func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				o.crashed(ctx, job, phase, r)
			}
		}()
		if phase == domain.PhaseIsometric {
			o.runner.RunIsometric(ctx, job, sink)
			return
		}
		o.runner.RunBlueprint(ctx, job, sink)
	})
	if err != nil {
		o.logger.Warn("Generation not queued, will retry on next poll",
			"session_id", s.SessionID, "attempt_id", s.AttemptID, "error", err)
		return
	}
	s.Generation = domain.GenerationPending
	s.AttemptOwner = o.instanceID
	o.logger.Info("Generation queued", "session_id", s.SessionID, "attempt_id", s.AttemptID, "phase", phase)
}

// crashed fails an attempt whose task panicked outside the pipeline's own
// recovery, so the client can restart it.
func (o *Orchestrator) crashed(ctx context.Context, job pipeline.Job, phase domain.Phase, r any) {
	o.logger.Error("Generation task panicked",
		"session_id", job.SessionID, "attempt_id", job.AttemptID, "phase", phase, "panic", r, "stack", string(debug.Stack()))

	ctx = context.WithoutCancel(ctx)
	sink := &sessionSink{o: o}
	if err := sink.Failed(ctx, job, phase, pipeline.ErrInternal.Error()); err != nil {
		o.logger.Warn("Crash outcome discarded", "session_id", job.SessionID, "error", err)
		return
	}
	if err := o.closeProgress(ctx, job.SessionID, job.AttemptID, pipeline.ErrInternal.Error()); err != nil {
		o.logger.Warn("Could not close crashed progress", "session_id", job.SessionID, "error", err)
	}
}

// Restart starts a new attempt for a failed session. A session whose
// blueprint was confirmed resumes at the isometric phase.
func (o *Orchestrator) Restart(ctx context.Context, sessionID string) (*StatusView, error) {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	s, err := o.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != domain.StatusFailed {
		return nil, notAllowed(s, "restart generation")
	}

	from := s.Status
	phase := domain.PhaseBlueprint
	if s.Phase == domain.PhaseIsometric && s.BlueprintImage != nil && s.DesignContext != nil {
		phase = domain.PhaseIsometric
	}
	o.beginAttempt(s, phase)
	o.enqueue(s)
	if err := o.save(ctx, from, s); err != nil {
		return nil, err
	}
	o.logger.Info("Generation restarted", "session_id", s.SessionID, "attempt_id", s.AttemptID, "phase", phase)

	v, err := o.view(ctx, s)
	if err != nil {
		return nil, err
	}
	v.Message = "Generation restarted."
	return v, nil
}

// sessionSink applies pipeline outcomes to the session record.
type sessionSink struct {
	o *Orchestrator
}

// apply loads the session under its lock and runs fn when job is still the
// session's current attempt in the given status.
func (k *sessionSink) apply(ctx context.Context, job pipeline.Job, want domain.Status, fn func(s *domain.DesignSession) error) error {
	unlock := k.o.locks.Lock(job.SessionID)
	defer unlock()

	s, err := k.o.repo.Get(ctx, job.SessionID)
	if err != nil {
		return err
	}
	if s.AttemptID != job.AttemptID || s.Status != want {
		return fmt.Errorf("%w: session %s is %s on attempt %s", errStaleAttempt, s.SessionID, s.Status, s.AttemptID)
	}
	from := s.Status
	if err := fn(s); err != nil {
		return err
	}
	return k.o.save(ctx, from, s)
}

func phaseStatus(job pipeline.Job) domain.Status {
	if job.Design != nil {
		return domain.StatusGeneratingIsometric
	}
	return domain.StatusGenerating
}

func (k *sessionSink) Started(ctx context.Context, job pipeline.Job) error {
	return k.apply(ctx, job, phaseStatus(job), func(s *domain.DesignSession) error {
		s.Generation = domain.GenerationInProgress
		return nil
	})
}

func (k *sessionSink) Halted(ctx context.Context, job pipeline.Job, design *domain.DesignContext) error {
	return k.apply(ctx, job, domain.StatusGenerating, func(s *domain.DesignSession) error {
		questions, err := k.o.questions(s)
		if err != nil {
			return err
		}
		open, first := openQuestions(questions, s.Inputs, design)
		s.Status = domain.StatusHalted
		s.DesignContext = design
		s.OpenQuestions = open
		_, s.CurrentQuestionIndex = questionflow.NextQuestion(questions, first, s.Inputs)
		s.Generation = domain.GenerationFailed
		return nil
	})
}

func (k *sessionSink) BlueprintReady(ctx context.Context, job pipeline.Job, design *domain.DesignContext, image domain.ImageRef, summary domain.Summary) error {
	return k.apply(ctx, job, domain.StatusGenerating, func(s *domain.DesignSession) error {
		s.Status = domain.StatusAwaitingBlueprintConfirmation
		s.DesignContext = design
		s.BlueprintImage = &image
		s.Summary = &summary
		s.Generation = domain.GenerationComplete
		return nil
	})
}

func (k *sessionSink) Completed(ctx context.Context, job pipeline.Job, result *domain.GenerationResult) error {
	return k.apply(ctx, job, domain.StatusGeneratingIsometric, func(s *domain.DesignSession) error {
		s.Status = domain.StatusComplete
		s.Result = result
		s.DesignContext = result.DesignContext
		summary := result.Summary
		s.Summary = &summary
		s.Generation = domain.GenerationComplete
		return nil
	})
}

func (k *sessionSink) Failed(ctx context.Context, job pipeline.Job, phase domain.Phase, message string) error {
	want := domain.StatusGenerating
	if phase == domain.PhaseIsometric {
		want = domain.StatusGeneratingIsometric
	}
	return k.apply(ctx, job, want, func(s *domain.DesignSession) error {
		s.Status = domain.StatusFailed
		s.Error = message
		s.Phase = phase
		s.Generation = domain.GenerationFailed
		return nil
	})
}

// openQuestions turns the major conflicts of design into questions to
// revisit, and returns the index of the earliest one.
func openQuestions(questions []domain.Question, inputs domain.Inputs, design *domain.DesignContext) ([]domain.OpenQuestion, int) {
	var (
		open   []domain.OpenQuestion
		seen   = make(map[string]bool)
		cursor = len(questions)
	)
	for _, c := range design.MajorConflicts() {
		for _, id := range c.QuestionIDs {
			idx := questionflow.IndexOf(questions, id)
			if idx < 0 || seen[id] || !questions[idx].Applies(inputs) {
				continue
			}
			seen[id] = true
			open = append(open, domain.OpenQuestion{QuestionID: id, Prompt: questions[idx].Prompt, Reason: c.Message})
			cursor = min(cursor, idx)
		}
	}
	if len(open) == 0 {
		idx := questionflow.RevisitIndex(questions)
		reason := "The design needs changes before it can be drawn."
		if major := design.MajorConflicts(); len(major) > 0 {
			reason = major[0].Message
		}
		open = append(open, domain.OpenQuestion{QuestionID: questions[idx].ID, Prompt: questions[idx].Prompt, Reason: reason})
		cursor = idx
	}
	return open, cursor
}
