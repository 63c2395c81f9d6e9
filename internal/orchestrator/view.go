package orchestrator

import (
	"context"
	"fmt"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/pipeline"
	"github.com/ashureev/ecoplan/internal/questionflow"
)

// ConfirmationQuestionID is the question id used to answer the blueprint
// confirmation gate.
const ConfirmationQuestionID = "blueprintConfirmation"

// Confirmation answers.
const (
	ConfirmBlueprint = "confirm"
	RejectBlueprint  = "reject"
)

// ConfirmationOptions are offered while a blueprint awaits confirmation.
var ConfirmationOptions = []domain.Option{
	{Label: "Looks good, create the 3D views", Value: ConfirmBlueprint},
	{Label: "Make changes", Value: RejectBlueprint},
}

// ProgressView is the progress of the current attempt.
type ProgressView struct {
	Status  domain.ProgressStatus `json:"status"`
	Phase   domain.Phase          `json:"phase"`
	Stage   string                `json:"stage"`
	Agent   string                `json:"agent,omitempty"`
	Percent int                   `json:"percent"`
	Stages  []domain.Stage        `json:"stages"`
}

// StatusView is what a client sees of a session. Which members are set
// depends on Status.
type StatusView struct {
	SessionID   string                 `json:"sessionId"`
	Status      domain.Status          `json:"status"`
	ProjectType domain.ProjectType     `json:"projectType"`
	Generation  domain.GenerationState `json:"generation"`
	Message     string                 `json:"message,omitempty"`

	// collecting
	Inputs               domain.Inputs    `json:"inputs,omitempty"`
	CurrentQuestionIndex *int             `json:"currentQuestionIndex,omitempty"`
	NextQuestion         *domain.Question `json:"nextQuestion,omitempty"`

	// generating, generating_isometric, failed
	Progress *ProgressView `json:"progress,omitempty"`

	// awaiting_blueprint_confirmation, complete
	BlueprintImage      *domain.ImageRef `json:"blueprintImage,omitempty"`
	Summary             *domain.Summary  `json:"summary,omitempty"`
	ConfirmationOptions []domain.Option  `json:"confirmationOptions,omitempty"`

	// complete
	Result *domain.GenerationResult `json:"result,omitempty"`

	// halted
	OpenQuestions []domain.OpenQuestion `json:"openQuestions,omitempty"`
	Conflicts     []domain.Conflict     `json:"conflicts,omitempty"`

	// failed
	Error     string       `json:"error,omitempty"`
	Phase     domain.Phase `json:"phase,omitempty"`
	LastStage string       `json:"lastStage,omitempty"`
}

// Terminal reports whether the view ends a watch.
func (v *StatusView) Terminal() bool {
	return v.Status == domain.StatusComplete || v.Status == domain.StatusFailed
}

// Status reports the session's state. A session that entered a generating
// status but whose attempt was never queued is queued here, exactly once.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (*StatusView, error) {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	s, err := o.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status.IsGenerating() && s.Generation == domain.GenerationNotStarted {
		o.enqueue(s)
		if s.Generation != domain.GenerationNotStarted {
			if err := o.save(ctx, s.Status, s); err != nil {
				return nil, err
			}
		}
	}
	return o.view(ctx, s)
}

// view builds the status shape of s. It reads the progress log only for
// statuses that show progress.
func (o *Orchestrator) view(ctx context.Context, s *domain.DesignSession) (*StatusView, error) {
	v := &StatusView{
		SessionID:   s.SessionID,
		Status:      s.Status,
		ProjectType: s.ProjectType,
		Generation:  s.Generation,
	}

	switch s.Status {
	case domain.StatusCollecting:
		questions, err := o.questions(s)
		if err != nil {
			return nil, err
		}
		next, cursor := questionflow.NextQuestion(questions, questionflow.Pending(s.CurrentQuestionIndex), s.Inputs)
		v.Inputs = s.Inputs
		v.CurrentQuestionIndex = &cursor
		v.NextQuestion = next

	case domain.StatusGenerating, domain.StatusGeneratingIsometric:
		p, err := o.progress(ctx, s)
		if err != nil {
			return nil, err
		}
		v.Progress = p
		v.Inputs = s.Inputs
		if s.Status == domain.StatusGenerating {
			v.Message = "Generating your blueprint."
		} else {
			v.BlueprintImage = s.BlueprintImage
			v.Message = "Rendering the 3D views of your design."
		}

	case domain.StatusAwaitingBlueprintConfirmation:
		v.BlueprintImage = s.BlueprintImage
		v.Summary = s.Summary
		v.ConfirmationOptions = ConfirmationOptions
		v.Message = "Your blueprint is ready. Confirm it to create the 3D views, or make changes."

	case domain.StatusComplete:
		v.BlueprintImage = s.BlueprintImage
		v.Summary = s.Summary
		v.Result = s.Result

	case domain.StatusHalted:
		v.OpenQuestions = s.OpenQuestions
		if s.DesignContext != nil {
			v.Conflicts = s.DesignContext.Conflicts
		}
		v.Message = "Some answers don't fit together. Please revisit them."
		p, err := o.progress(ctx, s)
		if err != nil {
			return nil, err
		}
		v.Progress = p

	case domain.StatusFailed:
		v.Error = s.Error
		v.Phase = s.Phase
		v.BlueprintImage = s.BlueprintImage
		p, err := o.progress(ctx, s)
		if err != nil {
			return nil, err
		}
		v.Progress = p
		v.LastStage = p.Stage
	}
	return v, nil
}

// progress returns the current attempt's progress. Snapshots of an earlier
// attempt are ignored; an attempt with none yet reads as pending.
func (o *Orchestrator) progress(ctx context.Context, s *domain.DesignSession) (*ProgressView, error) {
	snap, err := o.repo.LatestProgress(ctx, s.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if snap == nil || snap.AttemptID != s.AttemptID {
		phase := s.Phase
		if phase == "" {
			phase = domain.PhaseBlueprint
		}
		stages := pipeline.PhaseStages(phase)
		return &ProgressView{
			Status: domain.ProgressPending,
			Phase:  phase,
			Stage:  stages[0].Label,
			Stages: stages,
		}, nil
	}
	v := &ProgressView{
		Status:  snap.Status,
		Phase:   snap.Phase,
		Stage:   snap.Stage,
		Agent:   snap.Agent,
		Percent: snap.Percent,
		Stages:  snap.Stages,
	}
	if v.Stage == "" && len(v.Stages) > 0 {
		v.Stage = v.Stages[0].Label
	}
	return v, nil
}
