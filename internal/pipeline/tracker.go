package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/ecoplan/internal/domain"
)

// Stage ids.
const (
	StageExtract   = "extract_requirements"
	StageValidate  = "validate_constraints"
	StageBlueprint = "render_blueprint"
	StageAwait     = "await_confirmation"
	StageIsometric = "render_isometric"
	StageExterior  = "render_exterior"
	StageInterior  = "render_interior"
	StageAssemble  = "assemble_results"
)

// PhaseStages returns the stage list a phase starts with.
func PhaseStages(phase domain.Phase) []domain.Stage {
	var stages []domain.Stage
	switch phase {
	case domain.PhaseBlueprint:
		stages = []domain.Stage{
			{ID: StageExtract, Label: "Extracting requirements"},
			{ID: StageValidate, Label: "Validating design constraints"},
			{ID: StageBlueprint, Label: "Rendering blueprint"},
			{ID: StageAwait, Label: "Awaiting confirmation"},
		}
	case domain.PhaseIsometric:
		stages = []domain.Stage{
			{ID: StageIsometric, Label: "Rendering isometric view"},
			{ID: StageExterior, Label: "Rendering exterior view"},
			{ID: StageInterior, Label: "Rendering interior view"},
			{ID: StageAssemble, Label: "Assembling results"},
		}
	}
	for i := range stages {
		stages[i].Status = domain.StagePending
	}
	return stages
}

// ProgressLog is where snapshots are appended.
type ProgressLog interface {
	AppendProgress(ctx context.Context, p *domain.ProgressSnapshot) error
}

// Notifier is told about every snapshot after it is stored.
type Notifier interface {
	Notify(p *domain.ProgressSnapshot)
}

// Tracker records progress for generation attempts.
type Tracker struct {
	log    ProgressLog
	notify Notifier
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a tracker. notify may be nil.
func NewTracker(log ProgressLog, notify Notifier, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{log: log, notify: notify, logger: logger, now: time.Now}
}

// Progress is the live progress of one attempt. It is safe for concurrent use
// by the renders of a phase.
type Progress struct {
	t    *Tracker
	mu   sync.Mutex
	snap domain.ProgressSnapshot
	done bool
}

// Begin appends the pending snapshot that opens an attempt's phase.
func (t *Tracker) Begin(ctx context.Context, sessionID, attemptID string, phase domain.Phase) (*Progress, error) {
	p := &Progress{t: t, snap: domain.ProgressSnapshot{
		SessionID: sessionID,
		AttemptID: attemptID,
		Phase:     phase,
		Status:    domain.ProgressPending,
		Stages:    PhaseStages(phase),
	}}
	if err := p.save(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Snapshot returns a copy of the latest state.
func (p *Progress) Snapshot() *domain.ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap.Clone()
}

// Advance marks a stage in progress.
func (p *Progress) Advance(ctx context.Context, stageID, agent string, percent int) {
	p.update(ctx, func(s *domain.ProgressSnapshot) {
		s.Status = domain.ProgressInProgress
		setStage(s, stageID, domain.StageInProgress)
		if agent != "" {
			s.Agent = agent
		}
		bump(s, percent)
	})
}

// StageDone marks a stage completed.
func (p *Progress) StageDone(ctx context.Context, stageID string, percent int) {
	p.update(ctx, func(s *domain.ProgressSnapshot) {
		s.Status = domain.ProgressInProgress
		setStage(s, stageID, domain.StageCompleted)
		bump(s, percent)
	})
}

// Complete ends the attempt's phase successfully. For the blueprint phase
// the last stage is left awaiting the client's confirmation.
func (p *Progress) Complete(ctx context.Context, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		p.t.logger.Error("encode progress result", "session_id", p.snap.SessionID, "error", err)
		raw = nil
	}
	p.finish(ctx, func(s *domain.ProgressSnapshot) {
		s.Status = domain.ProgressComplete
		for i := range s.Stages {
			s.Stages[i].Status = domain.StageCompleted
		}
		if s.Phase == domain.PhaseBlueprint {
			setStage(s, StageAwait, domain.StageAwaitingConfirmation)
		} else {
			setStage(s, StageAssemble, domain.StageCompleted)
		}
		s.Percent = 100
		s.Result = raw
	})
}

// Halt ends a blueprint attempt that validation stopped. The validate stage
// is left waiting for new answers and detail is kept as the result.
func (p *Progress) Halt(ctx context.Context, detail any) {
	raw, err := json.Marshal(detail)
	if err != nil {
		p.t.logger.Error("encode progress result", "session_id", p.snap.SessionID, "error", err)
		raw = nil
	}
	p.finish(ctx, func(s *domain.ProgressSnapshot) {
		s.Status = domain.ProgressHalted
		setStage(s, StageValidate, domain.StageNeedsInput)
		s.Result = raw
	})
}

// Fail ends the attempt's phase with err. Stages still running are marked
// failed.
func (p *Progress) Fail(ctx context.Context, err error) {
	p.finish(ctx, func(s *domain.ProgressSnapshot) {
		s.Status = domain.ProgressFailed
		s.Error = err.Error()
		for i := range s.Stages {
			if s.Stages[i].Status == domain.StageInProgress {
				s.Stages[i].Status = domain.StageFailed
			}
		}
	})
}

func (p *Progress) finish(ctx context.Context, fn func(*domain.ProgressSnapshot)) {
	p.update(ctx, func(s *domain.ProgressSnapshot) {
		fn(s)
		p.done = true
	})
}

// update applies fn and appends the result. Updates after the attempt ended
// are dropped. Store failures are logged; progress is advisory and the
// session record carries the outcome.
func (p *Progress) update(ctx context.Context, fn func(*domain.ProgressSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	fn(&p.snap)
	if err := p.saveLocked(ctx); err != nil {
		p.t.logger.Warn("failed to record progress",
			"session_id", p.snap.SessionID, "attempt_id", p.snap.AttemptID, "stage", p.snap.StageID, "error", err)
	}
}

func (p *Progress) save(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveLocked(ctx)
}

func (p *Progress) saveLocked(ctx context.Context) error {
	snap := p.snap.Clone()
	snap.CreatedAt = p.t.now()
	// Recorded even after the attempt's context is cancelled.
	if err := p.t.log.AppendProgress(context.WithoutCancel(ctx), snap); err != nil {
		return err
	}
	p.snap.Seq = snap.Seq
	p.snap.CreatedAt = snap.CreatedAt
	if p.t.notify != nil {
		p.t.notify.Notify(snap.Clone())
	}
	return nil
}

func setStage(s *domain.ProgressSnapshot, stageID string, status domain.StageStatus) {
	for i := range s.Stages {
		if s.Stages[i].ID == stageID {
			s.Stages[i].Status = status
			s.StageID = stageID
			s.Stage = s.Stages[i].Label
			return
		}
	}
}

// bump raises the percentage. It never moves backwards within an attempt.
func bump(s *domain.ProgressSnapshot, percent int) {
	percent = min(max(percent, 0), 100)
	s.Percent = max(s.Percent, percent)
}
