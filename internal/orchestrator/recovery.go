package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/pipeline"
)

// RecoverInterrupted fails the attempts a previous process of this instance
// left queued or running. Their pipelines died with that process; the client
// can restart them. Attempts owned by other instances are only failed once
// they have been silent for the stale window, since their owner may still be
// running them. Attempts that were never queued are left for the next status
// poll.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	return o.recoverAttempts(ctx, true)
}

// recoverStale fails attempts whose owner stopped reporting progress. It runs
// periodically, so attempts of this instance are skipped: they are live.
func (o *Orchestrator) recoverStale(ctx context.Context) (int, error) {
	return o.recoverAttempts(ctx, false)
}

func (o *Orchestrator) recoverAttempts(ctx context.Context, own bool) (int, error) {
	sessions, err := o.repo.ListByStatus(ctx, domain.StatusGenerating, domain.StatusGeneratingIsometric)
	if err != nil {
		return 0, fmt.Errorf("list generating sessions: %w", err)
	}

	recovered := 0
	for _, candidate := range sessions {
		ok, err := o.recoverOne(ctx, candidate.SessionID, own)
		if err != nil {
			o.logger.Error("Failed to recover interrupted session", "session_id", candidate.SessionID, "error", err)
			continue
		}
		if ok {
			recovered++
		}
	}
	if recovered > 0 {
		o.logger.Info("Recovered interrupted generations", "count", recovered, "instance_id", o.instanceID)
	}
	return recovered, nil
}

func (o *Orchestrator) recoverOne(ctx context.Context, sessionID string, own bool) (bool, error) {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	s, err := o.repo.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !s.Status.IsGenerating() ||
		(s.Generation != domain.GenerationPending && s.Generation != domain.GenerationInProgress) {
		return false, nil
	}

	latest, err := o.repo.LatestProgress(ctx, s.SessionID)
	if err != nil {
		return false, err
	}
	mine := s.AttemptOwner == "" || s.AttemptOwner == o.instanceID
	switch {
	case mine && !own:
		return false, nil
	case !mine && !o.silentSince(s, latest, o.now().Add(-o.staleAfter)):
		return false, nil
	}

	message := pipeline.ErrInterrupted.Error()
	if err := o.closeProgress(ctx, s.SessionID, s.AttemptID, message); err != nil {
		o.logger.Warn("Could not close interrupted progress", "session_id", sessionID, "error", err)
	}

	from := s.Status
	if s.Status == domain.StatusGeneratingIsometric {
		s.Phase = domain.PhaseIsometric
	} else {
		s.Phase = domain.PhaseBlueprint
	}
	s.Status = domain.StatusFailed
	s.Error = message
	s.Generation = domain.GenerationFailed
	if err := o.save(ctx, from, s); err != nil {
		return false, err
	}
	o.logger.Warn("Generation interrupted", "session_id", sessionID, "attempt_id", s.AttemptID, "owner", s.AttemptOwner)
	return true, nil
}

// silentSince reports whether neither the session nor its attempt's progress
// changed after cutoff.
func (o *Orchestrator) silentSince(s *domain.DesignSession, latest *domain.ProgressSnapshot, cutoff time.Time) bool {
	last := s.UpdatedAt
	if latest != nil && latest.AttemptID == s.AttemptID && latest.CreatedAt.After(last) {
		last = latest.CreatedAt
	}
	return last.Before(cutoff)
}

// closeProgress appends a failed snapshot for the attempt when its progress
// is still open.
func (o *Orchestrator) closeProgress(ctx context.Context, sessionID, attemptID, message string) error {
	latest, err := o.repo.LatestProgress(ctx, sessionID)
	if err != nil {
		return err
	}
	if latest == nil || latest.AttemptID != attemptID || latest.Terminal() {
		return nil
	}
	snap := latest.Clone()
	snap.Status = domain.ProgressFailed
	snap.Error = message
	snap.CreatedAt = o.now()
	for i := range snap.Stages {
		if snap.Stages[i].Status == domain.StageInProgress {
			snap.Stages[i].Status = domain.StageFailed
		}
	}
	if err := o.repo.AppendProgress(ctx, snap); err != nil {
		return err
	}
	o.hub.Publish(sessionID)
	return nil
}
