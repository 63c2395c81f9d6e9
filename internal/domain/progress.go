package domain

import (
	"encoding/json"
	"time"
)

// Phase is one of the two sequential halves of generation.
type Phase string

const (
	PhaseBlueprint Phase = "blueprint"
	PhaseIsometric Phase = "isometric"
)

// ProgressStatus is the inner status of a progress snapshot.
type ProgressStatus string

const (
	ProgressPending    ProgressStatus = "pending"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressComplete   ProgressStatus = "complete"
	ProgressFailed     ProgressStatus = "failed"
	// ProgressHalted closes a blueprint attempt stopped by design conflicts.
	// The session waits for new answers; nothing went wrong.
	ProgressHalted ProgressStatus = "halted"
)

// StageStatus is the display status of a stage.
type StageStatus string

const (
	StagePending              StageStatus = "pending"
	StageInProgress           StageStatus = "in_progress"
	StageCompleted            StageStatus = "completed"
	StageFailed               StageStatus = "failed"
	StageAwaitingConfirmation StageStatus = "awaiting_confirmation"
	StageNeedsInput           StageStatus = "needs_input"
)

// Stage is a user-visible step of a phase.
type Stage struct {
	ID     string      `json:"id"`
	Label  string      `json:"label"`
	Status StageStatus `json:"status"`
}

// ProgressSnapshot is one entry of a session's progress log. The latest entry
// for a session is the current progress.
type ProgressSnapshot struct {
	SessionID string          `json:"sessionId"`
	AttemptID string          `json:"attemptId"`
	Seq       int64           `json:"seq"`
	Phase     Phase           `json:"phase"`
	Status    ProgressStatus  `json:"status"`
	Stage     string          `json:"stage"`
	StageID   string          `json:"stageId"`
	Agent     string          `json:"agent,omitempty"`
	Percent   int             `json:"percent"`
	Stages    []Stage         `json:"stages"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Terminal reports whether the snapshot ends its attempt.
func (p *ProgressSnapshot) Terminal() bool {
	return p.Status == ProgressComplete || p.Status == ProgressFailed || p.Status == ProgressHalted
}

// Clone returns a deep copy.
func (p *ProgressSnapshot) Clone() *ProgressSnapshot {
	if p == nil {
		return nil
	}
	out := *p
	out.Stages = append([]Stage(nil), p.Stages...)
	if p.Result != nil {
		out.Result = append(json.RawMessage(nil), p.Result...)
	}
	return &out
}
