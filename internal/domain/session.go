// Package domain contains core domain types for the design-session orchestrator.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ProjectType selects the question list for a session.
type ProjectType string

const (
	ProjectResidential ProjectType = "residential"
	ProjectCompound    ProjectType = "compound"
	ProjectCommercial  ProjectType = "commercial"
)

// ProjectTypes lists every accepted project type.
var ProjectTypes = []ProjectType{ProjectResidential, ProjectCompound, ProjectCommercial}

// Valid reports whether p is a known project type.
func (p ProjectType) Valid() bool {
	for _, t := range ProjectTypes {
		if p == t {
			return true
		}
	}
	return false
}

// Status is the outer session state.
type Status string

const (
	StatusCollecting                    Status = "collecting"
	StatusGenerating                    Status = "generating"
	StatusAwaitingBlueprintConfirmation Status = "awaiting_blueprint_confirmation"
	StatusGeneratingIsometric           Status = "generating_isometric"
	StatusComplete                      Status = "complete"
	StatusFailed                        Status = "failed"
	StatusHalted                        Status = "halted"
)

// IsGenerating reports whether a pipeline phase belongs to this status.
func (s Status) IsGenerating() bool {
	return s == StatusGenerating || s == StatusGeneratingIsometric
}

var transitions = map[Status][]Status{
	StatusCollecting:                    {StatusCollecting, StatusGenerating},
	StatusGenerating:                    {StatusAwaitingBlueprintConfirmation, StatusFailed, StatusHalted},
	StatusAwaitingBlueprintConfirmation: {StatusGeneratingIsometric, StatusCollecting},
	StatusGeneratingIsometric:           {StatusComplete, StatusFailed},
	StatusHalted:                        {StatusCollecting},
	StatusFailed:                        {StatusGenerating, StatusGeneratingIsometric},
	StatusComplete:                      {},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// GenerationState is the explicit inner state of the current attempt.
type GenerationState string

const (
	GenerationNotStarted GenerationState = "not_started"
	GenerationPending    GenerationState = "pending"
	GenerationInProgress GenerationState = "in_progress"
	GenerationComplete   GenerationState = "complete"
	GenerationFailed     GenerationState = "failed"
)

// DesignSession is the aggregate root of one design conversation.
type DesignSession struct {
	SessionID            string            `json:"sessionId"`
	ProjectType          ProjectType       `json:"projectType"`
	Status               Status            `json:"status"`
	Inputs               Inputs            `json:"inputs"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	DesignContext        *DesignContext    `json:"designContext,omitempty"`
	BlueprintImage       *ImageRef         `json:"blueprintImage,omitempty"`
	Summary              *Summary          `json:"summary,omitempty"`
	Result               *GenerationResult `json:"result,omitempty"`
	OpenQuestions        []OpenQuestion    `json:"openQuestions,omitempty"`
	Error                string            `json:"error,omitempty"`
	Generation           GenerationState   `json:"generation"`
	Phase                Phase             `json:"phase,omitempty"`
	AttemptID            string            `json:"attemptId,omitempty"`
	AttemptOwner         string            `json:"attemptOwner,omitempty"`
	Attempts             int               `json:"attempts"`
	Version              int64             `json:"version"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// NewDesignSession creates a session in the collecting state.
func NewDesignSession(id string, projectType ProjectType, now time.Time) *DesignSession {
	return &DesignSession{
		SessionID:   id,
		ProjectType: projectType,
		Status:      StatusCollecting,
		Inputs:      Inputs{},
		Generation:  GenerationNotStarted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ErrInconsistentSession reports a session whose fields contradict its status.
var ErrInconsistentSession = errors.New("inconsistent session state")

// Validate checks that status and the optional fields agree.
func (s *DesignSession) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInconsistentSession, s.Status, fmt.Sprintf(format, args...))
	}

	if s.SessionID == "" {
		return fail("missing session id")
	}
	if !s.ProjectType.Valid() {
		return fail("unknown project type %q", s.ProjectType)
	}
	if (s.Status == StatusFailed) != (s.Error != "") {
		return fail("error must be set if and only if the session failed")
	}

	switch s.Status {
	case StatusCollecting:
		if s.Result != nil {
			return fail("collecting session carries a final result")
		}
	case StatusGenerating:
		if s.BlueprintImage != nil || s.Result != nil {
			return fail("blueprint phase already has output")
		}
	case StatusHalted:
		if len(s.OpenQuestions) == 0 {
			return fail("halted session needs open questions")
		}
		if s.DesignContext == nil {
			return fail("halted session needs the design context that produced the conflicts")
		}
	case StatusAwaitingBlueprintConfirmation, StatusGeneratingIsometric:
		if s.BlueprintImage == nil || s.DesignContext == nil {
			return fail("blueprint and design context required")
		}
		if s.Result != nil {
			return fail("final result present before completion")
		}
	case StatusComplete:
		if s.BlueprintImage == nil || s.DesignContext == nil || s.Result == nil {
			return fail("blueprint, design context and result required")
		}
	case StatusFailed:
	default:
		return fail("unknown status")
	}
	if s.Status != StatusHalted && len(s.OpenQuestions) > 0 {
		return fail("open questions outside halted state")
	}
	if s.CurrentQuestionIndex < 0 {
		return fail("negative question cursor")
	}
	return nil
}

// Clone returns a deep copy safe to mutate.
func (s *DesignSession) Clone() *DesignSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Inputs = s.Inputs.Clone()
	out.DesignContext = s.DesignContext.Clone()
	if s.BlueprintImage != nil {
		img := *s.BlueprintImage
		out.BlueprintImage = &img
	}
	if s.Summary != nil {
		sum := *s.Summary
		sum.EcoFeatures = append([]string(nil), s.Summary.EcoFeatures...)
		sum.Notes = append([]string(nil), s.Summary.Notes...)
		out.Summary = &sum
	}
	if s.Result != nil {
		res := *s.Result
		res.DesignContext = s.Result.DesignContext.Clone()
		res.Images = make(map[string]ImageRef, len(s.Result.Images))
		for k, v := range s.Result.Images {
			res.Images[k] = v
		}
		out.Result = &res
	}
	out.OpenQuestions = append([]OpenQuestion(nil), s.OpenQuestions...)
	return &out
}
