// Package orchestrator drives design sessions through the question flow and
// the two generation phases.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/metrics"
	"github.com/ashureev/ecoplan/internal/pipeline"
	"github.com/ashureev/ecoplan/internal/questionflow"
	"github.com/ashureev/ecoplan/internal/store"
	"github.com/ashureev/ecoplan/internal/survey"
	"github.com/ashureev/ecoplan/internal/worker"
	"github.com/google/uuid"
)

// ErrInvalidTransition is returned for an action the session's status does
// not allow.
var ErrInvalidTransition = errors.New("invalid session transition")

// Runner runs pipeline phases.
type Runner interface {
	RunBlueprint(ctx context.Context, job pipeline.Job, sink pipeline.Sink)
	RunIsometric(ctx context.Context, job pipeline.Job, sink pipeline.Sink)
}

// Submitter queues background work without blocking.
type Submitter interface {
	Submit(t worker.Task) error
}

// Options configures an Orchestrator. Repo, Catalog, Runner and Pool are
// required.
type Options struct {
	Repo      store.Repository
	Catalog   *questionflow.Catalog
	Extractor survey.Extractor
	Runner    Runner
	Pool      Submitter
	Hub       *Hub
	Logger    *slog.Logger

	// ExtractTimeout bounds one survey extraction. Zero means 60s.
	ExtractTimeout time.Duration

	// InstanceID names this process among replicas sharing a store. It must
	// survive restarts for RecoverInterrupted to find the attempts it left.
	InstanceID string
	// StaleAfter is how long another instance's attempt may go without
	// progress before it is failed. Zero means 15m.
	StaleAfter time.Duration
}

// Orchestrator is the façade the API layer talks to.
type Orchestrator struct {
	repo           store.Repository
	catalog        *questionflow.Catalog
	extractor      survey.Extractor
	runner         Runner
	pool           Submitter
	hub            *Hub
	locks          *sessionLocks
	logger         *slog.Logger
	extractTimeout time.Duration
	instanceID     string
	staleAfter     time.Duration

	now   func() time.Time
	newID func() string
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Repo == nil:
		return nil, errors.New("orchestrator: repository is required")
	case opts.Catalog == nil:
		return nil, errors.New("orchestrator: question catalog is required")
	case opts.Runner == nil:
		return nil, errors.New("orchestrator: pipeline runner is required")
	case opts.Pool == nil:
		return nil, errors.New("orchestrator: worker pool is required")
	}
	if opts.Extractor == nil {
		opts.Extractor = survey.Unavailable{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger)
	}
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = 60 * time.Second
	}
	if opts.InstanceID == "" {
		opts.InstanceID = "local"
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	return &Orchestrator{
		repo:           opts.Repo,
		catalog:        opts.Catalog,
		extractor:      opts.Extractor,
		runner:         opts.Runner,
		pool:           opts.Pool,
		hub:            opts.Hub,
		locks:          newSessionLocks(),
		logger:         opts.Logger,
		extractTimeout: opts.ExtractTimeout,
		instanceID:     opts.InstanceID,
		staleAfter:     opts.StaleAfter,
		now:            time.Now,
		newID:          uuid.NewString,
	}, nil
}

// Hub returns the hub sessions are published on.
func (o *Orchestrator) Hub() *Hub { return o.hub }

// Persistent reports whether sessions survive a restart.
func (o *Orchestrator) Persistent() bool { return o.repo.Persistent() }

// StartResult is returned by Start.
type StartResult struct {
	SessionID     string           `json:"sessionId"`
	FirstQuestion *domain.Question `json:"firstQuestion"`
}

// Start creates a session for projectType.
func (o *Orchestrator) Start(ctx context.Context, projectType domain.ProjectType) (*StartResult, error) {
	if !projectType.Valid() {
		return nil, &questionflow.ValidationError{Fields: map[string]string{
			"projectType": fmt.Sprintf("must be one of %v", domain.ProjectTypes),
		}}
	}
	questions, err := o.catalog.For(projectType)
	if err != nil {
		return nil, err
	}

	s := domain.NewDesignSession(o.newID(), projectType, o.now())
	first, cursor := questionflow.NextQuestion(questions, 0, s.Inputs)
	s.CurrentQuestionIndex = cursor
	if err := o.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsStarted.WithLabelValues(string(projectType)).Inc()
	o.logger.Info("Design session started", "session_id", s.SessionID, "project_type", projectType)
	return &StartResult{SessionID: s.SessionID, FirstQuestion: first}, nil
}

func (o *Orchestrator) questions(s *domain.DesignSession) ([]domain.Question, error) {
	return o.catalog.For(s.ProjectType)
}

// save validates and writes s. from is the status s was loaded with.
func (o *Orchestrator) save(ctx context.Context, from domain.Status, s *domain.DesignSession) error {
	if from != s.Status && !domain.CanTransition(from, s.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, s.Status)
	}
	s.UpdatedAt = o.now()
	if err := s.Validate(); err != nil {
		return err
	}
	if err := o.repo.Put(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if from != s.Status {
		o.transitioned(s, from, s.Status)
	}
	o.hub.Publish(s.SessionID)
	return nil
}

func (o *Orchestrator) transitioned(s *domain.DesignSession, from, to domain.Status) {
	metrics.SessionTransitions.WithLabelValues(string(from), string(to)).Inc()
	o.logger.Info("Session transitioned", "session_id", s.SessionID, "from", from, "to", to)
}

func notAllowed(s *domain.DesignSession, action string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, action, s.Status)
}
