package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLog struct {
	mu    sync.Mutex
	snaps []*domain.ProgressSnapshot
	err   error
}

func (l *memLog) AppendProgress(_ context.Context, p *domain.ProgressSnapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	p.Seq = int64(len(l.snaps) + 1)
	l.snaps = append(l.snaps, p.Clone())
	return nil
}

func (l *memLog) all() []*domain.ProgressSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*domain.ProgressSnapshot(nil), l.snaps...)
}

func (l *memLog) last() *domain.ProgressSnapshot {
	all := l.all()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify(*domain.ProgressSnapshot) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func stageStatus(p *domain.ProgressSnapshot, id string) domain.StageStatus {
	for _, s := range p.Stages {
		if s.ID == id {
			return s.Status
		}
	}
	return ""
}

func TestTrackerBlueprintLifecycle(t *testing.T) {
	log := &memLog{}
	notify := &countingNotifier{}
	tr := NewTracker(log, notify, nil)
	ctx := context.Background()

	prog, err := tr.Begin(ctx, "s1", "a1", domain.PhaseBlueprint)
	require.NoError(t, err)
	first := log.last()
	assert.Equal(t, domain.ProgressPending, first.Status)
	assert.Len(t, first.Stages, 4)

	prog.Advance(ctx, StageExtract, "", 10)
	prog.StageDone(ctx, StageExtract, 25)
	prog.Advance(ctx, StageValidate, "", 5) // never moves backwards
	assert.Equal(t, 25, log.last().Percent)
	assert.Equal(t, domain.StageCompleted, stageStatus(log.last(), StageExtract))
	assert.Equal(t, domain.StageInProgress, stageStatus(log.last(), StageValidate))
	assert.Equal(t, "Validating design constraints", log.last().Stage)

	prog.Complete(ctx, map[string]string{"ok": "yes"})
	last := log.last()
	assert.Equal(t, domain.ProgressComplete, last.Status)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, domain.StageAwaitingConfirmation, stageStatus(last, StageAwait))
	assert.Equal(t, domain.StageCompleted, stageStatus(last, StageBlueprint))
	assert.JSONEq(t, `{"ok":"yes"}`, string(last.Result))

	// Updates after the end are dropped.
	prog.Advance(ctx, StageExtract, "", 50)
	assert.Len(t, log.all(), 5)
	assert.Equal(t, 5, notify.n)

	prev := 0
	for i, s := range log.all() {
		assert.EqualValues(t, i+1, s.Seq)
		assert.GreaterOrEqual(t, s.Percent, prev)
		prev = s.Percent
	}
}

func TestTrackerFail(t *testing.T) {
	log := &memLog{}
	prog, err := NewTracker(log, nil, nil).Begin(context.Background(), "s1", "a1", domain.PhaseIsometric)
	require.NoError(t, err)

	prog.Advance(context.Background(), StageIsometric, "placeholder", 10)
	prog.Advance(context.Background(), StageExterior, "placeholder", 10)
	prog.StageDone(context.Background(), StageIsometric, 35)
	prog.Fail(context.Background(), errors.New("exterior agent did not respond"))

	last := log.last()
	assert.Equal(t, domain.ProgressFailed, last.Status)
	assert.Equal(t, "exterior agent did not respond", last.Error)
	assert.Equal(t, domain.StageCompleted, stageStatus(last, StageIsometric))
	assert.Equal(t, domain.StageFailed, stageStatus(last, StageExterior))
	assert.Equal(t, domain.StagePending, stageStatus(last, StageInterior))
	assert.Equal(t, "placeholder", last.Agent)
}

func TestTrackerHalt(t *testing.T) {
	log := &memLog{}
	ctx := context.Background()
	prog, err := NewTracker(log, nil, nil).Begin(ctx, "s1", "a1", domain.PhaseBlueprint)
	require.NoError(t, err)

	prog.StageDone(ctx, StageExtract, 25)
	prog.Advance(ctx, StageValidate, "", 30)
	prog.Halt(ctx, map[string]any{"conflicts": []string{"too big"}})
	prog.Advance(ctx, StageBlueprint, "stub", 50)

	last := log.last()
	assert.Equal(t, domain.ProgressHalted, last.Status)
	assert.Empty(t, last.Error)
	assert.Equal(t, domain.StageNeedsInput, stageStatus(last, StageValidate))
	assert.Equal(t, domain.StagePending, stageStatus(last, StageBlueprint))
	assert.Equal(t, 30, last.Percent)
	assert.JSONEq(t, `{"conflicts":["too big"]}`, string(last.Result))
}

func TestTrackerBeginStoreError(t *testing.T) {
	log := &memLog{err: errors.New("disk full")}
	_, err := NewTracker(log, nil, nil).Begin(context.Background(), "s1", "a1", domain.PhaseBlueprint)
	assert.Error(t, err)
}
