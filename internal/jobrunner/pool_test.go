package jobrunner

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/simcore/internal/kernel"
)

// fakeStore is an in-memory TemplateStore with per-call failure injection.
type fakeStore struct {
	mu sync.Mutex

	exchanges map[string]ExchangeTemplate
	stocks    map[string]StockTemplate
	traders   map[string]TraderTemplate

	traderErrs        map[string]error
	stockDelay        time.Duration
	exchangeTransient int // fail the exchange fetch with a transient error this many times
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		exchanges: map[string]ExchangeTemplate{
			"ex-1": {
				ID: "ex-1", Name: "Test Exchange", Description: "fixture",
				StockTemplateIDs:  []string{"st-1", "st-2"},
				TraderTemplateIDs: []string{"tr-1", "tr-2", "tr-3"},
			},
		},
		stocks: map[string]StockTemplate{
			"st-1": {ID: "st-1", Symbol: "AAA", CompanyName: "Alpha", IssuePrice: 10, TotalShares: 1000},
			"st-2": {ID: "st-2", Symbol: "BBB", CompanyName: "Beta", IssuePrice: 20, TotalShares: 2000},
		},
		traders: map[string]TraderTemplate{
			"tr-1": {ID: "tr-1", Name: "One", InitialCapital: 1000, RiskProfile: "Moderate"},
			"tr-2": {ID: "tr-2", Name: "Two", InitialCapital: 2000, RiskProfile: "Aggressive"},
			"tr-3": {ID: "tr-3", Name: "Three", InitialCapital: 3000, RiskProfile: "Conservative"},
		},
		traderErrs: map[string]error{},
	}
}

func (s *fakeStore) FetchExchangeTemplate(id string) (ExchangeTemplate, error) {
	s.mu.Lock()
	if s.exchangeTransient > 0 {
		s.exchangeTransient--
		s.mu.Unlock()
		return ExchangeTemplate{}, &TransientError{Cause: errors.New("store hiccup")}
	}
	t, ok := s.exchanges[id]
	s.mu.Unlock()
	if !ok {
		return ExchangeTemplate{}, fmt.Errorf("%w: exchange template %q", ErrTemplateNotFound, id)
	}
	return t, nil
}

func (s *fakeStore) FetchStockTemplate(id string) (StockTemplate, error) {
	s.mu.Lock()
	delay := s.stockDelay
	t, ok := s.stocks[id]
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok {
		return StockTemplate{}, fmt.Errorf("%w: stock template %q", ErrTemplateNotFound, id)
	}
	return t, nil
}

func (s *fakeStore) FetchTraderTemplate(id string) (TraderTemplate, error) {
	s.mu.Lock()
	err := s.traderErrs[id]
	t, ok := s.traders[id]
	s.mu.Unlock()
	if err != nil {
		return TraderTemplate{}, err
	}
	if !ok {
		return TraderTemplate{}, fmt.Errorf("%w: trader template %q", ErrTemplateNotFound, id)
	}
	return t, nil
}

// fakeBuilder records builder calls without touching real entities.
type fakeBuilder struct {
	mu         sync.Mutex
	built      []ConstructPayload
	committed  []BuildResult
	rolledBack []BuildResult
	buildErr   error
}

func (b *fakeBuilder) Build(p ConstructPayload, progress func(created, total int)) (BuildResult, error) {
	total := 1 + len(p.Stocks) + len(p.Traders)
	for i := 1; i <= total; i++ {
		progress(i, total)
	}
	result := BuildResult{ExchangeID: 1}
	for i := range p.Stocks {
		result.StockIDs = append(result.StockIDs, kernel.ObjectID(2+i))
	}
	for i := range p.Traders {
		result.TraderIDs = append(result.TraderIDs, kernel.ObjectID(2+len(p.Stocks)+i))
	}

	b.mu.Lock()
	b.built = append(b.built, p)
	err := b.buildErr
	b.mu.Unlock()
	return result, err
}

func (b *fakeBuilder) Commit(p ConstructPayload, r BuildResult) {
	b.mu.Lock()
	b.committed = append(b.committed, r)
	b.mu.Unlock()
}

func (b *fakeBuilder) Rollback(r BuildResult) {
	b.mu.Lock()
	b.rolledBack = append(b.rolledBack, r)
	b.mu.Unlock()
}

func (b *fakeBuilder) counts() (built, committed, rolledBack int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.built), len(b.committed), len(b.rolledBack)
}

func newPoolForTest(t *testing.T, store TemplateStore, builder Builder, mutate func(*Config)) *Pool {
	t.Helper()

	k := kernel.New(kernel.Config{FPS: 120, Log: zerolog.Nop()})
	k.Start()
	t.Cleanup(k.Stop)

	cfg := Config{Timeout: 5 * time.Second, ArchiveTTL: time.Minute, Log: zerolog.Nop()}
	if mutate != nil {
		mutate(&cfg)
	}
	p := New(k, store, builder, cfg)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

// waitTerminal polls until the task reaches Complete or Error.
func waitTerminal(t *testing.T, p *Pool, requestID string) InstantiationTask {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := p.Progress(requestID)
		require.NoError(t, err)
		if task.Stage == StageComplete || task.Stage == StageError {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal stage")
	return InstantiationTask{}
}

func TestPool_SuccessfulRunCompletesAt100(t *testing.T) {
	builder := &fakeBuilder{}
	p := newPoolForTest(t, newFakeStore(), builder, nil)

	id, err := p.Submit("ex-1", "user-1")
	require.NoError(t, err)

	// Sample progress while the task runs to confirm monotonicity.
	var percentages []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			task, err := p.Progress(id)
			if err != nil {
				return
			}
			percentages = append(percentages, task.Percentage)
			if task.Stage == StageComplete || task.Stage == StageError {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	task := waitTerminal(t, p, id)
	<-done

	assert.Equal(t, StageComplete, task.Stage)
	assert.Equal(t, 100, task.Percentage)
	assert.Nil(t, task.Error)
	require.NotNil(t, task.CompletedAt)

	for i := 1; i < len(percentages); i++ {
		assert.GreaterOrEqual(t, percentages[i], percentages[i-1], "percentage must never decrease")
	}

	// Commit lands via a kernel dispatch on the tick after completion.
	require.Eventually(t, func() bool {
		built, committed, rolledBack := builder.counts()
		return built == 1 && committed == 1 && rolledBack == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPool_TraderNotFoundFailsWithoutBuilding(t *testing.T) {
	store := newFakeStore()
	store.traderErrs["tr-3"] = fmt.Errorf("%w: trader template %q", ErrTemplateNotFound, "tr-3")
	builder := &fakeBuilder{}
	p := newPoolForTest(t, store, builder, nil)

	id, err := p.Submit("ex-1", "user-1")
	require.NoError(t, err)

	task := waitTerminal(t, p, id)
	assert.Equal(t, StageError, task.Stage)
	assert.Equal(t, CauseNotFound, task.ErrorCause)
	assert.ErrorIs(t, task.Error, ErrTemplateNotFound)

	built, committed, _ := builder.counts()
	assert.Zero(t, built, "no objects may be created when a template fetch fails")
	assert.Zero(t, committed)
}

func TestPool_TransientErrorsAreRetried(t *testing.T) {
	store := newFakeStore()
	store.exchangeTransient = 2
	builder := &fakeBuilder{}
	p := newPoolForTest(t, store, builder, func(cfg *Config) { cfg.RetryAttempts = 3 })

	id, err := p.Submit("ex-1", "user-1")
	require.NoError(t, err)

	task := waitTerminal(t, p, id)
	assert.Equal(t, StageComplete, task.Stage)
}

func TestPool_TransientErrorsExhaustRetries(t *testing.T) {
	store := newFakeStore()
	store.exchangeTransient = 100
	builder := &fakeBuilder{}
	p := newPoolForTest(t, store, builder, func(cfg *Config) { cfg.RetryAttempts = 2 })

	id, err := p.Submit("ex-1", "user-1")
	require.NoError(t, err)

	task := waitTerminal(t, p, id)
	assert.Equal(t, StageError, task.Stage)
	assert.Equal(t, CauseTransient, task.ErrorCause)
}

func TestPool_CancelDuringReadTransitionsToCancelled(t *testing.T) {
	store := newFakeStore()
	store.stockDelay = 100 * time.Millisecond
	builder := &fakeBuilder{}
	p := newPoolForTest(t, store, builder, nil)

	id, err := p.Submit("ex-1", "user-1")
	require.NoError(t, err)

	// Let the task enter ReadingTemplates, then cancel.
	require.Eventually(t, func() bool {
		task, err := p.Progress(id)
		return err == nil && task.Stage == StageReadingTemplates
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, p.Cancel(id))

	task := waitTerminal(t, p, id)
	assert.Equal(t, StageError, task.Stage)
	assert.Equal(t, CauseCancelled, task.ErrorCause)

	_, committed, _ := builder.counts()
	assert.Zero(t, committed)
}

func TestPool_TimeoutTransitionsToTimeout(t *testing.T) {
	store := newFakeStore()
	store.stockDelay = 300 * time.Millisecond
	builder := &fakeBuilder{}
	p := newPoolForTest(t, store, builder, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	id, err := p.Submit("ex-1", "user-1")
	require.NoError(t, err)

	task := waitTerminal(t, p, id)
	assert.Equal(t, StageError, task.Stage)
	assert.Equal(t, CauseTimeout, task.ErrorCause)
}

func TestPool_BuildFailureRollsBack(t *testing.T) {
	builder := &fakeBuilder{buildErr: errors.New("creation exploded")}
	p := newPoolForTest(t, newFakeStore(), builder, nil)

	id, err := p.Submit("ex-1", "user-1")
	require.NoError(t, err)

	task := waitTerminal(t, p, id)
	assert.Equal(t, StageError, task.Stage)
	assert.Equal(t, CauseInternal, task.ErrorCause)

	require.Eventually(t, func() bool {
		builder.mu.Lock()
		defer builder.mu.Unlock()
		return len(builder.rolledBack) == 1 && len(builder.committed) == 0
	}, 2*time.Second, 5*time.Millisecond)

	builder.mu.Lock()
	rolled := builder.rolledBack[0]
	builder.mu.Unlock()
	assert.Equal(t, kernel.ObjectID(1), rolled.ExchangeID)
	assert.Len(t, rolled.StockIDs, 2)
	assert.Len(t, rolled.TraderIDs, 3)
}

func TestPool_MissingInputsFailValidation(t *testing.T) {
	p := newPoolForTest(t, newFakeStore(), &fakeBuilder{}, nil)

	id, err := p.Submit("", "user-1")
	require.NoError(t, err)

	task := waitTerminal(t, p, id)
	assert.Equal(t, StageError, task.Stage)
	assert.Equal(t, CauseInvalidInput, task.ErrorCause)
}

func TestPool_CancelTerminalTaskFails(t *testing.T) {
	p := newPoolForTest(t, newFakeStore(), &fakeBuilder{}, nil)

	id, err := p.Submit("ex-1", "user-1")
	require.NoError(t, err)
	waitTerminal(t, p, id)

	assert.ErrorIs(t, p.Cancel(id), ErrNotCancellable)
}

func TestPool_SweepArchivedRetiresTerminalTasks(t *testing.T) {
	p := newPoolForTest(t, newFakeStore(), &fakeBuilder{}, func(cfg *Config) { cfg.ArchiveTTL = 10 * time.Millisecond })

	id, err := p.Submit("ex-1", "user-1")
	require.NoError(t, err)
	waitTerminal(t, p, id)

	assert.Zero(t, p.SweepArchived(time.Now().Add(-time.Hour)), "young records survive")

	swept := p.SweepArchived(time.Now().Add(time.Hour))
	assert.Equal(t, 1, swept)

	_, err = p.Progress(id)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestPool_UnknownRequestIDs(t *testing.T) {
	p := newPoolForTest(t, newFakeStore(), &fakeBuilder{}, nil)
	_, err := p.Progress("nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.ErrorIs(t, p.Cancel("nope"), ErrUnknownTask)
}

func TestConstructPayload_MsgpackRoundTrip(t *testing.T) {
	in := ConstructPayload{
		RequestID: "req-1",
		UserID:    "user-1",
		Exchange:  ExchangeTemplate{ID: "ex-1", Name: "X", StockTemplateIDs: []string{"a"}, TraderTemplateIDs: []string{"b"}},
		Stocks:    []StockTemplate{{ID: "a", Symbol: "AAA", IssuePrice: 1.5, TotalShares: 10}},
		Traders:   []TraderTemplate{{ID: "b", Name: "T", InitialCapital: 100, RiskProfile: "Moderate"}},
	}

	raw, err := encodePayload(in)
	require.NoError(t, err)
	out, err := decodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
