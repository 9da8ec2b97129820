package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/simcore/internal/kernel"
)

// Config sizes the worker pool.
type Config struct {
	PoolSize      int           // worker contexts, default 4
	MaxConcurrent int           // overall concurrency cap, default 2
	Timeout       time.Duration // per-task deadline, default 30s
	RetryAttempts int           // retries for transient store errors, default 3
	ArchiveTTL    time.Duration // terminal-task retention before sweep, default 5m
	Log           zerolog.Logger
}

// Pool executes environment-creation requests as staged, cancellable,
// progress-reporting tasks. Workers perform template I/O concurrently; all
// kernel-side mutation is posted through Kernel.Dispatch and runs on the
// kernel thread.
type Pool struct {
	cfg     Config
	k       *kernel.Kernel
	store   TemplateStore
	builder Builder
	log     zerolog.Logger

	queue chan *task
	sem   chan struct{}

	mu    sync.Mutex
	tasks map[string]*task

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// task wraps an InstantiationTask record with the synchronization the pool
// needs around it. Progress writers and snapshot readers share t.mu, which
// also serializes emission order per request id.
type task struct {
	mu        sync.Mutex
	record    InstantiationTask
	cancel    context.CancelFunc
	cancelled bool
}

func (t *task) snapshot() InstantiationTask {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.record
	if rec.Details != nil {
		details := make(map[string]interface{}, len(rec.Details))
		for k, v := range rec.Details {
			details[k] = v
		}
		rec.Details = details
	}
	return rec
}

// setStage moves the task to a new non-terminal stage.
func (t *task) setStage(stage Stage, percentage int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record.Stage = stage
	t.setProgressLocked(percentage, message)
}

// setProgress updates percentage/message, clamping so percentage never
// decreases within a non-error run.
func (t *task) setProgress(percentage int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setProgressLocked(percentage, message)
}

func (t *task) setProgressLocked(percentage int, message string) {
	if percentage > 100 {
		percentage = 100
	}
	if percentage > t.record.Percentage {
		t.record.Percentage = percentage
	}
	t.record.Message = message
}

// New constructs a Pool, applying the documented defaults for any zero
// field. Call Start before submitting.
func New(k *kernel.Kernel, store TemplateStore, builder Builder, cfg Config) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	} else if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.ArchiveTTL <= 0 {
		cfg.ArchiveTTL = 5 * time.Minute
	}

	return &Pool{
		cfg:     cfg,
		k:       k,
		store:   store,
		builder: builder,
		log:     cfg.Log.With().Str("component", "jobrunner").Logger(),
		queue:   make(chan *task, 64),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		tasks:   make(map[string]*task),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker contexts.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.PoolSize; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Info().Int("poolSize", p.cfg.PoolSize).Int("maxConcurrent", p.cfg.MaxConcurrent).Msg("job runner started")
}

// Stop drains no further work and waits for in-flight tasks to finish their
// current run (each is bounded by its own deadline).
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.log.Info().Msg("job runner stopped")
}

// Submit enqueues one environment-creation request and returns its request
// id. Validation of templateID/userID happens inside the task's
// Initializing stage, not here, so a bad request still gets a queryable
// terminal record.
func (p *Pool) Submit(templateID, userID string) (string, error) {
	select {
	case <-p.stopCh:
		return "", ErrPoolStopped
	default:
	}

	t := &task{record: InstantiationTask{
		RequestID:  uuid.New().String(),
		TemplateID: templateID,
		UserID:     userID,
		Stage:      StageInitializing,
		Message:    "queued",
		Details:    map[string]interface{}{"templateId": templateID},
		StartedAt:  time.Now(),
	}}

	p.mu.Lock()
	p.tasks[t.record.RequestID] = t
	p.mu.Unlock()

	select {
	case p.queue <- t:
	case <-p.stopCh:
		return "", ErrPoolStopped
	}

	return t.record.RequestID, nil
}

// Progress returns a snapshot of the task's current stage, percentage, and
// message. Valid until the archive sweep retires the terminal record.
func (p *Pool) Progress(requestID string) (InstantiationTask, error) {
	p.mu.Lock()
	t, ok := p.tasks[requestID]
	p.mu.Unlock()
	if !ok {
		return InstantiationTask{}, ErrUnknownTask
	}
	return t.snapshot(), nil
}

// Cancel requests cooperative cancellation of a task. Terminal tasks cannot
// be cancelled. The task transitions to Error with cause Cancelled, and any
// objects already created roll back.
func (p *Pool) Cancel(requestID string) error {
	p.mu.Lock()
	t, ok := p.tasks[requestID]
	p.mu.Unlock()
	if !ok {
		return ErrUnknownTask
	}

	t.mu.Lock()
	if t.record.Stage == StageComplete || t.record.Stage == StageError {
		t.mu.Unlock()
		return ErrNotCancellable
	}
	t.cancelled = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// SweepArchived removes terminal tasks whose completion is older than the
// archive TTL. Returns the number of records swept.
func (p *Pool) SweepArchived(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	swept := 0
	for id, t := range p.tasks {
		t.mu.Lock()
		done := t.record.CompletedAt
		t.mu.Unlock()
		if done != nil && now.Sub(*done) >= p.cfg.ArchiveTTL {
			delete(p.tasks, id)
			swept++
		}
	}
	return swept
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case t := <-p.queue:
			p.sem <- struct{}{}
			p.run(t)
			<-p.sem
		}
	}
}

// constructOutcome carries the kernel thread's reply to a construct message.
type constructOutcome struct {
	payload ConstructPayload
	result  BuildResult
	built   bool
	err     error
}

// run executes one task through its staged lifecycle.
func (p *Pool) run(t *task) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()

	t.mu.Lock()
	t.cancel = cancel
	alreadyCancelled := t.cancelled
	requestID := t.record.RequestID
	templateID := t.record.TemplateID
	userID := t.record.UserID
	t.mu.Unlock()

	log := p.log.With().Str("requestId", requestID).Logger()

	if alreadyCancelled {
		p.fail(t, CauseCancelled, ErrCancelled)
		return
	}

	t.setStage(StageInitializing, 0, "validating request")
	if templateID == "" || userID == "" {
		p.fail(t, CauseInvalidInput, errors.New("jobrunner: templateId and userId are required"))
		return
	}

	payload, err := p.readTemplates(ctx, t, requestID, templateID, userID)
	if err != nil {
		p.fail(t, causeFor(err), err)
		return
	}

	raw, err := encodePayload(payload)
	if err != nil {
		p.fail(t, CauseInternal, fmt.Errorf("jobrunner: encode construct payload: %w", err))
		return
	}

	t.setStage(StageCreatingObjects, 70, "creating objects")
	if !p.k.GetStatus().Running {
		p.k.Start()
	}

	resCh := make(chan constructOutcome, 1)
	p.k.Dispatch(func() {
		decoded, err := decodePayload(raw)
		if err != nil {
			resCh <- constructOutcome{err: fmt.Errorf("jobrunner: decode construct payload: %w", err)}
			return
		}
		if ctx.Err() != nil {
			resCh <- constructOutcome{err: ctx.Err()}
			return
		}
		result, err := p.builder.Build(decoded, func(created, total int) {
			if total > 0 {
				t.setProgress(70+created*29/total, fmt.Sprintf("created %d/%d objects", created, total))
			}
		})
		resCh <- constructOutcome{payload: decoded, result: result, built: true, err: err}
	})

	select {
	case out := <-resCh:
		switch {
		case out.err != nil:
			if out.built {
				p.rollback(out.result)
			}
			p.fail(t, causeFor(out.err), out.err)
		case ctx.Err() != nil:
			// Cancelled or timed out while the construct ran; undo it.
			p.rollback(out.result)
			p.fail(t, causeFor(ctx.Err()), ctx.Err())
		default:
			p.k.Dispatch(func() { p.builder.Commit(out.payload, out.result) })
			p.complete(t)
			log.Info().Str("templateId", templateID).Msg("environment created")
		}
	case <-ctx.Done():
		// The construct message is still queued or running on the kernel
		// thread. Wait for its reply off to the side and roll back whatever
		// it built; the task itself terminates now.
		go func() {
			if out := <-resCh; out.built {
				p.rollback(out.result)
			}
		}()
		p.fail(t, causeFor(ctx.Err()), ctx.Err())
	}
}

// readTemplates runs the ReadingTemplates stage: exchange template first,
// then its stock and trader templates, with cancellation checks between
// fetches and progress proportional to items fetched (≤70%).
func (p *Pool) readTemplates(ctx context.Context, t *task, requestID, templateID, userID string) (ConstructPayload, error) {
	t.setStage(StageReadingTemplates, 5, "fetching exchange template")

	ex, err := fetchWithRetry(ctx, p.cfg.RetryAttempts, func() (ExchangeTemplate, error) {
		return p.store.FetchExchangeTemplate(templateID)
	})
	if err != nil {
		return ConstructPayload{}, err
	}

	total := 1 + len(ex.StockTemplateIDs) + len(ex.TraderTemplateIDs)
	fetched := 1
	t.setProgress(5+fetched*65/total, "fetched exchange template")

	stocks := make([]StockTemplate, 0, len(ex.StockTemplateIDs))
	for _, id := range ex.StockTemplateIDs {
		if err := ctx.Err(); err != nil {
			return ConstructPayload{}, err
		}
		st, err := fetchWithRetry(ctx, p.cfg.RetryAttempts, func() (StockTemplate, error) {
			return p.store.FetchStockTemplate(id)
		})
		if err != nil {
			return ConstructPayload{}, err
		}
		stocks = append(stocks, st)
		fetched++
		t.setProgress(5+fetched*65/total, "fetched stock template "+id)
	}

	traders := make([]TraderTemplate, 0, len(ex.TraderTemplateIDs))
	for _, id := range ex.TraderTemplateIDs {
		if err := ctx.Err(); err != nil {
			return ConstructPayload{}, err
		}
		tr, err := fetchWithRetry(ctx, p.cfg.RetryAttempts, func() (TraderTemplate, error) {
			return p.store.FetchTraderTemplate(id)
		})
		if err != nil {
			return ConstructPayload{}, err
		}
		traders = append(traders, tr)
		fetched++
		t.setProgress(5+fetched*65/total, "fetched trader template "+id)
	}

	return ConstructPayload{
		RequestID: requestID,
		UserID:    userID,
		Exchange:  ex,
		Stocks:    stocks,
		Traders:   traders,
	}, nil
}

// fetchWithRetry retries fn for transient store errors only; every other
// failure (including not-found) surfaces immediately.
func fetchWithRetry[T any](ctx context.Context, attempts int, fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		var transient *TransientError
		if !errors.As(err, &transient) || attempt >= attempts {
			return zero, err
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
}

func (p *Pool) rollback(result BuildResult) {
	p.k.Dispatch(func() { p.builder.Rollback(result) })
}

func (p *Pool) fail(t *task, cause Cause, err error) {
	now := time.Now()
	t.mu.Lock()
	t.record.Stage = StageError
	t.record.Message = string(cause) + ": " + err.Error()
	t.record.Error = err
	t.record.ErrorCause = cause
	t.record.CompletedAt = &now
	t.mu.Unlock()

	p.log.Warn().Err(err).Str("requestId", t.record.RequestID).Str("cause", string(cause)).Msg("instantiation task failed")
}

func (p *Pool) complete(t *task) {
	now := time.Now()
	t.mu.Lock()
	t.record.Stage = StageComplete
	t.record.Percentage = 100
	t.record.Message = "environment ready"
	t.record.CompletedAt = &now
	t.mu.Unlock()
}

// causeFor maps an error to its terminal task cause.
func causeFor(err error) Cause {
	var transient *TransientError
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled):
		return CauseCancelled
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout):
		return CauseTimeout
	case errors.Is(err, ErrTemplateNotFound):
		return CauseNotFound
	case errors.As(err, &transient):
		return CauseTransient
	default:
		return CauseInternal
	}
}
