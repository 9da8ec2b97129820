// Package readapi is the surface the simulation core exposes to outer
// HTTP/WebSocket adapters: environment creation and teardown,
// creation-progress queries, entity snapshots, k-line and volume-trend
// queries, and the export snapshot. It registers no routes itself — it is a
// plain Go API for an external transport layer to call.
package readapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/simcore/internal/entities"
	"github.com/aristath/simcore/internal/jobrunner"
	"github.com/aristath/simcore/internal/kernel"
	"github.com/aristath/simcore/internal/simclock"
	"github.com/aristath/simcore/internal/timeseries"
	"github.com/aristath/simcore/pkg/snapshot"
)

var (
	ErrEnvironmentNotFound = errors.New("readapi: environment not found")
	ErrSymbolNotFound      = errors.New("readapi: symbol not found")
	ErrInvalidInput        = errors.New("readapi: invalid input")
)

// Config carries the exchange-construction defaults every environment
// created through this service inherits.
type Config struct {
	InitialMinuteOfDay int
	Acceleration       float64
	TradingWindows     []simclock.Window
	NonTradingWindows  []simclock.Window
	Log                zerolog.Logger
}

// Service composes the kernel and job runner into the read API. It also
// implements jobrunner.Builder: the pool calls Build/Commit/Rollback on the
// kernel thread to materialize the environments this service then serves.
type Service struct {
	k   *kernel.Kernel
	cfg Config
	log zerolog.Logger

	pool     *jobrunner.Pool
	uploader *snapshot.Uploader

	mu      sync.Mutex
	envs    map[kernel.ObjectID]*environment
	pending map[string]*environment // requestID -> built but not yet committed
}

type environment struct {
	id        kernel.ObjectID
	requestID string
	userID    string
	exchange  *entities.ExchangeInstance
	stocks    []stockRef
	traders   []traderRef
}

type stockRef struct {
	id   kernel.ObjectID
	inst *entities.StockInstance
}

type traderRef struct {
	id   kernel.ObjectID
	inst *entities.AITraderInstance
}

// New constructs the service. Wire the pool afterwards with SetPool — the
// pool needs this service as its Builder, so the two are built in sequence.
func New(k *kernel.Kernel, cfg Config) *Service {
	return &Service{
		k:       k,
		cfg:     cfg,
		log:     cfg.Log.With().Str("component", "readapi").Logger(),
		envs:    make(map[kernel.ObjectID]*environment),
		pending: make(map[string]*environment),
	}
}

// SetPool attaches the job runner used by CreateEnvironment and friends.
func (s *Service) SetPool(pool *jobrunner.Pool) { s.pool = pool }

// SetUploader attaches an optional export-snapshot uploader. Without one,
// ExportEnvironment only returns the document.
func (s *Service) SetUploader(u *snapshot.Uploader) { s.uploader = u }

// CreateEnvironment submits an environment-creation request and returns its
// request id for progress polling.
func (s *Service) CreateEnvironment(templateID, userID string) (string, error) {
	return s.pool.Submit(templateID, userID)
}

// GetCreationProgress returns the task's current stage/percentage/message.
func (s *Service) GetCreationProgress(requestID string) (jobrunner.InstantiationTask, error) {
	return s.pool.Progress(requestID)
}

// CancelCreation cooperatively cancels an in-flight creation request.
func (s *Service) CancelCreation(requestID string) error {
	return s.pool.Cancel(requestID)
}

// EnvironmentSummary is the list-level view of one environment.
type EnvironmentSummary struct {
	ID           uint64
	Name         string
	Description  string
	CreatedAt    time.Time
	LastActiveAt time.Time
	VirtualTime  time.Time
	TimeState    string
	StockCount   int
	TraderCount  int
}

// EnvironmentDetails is the drill-down view: the summary plus entity
// snapshots.
type EnvironmentDetails struct {
	Summary EnvironmentSummary
	Stocks  []snapshot.StockSnapshot
	Traders []snapshot.TraderSnapshot
}

// ListEnvironments returns summaries of every live environment owned by
// userID, ordered by environment id.
func (s *Service) ListEnvironments(userID string) []EnvironmentSummary {
	s.mu.Lock()
	owned := make([]*environment, 0, len(s.envs))
	for _, env := range s.envs {
		if env.userID == userID {
			owned = append(owned, env)
		}
	}
	s.mu.Unlock()

	summaries := make([]EnvironmentSummary, 0, len(owned))
	for _, env := range owned {
		summaries = append(summaries, s.summarize(env))
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

func (s *Service) summarize(env *environment) EnvironmentSummary {
	summary := EnvironmentSummary{
		ID:           uint64(env.id),
		Name:         env.exchange.Name(),
		Description:  env.exchange.Description(),
		CreatedAt:    env.exchange.CreatedAt(),
		LastActiveAt: env.exchange.LastActiveAt(),
		StockCount:   len(env.stocks),
		TraderCount:  len(env.traders),
	}
	if clock := env.exchange.Clock(); clock != nil {
		summary.VirtualTime = clock.VirtualTime()
		summary.TimeState = clock.GetTimeState().String()
	}
	return summary
}

// GetEnvironmentDetails returns the overview plus per-entity snapshots.
func (s *Service) GetEnvironmentDetails(environmentID uint64, userID string) (EnvironmentDetails, error) {
	env, err := s.lookup(environmentID, userID)
	if err != nil {
		return EnvironmentDetails{}, err
	}

	details := EnvironmentDetails{
		Summary: s.summarize(env),
		Stocks:  make([]snapshot.StockSnapshot, 0, len(env.stocks)),
		Traders: make([]snapshot.TraderSnapshot, 0, len(env.traders)),
	}
	for _, st := range env.stocks {
		details.Stocks = append(details.Stocks, stockSnapshot(st.inst))
	}
	for _, tr := range env.traders {
		details.Traders = append(details.Traders, traderSnapshot(tr.inst))
	}
	return details, nil
}

// DestroyEnvironment tears the environment down through the kernel; the
// exchange cascades to its stocks and traders.
func (s *Service) DestroyEnvironment(environmentID uint64, userID string) error {
	env, err := s.lookup(environmentID, userID)
	if err != nil {
		return err
	}

	if err := s.k.DestroyObject(env.id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.envs, env.id)
	s.mu.Unlock()

	s.log.Info().Uint64("environmentId", environmentID).Msg("environment destroyed")
	return nil
}

// QueryKLine returns the aggregated price bars for one stock in
// [startTime, endTime) at the requested granularity.
func (s *Service) QueryKLine(environmentID uint64, userID, symbol string, granularity timeseries.Granularity, startTime, endTime time.Time) ([]timeseries.AggregatedBar, error) {
	if !validGranularity(granularity) {
		return nil, fmt.Errorf("%w: granularity %q", ErrInvalidInput, granularity)
	}
	if !startTime.Before(endTime) {
		return nil, fmt.Errorf("%w: startTime must precede endTime", ErrInvalidInput)
	}

	env, err := s.lookup(environmentID, userID)
	if err != nil {
		return nil, err
	}
	stock, err := env.stockBySymbol(symbol)
	if err != nil {
		return nil, err
	}
	engine := env.exchange.Engine()
	if engine == nil {
		return nil, nil
	}
	return engine.QueryAggregatedData(stock.PriceSeriesID(), granularity, startTime, endTime)
}

// VolumeTrendPoint is one interval bucket of the cross-stock volume trend.
type VolumeTrendPoint struct {
	BucketStart      time.Time
	Volume           float64
	CumulativeVolume float64
}

// QueryVolumeTrend sums every stock's volume into intervalMs-wide buckets
// over [startTime, endTime), with a running cumulative total. Derived at
// query time from the per-stock volume series; nothing is precomputed.
func (s *Service) QueryVolumeTrend(environmentID uint64, userID string, startTime, endTime time.Time, intervalMs int64) ([]VolumeTrendPoint, error) {
	if intervalMs <= 0 {
		return nil, fmt.Errorf("%w: intervalMs must be positive", ErrInvalidInput)
	}
	if !startTime.Before(endTime) {
		return nil, fmt.Errorf("%w: startTime must precede endTime", ErrInvalidInput)
	}

	env, err := s.lookup(environmentID, userID)
	if err != nil {
		return nil, err
	}
	engine := env.exchange.Engine()
	if engine == nil {
		return nil, nil
	}

	interval := time.Duration(intervalMs) * time.Millisecond
	bucketCount := int((endTime.Sub(startTime) + interval - 1) / interval)
	points := make([]VolumeTrendPoint, bucketCount)
	for i := range points {
		points[i].BucketStart = startTime.Add(time.Duration(i) * interval)
	}

	for _, st := range env.stocks {
		bars, err := engine.QueryAggregatedData(st.inst.VolumeSeriesID(), timeseries.Granularity1m, startTime, endTime)
		if err != nil {
			return nil, err
		}
		for _, bar := range bars {
			idx := int(bar.StartTime.Sub(startTime) / interval)
			if idx >= 0 && idx < bucketCount {
				points[idx].Volume += bar.Volume
			}
		}
	}

	cumulative := 0.0
	for i := range points {
		cumulative += points[i].Volume
		points[i].CumulativeVolume = cumulative
	}
	return points, nil
}

// ExportEnvironment builds the JSON export snapshot for one environment and,
// if an uploader is configured, pushes it to object storage.
func (s *Service) ExportEnvironment(ctx context.Context, environmentID uint64, userID string) (snapshot.Export, error) {
	env, err := s.lookup(environmentID, userID)
	if err != nil {
		return snapshot.Export{}, err
	}

	status := s.k.GetStatus()
	export := snapshot.Export{
		ExportedAt: time.Now().UTC(),
		Environment: snapshot.EnvironmentSummary{
			ID:           uint64(env.id),
			Name:         env.exchange.Name(),
			Description:  env.exchange.Description(),
			UserID:       env.userID,
			CreatedAt:    env.exchange.CreatedAt(),
			LastActiveAt: env.exchange.LastActiveAt(),
		},
		RuntimeState: snapshot.RuntimeState{
			Traders: make([]snapshot.TraderSnapshot, 0, len(env.traders)),
			Stocks:  make([]snapshot.StockSnapshot, 0, len(env.stocks)),
			PerformanceMetrics: snapshot.PerformanceMetrics{
				KernelRunning: status.Running,
				FPS:           status.FPS,
				TotalTicks:    status.TotalTicks,
				UptimeSeconds: status.Uptime.Seconds(),
			},
			Statistics: snapshot.Statistics{
				StockCount:  len(env.stocks),
				TraderCount: len(env.traders),
			},
		},
	}
	if clock := env.exchange.Clock(); clock != nil {
		export.Environment.VirtualTime = clock.VirtualTime()
		export.Environment.TimeState = clock.GetTimeState().String()
	}
	if status.ProcessStats != nil {
		export.RuntimeState.PerformanceMetrics.CPUPercent = status.ProcessStats.CPUPercent
		export.RuntimeState.PerformanceMetrics.RSSBytes = status.ProcessStats.RSSBytes
	}
	for _, tr := range env.traders {
		export.RuntimeState.Traders = append(export.RuntimeState.Traders, traderSnapshot(tr.inst))
	}
	for _, st := range env.stocks {
		export.RuntimeState.Stocks = append(export.RuntimeState.Stocks, stockSnapshot(st.inst))
	}

	if s.uploader != nil {
		key := fmt.Sprintf("exports/env-%d-%d.json", environmentID, export.ExportedAt.UnixMilli())
		if err := s.uploader.Upload(ctx, key, export); err != nil {
			return snapshot.Export{}, err
		}
	}
	return export, nil
}

func (s *Service) lookup(environmentID uint64, userID string) (*environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envs[kernel.ObjectID(environmentID)]
	if !ok || env.userID != userID {
		// Ownership mismatches read as not-found so ids don't leak across
		// users.
		return nil, ErrEnvironmentNotFound
	}
	return env, nil
}

func (e *environment) stockBySymbol(symbol string) (*entities.StockInstance, error) {
	for _, st := range e.stocks {
		if st.inst.Symbol() == symbol {
			return st.inst, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrSymbolNotFound, symbol)
}

func stockSnapshot(st *entities.StockInstance) snapshot.StockSnapshot {
	return snapshot.StockSnapshot{
		Symbol:                   st.Symbol(),
		CompanyName:              st.CompanyName(),
		Category:                 st.Category(),
		IssuePrice:               st.IssuePrice(),
		TotalShares:              st.TotalShares(),
		Price:                    st.Price(),
		LastEmittedVirtualMillis: st.LastEmittedVirtualMillis(),
	}
}

func traderSnapshot(tr *entities.AITraderInstance) snapshot.TraderSnapshot {
	return snapshot.TraderSnapshot{
		Name:           tr.Name(),
		InitialCapital: tr.InitialCapital(),
		CurrentCapital: tr.CurrentCapital(),
		RiskProfile:    tr.RiskProfile().String(),
	}
}

func validGranularity(g timeseries.Granularity) bool {
	switch g {
	case timeseries.Granularity1m, timeseries.Granularity5m, timeseries.Granularity15m,
		timeseries.Granularity30m, timeseries.Granularity60m,
		timeseries.Granularity1d, timeseries.Granularity1w, timeseries.Granularity1M:
		return true
	default:
		return false
	}
}
