package entities

import (
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/simcore/internal/kernel"
	"github.com/aristath/simcore/internal/timeseries"
)

const (
	smaPeriod         = 14
	advisoryEveryTick = 30 // roughly once a second at 30Hz
)

// AITraderInstance is an advisory-only trading agent: it observes one
// stock's closing-price series and logs an SMA-crossover recommendation.
// It has no contractual effect on any other object's state.
type AITraderInstance struct {
	id         kernel.ObjectID
	k          *kernel.Kernel
	exchange   *ExchangeInstance
	exchangeID kernel.ObjectID
	log        zerolog.Logger

	name           string
	initialCapital float64
	currentCapital float64
	riskProfile    RiskProfile
	watchedSeries  string

	ticksSinceAdvisory int
}

// NewTraderFactory returns a kernel.Factory that builds an
// AITraderInstance owned by exchange.
func NewTraderFactory(k *kernel.Kernel, exchange *ExchangeInstance, log zerolog.Logger, cfg TraderConfig) kernel.Factory {
	return func(id kernel.ObjectID) kernel.GameObject {
		return &AITraderInstance{
			id:             id,
			k:              k,
			exchange:       exchange,
			exchangeID:     exchange.ID(),
			log:            log.With().Str("trader", cfg.Name).Uint64("traderId", uint64(id)).Logger(),
			name:           cfg.Name,
			initialCapital: cfg.InitialCapital,
			currentCapital: cfg.InitialCapital,
			riskProfile:    cfg.RiskProfile,
			watchedSeries:  cfg.WatchedSeriesID,
		}
	}
}

func (t *AITraderInstance) OnBeginPlay() error {
	t.log.Debug().Str("riskProfile", t.riskProfile.String()).Msg("trader begun")
	return nil
}

// OnTick is advisory-only and must never block or mutate shared state
// beyond its own bookkeeping.
func (t *AITraderInstance) OnTick(deltaSeconds float64) error {
	if !isAlive(t.k, t.exchangeID) {
		return nil
	}
	if t.watchedSeries == "" {
		return nil
	}

	t.ticksSinceAdvisory++
	if t.ticksSinceAdvisory < advisoryEveryTick {
		return nil
	}
	t.ticksSinceAdvisory = 0

	closes := t.recentCloses()
	if len(closes) < smaPeriod+1 {
		return nil
	}

	sma := talib.Sma(closes, smaPeriod)
	last := closes[len(closes)-1]
	lastSMA := sma[len(sma)-1]
	if lastSMA == 0 || lastSMA != lastSMA { // NaN guard, no data yet
		return nil
	}

	mean, stdDev := describeWindow(closes)
	switch {
	case last > lastSMA:
		t.log.Info().Float64("price", last).Float64("sma", lastSMA).
			Float64("mean", mean).Float64("stdDev", stdDev).
			Msg("advisory: above SMA, bullish bias")
	case last < lastSMA:
		t.log.Info().Float64("price", last).Float64("sma", lastSMA).
			Float64("mean", mean).Float64("stdDev", stdDev).
			Msg("advisory: below SMA, bearish bias")
	}
	return nil
}

// recentCloses pulls the watched series' 1m bars over the last smaPeriod+5
// virtual minutes, including the still-open bar and any carried-forward
// fill bars, to feed the SMA calculation.
func (t *AITraderInstance) recentCloses() []float64 {
	bars, err := t.exchange.Engine().QueryAggregatedData(
		t.watchedSeries,
		timeseries.Granularity1m,
		t.exchange.Clock().VirtualTime().Add(-time.Duration(smaPeriod+5) * time.Minute),
		t.exchange.Clock().VirtualTime(),
	)
	if err != nil {
		return nil
	}
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		closes = append(closes, b.Close)
	}
	return closes
}

func (t *AITraderInstance) OnDestroy() error {
	t.log.Debug().Msg("trader destroyed")
	return nil
}

// Name returns the trader's display name.
func (t *AITraderInstance) Name() string { return t.name }

// InitialCapital returns the capital the trader was seeded with.
func (t *AITraderInstance) InitialCapital() float64 { return t.initialCapital }

// RiskProfile returns the trader's configured risk posture.
func (t *AITraderInstance) RiskProfile() RiskProfile { return t.riskProfile }

// CurrentCapital returns the trader's tracked capital.
func (t *AITraderInstance) CurrentCapital() float64 { return t.currentCapital }
