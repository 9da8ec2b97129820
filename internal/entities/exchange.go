package entities

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/simcore/internal/kernel"
	"github.com/aristath/simcore/internal/simclock"
	"github.com/aristath/simcore/internal/timeseries"
)

// ExchangeConfig seeds a new ExchangeInstance.
type ExchangeConfig struct {
	Name        string
	Description string

	InitialMinuteOfDay int // minutes since midnight, default 09:15
	Acceleration       float64
	TradingWindows     []simclock.Window
	NonTradingWindows  []simclock.Window
}

// ExchangeInstance owns a simulated clock, a time-series engine, and the
// stocks/traders registered under it.
type ExchangeInstance struct {
	id   kernel.ObjectID
	k    *kernel.Kernel
	log  zerolog.Logger
	cfg  ExchangeConfig

	mu           sync.Mutex
	clock        *simclock.Clock
	engine       *timeseries.Engine
	createdAt    time.Time
	lastActiveAt time.Time
	stockIDs     []kernel.ObjectID
	traderIDs    []kernel.ObjectID
}

// NewExchangeFactory returns a kernel.Factory that builds an
// ExchangeInstance under k.
func NewExchangeFactory(k *kernel.Kernel, log zerolog.Logger, cfg ExchangeConfig) kernel.Factory {
	return func(id kernel.ObjectID) kernel.GameObject {
		return &ExchangeInstance{
			id:  id,
			k:   k,
			log: log.With().Uint64("exchangeId", uint64(id)).Logger(),
			cfg: cfg,
		}
	}
}

func (e *ExchangeInstance) ID() kernel.ObjectID { return e.id }

// OnBeginPlay instantiates the clock and the time-series engine.
func (e *ExchangeInstance) OnBeginPlay() error {
	e.mu.Lock()
	e.createdAt = time.Now()
	e.lastActiveAt = e.createdAt
	e.mu.Unlock()

	clock := simclock.New(simclock.Config{
		Acceleration:      e.cfg.Acceleration,
		TradingWindows:    e.cfg.TradingWindows,
		NonTradingWindows: e.cfg.NonTradingWindows,
	})
	initialMinute := e.cfg.InitialMinuteOfDay
	if initialMinute == 0 {
		initialMinute = 9*60 + 15
	}
	clock.Init(time.Now(), initialMinute)

	e.mu.Lock()
	e.clock = clock
	e.engine = timeseries.NewEngine()
	e.mu.Unlock()

	e.log.Info().Str("name", e.cfg.Name).Msg("exchange begun")
	return nil
}

// OnTick advances the clock and updates lastActiveAt. Stocks and traders
// are ticked independently by the kernel, not by the exchange, so a fault
// in one cannot affect the others.
func (e *ExchangeInstance) OnTick(deltaSeconds float64) error {
	e.clock.Advance(deltaSeconds)
	e.mu.Lock()
	e.lastActiveAt = time.Now()
	e.mu.Unlock()
	return nil
}

// OnDestroy requests destruction of every owned stock then trader, in that
// order, through the kernel.
func (e *ExchangeInstance) OnDestroy() error {
	e.mu.Lock()
	stocks := append([]kernel.ObjectID(nil), e.stockIDs...)
	traders := append([]kernel.ObjectID(nil), e.traderIDs...)
	e.mu.Unlock()

	for _, id := range stocks {
		if err := e.k.DestroyObject(id); err != nil {
			e.log.Warn().Err(err).Uint64("stockId", uint64(id)).Msg("failed to destroy owned stock")
		}
	}
	for _, id := range traders {
		if err := e.k.DestroyObject(id); err != nil {
			e.log.Warn().Err(err).Uint64("traderId", uint64(id)).Msg("failed to destroy owned trader")
		}
	}
	e.log.Info().Msg("exchange destroyed")
	return nil
}

// Name returns the exchange's display name.
func (e *ExchangeInstance) Name() string { return e.cfg.Name }

// Description returns the exchange's description.
func (e *ExchangeInstance) Description() string { return e.cfg.Description }

// CreatedAt returns when the exchange began play.
func (e *ExchangeInstance) CreatedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createdAt
}

// LastActiveAt returns the wall-clock time of the exchange's most recent tick.
func (e *ExchangeInstance) LastActiveAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActiveAt
}

// Clock returns the exchange's simulated clock; nil until BeginPlay runs.
func (e *ExchangeInstance) Clock() *simclock.Clock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

// Engine returns the exchange's time-series engine; nil until BeginPlay runs.
func (e *ExchangeInstance) Engine() *timeseries.Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.engine
}

// RegisterStock records a stock as owned by this exchange.
func (e *ExchangeInstance) RegisterStock(id kernel.ObjectID) {
	e.mu.Lock()
	e.stockIDs = append(e.stockIDs, id)
	e.mu.Unlock()
}

// RegisterTrader records a trader as owned by this exchange.
func (e *ExchangeInstance) RegisterTrader(id kernel.ObjectID) {
	e.mu.Lock()
	e.traderIDs = append(e.traderIDs, id)
	e.mu.Unlock()
}

// StockIDs returns a snapshot of owned stock ids.
func (e *ExchangeInstance) StockIDs() []kernel.ObjectID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]kernel.ObjectID(nil), e.stockIDs...)
}

// TraderIDs returns a snapshot of owned trader ids.
func (e *ExchangeInstance) TraderIDs() []kernel.ObjectID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]kernel.ObjectID(nil), e.traderIDs...)
}
