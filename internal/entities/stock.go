package entities

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/simcore/internal/kernel"
	"github.com/aristath/simcore/internal/timeseries"
)

const (
	defaultPriceVolatility  = 0.01
	defaultVolumeVolatility = 0.5
	defaultBaseVolume       = 1000.0
	defaultEmitPeriodMs     = 1000
)

// StockInstance is one traded security within an exchange.
type StockInstance struct {
	id        kernel.ObjectID
	k         *kernel.Kernel
	exchange  *ExchangeInstance
	exchangeID kernel.ObjectID
	log       zerolog.Logger
	walk      *walkSource

	symbol      string
	companyName string
	category    string
	issuePrice  float64
	totalShares int64

	priceVolatility  float64
	volumeVolatility float64
	baseVolume       float64
	emitPeriodMs     int64

	// mu guards the fields below, which external snapshot readers access
	// concurrently with the kernel-thread writes in emit.
	mu                       sync.Mutex
	price                    float64
	lastEmittedVirtualMillis int64

	priceSeriesID  string
	volumeSeriesID string
}

// NewStockFactory returns a kernel.Factory that builds a StockInstance
// owned by exchange.
func NewStockFactory(k *kernel.Kernel, exchange *ExchangeInstance, log zerolog.Logger, cfg StockConfig) kernel.Factory {
	return func(id kernel.ObjectID) kernel.GameObject {
		priceVol := cfg.PriceVolatility
		if priceVol == 0 {
			priceVol = defaultPriceVolatility
		}
		volumeVol := cfg.VolumeVolatility
		if volumeVol == 0 {
			volumeVol = defaultVolumeVolatility
		}
		base := cfg.BaseVolume
		if base == 0 {
			base = defaultBaseVolume
		}
		period := cfg.EmitPeriodMs
		if period == 0 {
			period = defaultEmitPeriodMs
		}

		return &StockInstance{
			id:               id,
			k:                k,
			exchange:         exchange,
			exchangeID:       exchange.ID(),
			log:              log.With().Str("symbol", cfg.Symbol).Uint64("stockId", uint64(id)).Logger(),
			walk:             newWalkSource(),
			symbol:           cfg.Symbol,
			companyName:      cfg.CompanyName,
			category:         cfg.Category,
			issuePrice:       cfg.IssuePrice,
			totalShares:      cfg.TotalShares,
			price:            cfg.IssuePrice,
			priceVolatility:  priceVol,
			volumeVolatility: volumeVol,
			baseVolume:       base,
			emitPeriodMs:     period,
			priceSeriesID:    seriesID(exchange.ID(), cfg.Symbol, "price"),
			volumeSeriesID:   seriesID(exchange.ID(), cfg.Symbol, "volume"),
		}
	}
}

func seriesID(exchangeID kernel.ObjectID, symbol, kind string) string {
	return kind + ":" + symbol + ":" + strconv.FormatUint(uint64(exchangeID), 10)
}

// Symbol returns the stock's ticker symbol.
func (s *StockInstance) Symbol() string { return s.symbol }

// CompanyName returns the issuing company's name.
func (s *StockInstance) CompanyName() string { return s.companyName }

// Category returns the stock's sector/category label.
func (s *StockInstance) Category() string { return s.category }

// IssuePrice returns the price the stock was issued at.
func (s *StockInstance) IssuePrice() float64 { return s.issuePrice }

// TotalShares returns the total share count.
func (s *StockInstance) TotalShares() int64 { return s.totalShares }

// Price returns the current price.
func (s *StockInstance) Price() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price
}

// LastEmittedVirtualMillis returns the virtual timestamp of the most recent
// emitted point, in milliseconds, or 0 if nothing has been emitted yet.
func (s *StockInstance) LastEmittedVirtualMillis() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEmittedVirtualMillis
}

// PriceSeriesID / VolumeSeriesID identify this stock's series in the
// exchange's engine.
func (s *StockInstance) PriceSeriesID() string  { return s.priceSeriesID }
func (s *StockInstance) VolumeSeriesID() string { return s.volumeSeriesID }

// OnBeginPlay creates the price and volume series and, if the exchange is
// currently in a trading interval, emits one initial bar at issuePrice.
func (s *StockInstance) OnBeginPlay() error {
	granularities := []timeseries.Granularity{
		timeseries.Granularity1m, timeseries.Granularity5m, timeseries.Granularity15m,
		timeseries.Granularity30m, timeseries.Granularity60m,
		timeseries.Granularity1d, timeseries.Granularity1w, timeseries.Granularity1M,
	}

	if err := s.exchange.Engine().CreateSeries(timeseries.Definition{
		ID:            s.priceSeriesID,
		Name:          s.symbol + " price",
		DataType:      timeseries.Continuous,
		Granularities: granularities,
		Metrics:       []timeseries.Metric{timeseries.MetricOpen, timeseries.MetricHigh, timeseries.MetricLow, timeseries.MetricClose, timeseries.MetricVWAP},
		MissingPolicy: timeseries.UsePrevious,
	}); err != nil {
		return err
	}

	if err := s.exchange.Engine().CreateSeries(timeseries.Definition{
		ID:            s.volumeSeriesID,
		Name:          s.symbol + " volume",
		DataType:      timeseries.Discrete,
		Granularities: granularities,
		Metrics:       []timeseries.Metric{timeseries.MetricVolume},
		MissingPolicy: timeseries.UseZero,
	}); err != nil {
		return err
	}

	if s.exchange.Clock().IsTrading() {
		s.emit(s.exchange.Clock().VirtualTime(), false)
	}
	return nil
}

// OnTick generates a price/volume point once per emitPeriodMs while the
// exchange's clock is within a trading interval.
func (s *StockInstance) OnTick(deltaSeconds float64) error {
	if !isAlive(s.k, s.exchangeID) {
		return nil
	}
	if !s.exchange.Clock().IsTrading() {
		return nil
	}

	t := s.exchange.Clock().VirtualTime()
	if t.UnixMilli()-s.LastEmittedVirtualMillis() < s.emitPeriodMs {
		return nil
	}

	s.emit(t, true)
	return nil
}

// emit generates a volume and appends one point to each series, logging
// (not failing) any append rejection. With step set, the price first takes
// one random-walk step; otherwise the current price is emitted unchanged.
func (s *StockInstance) emit(t time.Time, step bool) {
	z1 := s.walk.standardNormal()
	z2 := s.walk.standardNormal()

	s.mu.Lock()
	if step {
		s.price = nextPrice(s.price, s.priceVolatility, z1)
	}
	price := s.price
	s.mu.Unlock()
	volume := nextVolume(s.baseVolume, s.volumeVolatility, z2)

	priceVol := volume
	if err := s.exchange.Engine().AddDataPoint(s.priceSeriesID, timeseries.DataPoint{
		Timestamp: t, Value: price, Volume: &priceVol,
	}); err != nil {
		s.log.Debug().Err(err).Msg("price point rejected")
	}

	if err := s.exchange.Engine().AddDataPoint(s.volumeSeriesID, timeseries.DataPoint{
		Timestamp: t, Value: volume,
	}); err != nil {
		s.log.Debug().Err(err).Msg("volume point rejected")
	}

	s.mu.Lock()
	s.lastEmittedVirtualMillis = t.UnixMilli()
	s.mu.Unlock()
}

// OnDestroy releases nothing extra. The stock's series stay in the
// exchange's engine; the exchange's own OnDestroy does not release the
// engine either.
func (s *StockInstance) OnDestroy() error {
	s.log.Debug().Msg("stock destroyed")
	return nil
}
