package timeseries

import (
	"sync"
	"time"
)

// Engine owns every Series for a single exchange. All mutation happens on
// the kernel thread during ticks; reads take the read lock so external
// query callers can run concurrently with that writer.
type Engine struct {
	mu     sync.RWMutex
	series map[string]*Series
}

// NewEngine constructs an empty engine.
func NewEngine() *Engine {
	return &Engine{series: make(map[string]*Series)}
}

// CreateSeries registers a new series. Fails if id already exists.
func (e *Engine) CreateSeries(def Definition) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.series[def.ID]; exists {
		return ErrSeriesExists
	}
	e.series[def.ID] = newSeries(def)
	return nil
}

// RemoveSeries drops a series and all of its bars.
func (e *Engine) RemoveSeries(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.series[id]; !exists {
		return ErrSeriesNotFound
	}
	delete(e.series, id)
	return nil
}

// AddDataPoint appends one observation, folding it into every configured
// granularity's open bar in O(|granularities|).
func (e *Engine) AddDataPoint(seriesID string, point DataPoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.series[seriesID]
	if !ok {
		return ErrSeriesNotFound
	}
	if s.hasPoints && point.Timestamp.Before(s.lastTimestamp) {
		return ErrOutOfOrder
	}

	for _, g := range s.Granularities {
		st := s.states[g]
		bucketStart, bucketEnd := bucket(point.Timestamp, g)

		if st.open != nil && st.open.bar.StartTime.Equal(bucketStart) {
			foldPoint(st.open, point, s.DataType)
			continue
		}

		if st.open != nil {
			st.closed = append(st.closed, st.open.bar)
		}
		ob := &openBar{bar: AggregatedBar{
			SeriesID:    seriesID,
			Granularity: g,
			StartTime:   bucketStart,
			EndTime:     bucketEnd,
		}}
		foldPoint(ob, point, s.DataType)
		st.open = ob
	}

	s.lastTimestamp = point.Timestamp
	s.hasPoints = true
	return nil
}

// foldPoint updates an open bar's accumulators with one more point.
func foldPoint(ob *openBar, point DataPoint, dataType DataType) {
	vol := 0.0
	switch {
	case point.Volume != nil:
		vol = *point.Volume
	case dataType == Discrete:
		vol = point.Value
	}

	if ob.bar.PointCount == 0 {
		ob.bar.Open = point.Value
		ob.bar.High = point.Value
		ob.bar.Low = point.Value
	} else {
		if point.Value > ob.bar.High {
			ob.bar.High = point.Value
		}
		if point.Value < ob.bar.Low {
			ob.bar.Low = point.Value
		}
	}
	ob.bar.Close = point.Value
	ob.bar.Volume += vol
	ob.sumValueVolume += point.Value * vol
	ob.sumVolume += vol
	if ob.sumVolume > 0 {
		ob.bar.VWAP = ob.sumValueVolume / ob.sumVolume
	} else {
		ob.bar.VWAP = ob.bar.Close
	}
	ob.bar.PointCount++
}

// allBars returns every closed bar plus the open bar (if any), ascending by
// StartTime, for one granularity.
func (st *granularityState) allBars() []AggregatedBar {
	bars := make([]AggregatedBar, 0, len(st.closed)+1)
	bars = append(bars, st.closed...)
	if st.open != nil {
		bars = append(bars, st.open.bar)
	}
	return bars
}

// QueryAggregatedData returns the bars whose StartTime falls in
// [start, end), densely filling any bucket with no ingested point per the
// series' missing-data policy.
func (e *Engine) QueryAggregatedData(seriesID string, g Granularity, start, end time.Time) ([]AggregatedBar, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.series[seriesID]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	st, ok := s.states[g]
	if !ok {
		return nil, ErrGranularityNotConfigured
	}

	actual := st.allBars()
	byStart := make(map[int64]AggregatedBar, len(actual))
	for _, b := range actual {
		byStart[b.StartTime.UnixMilli()] = b
	}

	var lastClose *float64
	for _, b := range actual {
		if !b.StartTime.Before(start) {
			break
		}
		c := b.Close
		lastClose = &c
	}

	starts := bucketStarts(g, start, end)
	result := make([]AggregatedBar, 0, len(starts))
	for _, bs := range starts {
		if bar, ok := byStart[bs.UnixMilli()]; ok {
			result = append(result, bar)
			c := bar.Close
			lastClose = &c
			continue
		}

		fabricated := fabricateBar(seriesID, g, bs, step(g), s.MissingPolicy, lastClose)
		if fabricated != nil {
			result = append(result, *fabricated)
		}
	}

	return result, nil
}

// fabricateBar synthesizes a bar for an empty bucket per policy. Returns
// nil when UsePrevious has no prior bar to carry forward (the bucket is
// then simply omitted).
func fabricateBar(seriesID string, g Granularity, start time.Time, dur time.Duration, policy MissingPolicy, lastClose *float64) *AggregatedBar {
	end := start.Add(dur)
	if g == Granularity1M {
		end = monthStart(start).AddDate(0, 1, 0)
	}

	switch policy {
	case UsePrevious:
		if lastClose == nil {
			return nil
		}
		return &AggregatedBar{
			SeriesID: seriesID, Granularity: g, StartTime: start, EndTime: end,
			Open: *lastClose, High: *lastClose, Low: *lastClose, Close: *lastClose,
			VWAP: *lastClose,
		}
	default: // UseZero
		return &AggregatedBar{
			SeriesID: seriesID, Granularity: g, StartTime: start, EndTime: end,
		}
	}
}

// GetLatestData returns the most recent bar (closed or open) for a series'
// granularity, if any.
func (e *Engine) GetLatestData(seriesID string, g Granularity) (AggregatedBar, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.series[seriesID]
	if !ok {
		return AggregatedBar{}, false, ErrSeriesNotFound
	}
	st, ok := s.states[g]
	if !ok {
		return AggregatedBar{}, false, ErrGranularityNotConfigured
	}

	if st.open != nil {
		return st.open.bar, true, nil
	}
	if n := len(st.closed); n > 0 {
		return st.closed[n-1], true, nil
	}
	return AggregatedBar{}, false, nil
}

// ClearAggregatedData drops every bar for every granularity of a series,
// leaving it ready to accept points starting fresh (the order invariant
// resets along with it).
func (e *Engine) ClearAggregatedData(seriesID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.series[seriesID]
	if !ok {
		return ErrSeriesNotFound
	}
	for _, st := range s.states {
		st.open = nil
		st.closed = nil
	}
	s.hasPoints = false
	return nil
}

// ClearAggregatedDataBefore truncates every bar whose EndTime <= cutoff,
// preserving any bar whose EndTime > cutoff (Open Question resolved in
// DESIGN.md: preserve, don't split, the straddling bar).
func (e *Engine) ClearAggregatedDataBefore(seriesID string, cutoff time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.series[seriesID]
	if !ok {
		return ErrSeriesNotFound
	}

	for _, st := range s.states {
		kept := st.closed[:0:0]
		for _, b := range st.closed {
			if b.EndTime.After(cutoff) {
				kept = append(kept, b)
			}
		}
		st.closed = kept

		if st.open != nil && !st.open.bar.EndTime.After(cutoff) {
			st.open = nil
		}
	}

	return nil
}
