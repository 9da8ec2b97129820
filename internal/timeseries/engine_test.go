package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func newPriceSeries(t *testing.T, e *Engine, id string, policy MissingPolicy) {
	t.Helper()
	err := e.CreateSeries(Definition{
		ID:            id,
		DataType:      Continuous,
		Granularities: []Granularity{Granularity1m},
		Metrics:       []Metric{MetricOpen, MetricHigh, MetricLow, MetricClose, MetricVolume, MetricVWAP},
		MissingPolicy: policy,
	})
	require.NoError(t, err)
}

func TestEngine_AggregationRoundTrip1m(t *testing.T) {
	e := NewEngine()
	newPriceSeries(t, e, "S1", UsePrevious)

	t0 := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	points := []DataPoint{
		{Timestamp: t0, Value: 100, Volume: floatPtr(10)},
		{Timestamp: t0.Add(20 * time.Second), Value: 102, Volume: floatPtr(5)},
		{Timestamp: t0.Add(59 * time.Second), Value: 99, Volume: floatPtr(15)},
		{Timestamp: t0.Add(60 * time.Second), Value: 101, Volume: floatPtr(20)},
	}
	for _, p := range points {
		require.NoError(t, e.AddDataPoint("S1", p))
	}

	bars, err := e.QueryAggregatedData("S1", Granularity1m, t0, t0.Add(120*time.Second))
	require.NoError(t, err)
	require.Len(t, bars, 2)

	first := bars[0]
	assert.Equal(t, t0, first.StartTime)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 102.0, first.High)
	assert.Equal(t, 99.0, first.Low)
	assert.Equal(t, 99.0, first.Close)
	assert.Equal(t, 30.0, first.Volume)
	assert.Equal(t, 3, first.PointCount)
	wantVWAP := (100.0*10 + 102.0*5 + 99.0*15) / 30.0
	assert.InDelta(t, wantVWAP, first.VWAP, 1e-9)

	second := bars[1]
	assert.Equal(t, t0.Add(60*time.Second), second.StartTime)
	assert.Equal(t, 101.0, second.Open)
	assert.Equal(t, 101.0, second.High)
	assert.Equal(t, 101.0, second.Low)
	assert.Equal(t, 101.0, second.Close)
	assert.Equal(t, 20.0, second.Volume)
	assert.Equal(t, 101.0, second.VWAP)
	assert.Equal(t, 1, second.PointCount)
}

func TestEngine_OutOfOrderRejected(t *testing.T) {
	e := NewEngine()
	newPriceSeries(t, e, "S1", UsePrevious)

	t0 := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	require.NoError(t, e.AddDataPoint("S1", DataPoint{Timestamp: t0.Add(60 * time.Second), Value: 101, Volume: floatPtr(20)}))

	err := e.AddDataPoint("S1", DataPoint{Timestamp: t0.Add(30 * time.Second), Value: 100, Volume: floatPtr(1)})
	assert.ErrorIs(t, err, ErrOutOfOrder)

	bars, err := e.QueryAggregatedData("S1", Granularity1m, t0, t0.Add(120*time.Second))
	require.NoError(t, err)
	require.Len(t, bars, 1, "the rejected point must not have mutated any bar")
	assert.Equal(t, 1, bars[0].PointCount)
}

func TestEngine_QueryExcludesBucketStraddlingWindowStart(t *testing.T) {
	e := NewEngine()
	newPriceSeries(t, e, "S1", UsePrevious)

	t0 := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	require.NoError(t, e.AddDataPoint("S1", DataPoint{Timestamp: t0, Value: 100, Volume: floatPtr(1)}))
	require.NoError(t, e.AddDataPoint("S1", DataPoint{Timestamp: t0.Add(time.Minute), Value: 101, Volume: floatPtr(1)}))

	// Query starts mid-bucket: the 09:30 bar's StartTime precedes the
	// window and must not appear, only the 09:31 bar does.
	bars, err := e.QueryAggregatedData("S1", Granularity1m, t0.Add(30*time.Second), t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, t0.Add(time.Minute), bars[0].StartTime)
}

func TestEngine_CreateSeriesRejectsDuplicateID(t *testing.T) {
	e := NewEngine()
	newPriceSeries(t, e, "S1", UsePrevious)
	err := e.CreateSeries(Definition{ID: "S1", Granularities: []Granularity{Granularity1m}})
	assert.ErrorIs(t, err, ErrSeriesExists)
}

func TestEngine_QueryUnknownSeriesFails(t *testing.T) {
	e := NewEngine()
	_, err := e.QueryAggregatedData("missing", Granularity1m, time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrSeriesNotFound)
}

func TestEngine_MissingBucketUsePreviousCarriesForwardClose(t *testing.T) {
	e := NewEngine()
	newPriceSeries(t, e, "S1", UsePrevious)

	t0 := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	require.NoError(t, e.AddDataPoint("S1", DataPoint{Timestamp: t0, Value: 50, Volume: floatPtr(1)}))
	// Next point two minutes later, leaving the 09:31 bucket entirely empty.
	require.NoError(t, e.AddDataPoint("S1", DataPoint{Timestamp: t0.Add(2 * time.Minute), Value: 55, Volume: floatPtr(1)}))

	bars, err := e.QueryAggregatedData("S1", Granularity1m, t0, t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	gap := bars[1]
	assert.Equal(t, 50.0, gap.Open)
	assert.Equal(t, 50.0, gap.Close)
	assert.Equal(t, 0, gap.PointCount)
	assert.Equal(t, 0.0, gap.Volume)
}

func TestEngine_MissingBucketUseZeroFabricatesZeroBar(t *testing.T) {
	e := NewEngine()
	newPriceSeries(t, e, "S2", UseZero)

	t0 := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	require.NoError(t, e.AddDataPoint("S2", DataPoint{Timestamp: t0, Value: 50, Volume: floatPtr(1)}))
	require.NoError(t, e.AddDataPoint("S2", DataPoint{Timestamp: t0.Add(2 * time.Minute), Value: 55, Volume: floatPtr(1)}))

	bars, err := e.QueryAggregatedData("S2", Granularity1m, t0, t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	gap := bars[1]
	assert.Equal(t, 0.0, gap.Open)
	assert.Equal(t, 0.0, gap.Close)
	assert.Equal(t, 0, gap.PointCount)
}

func TestEngine_ClearAggregatedDataBeforePreservesStraddlingBar(t *testing.T) {
	e := NewEngine()
	newPriceSeries(t, e, "S1", UsePrevious)

	t0 := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	require.NoError(t, e.AddDataPoint("S1", DataPoint{Timestamp: t0, Value: 50, Volume: floatPtr(1)}))
	require.NoError(t, e.AddDataPoint("S1", DataPoint{Timestamp: t0.Add(time.Minute), Value: 55, Volume: floatPtr(1)}))
	require.NoError(t, e.AddDataPoint("S1", DataPoint{Timestamp: t0.Add(2 * time.Minute), Value: 60, Volume: floatPtr(1)}))

	// Cutoff lands inside the second bar's window: its EndTime is still
	// after cutoff, so it must survive.
	cutoff := t0.Add(90 * time.Second)
	require.NoError(t, e.ClearAggregatedDataBefore("S1", cutoff))

	bars, err := e.QueryAggregatedData("S1", Granularity1m, t0, t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(bars), 1)
	assert.Equal(t, t0.Add(time.Minute), bars[0].StartTime)
}

func TestEngine_RemoveSeriesDropsItEntirely(t *testing.T) {
	e := NewEngine()
	newPriceSeries(t, e, "S1", UsePrevious)
	require.NoError(t, e.RemoveSeries("S1"))

	_, err := e.QueryAggregatedData("S1", Granularity1m, time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrSeriesNotFound)
}
