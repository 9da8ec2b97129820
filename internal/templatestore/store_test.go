package templatestore

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/simcore/internal/jobrunner"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "templates.db"), Log: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_ExchangeTemplateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	in := jobrunner.ExchangeTemplate{
		ID:                "ex-1",
		Name:              "Main Exchange",
		Description:       "two stocks, one trader",
		StockTemplateIDs:  []string{"st-b", "st-a"},
		TraderTemplateIDs: []string{"tr-1"},
	}
	require.NoError(t, s.SaveExchangeTemplate(in))

	out, err := s.FetchExchangeTemplate("ex-1")
	require.NoError(t, err)
	assert.Equal(t, in, out, "child id order must be preserved")
}

func TestStore_SaveExchangeTemplateUpsertReplacesChildren(t *testing.T) {
	s := newTestStore(t)

	first := jobrunner.ExchangeTemplate{ID: "ex-1", Name: "v1", StockTemplateIDs: []string{"st-1", "st-2"}}
	require.NoError(t, s.SaveExchangeTemplate(first))

	second := jobrunner.ExchangeTemplate{ID: "ex-1", Name: "v2", StockTemplateIDs: []string{"st-3"}}
	require.NoError(t, s.SaveExchangeTemplate(second))

	out, err := s.FetchExchangeTemplate("ex-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", out.Name)
	assert.Equal(t, []string{"st-3"}, out.StockTemplateIDs)
}

func TestStore_StockTemplateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	in := jobrunner.StockTemplate{
		ID: "st-1", Symbol: "ACME", CompanyName: "Acme Industries",
		Category: "Industrials", IssuePrice: 42.5, TotalShares: 1_000_000,
	}
	require.NoError(t, s.SaveStockTemplate(in))

	out, err := s.FetchStockTemplate("st-1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestStore_TraderTemplateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	in := jobrunner.TraderTemplate{ID: "tr-1", Name: "Cautious Carl", InitialCapital: 50_000, RiskProfile: "Conservative"}
	require.NoError(t, s.SaveTraderTemplate(in))

	out, err := s.FetchTraderTemplate("tr-1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestStore_MissingTemplatesReportNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FetchExchangeTemplate("missing")
	assert.ErrorIs(t, err, jobrunner.ErrTemplateNotFound)

	_, err = s.FetchStockTemplate("missing")
	assert.ErrorIs(t, err, jobrunner.ErrTemplateNotFound)

	_, err = s.FetchTraderTemplate("missing")
	assert.ErrorIs(t, err, jobrunner.ErrTemplateNotFound)
}
