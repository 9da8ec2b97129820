package entities

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/simcore/internal/kernel"
	"github.com/aristath/simcore/internal/timeseries"
)

func TestExchange_BeginPlayCreatesStockSeries(t *testing.T) {
	log := zerolog.Nop()
	k := kernel.New(kernel.Config{FPS: 100, Log: log})
	k.Start()
	defer k.Stop()

	exchangeID, exchangeObj, err := k.CreateObject(NewExchangeFactory(k, log, ExchangeConfig{
		Name:               "Test Exchange",
		InitialMinuteOfDay: 9 * 60,
		Acceleration:       1.0,
	}))
	require.NoError(t, err)
	exchange := exchangeObj.(*ExchangeInstance)

	require.Eventually(t, func() bool {
		st, _ := k.StateOf(exchangeID)
		return st == kernel.StateActive
	}, 2*time.Second, 5*time.Millisecond)

	stockID, stockObj, err := k.CreateObject(NewStockFactory(k, exchange, log, StockConfig{
		Symbol:      "ACME",
		CompanyName: "Acme Corp",
		IssuePrice:  100,
		TotalShares: 1000,
	}))
	require.NoError(t, err)
	exchange.RegisterStock(stockID)
	stock := stockObj.(*StockInstance)

	require.Eventually(t, func() bool {
		st, _ := k.StateOf(stockID)
		return st == kernel.StateActive
	}, 2*time.Second, 5*time.Millisecond)

	_, _, err = exchange.Engine().GetLatestData(stock.PriceSeriesID(), timeseries.Granularity1m)
	assert.NoError(t, err, "price series must exist after onBeginPlay")
}

func TestExchange_DestroyCascadesToOwnedStocksAndTraders(t *testing.T) {
	log := zerolog.Nop()
	k := kernel.New(kernel.Config{FPS: 100, Log: log})
	k.Start()
	defer k.Stop()

	exchangeID, exchangeObj, err := k.CreateObject(NewExchangeFactory(k, log, ExchangeConfig{
		Name: "Cascade Exchange", InitialMinuteOfDay: 9 * 60, Acceleration: 1.0,
	}))
	require.NoError(t, err)
	exchange := exchangeObj.(*ExchangeInstance)

	require.Eventually(t, func() bool {
		st, _ := k.StateOf(exchangeID)
		return st == kernel.StateActive
	}, 2*time.Second, 5*time.Millisecond)

	stockID, _, err := k.CreateObject(NewStockFactory(k, exchange, log, StockConfig{
		Symbol: "ACME", IssuePrice: 10, TotalShares: 100,
	}))
	require.NoError(t, err)
	exchange.RegisterStock(stockID)

	traderID, _, err := k.CreateObject(NewTraderFactory(k, exchange, log, TraderConfig{
		Name: "Bot1", InitialCapital: 1000,
	}))
	require.NoError(t, err)
	exchange.RegisterTrader(traderID)

	require.Eventually(t, func() bool {
		stockSt, _ := k.StateOf(stockID)
		traderSt, _ := k.StateOf(traderID)
		return stockSt == kernel.StateActive && traderSt == kernel.StateActive
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, k.DestroyObject(exchangeID))

	require.Eventually(t, func() bool {
		exchangeSt, _ := k.StateOf(exchangeID)
		stockSt, _ := k.StateOf(stockID)
		traderSt, _ := k.StateOf(traderID)
		return exchangeSt == kernel.StateDestroyed && stockSt == kernel.StateDestroyed && traderSt == kernel.StateDestroyed
	}, 2*time.Second, 5*time.Millisecond)
}
