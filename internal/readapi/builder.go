package readapi

import (
	"fmt"

	"github.com/aristath/simcore/internal/entities"
	"github.com/aristath/simcore/internal/jobrunner"
	"github.com/aristath/simcore/internal/kernel"
)

// Build implements jobrunner.Builder. It runs on the kernel thread: create
// the exchange, then each stock, then each trader, wiring ownership as it
// goes. On error the partial result is returned so the
// pool can roll it back.
func (s *Service) Build(payload jobrunner.ConstructPayload, progress func(created, total int)) (jobrunner.BuildResult, error) {
	var result jobrunner.BuildResult
	total := 1 + len(payload.Stocks) + len(payload.Traders)
	created := 0

	exchangeID, exchangeObj, err := s.k.CreateObject(entities.NewExchangeFactory(s.k, s.log, entities.ExchangeConfig{
		Name:               payload.Exchange.Name,
		Description:        payload.Exchange.Description,
		InitialMinuteOfDay: s.cfg.InitialMinuteOfDay,
		Acceleration:       s.cfg.Acceleration,
		TradingWindows:     s.cfg.TradingWindows,
		NonTradingWindows:  s.cfg.NonTradingWindows,
	}))
	if err != nil {
		return result, err
	}
	exchange := exchangeObj.(*entities.ExchangeInstance)
	result.ExchangeID = exchangeID
	created++
	progress(created, total)

	env := &environment{
		id:        exchangeID,
		requestID: payload.RequestID,
		userID:    payload.UserID,
		exchange:  exchange,
	}

	for _, tmpl := range payload.Stocks {
		if tmpl.IssuePrice <= 0 || tmpl.TotalShares <= 0 {
			return result, fmt.Errorf("readapi: stock template %q has non-positive issuePrice or totalShares", tmpl.ID)
		}
		id, obj, err := s.k.CreateObject(entities.NewStockFactory(s.k, exchange, s.log, entities.StockConfig{
			Symbol:      tmpl.Symbol,
			CompanyName: tmpl.CompanyName,
			Category:    tmpl.Category,
			IssuePrice:  tmpl.IssuePrice,
			TotalShares: tmpl.TotalShares,
		}))
		if err != nil {
			return result, err
		}
		exchange.RegisterStock(id)
		result.StockIDs = append(result.StockIDs, id)
		env.stocks = append(env.stocks, stockRef{id: id, inst: obj.(*entities.StockInstance)})
		created++
		progress(created, total)
	}

	for i, tmpl := range payload.Traders {
		if tmpl.InitialCapital <= 0 {
			return result, fmt.Errorf("readapi: trader template %q has non-positive initialCapital", tmpl.ID)
		}
		watched := ""
		if len(env.stocks) > 0 {
			watched = env.stocks[i%len(env.stocks)].inst.PriceSeriesID()
		}
		id, obj, err := s.k.CreateObject(entities.NewTraderFactory(s.k, exchange, s.log, entities.TraderConfig{
			Name:            tmpl.Name,
			InitialCapital:  tmpl.InitialCapital,
			RiskProfile:     riskProfileFromString(tmpl.RiskProfile),
			WatchedSeriesID: watched,
		}))
		if err != nil {
			return result, err
		}
		exchange.RegisterTrader(id)
		result.TraderIDs = append(result.TraderIDs, id)
		env.traders = append(env.traders, traderRef{id: id, inst: obj.(*entities.AITraderInstance)})
		created++
		progress(created, total)
	}

	s.mu.Lock()
	s.pending[payload.RequestID] = env
	s.mu.Unlock()

	return result, nil
}

// Commit implements jobrunner.Builder: a fully built environment becomes
// visible to the read API.
func (s *Service) Commit(payload jobrunner.ConstructPayload, result jobrunner.BuildResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.pending[payload.RequestID]
	if !ok {
		return
	}
	delete(s.pending, payload.RequestID)
	s.envs[result.ExchangeID] = env
	s.log.Info().Uint64("environmentId", uint64(result.ExchangeID)).Str("userId", env.userID).Msg("environment registered")
}

// Rollback implements jobrunner.Builder: destroy everything the task
// created, traders first, then stocks, then the exchange. The
// pending entry, if the build got far enough to register one, is dropped so
// the environment is never exposed.
func (s *Service) Rollback(result jobrunner.BuildResult) {
	for i := len(result.TraderIDs) - 1; i >= 0; i-- {
		s.destroyQuietly(result.TraderIDs[i])
	}
	for i := len(result.StockIDs) - 1; i >= 0; i-- {
		s.destroyQuietly(result.StockIDs[i])
	}
	if result.ExchangeID != 0 {
		s.destroyQuietly(result.ExchangeID)
	}

	s.mu.Lock()
	for requestID, env := range s.pending {
		if env.id == result.ExchangeID {
			delete(s.pending, requestID)
		}
	}
	s.mu.Unlock()

	s.log.Warn().Uint64("exchangeId", uint64(result.ExchangeID)).
		Int("stocks", len(result.StockIDs)).Int("traders", len(result.TraderIDs)).
		Msg("environment rolled back")
}

func (s *Service) destroyQuietly(id kernel.ObjectID) {
	if err := s.k.DestroyObject(id); err != nil {
		s.log.Warn().Err(err).Uint64("objectId", uint64(id)).Msg("rollback destroy failed")
	}
}

func riskProfileFromString(v string) entities.RiskProfile {
	switch v {
	case "Aggressive":
		return entities.Aggressive
	case "Conservative":
		return entities.Conservative
	default:
		return entities.Moderate
	}
}
