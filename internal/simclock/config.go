package simclock

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// intervalConfig mirrors the TradingIntervals JSON document.
type intervalConfig struct {
	TradingIntervals    []namedInterval `json:"tradingIntervals"`
	NonTradingIntervals []namedInterval `json:"nonTradingIntervals"`
}

type namedInterval struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// LoadIntervalsFile reads a TradingIntervals JSON document from path. On any
// read or parse error it logs and falls back to the documented defaults
// rather than failing exchange construction.
func LoadIntervalsFile(path string, log zerolog.Logger) (trading, nonTrading []Window) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("trading intervals file unreadable, using defaults")
		return defaultTradingWindows(), nil
	}

	var cfg intervalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("trading intervals file malformed, using defaults")
		return defaultTradingWindows(), nil
	}

	trading, err = windowsFromNamed(cfg.TradingIntervals)
	if err != nil {
		log.Warn().Err(err).Msg("trading intervals entry malformed, using defaults")
		return defaultTradingWindows(), nil
	}
	if len(trading) == 0 {
		trading = defaultTradingWindows()
	}

	nonTrading, err = windowsFromNamed(cfg.NonTradingIntervals)
	if err != nil {
		log.Warn().Err(err).Msg("non-trading intervals entry malformed, ignoring")
		return trading, nil
	}

	return trading, nonTrading
}

func windowsFromNamed(entries []namedInterval) ([]Window, error) {
	out := make([]Window, 0, len(entries))
	for _, e := range entries {
		start, err := time.Parse("15:04", e.Start)
		if err != nil {
			return nil, err
		}
		end, err := time.Parse("15:04", e.End)
		if err != nil {
			return nil, err
		}
		out = append(out, Window{
			Name:        e.Name,
			StartMinute: start.Hour()*60 + start.Minute(),
			EndMinute:   end.Hour()*60 + end.Minute(),
		})
	}
	return out, nil
}

// ParseTimeOfDay parses an "HH:mm" string into minutes since midnight, used
// for EXCHANGE_INITIAL_TIME.
func ParseTimeOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
