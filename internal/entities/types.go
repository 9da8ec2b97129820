// Package entities implements the domain objects that ride the lifecycle
// kernel: exchanges, the stocks and AI traders they own, and the
// random-walk price generator that drives per-tick series writes.
package entities

import "github.com/aristath/simcore/internal/kernel"

// RiskProfile classifies an AITraderInstance's advisory posture.
type RiskProfile int

const (
	Conservative RiskProfile = iota
	Moderate
	Aggressive
)

func (r RiskProfile) String() string {
	switch r {
	case Conservative:
		return "Conservative"
	case Moderate:
		return "Moderate"
	case Aggressive:
		return "Aggressive"
	default:
		return "Unknown"
	}
}

// StockConfig seeds a new StockInstance.
type StockConfig struct {
	Symbol      string
	CompanyName string
	Category    string
	IssuePrice  float64
	TotalShares int64

	PriceVolatility  float64 // default 0.01
	VolumeVolatility float64 // default 0.5
	BaseVolume       float64 // default 1000
	EmitPeriodMs     int64   // default 1000
}

// TraderConfig seeds a new AITraderInstance.
type TraderConfig struct {
	Name           string
	InitialCapital float64
	RiskProfile    RiskProfile
	// WatchedSeriesID, if set, is the price series this trader observes for
	// its advisory SMA logging.
	WatchedSeriesID string
}

// isAlive reports whether id is known to k and not already Destroying or
// Destroyed. Children keep their parent exchange's id alongside their
// pointer to it and check its state through the kernel, so this is how they
// observe its destruction.
func isAlive(k *kernel.Kernel, id kernel.ObjectID) bool {
	st, ok := k.StateOf(id)
	if !ok {
		return false
	}
	return st != kernel.StateDestroying && st != kernel.StateDestroyed
}
