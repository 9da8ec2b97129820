package entities

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// walkSource draws the independent standard-uniform values the Box-Muller
// transform needs. Src is left unset so gonum's default source supplies
// the randomness; each stock owns its own walkSource.
type walkSource struct {
	uniform distuv.Uniform
}

func newWalkSource() *walkSource {
	return &walkSource{uniform: distuv.Uniform{Min: 1e-12, Max: 1}} // exclude 0 so log(u1) is finite
}

// standardNormal draws one N(0,1) sample via Box-Muller from two uniform
// (0,1] draws.
func (w *walkSource) standardNormal() float64 {
	u1 := w.uniform.Rand()
	u2 := w.uniform.Rand()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// nextPrice computes a new price via random walk: p' = max(0.01, p*(1 + vol*z)).
func nextPrice(price, volatility float64, z float64) float64 {
	p := price * (1 + volatility*z)
	if p < 0.01 {
		return 0.01
	}
	return p
}

// nextVolume computes a generated volume: max(1, floor(base*(1+vol*z))).
func nextVolume(base, volatility float64, z float64) float64 {
	v := math.Floor(base * (1 + volatility*z))
	if v < 1 {
		return 1
	}
	return v
}
