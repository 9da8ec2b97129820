package entities

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// describeWindow summarizes a price window for advisory logging. Returns
// zeros for an empty window.
func describeWindow(values []float64) (mean, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean = stat.Mean(values, nil)
	if len(values) > 1 {
		stdDev = math.Sqrt(stat.Variance(values, nil))
	}
	return mean, stdDev
}
