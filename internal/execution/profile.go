package execution

import (
	"context"
	"math"
	"time"

	"tradewind/internal/store"
)

// DefaultIntradayProfile returns a U-shaped volume profile over n slices,
// heavier at the open and the close the way equity volume typically
// distributes. Weights sum to 1.
func DefaultIntradayProfile(n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{1}
	}
	weights := make([]float64, n)
	for i := range weights {
		// x in [-1, 1] across the day; parabola lifts the edges.
		x := 2*float64(i)/float64(n-1) - 1
		weights[i] = 1 + 1.5*x*x
	}
	return Normalize(weights)
}

// ProfileFromVolumes buckets an intraday volume curve into n slice weights.
// Points are assumed oldest first.
func ProfileFromVolumes(points []store.VolumePoint, n int) []float64 {
	if n <= 0 || len(points) == 0 {
		return nil
	}
	weights := make([]float64, n)
	for i, p := range points {
		bucket := i * n / len(points)
		if bucket >= n {
			bucket = n - 1
		}
		weights[bucket] += p.Volume
	}
	return Normalize(weights)
}

// HistoricalProfile averages the stored volume curves for the given days
// into a single n-slice profile. Days with no stored curve are skipped;
// if none have data it returns nil so the caller can fall back to the
// default profile.
func HistoricalProfile(ctx context.Context, vs store.VolumeStore, symbol string, days []time.Time, n int) ([]float64, error) {
	sum := make([]float64, n)
	found := false
	for _, day := range days {
		points, err := vs.ReadCurve(ctx, symbol, day)
		if err != nil {
			return nil, err
		}
		profile := ProfileFromVolumes(points, n)
		if profile == nil {
			continue
		}
		found = true
		for i, w := range profile {
			sum[i] += w
		}
	}
	if !found {
		return nil, nil
	}
	return Normalize(sum), nil
}

// Normalize scales weights to sum to 1, dropping negative entries to zero.
// A curve with no positive weight normalizes to nil.
func Normalize(weights []float64) []float64 {
	total := 0.0
	out := make([]float64, len(weights))
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) {
			w = 0
		}
		out[i] = w
		total += w
	}
	if total <= 0 {
		return nil
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// SliceTargets splits a total quantity across weighted slices. The last
// slice absorbs rounding residue so the targets always sum exactly to the
// total.
func SliceTargets(total float64, weights []float64) []float64 {
	n := len(weights)
	if n == 0 || total <= 0 {
		return nil
	}
	targets := make([]float64, n)
	allocated := 0.0
	for i := 0; i < n-1; i++ {
		targets[i] = total * weights[i]
		allocated += targets[i]
	}
	targets[n-1] = total - allocated
	return targets
}
