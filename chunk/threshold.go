// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunk

import (
	"fmt"
	"math"
	"sort"
)

// ThresholdType selects how the split threshold is derived from the
// distances between adjacent sentence windows.
type ThresholdType string

const (
	// Percentile splits where the distance exceeds the given percentile.
	Percentile ThresholdType = "percentile"
	// StandardDeviation splits where the distance exceeds mean + k·σ.
	StandardDeviation ThresholdType = "standard_deviation"
	// Interquartile splits where the distance exceeds mean + k·IQR.
	Interquartile ThresholdType = "interquartile"
)

// DefaultAmount returns the threshold amount used when none is configured.
func (t ThresholdType) DefaultAmount() float64 {
	switch t {
	case StandardDeviation:
		return 3
	case Interquartile:
		return 1.5
	default:
		return 95
	}
}

func (t ThresholdType) valid() bool {
	return t == Percentile || t == StandardDeviation || t == Interquartile
}

// Threshold computes the split threshold for distances.
func Threshold(t ThresholdType, amount float64, distances []float64) (float64, error) {
	if len(distances) == 0 {
		return 0, nil
	}
	switch t {
	case Percentile:
		return percentile(distances, amount), nil
	case StandardDeviation:
		mean, std := meanStd(distances)
		return mean + amount*std, nil
	case Interquartile:
		mean, _ := meanStd(distances)
		iqr := percentile(distances, 75) - percentile(distances, 25)
		return mean + amount*iqr, nil
	default:
		return 0, fmt.Errorf("%w: unknown threshold type %q", ErrInvalidConfig, t)
	}
}

// percentile interpolates linearly between the closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func meanStd(values []float64) (mean, std float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(std / float64(len(values)))
}

// breakpoints returns, in ascending order, the indices i after which the
// text is split: distances[i] above threshold.
func breakpoints(distances []float64, threshold float64) []int {
	var out []int
	for i, d := range distances {
		if d > threshold {
			out = append(out, i)
		}
	}
	return out
}

// largest returns, in ascending order, the indices of the k largest
// distances. Ties favour earlier indices.
func largest(distances []float64, k int) []int {
	if k <= 0 {
		return nil
	}
	idx := make([]int, len(distances))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return distances[idx[a]] > distances[idx[b]]
	})
	if k > len(idx) {
		k = len(idx)
	}
	out := idx[:k]
	sort.Ints(out)
	return out
}
