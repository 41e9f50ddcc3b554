// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package beamsearch

import "math"

// rankedBefore returns whether candidate a ranks before candidate b: higher score first, ties broken
// by the lowest index. NaN scores rank after every number.
func rankedBefore(scoreA float64, idxA int, scoreB float64, idxB int) bool {
	nanA, nanB := math.IsNaN(scoreA), math.IsNaN(scoreB)
	switch {
	case nanA != nanB:
		return nanB
	case nanA || scoreA == scoreB:
		return idxA < idxB
	default:
		return scoreA > scoreB
	}
}

// topK returns the indices of the k best scores, best first, using rankedBefore.
// k is clamped to len(scores).
//
// It is a partial insertion sort over a buffer of k elements: O(n*k), with k being the beam width.
func topK(scores []float64, k int) []int {
	k = min(k, len(scores))
	selected := make([]int, 0, k)
	if k == 0 {
		return selected
	}
	for idx, score := range scores {
		if len(selected) == k {
			last := selected[k-1]
			if !rankedBefore(score, idx, scores[last], last) {
				continue
			}
		}
		pos := len(selected)
		for pos > 0 && rankedBefore(score, idx, scores[selected[pos-1]], selected[pos-1]) {
			pos--
		}
		if len(selected) < k {
			selected = append(selected, 0)
		}
		copy(selected[pos+1:], selected[pos:len(selected)-1])
		selected[pos] = idx
	}
	return selected
}
