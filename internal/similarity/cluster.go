package similarity

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

const defaultIterations = 10

// KMeans assigns each row to one of k clusters and returns the assignment.
//
// Seeding is farthest-point in id order: the first center is the row with the
// smallest id, each next center the row farthest from all chosen centers
// (ties to the smaller id). The result depends only on the inputs.
func KMeans(ids []string, rows [][]float64, k, iterations int) []int {
	n := len(rows)
	assign := make([]int, n)
	if n == 0 || k <= 1 {
		return assign
	}
	k = min(k, n)
	if iterations <= 0 {
		iterations = defaultIterations
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return ids[order[a]] < ids[order[b]] })

	d := len(rows[0])
	centers := make([][]float64, 0, k)
	centers = append(centers, append([]float64(nil), rows[order[0]]...))
	nearest := make([]float64, n)
	for i := range rows {
		nearest[i] = floats.Distance(rows[i], centers[0], 2)
	}
	for len(centers) < k {
		best, bestDist := -1, -1.0
		for _, i := range order {
			if nearest[i] > bestDist {
				best, bestDist = i, nearest[i]
			}
		}
		c := append([]float64(nil), rows[best]...)
		centers = append(centers, c)
		for i := range rows {
			if dist := floats.Distance(rows[i], c, 2); dist < nearest[i] {
				nearest[i] = dist
			}
		}
	}

	counts := make([]int, k)
	for it := 0; it < iterations; it++ {
		changed := false
		for i, r := range rows {
			best, bestDist := 0, floats.Distance(r, centers[0], 2)
			for c := 1; c < k; c++ {
				if dist := floats.Distance(r, centers[c], 2); dist < bestDist {
					best, bestDist = c, dist
				}
			}
			if it == 0 || assign[i] != best {
				changed = true
			}
			assign[i] = best
		}
		if !changed {
			break
		}

		// Empty clusters keep their previous center.
		for c := range counts {
			counts[c] = 0
		}
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, d)
		}
		for i, r := range rows {
			floats.Add(sums[assign[i]], r)
			counts[assign[i]]++
		}
		for c := 0; c < k; c++ {
			if counts[c] > 0 {
				floats.ScaleTo(centers[c], 1/float64(counts[c]), sums[c])
			}
		}
	}
	return assign
}
