package similarity

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"walnut-pair/internal/reduce"
)

var (
	ErrDimensionMismatch = errors.New("reduced vectors differ in length")
	ErrDuplicateID       = errors.New("duplicate walnut id")
)

// Record is one scored unordered pair. A sorts before B.
type Record struct {
	A      string  `json:"a"`
	B      string  `json:"b"`
	Score  float64 `json:"score"`
	Metric Metric  `json:"-"`
}

// Key returns "A--B".
func (r Record) Key() string { return r.A + "--" + r.B }

// Params configures Rank.
type Params struct {
	Metric Metric
	TopK   int // 0 returns every pair

	// Exclusive keeps a pair only if neither walnut appears in a
	// higher-ranked kept pair.
	Exclusive bool

	// Clusters > 1 enables k-means blocking: only walnuts that land in the
	// same cluster are compared.
	Clusters   int
	Iterations int // k-means iterations; 0 uses 10

	Ridge   float64 // Mahalanobis covariance ridge relative to mean variance
	Workers int     // Row-block workers; 0 uses runtime.NumCPU()
}

// DefaultParams returns cosine similarity and the top 30 pairs.
func DefaultParams() Params {
	return Params{
		Metric: Cosine,
		TopK:   30,
		Ridge:  1e-3,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.Metric < Cosine || p.Metric > Mahalanobis {
		return fmt.Errorf("unknown metric %v", p.Metric)
	}
	if p.TopK < 0 {
		return fmt.Errorf("topk %d must not be negative", p.TopK)
	}
	if p.Clusters < 0 || p.Iterations < 0 {
		return fmt.Errorf("cluster settings must not be negative")
	}
	if !(p.Ridge >= 0) || math.IsInf(p.Ridge, 1) {
		return fmt.Errorf("ridge %g must be finite and non-negative", p.Ridge)
	}
	return nil
}

// Rank scores every unordered pair and returns them ordered by score
// descending, then by (A, B) ascending, truncated to TopK.
// Fewer than two walnuts yield an empty ranking.
func Rank(reduced []reduce.Reduced, params Params) ([]Record, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	n := len(reduced)
	if n < 2 {
		return []Record{}, nil
	}

	rows := make([][]float64, n)
	seen := make(map[string]bool, n)
	d := len(reduced[0].Values)
	if d == 0 {
		return nil, fmt.Errorf("walnut %s: empty vector", reduced[0].ID)
	}
	for i, r := range reduced {
		if len(r.Values) != d {
			return nil, fmt.Errorf("walnut %s has %d values, want %d: %w", r.ID, len(r.Values), d, ErrDimensionMismatch)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%s: %w", r.ID, ErrDuplicateID)
		}
		seen[r.ID] = true
		rows[i] = r.Values
	}

	var score scorer
	switch params.Metric {
	case Euclidean:
		score = EuclideanScore
	case Mahalanobis:
		s, err := mahalanobisScorer(rows, params.Ridge)
		if err != nil {
			return nil, err
		}
		score = s
	default:
		score = CosineScore
	}

	var block []int
	if params.Clusters > 1 {
		ids := make([]string, n)
		for i, r := range reduced {
			ids[i] = r.ID
		}
		block = KMeans(ids, rows, params.Clusters, params.Iterations)
	}

	records := scoreAll(reduced, rows, score, block, params)
	sortRecords(records)

	if params.Exclusive {
		records = exclusive(records)
	}
	if params.TopK > 0 && len(records) > params.TopK {
		records = records[:params.TopK]
	}
	return records, nil
}

// scoreAll splits rows across workers; each row i scores every j > i.
func scoreAll(reduced []reduce.Reduced, rows [][]float64, score scorer, block []int, params Params) []Record {
	n := len(rows)
	workers := params.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, n-1)

	perRow := make([][]Record, n)
	next := make(chan int, n)
	for i := 0; i < n-1; i++ {
		next <- i
	}
	close(next)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				var out []Record
				for j := i + 1; j < n; j++ {
					if block != nil && block[i] != block[j] {
						continue
					}
					a, b := reduced[i].ID, reduced[j].ID
					if b < a {
						a, b = b, a
					}
					out = append(out, Record{A: a, B: b, Score: score(rows[i], rows[j]), Metric: params.Metric})
				}
				perRow[i] = out
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, r := range perRow {
		total += len(r)
	}
	records := make([]Record, 0, total)
	for _, r := range perRow {
		records = append(records, r...)
	}
	return records
}

func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := records[i], records[j]
		if ri.Score != rj.Score {
			return ri.Score > rj.Score
		}
		if ri.A != rj.A {
			return ri.A < rj.A
		}
		return ri.B < rj.B
	})
}

// exclusive greedily keeps the best pair for each walnut.
func exclusive(sorted []Record) []Record {
	used := make(map[string]bool)
	var out []Record
	for _, r := range sorted {
		if used[r.A] || used[r.B] {
			continue
		}
		used[r.A] = true
		used[r.B] = true
		out = append(out, r)
	}
	if out == nil {
		out = []Record{}
	}
	return out
}
