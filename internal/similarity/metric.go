// Package similarity scores and ranks pairs of reduced walnut vectors.
package similarity

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Metric selects the pair scoring function. Higher scores are more similar.
type Metric int

const (
	Cosine      Metric = iota // Cosine similarity in [-1, 1]
	Euclidean                 // 1/(1+d) in (0, 1]
	Mahalanobis               // 1/(1+d_M) under the corpus covariance
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Euclidean:
		return "euclidean"
	case Mahalanobis:
		return "mahalanobis"
	}
	return fmt.Sprintf("Metric(%d)", int(m))
}

// ParseMetric parses a metric name.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine":
		return Cosine, nil
	case "euclidean", "l2":
		return Euclidean, nil
	case "mahalanobis":
		return Mahalanobis, nil
	}
	return 0, fmt.Errorf("unknown similarity metric %q", s)
}

// CosineScore returns the cosine similarity of a and b. Equal vectors score
// 1, zero vectors included; otherwise a zero vector is maximally dissimilar
// and scores -1.
func CosineScore(a, b []float64) float64 {
	if floats.Equal(a, b) {
		return 1
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return -1
	}
	s := floats.Dot(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, s))
}

// EuclideanScore maps Euclidean distance to (0, 1].
func EuclideanScore(a, b []float64) float64 {
	return 1 / (1 + floats.Distance(a, b, 2))
}

// scorer scores two rows of the corpus.
type scorer func(a, b []float64) float64

// mahalanobisScorer fits a ridge-regularized covariance on the corpus rows.
// The ridge is relative to the mean variance so it scales with the data.
func mahalanobisScorer(rows [][]float64, ridge float64) (scorer, error) {
	n, d := len(rows), len(rows[0])
	x := mat.NewDense(n, d, nil)
	for i, r := range rows {
		x.SetRow(i, r)
	}

	cov := mat.NewSymDense(d, nil)
	if n > 1 {
		stat.CovarianceMatrix(cov, x, nil)
	}

	var trace float64
	for i := 0; i < d; i++ {
		trace += cov.At(i, i)
	}
	lambda := ridge
	if trace > 0 {
		lambda = ridge * trace / float64(d)
	}
	if lambda <= 0 {
		lambda = 1e-9
	}
	for i := 0; i < d; i++ {
		cov.SetSym(i, i, cov.At(i, i)+lambda)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, fmt.Errorf("covariance is not positive definite")
	}

	return func(a, b []float64) float64 {
		dist := stat.Mahalanobis(mat.NewVecDense(d, a), mat.NewVecDense(d, b), &chol)
		if math.IsNaN(dist) {
			return 0
		}
		return 1 / (1 + dist)
	}, nil
}
