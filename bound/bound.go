// Package bound reduces per-sample log-weights into the alpha-divergence importance
// weighted lower bound and the self-normalized importance weights used to build its
// gradient.
//
// All (samples × batch) quantities share one layout: the batch is tiled K times along the
// row axis, so row i·N+n holds sample i of observation n. Viewed as a (K, N) matrix, row i
// is the i-th sample of every observation and column n is every sample of observation n.
package bound

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
)

const (
	// VanillaTol is how close alpha has to be to 1 for the bound to fall back to the
	// mean log-weight.
	VanillaTol = 1e-2

	// normalizerFloor keeps the per-observation normalizer away from log(0).
	normalizerFloor = 1e-9
)

// Estimate is the outcome of reducing one batch of log-weights.
type Estimate struct {
	Bound float64

	// Max and Normalizer are per observation (length N). Normalizer is the natural log
	// of the sum of the max-shifted exponentials; log K has not been subtracted.
	Max        []float64
	Normalizer []float64

	// LogWeights and Weights are per row (length N·K) in the tiled layout. The K weights
	// of an observation sum to 1.
	LogWeights []float64
	Weights    []float64
}

// Vanilla reports whether alpha is treated as the alpha = 1 limit.
func Vanilla(alpha float64) bool { return math.Abs(alpha-1) <= VanillaTol }

// ELBO is the plain Monte Carlo bound: the mean log-weight over every row.
func ELBO(logF []float64) float64 { return floats.Sum(logF) / float64(len(logF)) }

// Tile replicates an (N, F) batch k times along the batch axis, producing (N·k, F).
func Tile(batch *tensor.Dense, k int) (*tensor.Dense, error) {
	if k < 1 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "cannot tile with %d samples", k)
	}
	if batch.Dims() != 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "expected an (N, F) batch. Got %v", batch.Shape())
	}
	n, f := batch.Shape()[0], batch.Shape()[1]
	data, ok := batch.Data().([]float64)
	if !ok || len(data) != n*f {
		return nil, errors.Wrapf(ErrShapeMismatch, "batch of shape %v must be backed by %d float64s", batch.Shape(), n*f)
	}

	backing := make([]float64, k*n*f)
	for i := 0; i < k; i++ {
		copy(backing[i*n*f:], data)
	}
	return tensor.New(tensor.WithShape(k*n, f), tensor.WithBacking(backing)), nil
}

// Reduce turns the N·k log-weights logF into the alpha bound and its importance weights.
func Reduce(logF []float64, k, n int, alpha float64) (Estimate, error) {
	if err := checkArgs(k, n, alpha); err != nil {
		return Estimate{}, err
	}
	if len(logF) != k*n {
		return Estimate{}, errors.Wrapf(ErrShapeMismatch, "%d log-weights cannot be viewed as (%d, %d)", len(logF), k, n)
	}

	// scaled is reused in place: first (1-alpha)·logF, then max-shifted, then log weights.
	scaled := floats.ScaleTo(make([]float64, len(logF)), 1-alpha, logF)
	m, err := native.MatrixF64(tensor.New(tensor.WithShape(k, n), tensor.WithBacking(scaled)))
	if err != nil {
		return Estimate{}, errors.Wrapf(err, "unable to view log-weights as (%d, %d)", k, n)
	}

	est := Estimate{
		Max:        make([]float64, n),
		Normalizer: make([]float64, n),
		LogWeights: scaled,
		Weights:    make([]float64, len(scaled)),
	}
	col := make([]float64, k)
	for j := 0; j < n; j++ {
		for i := range m {
			col[i] = m[i][j]
		}
		max := floats.Max(col)

		// shift before exponentiating
		var sum float64
		for i := range m {
			m[i][j] -= max
			sum += math.Exp(m[i][j])
		}
		if sum < normalizerFloor {
			sum = normalizerFloor
		}
		est.Max[j] = max
		est.Normalizer[j] = math.Log(sum)
	}

	if Vanilla(alpha) {
		est.Bound = ELBO(logF)
	} else {
		logK := math.Log(float64(k))
		var acc float64
		for j := range est.Normalizer {
			acc += est.Normalizer[j] + est.Max[j] - logK
		}
		est.Bound = acc / float64(n) / (1 - alpha)
	}

	for i := range m {
		for j := range m[i] {
			m[i][j] -= est.Normalizer[j]
		}
	}
	for i, lw := range est.LogWeights {
		est.Weights[i] = math.Exp(lw)
	}
	return est, nil
}

func checkArgs(k, n int, alpha float64) error {
	switch {
	case k < 1:
		return errors.Wrapf(ErrInvalidConfiguration, "need at least one sample per observation. Got %d", k)
	case n < 1:
		return errors.Wrapf(ErrInvalidConfiguration, "need at least one observation. Got %d", n)
	case math.IsNaN(alpha) || math.IsInf(alpha, 0):
		return errors.Wrapf(ErrInvalidConfiguration, "alpha must be finite. Got %v", alpha)
	}
	return nil
}
