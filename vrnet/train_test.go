package vr

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/gorgonia/vrbound/bound"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
)

func TestTrainerCompute(t *testing.T) {
	conf := DefaultConf(6, 4, 2)
	conf.BatchSize, conf.Samples, conf.Alpha = 3, 8, 0.5
	tr, err := NewTrainer(conf)
	require.NoError(t, err)
	defer tr.Close()

	res, err := tr.Compute(randBatch(rand.New(rand.NewSource(1)), 3, 6, true))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(res.Bound) || math.IsInf(res.Bound, 0))
	require.Len(t, res.LogF, 24)
	require.Len(t, res.Weights, 24)
	for n := 0; n < 3; n++ {
		var sum float64
		for i := 0; i < 8; i++ {
			sum += res.Weights[i*3+n]
		}
		assert.InDelta(t, 1, sum, 1e-9)
	}

	params := tr.Params()
	require.Len(t, res.Grads, len(params))
	for i, p := range params {
		assert.Equal(t, p.Shape(), res.Grads[i].Shape(), "gradient of %v", p.Name())
		for _, g := range res.Grads[i].Data().([]float64) {
			require.False(t, math.IsNaN(g), "gradient of %v", p.Name())
		}
	}
	assert.Empty(t, tr.ExecLog())
}

// With a single sample every weight is 1 and every alpha gives the plain bound.
func TestTrainerSingleSample(t *testing.T) {
	for _, alpha := range []float64{-1, 0, 0.5, 1, 2} {
		conf := gaussConf(3, 2, 4, 1, alpha)
		batch := randBatch(rand.New(rand.NewSource(4)), 4, 3, false)

		tr, err := NewTrainer(conf)
		require.NoError(t, err)
		res, err := tr.Compute(batch)
		require.NoError(t, err)

		e, err := tr.Evaluator(4, 1)
		require.NoError(t, err)
		score, err := e.Score(batch)
		require.NoError(t, err)

		assert.InDelta(t, score, res.Bound, 1e-9, "alpha %v", alpha)
		for _, w := range res.Weights {
			assert.InDelta(t, 1, w, 1e-12)
		}
		e.Close()
		tr.Close()
	}
}

// The first step of a trainer draws the same noise as a freshly seeded evaluator, so at
// alpha 0 both must agree on the importance weighted bound.
func TestTrainerMatchesEvaluator(t *testing.T) {
	conf := gaussConf(3, 2, 2, 4, 0)
	batch := randBatch(rand.New(rand.NewSource(1)), 2, 3, false)

	tr, err := NewTrainer(conf)
	require.NoError(t, err)
	defer tr.Close()
	e, err := tr.Evaluator(2, 4)
	require.NoError(t, err)
	defer e.Close()

	want := referenceLogF(conf, paramsByName(tr.Params()), batch.Data().([]float64))
	res, err := tr.Compute(batch)
	require.NoError(t, err)
	for i := range want {
		assert.InDelta(t, want[i], res.LogF[i], 1e-6, "row %d", i)
	}

	iw, err := e.ImportanceWeighted(batch)
	require.NoError(t, err)
	assert.InDelta(t, iw, res.Bound, 1e-9)
}

// The gradient of -Σ logF·w is -N times the gradient of the bound itself.
func TestTrainerGradient(t *testing.T) {
	const n, k = 2, 3
	for _, alpha := range []float64{0, 0.5, -1} {
		conf := gaussConf(3, 2, n, k, alpha)
		batch := randBatch(rand.New(rand.NewSource(5)), n, 3, false)

		tr, err := NewTrainer(conf)
		require.NoError(t, err)
		res, err := tr.Compute(batch)
		require.NoError(t, err)

		e, err := tr.Evaluator(n, k)
		require.NoError(t, err)

		for j, p := range e.model.Params() {
			value := p.Value().Data().([]float64)
			x := append([]float64(nil), value...)
			f := func(v []float64) float64 {
				copy(value, v)
				logF, err := e.LogWeights(batch)
				require.NoError(t, err)
				est, err := bound.Reduce(logF, k, n, alpha)
				require.NoError(t, err)
				return est.Bound
			}
			numeric := fd.Gradient(nil, f, x, &fd.Settings{Formula: fd.Central})
			copy(value, x)
			floats.Scale(-n, numeric)

			got := res.Grads[j].Data().([]float64)
			for i := range got {
				tol := 1e-4 * math.Max(1, math.Abs(numeric[i]))
				assert.InDelta(t, numeric[i], got[i], tol, "alpha %v: d/d%v[%d]", alpha, p.Name(), i)
			}
		}
		e.Close()
		tr.Close()
	}
}

func TestTrainerUpdate(t *testing.T) {
	conf := gaussConf(4, 2, 4, 5, 0)
	batch := randBatch(rand.New(rand.NewSource(6)), 4, 4, false)

	tr, err := NewTrainer(conf)
	require.NoError(t, err)
	defer tr.Close()
	e, err := tr.Evaluator(4, 5)
	require.NoError(t, err)
	defer e.Close()

	before, err := e.ImportanceWeighted(batch)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		b, err := tr.Update(batch, 0.01)
		require.NoError(t, err)
		require.False(t, math.IsNaN(b), "step %d", i)
	}
	require.NoError(t, e.Sync(tr))
	after, err := e.ImportanceWeighted(batch)
	require.NoError(t, err)
	assert.True(t, after > before, "bound went from %v to %v", before, after)
}

func TestTrainerShapeMismatch(t *testing.T) {
	tr, err := NewTrainer(gaussConf(3, 2, 2, 2, 0))
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Update(randBatch(rand.New(rand.NewSource(1)), 3, 3, false), DefaultLearnRate)
	require.Error(t, err)
	assert.True(t, bound.IsShapeMismatch(err))

	_, err = tr.Compute(nil)
	assert.True(t, bound.IsShapeMismatch(err))
}

// A bad learning rate is refused before anything moves.
func TestTrainerLearnRate(t *testing.T) {
	tr, err := NewTrainer(gaussConf(3, 2, 2, 2, 0))
	require.NoError(t, err)
	defer tr.Close()
	batch := randBatch(rand.New(rand.NewSource(1)), 2, 3, false)
	before := paramsByName(tr.Params())
	for name, v := range before {
		before[name] = append([]float64(nil), v...)
	}

	for _, lr := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0, -0.01} {
		_, err = tr.Update(batch, lr)
		require.Error(t, err, "learn rate %v", lr)
		assert.True(t, bound.IsInvalidConfiguration(err), "learn rate %v", lr)
	}
	assert.Equal(t, before, paramsByName(tr.Params()))

	lb, err := tr.Update(batch, DefaultLearnRate)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(lb))
	assert.NotEqual(t, before, paramsByName(tr.Params()))
}

// Updates and syncs may interleave; a sync never sees a half applied step.
func TestTrainerConcurrentSync(t *testing.T) {
	conf := gaussConf(3, 2, 2, 2, 0.5)
	tr, err := NewTrainer(conf)
	require.NoError(t, err)
	defer tr.Close()
	e, err := tr.Evaluator(2, 2)
	require.NoError(t, err)
	defer e.Close()

	batch := randBatch(rand.New(rand.NewSource(7)), 2, 3, false)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := tr.Update(batch, DefaultLearnRate); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	for i := 0; i < 20; i++ {
		require.NoError(t, e.Sync(tr))
	}
	wg.Wait()

	require.NoError(t, e.Sync(tr))
	for i, p := range e.model.Params() {
		assert.Equal(t, tr.Params()[i].Value().Data(), p.Value().Data())
	}
}
