package vr

import (
	"math"
	"math/rand"
	"testing"

	"github.com/gorgonia/vrbound/bound"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// gaussConf is a single latent layer with no hidden layers, small enough to recompute by hand.
func gaussConf(features, latents, n, k int, alpha float64) Config {
	return Config{
		Features:  features,
		BatchSize: n,
		Samples:   k,
		Alpha:     alpha,
		Encoder:   []LayerConfig{{Units: latents, Family: Gaussian}},
		Decoder:   []LayerConfig{{Units: features, Family: Gaussian}},
		Seed:      1337,
	}
}

func randBatch(r *rand.Rand, n, f int, binary bool) *tensor.Dense {
	backing := make([]float64, n*f)
	for i := range backing {
		if binary {
			if r.Float64() < 0.5 {
				backing[i] = 1
			}
			continue
		}
		backing[i] = r.NormFloat64()
	}
	return tensor.New(tensor.WithShape(n, f), tensor.WithBacking(backing))
}

func paramsByName(nodes G.Nodes) map[string][]float64 {
	retVal := make(map[string][]float64)
	for _, n := range nodes {
		retVal[n.Name()] = n.Value().Data().([]float64)
	}
	return retVal
}

// referenceLogF recomputes logF for gaussConf models, drawing noise the way a freshly
// seeded Sampler does.
func referenceLogF(conf Config, params map[string][]float64, batch []float64) []float64 {
	F, D := conf.Features, conf.Encoder[0].Units
	N, K := conf.BatchSize, conf.Samples
	r := rand.New(rand.NewSource(conf.Seed))

	// affine computes x·W + b for row vector x and W of shape (in, out)
	affine := func(x, w, b []float64, out int) []float64 {
		retVal := make([]float64, out)
		for j := 0; j < out; j++ {
			retVal[j] = b[j]
			for i := range x {
				retVal[j] += x[i] * w[i*out+j]
			}
		}
		return retVal
	}
	logN := func(x, mu, logStd float64) float64 {
		return distuv.Normal{Mu: mu, Sigma: math.Exp(logStd)}.LogProb(x)
	}

	logF := make([]float64, N*K)
	for i := 0; i < K; i++ {
		for n := 0; n < N; n++ {
			x := batch[n*F : (n+1)*F]
			mu := affine(x, params["enc0_mu_w"], params["enc0_mu_b"], D)
			ls := affine(x, params["enc0_logstd_w"], params["enc0_logstd_b"], D)
			z := make([]float64, D)
			var logq, logpz float64
			for d := range z {
				z[d] = mu[d] + math.Exp(ls[d])*r.NormFloat64()
				logq += logN(z[d], mu[d], ls[d])
				logpz += logN(z[d], 0, 0)
			}
			muX := affine(z, params["dec0_mu_w"], params["dec0_mu_b"], F)
			lsX := affine(z, params["dec0_logstd_w"], params["dec0_logstd_b"], F)
			var logpx float64
			for f := range x {
				logpx += logN(x[f], muX[f], lsX[f])
			}
			logF[i*N+n] = logpz + logpx - logq
		}
	}
	return logF
}

func TestModelParams(t *testing.T) {
	conf := DefaultConf(6, 4, 2)
	conf.BatchSize, conf.Samples = 3, 2
	m := New(conf)
	require.NoError(t, m.Init())

	params := m.Params()
	// enc0: h0, mu, logstd. enc1: h0, mu, logstd. dec0: h0, mu, logstd. dec1: h0, logits.
	assert.Len(t, params, 2*(3+3+3+2))
	names := make(map[string]bool)
	for _, p := range params {
		assert.False(t, names[p.Name()], "duplicate parameter %v", p.Name())
		names[p.Name()] = true
		assert.NotNil(t, p.Value())
	}
	assert.True(t, names["enc0_mu_w"])
	assert.True(t, names["dec1_logits_b"])
	assert.False(t, names["dec1_logstd_w"])

	// same seed, same initial values
	m2 := New(conf)
	require.NoError(t, m2.Init())
	for i, p := range m2.Params() {
		assert.Equal(t, params[i].Name(), p.Name())
		assert.Equal(t, params[i].Value().Data(), p.Value().Data())
	}

	assert.NotNil(t, m.Graph())
	assert.Len(t, m.noiseTensors(), 2)
	assert.Equal(t, tensor.Shape{6, 4}, m.encoder[0].Noise().Shape())
	assert.Equal(t, tensor.Shape{6, 2}, m.encoder[1].Noise().Shape())
}

func TestModelFixedStd(t *testing.T) {
	std := 0.3
	conf := gaussConf(3, 2, 2, 2, 0)
	conf.Decoder[0].FixedStd = &std
	m := New(conf)
	require.NoError(t, m.Init())
	for _, p := range m.Params() {
		assert.NotEqual(t, "dec0_logstd_w", p.Name())
	}
	assert.Len(t, m.Params(), 6)
}

func TestBernoulliCannotSample(t *testing.T) {
	g := G.NewGraph()
	layer, err := newLayer(g, "b", 3, 4, LayerConfig{Units: 2, Family: Bernoulli}, G.GlorotN(1))
	require.NoError(t, err)
	x := G.NewMatrix(g, Float, G.WithShape(4, 3), G.WithName("x"))

	_, _, err = layer.EncodeAndLogProb(x, nil)
	require.Error(t, err)
	assert.True(t, bound.IsInvalidConfiguration(err))

	_, err = layer.Mean()
	assert.Error(t, err, "nothing has been scored yet")
	assert.Nil(t, layer.Noise())
}

func TestEvaluatorMatchesReference(t *testing.T) {
	conf := gaussConf(3, 2, 2, 4, 0)
	e, err := NewEvaluator(conf)
	require.NoError(t, err)
	defer e.Close()

	batch := randBatch(rand.New(rand.NewSource(1)), 2, 3, false)
	want := referenceLogF(conf, paramsByName(e.model.Params()), batch.Data().([]float64))

	logF, err := e.LogWeights(batch)
	require.NoError(t, err)
	require.Len(t, logF, 8)
	for i := range want {
		assert.InDelta(t, want[i], logF[i], 1e-6, "row %d", i)
	}

	score, err := e.Score(batch)
	require.NoError(t, err)
	assert.InDelta(t, floats.Sum(want)/8, score, 1e-6)

	// the K=4 importance weighted bound: mean over n of logsumexp_i logF - log K
	var iw float64
	for n := 0; n < 2; n++ {
		col := []float64{want[n], want[2+n], want[4+n], want[6+n]}
		iw += floats.LogSumExp(col) - math.Log(4)
	}
	iw /= 2
	got, err := e.ImportanceWeighted(batch)
	require.NoError(t, err)
	assert.InDelta(t, iw, got, 1e-6)
	assert.True(t, got >= score-1e-9, "the importance weighted bound is never below the ELBO")
}

func TestEvaluatorIsDeterministic(t *testing.T) {
	conf := DefaultConf(6, 3)
	conf.BatchSize, conf.Samples = 4, 3
	batch := randBatch(rand.New(rand.NewSource(2)), 4, 6, true)

	e, err := NewEvaluator(conf)
	require.NoError(t, err)
	defer e.Close()
	a, err := e.Score(batch)
	require.NoError(t, err)
	b, err := e.Score(batch)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	e2, err := NewEvaluator(conf)
	require.NoError(t, err)
	defer e2.Close()
	c, err := e2.Score(batch)
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.False(t, math.IsNaN(a) || math.IsInf(a, 0))
}

func TestEvaluatorSeed(t *testing.T) {
	conf := gaussConf(3, 2, 4, 3, 0)
	batch := randBatch(rand.New(rand.NewSource(5)), 4, 3, false)
	e, err := NewEvaluator(conf)
	require.NoError(t, err)
	defer e.Close()

	a, err := e.LogWeights(batch)
	require.NoError(t, err)
	e.Seed(conf.Seed + 1)
	b, err := e.LogWeights(batch)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	e.Seed(conf.Seed)
	c, err := e.LogWeights(batch)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestEvaluatorReconstruct(t *testing.T) {
	conf := DefaultConf(6, 3)
	conf.BatchSize, conf.Samples = 4, 2
	e, err := NewEvaluator(conf)
	require.NoError(t, err)
	defer e.Close()

	recon, err := e.Reconstruct(randBatch(rand.New(rand.NewSource(3)), 4, 6, true))
	require.NoError(t, err)
	require.Len(t, recon, 4)
	for _, row := range recon {
		require.Len(t, row, 6)
		for _, p := range row {
			assert.True(t, p > 0 && p < 1, "%v is not a probability", p)
		}
	}
}

func TestEvaluatorShapeMismatch(t *testing.T) {
	conf := gaussConf(3, 2, 2, 4, 0)
	e, err := NewEvaluator(conf)
	require.NoError(t, err)
	defer e.Close()

	for _, batch := range []*tensor.Dense{
		nil,
		randBatch(rand.New(rand.NewSource(1)), 3, 3, false),
		randBatch(rand.New(rand.NewSource(1)), 2, 4, false),
		tensor.New(tensor.WithShape(6), tensor.Of(Float)),
	} {
		_, err := e.Score(batch)
		require.Error(t, err)
		assert.True(t, bound.IsShapeMismatch(err), "%v", err)
	}
}
