package vr

import (
	"bytes"
	"io"
	"log"
	"math"
	"sync"

	"github.com/gorgonia/vrbound/bound"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
)

// Adam hyperparameters.
const (
	DefaultLearnRate = 0.0005
	Beta1            = 0.9
	Beta2            = 0.999
	Epsilon          = 1e-7
)

// Result is the outcome of one bound computation.
type Result struct {
	Bound   float64
	LogF    []float64 // per row
	Weights []float64 // self-normalized importance weights, per row

	// Grads are the gradients of -Σ logF·ws, aligned with Params().
	Grads []*tensor.Dense
}

// Trainer computes the importance weighted bound and its gradient, and applies the
// gradient with Adam.
//
// The importance weights depend on the same forward pass they weight, so every step runs
// twice: a fwd only twin of the model produces logF, the weights are computed from it
// outside the graph, and the full model then runs with the weights bound as an input.
type Trainer struct {
	sync.Mutex

	model   *Model // full graph, with gradients
	twin    *Model // fwd only twin of model
	vm      G.VM
	twinVM  G.VM
	solver  *G.AdamSolver
	sampler *Sampler

	x     *tensor.Dense
	noise []*tensor.Dense
	ws    *tensor.Dense

	buf *bytes.Buffer
}

// NewTrainer builds and compiles the training graph described by conf.
func NewTrainer(conf Config) (*Trainer, error) {
	conf.FwdOnly = false
	model := New(conf)
	if err := model.Init(); err != nil {
		return nil, err
	}
	twinConf := conf
	twinConf.FwdOnly = true
	twin := New(twinConf)
	if err := twin.Init(); err != nil {
		return nil, err
	}

	retVal := &Trainer{
		model:   model,
		twin:    twin,
		sampler: NewSampler(conf.Seed),
		noise:   model.noiseTensors(),
		ws:      tensor.New(tensor.WithShape(conf.Rows()), tensor.Of(Float)),
		buf:     new(bytes.Buffer),
		solver: G.NewAdamSolver(
			G.WithLearnRate(DefaultLearnRate),
			G.WithBeta1(Beta1),
			G.WithBeta2(Beta2),
			G.WithEps(Epsilon),
		),
	}
	retVal.vm = newVM(model.g, conf.Debug, retVal.buf, G.BindDualValues(model.params...))
	retVal.twinVM = newVM(twin.g, conf.Debug, retVal.buf)
	return retVal, nil
}

func newVM(g *G.ExprGraph, debug bool, w io.Writer, opts ...G.VMOpt) G.VM {
	if debug {
		logger := log.New(w, "", 0)
		opts = append(opts,
			G.WithLogger(logger),
			G.WithWatchlist(),
			G.WithValueFmt("%+1.3v"),
			G.WithNaNWatch(),
		)
	}
	return G.NewTapeMachine(g, opts...)
}

// Config returns the configuration the trainer was built with.
func (t *Trainer) Config() Config { return t.model.Config }

// Params is the explicit list of trainable parameters the gradients are taken against.
func (t *Trainer) Params() G.Nodes { return t.model.Params() }

// Compute draws K samples per observation of batch and returns the bound, the
// importance weights and the gradients, without touching the parameters.
func (t *Trainer) Compute(batch *tensor.Dense) (Result, error) {
	t.Lock()
	defer t.Unlock()

	est, logF, err := t.step(batch)
	if err != nil {
		return Result{}, err
	}
	retVal := Result{
		Bound:   est.Bound,
		LogF:    logF,
		Weights: est.Weights,
		Grads:   make([]*tensor.Dense, len(t.model.params)),
	}
	for i, p := range t.model.params {
		grad, err := p.Grad()
		if err != nil {
			return Result{}, errors.Wrapf(err, "no gradient for %v", p.Name())
		}
		retVal.Grads[i] = grad.(*tensor.Dense).Clone().(*tensor.Dense)
	}
	return retVal, nil
}

// Update is one training step: it computes the bound on batch and moves the parameters
// along its gradient with the given learning rate. It returns the bound.
//
// The learning rate must be positive and finite; nothing is computed otherwise.
func (t *Trainer) Update(batch *tensor.Dense, learnRate float64) (float64, error) {
	if !(learnRate > 0) || math.IsInf(learnRate, 0) {
		return 0, errors.Wrapf(bound.ErrInvalidConfiguration, "learn rate must be positive and finite. Got %v", learnRate)
	}
	t.Lock()
	defer t.Unlock()

	est, _, err := t.step(batch)
	if err != nil {
		return 0, err
	}
	G.WithLearnRate(learnRate)(t.solver)
	if err := t.solver.Step(G.NodesToValueGrads(t.model.params)); err != nil {
		return 0, errors.WithStack(err)
	}
	return est.Bound, nil
}

func (t *Trainer) step(batch *tensor.Dense) (bound.Estimate, []float64, error) {
	conf := t.model.Config
	if err := checkBatch(batch, conf.BatchSize, conf.Features); err != nil {
		return bound.Estimate{}, nil, err
	}
	x, err := bound.Tile(batch, conf.Samples)
	if err != nil {
		return bound.Estimate{}, nil, err
	}
	t.x = x
	for _, n := range t.noise {
		t.sampler.Fill(n)
	}

	logF, err := t.forward()
	if err != nil {
		return bound.Estimate{}, nil, err
	}
	est, err := bound.Reduce(logF, conf.Samples, conf.BatchSize, conf.Alpha)
	if err != nil {
		return bound.Estimate{}, nil, err
	}
	copy(t.ws.Data().([]float64), est.Weights)
	if err = t.backward(); err != nil {
		return bound.Estimate{}, nil, err
	}
	return est, logF, nil
}

// forward runs the fwd only twin on the current inputs and returns logF.
func (t *Trainer) forward() ([]float64, error) {
	if err := copyValues(t.twin.params, t.model.params); err != nil {
		return nil, err
	}
	if err := t.twin.let(t.x, t.noise, nil); err != nil {
		return nil, err
	}
	t.twinVM.Reset()
	if err := t.twinVM.RunAll(); err != nil {
		return nil, errors.WithStack(err)
	}
	return t.twin.logWeights()
}

// backward runs the full graph with the importance weights bound.
func (t *Trainer) backward() error {
	if err := t.model.let(t.x, t.noise, t.ws); err != nil {
		return err
	}
	t.vm.Reset()
	if err := t.vm.RunAll(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Evaluator returns a fwd only model over batches of n observations with k samples each,
// holding a copy of the current parameters.
func (t *Trainer) Evaluator(n, k int) (*Evaluator, error) {
	conf := t.model.Config
	conf.BatchSize = n
	conf.Samples = k
	e, err := NewEvaluator(conf)
	if err != nil {
		return nil, err
	}
	if err = e.Sync(t); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// ExecLog returns the VM log. It is empty unless the Config had Debug set.
func (t *Trainer) ExecLog() string { return t.buf.String() }

// Close implements a closer, because well, a gorgonia VM is a resource.
func (t *Trainer) Close() error {
	var allErrs manyErr
	for _, vm := range []G.VM{t.vm, t.twinVM} {
		if err := vm.Close(); err != nil {
			allErrs = append(allErrs, err)
		}
	}
	if len(allErrs) > 0 {
		return allErrs
	}
	return nil
}

// Evaluator scores batches without any gradient machinery.
//
// Noise is redrawn from the evaluator's seed on every call, so scoring the same batch with
// the same parameters gives the same number. The seed starts as the configured one.
type Evaluator struct {
	model   *Model
	vm      G.VM
	sampler *Sampler
	noise   []*tensor.Dense
	seed    int64
}

// NewEvaluator builds a fwd only graph for conf. Its parameters are freshly initialised;
// use Sync to load a trainer's.
func NewEvaluator(conf Config) (*Evaluator, error) {
	conf.FwdOnly = true
	model := New(conf)
	if err := model.Init(); err != nil {
		return nil, err
	}
	return &Evaluator{
		model:   model,
		vm:      newVM(model.g, false, nil),
		sampler: NewSampler(conf.Seed),
		noise:   model.noiseTensors(),
		seed:    conf.Seed,
	}, nil
}

// Config returns the configuration of the evaluation graph.
func (e *Evaluator) Config() Config { return e.model.Config }

// Seed sets the seed the noise of subsequent calls is drawn from.
func (e *Evaluator) Seed(seed int64) { e.seed = seed }

// Sync copies the trainer's current parameters. The trainer is locked while copying so
// no half-applied update is seen.
func (e *Evaluator) Sync(t *Trainer) error {
	t.Lock()
	defer t.Unlock()
	return copyValues(e.model.params, t.model.params)
}

// LogWeights returns logF for every row of the replicated batch.
func (e *Evaluator) LogWeights(batch *tensor.Dense) ([]float64, error) {
	conf := e.model.Config
	if err := checkBatch(batch, conf.BatchSize, conf.Features); err != nil {
		return nil, err
	}
	x, err := bound.Tile(batch, conf.Samples)
	if err != nil {
		return nil, err
	}
	e.sampler.Reseed(e.seed)
	for _, n := range e.noise {
		e.sampler.Fill(n)
	}
	if err = e.model.let(x, e.noise, nil); err != nil {
		return nil, err
	}
	e.vm.Reset()
	if err = e.vm.RunAll(); err != nil {
		return nil, errors.WithStack(err)
	}
	return e.model.logWeights()
}

// Score is the plain variational bound of batch: the mean log-weight.
func (e *Evaluator) Score(batch *tensor.Dense) (float64, error) {
	logF, err := e.LogWeights(batch)
	if err != nil {
		return 0, err
	}
	return bound.ELBO(logF), nil
}

// ImportanceWeighted is the K-sample importance weighted bound of batch (alpha 0).
func (e *Evaluator) ImportanceWeighted(batch *tensor.Dense) (float64, error) {
	logF, err := e.LogWeights(batch)
	if err != nil {
		return 0, err
	}
	conf := e.model.Config
	est, err := bound.Reduce(logF, conf.Samples, conf.BatchSize, 0)
	if err != nil {
		return 0, err
	}
	return est.Bound, nil
}

// Reconstruct returns the decoder's output means for the first sample of every
// observation in batch, one row per observation.
func (e *Evaluator) Reconstruct(batch *tensor.Dense) ([][]float64, error) {
	if _, err := e.LogWeights(batch); err != nil {
		return nil, err
	}
	recon, ok := e.model.reconVal.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("expected the reconstruction to be a *tensor.Dense. Got %T", e.model.reconVal)
	}

	var s slicer
	first := s.Slice(recon, sli(0, e.model.BatchSize))
	if s.err != nil {
		return nil, s.err
	}
	rows, err := native.MatrixF64(first.Materialize().(*tensor.Dense))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	retVal := make([][]float64, len(rows))
	for i, row := range rows {
		retVal[i] = append([]float64(nil), row...)
	}
	return retVal, nil
}

// Close implements a closer.
func (e *Evaluator) Close() error { return e.vm.Close() }
