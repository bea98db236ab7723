// Package vrbound trains deep latent variable models on the alpha-divergence importance
// weighted bound.
package vrbound

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"math/rand"
	"time"

	"github.com/gorgonia/vrbound/bound"
	vr "github.com/gorgonia/vrbound/vrnet"
	"github.com/pkg/errors"
)

// snapshotRows is how many observations a Snapshot reconstructs.
const snapshotRows = 8

// VR is the top level structure and the entry point of the API.
// It is a wrapper around the trainer, the evaluators used for scoring, and the training
// statistics.
type VR struct {
	// state
	*vr.Trainer
	Statistics
	evals evaluators
	r     *rand.Rand
	epoch int

	// config
	conf Config

	// io
	outEnc OutputEncoder
	buf    bytes.Buffer
	logger *log.Logger
}

// New builds the training graph described by conf.
func New(conf Config) (*VR, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.WithMessage(err, "Unable to proceed")
	}
	t, err := vr.NewTrainer(conf.NNConf)
	if err != nil {
		return nil, err
	}
	if conf.Name == "" {
		conf.Name = "UNNAMED"
	}

	retVal := &VR{
		Trainer:    t,
		Statistics: makeStatistics(),
		r:          rand.New(rand.NewSource(conf.NNConf.Seed)),
		conf:       conf,
		outEnc:     conf.OutputEncoder,
	}
	retVal.logger = log.New(&retVal.buf, "", log.Ltime)
	return retVal, nil
}

// Fit trains on data for the given number of epochs. Every epoch visits the observations
// in a fresh random order; the last batch of an epoch is topped up from the start of the
// order. It returns the bound of the final epoch.
func (a *VR) Fit(data *Dataset, epochs int) (float64, error) {
	if err := a.checkData(data); err != nil {
		return 0, err
	}
	n := a.conf.NNConf.BatchSize
	batches := (data.Len() + n - 1) / n
	idx := make([]int, n)

	var epochBound float64
	for e := 0; e < epochs; e++ {
		start := time.Now()
		perm := a.r.Perm(data.Len())

		var total float64
		for b := 0; b < batches; b++ {
			for i := range idx {
				idx[i] = perm[(b*n+i)%len(perm)]
			}
			batch, err := data.Batch(idx)
			if err != nil {
				return 0, err
			}
			lb, err := a.Update(batch, a.conf.LearnRate)
			if err != nil {
				return 0, errors.WithMessagef(err, "epoch %d, batch %d", a.epoch, b)
			}
			total += lb * float64(n)
		}
		epochBound = total / float64(data.Len())
		took := time.Since(start)

		log.Printf("Epoch %d, bound %.4f, took %v", a.epoch, epochBound, took)
		a.logger.Printf("Epoch %d: %d batches, bound %.4f, took %v", a.epoch, batches, epochBound, took)
		a.Statistics.update(a.epoch, epochBound, took)

		if a.outEnc != nil {
			s, err := a.Snapshot(data, epochBound)
			if err != nil {
				return 0, err
			}
			if err = a.outEnc.Encode(s); err != nil {
				return 0, errors.WithMessage(err, "Unable to encode snapshot")
			}
		}
		a.epoch++
	}
	return epochBound, nil
}

// Score is the plain variational bound of data, estimated with the given number of samples
// per observation (Config.EvalSamples when samples < 1). Batches are weighted by their
// size, so a short last batch counts for what it holds.
//
// Batch b draws its noise from seed NNConf.Seed+b, so batches are scored on independent
// noise while repeated calls on the same data and parameters agree.
func (a *VR) Score(data *Dataset, samples int) (float64, time.Duration, error) {
	if err := a.checkData(data); err != nil {
		return 0, 0, err
	}
	if samples < 1 {
		samples = a.conf.EvalSamples
	}
	start := time.Now()
	n := a.conf.evalBatchSize()

	var total float64
	for b, lo := 0, 0; lo < data.Len(); b, lo = b+1, lo+n {
		hi := lo + n
		if hi > data.Len() {
			hi = data.Len()
		}
		idx := make([]int, hi-lo)
		for i := range idx {
			idx[i] = lo + i
		}
		batch, err := data.Batch(idx)
		if err != nil {
			return 0, 0, err
		}
		e, err := a.evals.get(a.Trainer, len(idx), samples)
		if err != nil {
			return 0, 0, err
		}
		e.Seed(a.conf.NNConf.Seed + int64(b))
		score, err := e.Score(batch)
		if err != nil {
			return 0, 0, err
		}
		total += score * float64(len(idx))
	}
	took := time.Since(start)
	lb := total / float64(data.Len())
	a.logger.Printf("Scored %d observations with %d samples: %.4f, took %v", data.Len(), samples, lb, took)
	return lb, took, nil
}

// Snapshot reconstructs the first few observations of data with the current parameters.
func (a *VR) Snapshot(data *Dataset, lb float64) (Snapshot, error) {
	rows := snapshotRows
	if data.Len() < rows {
		rows = data.Len()
	}
	idx := make([]int, rows)
	for i := range idx {
		idx[i] = i
	}
	batch, err := data.Batch(idx)
	if err != nil {
		return Snapshot{}, err
	}
	e, err := a.evals.get(a.Trainer, rows, 1)
	if err != nil {
		return Snapshot{}, err
	}
	e.Seed(a.conf.NNConf.Seed)
	recon, err := e.Reconstruct(batch)
	if err != nil {
		return Snapshot{}, err
	}

	retVal := Snapshot{
		Name:   a.conf.Name,
		Epoch:  a.epoch,
		Bound:  lb,
		Height: a.conf.Height,
		Width:  a.conf.Width,
	}
	for i, row := range recon {
		r := make([]float32, len(row))
		for j, v := range row {
			r[j] = float32(v)
		}
		retVal.Originals = append(retVal.Originals, data.Row(i))
		retVal.Reconstructions = append(retVal.Reconstructions, r)
	}
	return retVal, nil
}

// Epoch is the number of epochs trained so far.
func (a *VR) Epoch() int { return a.epoch }

// Config returns the configuration VR was built with.
func (a *VR) Config() Config { return a.conf }

// Log writes the training log, followed by the VM's execution log.
func (a *VR) Log(w io.Writer) {
	fmt.Fprint(w, a.buf.String())
	if l := a.ExecLog(); l != "" {
		fmt.Fprintln(w, "\nVM:")
		fmt.Fprintln(w, l)
	}
}

// Close releases the trainer and every evaluator. The OutputEncoder is flushed first.
func (a *VR) Close() error {
	var allErrs manyErr
	if a.outEnc != nil {
		if err := a.outEnc.Flush(); err != nil {
			allErrs = append(allErrs, err)
		}
	}
	if err := a.evals.Close(); err != nil {
		allErrs = append(allErrs, err)
	}
	if err := a.Trainer.Close(); err != nil {
		allErrs = append(allErrs, err)
	}
	if len(allErrs) > 0 {
		return allErrs
	}
	return nil
}

func (a *VR) checkData(data *Dataset) error {
	if data == nil || data.Len() == 0 {
		return errors.New("no data")
	}
	if data.Features() != a.conf.NNConf.Features {
		return errors.Wrapf(bound.ErrShapeMismatch, "observations have %d features, the model expects %d", data.Features(), a.conf.NNConf.Features)
	}
	return nil
}

type manyErr []error

func (err manyErr) Error() string {
	var buf bytes.Buffer
	for _, e := range err {
		fmt.Fprintln(&buf, e.Error())
	}
	return buf.String()
}
