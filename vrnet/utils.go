package vr

import (
	"bytes"
	"fmt"
	"math/rand"

	"github.com/gorgonia/vrbound/bound"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

type slicer struct {
	v   tensor.View
	err error
}

func (s *slicer) Slice(a *tensor.Dense, slices ...tensor.Slice) *tensor.Dense {
	if s.err != nil {
		return nil
	}
	if s.v, s.err = a.Slice(slices...); s.err != nil {
		s.err = errors.Wrapf(s.err, "Slicer failed") // get a stack trace
		return nil
	}
	return s.v.(*tensor.Dense)
}

type rs struct {
	start, end, step int
}

func (s rs) Start() int { return s.start }
func (s rs) End() int   { return s.end }
func (s rs) Step() int  { return s.step }

// s creates a ranged slice. It takes an optional step param.
func sli(start, end int, opts ...int) rs {
	step := 1
	if len(opts) > 0 {
		step = opts[0]
	}
	return rs{
		start: start,
		end:   end,
		step:  step,
	}
}

type manyErr []error

func (err manyErr) Error() string {
	var buf bytes.Buffer
	for _, e := range err {
		fmt.Fprintln(&buf, e.Error())
	}
	return buf.String()
}

// Sampler draws the standard normal noise that drives every reparameterised sample.
type Sampler struct {
	r *rand.Rand
}

// NewSampler returns a sampler whose draws are fixed by seed.
func NewSampler(seed int64) *Sampler { return &Sampler{r: rand.New(rand.NewSource(seed))} }

// Reseed restarts the noise stream.
func (s *Sampler) Reseed(seed int64) { s.r.Seed(seed) }

// Fill overwrites every element of t with a fresh draw, in row-major order.
func (s *Sampler) Fill(t *tensor.Dense) {
	data := t.Data().([]float64)
	for i := range data {
		data[i] = s.r.NormFloat64()
	}
}

// checkBatch makes sure batch is an (n, f) matrix.
func checkBatch(batch *tensor.Dense, n, f int) error {
	if batch == nil {
		return errors.Wrap(bound.ErrShapeMismatch, "nil batch")
	}
	want := tensor.Shape{n, f}
	if !batch.Shape().Eq(want) {
		return errors.Wrapf(bound.ErrShapeMismatch, "expected a batch of shape %v. Got %v", want, batch.Shape())
	}
	return nil
}

// copyValues copies the values of src into the values of dst, node by node.
func copyValues(dst, src G.Nodes) error {
	if len(dst) != len(src) {
		return errors.Errorf("cannot copy %d parameters into %d", len(src), len(dst))
	}
	for i, n := range src {
		if !n.Shape().Eq(dst[i].Shape()) {
			return errors.Errorf("parameter %v has shape %v, %v has shape %v", n.Name(), n.Shape(), dst[i].Name(), dst[i].Shape())
		}
		original := n.Value().Data().([]float64)
		cloned := dst[i].Value().Data().([]float64)
		copy(cloned, original)
	}
	return nil
}
