package vr

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

type maebe struct {
	err error
}

// generic monad... may be useful
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// affine is xW + b, with b broadcast along the rows.
func (m *maebe) affine(input *G.Node, a weights) *G.Node {
	xw := m.do(func() (*G.Node, error) { return G.Mul(input, a.w) })
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(xw, a.b, nil, []byte{0}) })
}

func (m *maebe) tanh(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Tanh(input) })
}

func (m *maebe) exp(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Exp(input) })
}

func (m *maebe) square(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Square(input) })
}

func (m *maebe) softplus(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Softplus(input) })
}

func (m *maebe) add(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Add(a, b) })
}

func (m *maebe) sub(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sub(a, b) })
}

func (m *maebe) hadamard(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.HadamardProd(a, b) })
}

func (m *maebe) div(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.HadamardDiv(a, b) })
}

func (m *maebe) neg(a *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Neg(a) })
}

// scale multiplies every element by c.
func (m *maebe) scale(c float64, a *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Mul(constant(c), a) })
}

// shift adds c to every element.
func (m *maebe) shift(a *G.Node, c float64) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Add(a, constant(c)) })
}

// oneMinus is 1 - a.
func (m *maebe) oneMinus(a *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sub(constant(1), a) })
}

// sum reduces along the given axes, or everything when none are given.
func (m *maebe) sum(a *G.Node, along ...int) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sum(a, along...) })
}

// accumulate is a running sum that starts from nil.
func (m *maebe) accumulate(acc, a *G.Node) *G.Node {
	if acc == nil {
		return a
	}
	return m.add(acc, a)
}

func constant(v float64) *G.Node {
	switch Float {
	case G.Float32:
		return G.NewConstant(float32(v))
	default:
		return G.NewConstant(v)
	}
}

// glorotN draws Glorot normal weights from r so that a seed reproduces a model.
func glorotN(r *rand.Rand) G.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		size := tensor.Shape(s).TotalSize()
		fanIn, fanOut := s[0], s[len(s)-1]
		stdev := math.Sqrt(2 / float64(fanIn+fanOut))
		switch dt {
		case tensor.Float32:
			retVal := make([]float32, size)
			for i := range retVal {
				retVal[i] = float32(r.NormFloat64() * stdev)
			}
			return retVal
		case tensor.Float64:
			retVal := make([]float64, size)
			for i := range retVal {
				retVal[i] = r.NormFloat64() * stdev
			}
			return retVal
		}
		panic(errors.Errorf("glorotN does not support %v", dt))
	}
}
