package vr

import (
	"fmt"
	"math"

	"github.com/gorgonia/vrbound/bound"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

var halfLog2Pi = 0.5 * math.Log(2*math.Pi)

// Layer is a stochastic layer. It maps an input to a distribution over its output, and
// either samples that distribution or scores a given output under it.
type Layer interface {
	// EncodeAndLogProb returns a sample and its log-probability, one value per row.
	// When eval is not nil, eval is scored instead and returned as the output.
	EncodeAndLogProb(input, eval *G.Node) (output, logProb *G.Node, err error)

	Family() Family
	Params() G.Nodes

	// Noise is the reparameterisation noise input. It is nil until the layer samples.
	Noise() *G.Node

	// Mean is the expectation of the conditional built by the last EncodeAndLogProb.
	Mean() (*G.Node, error)
}

// weights are the parameters of one affine map.
type weights struct {
	w, b *G.Node
}

func newWeights(g *G.ExprGraph, in, out int, name string, init G.InitWFn) weights {
	return weights{
		w: G.NewMatrix(g, Float, G.WithShape(in, out), G.WithName(name+"_w"), G.WithInit(init)),
		b: G.NewMatrix(g, Float, G.WithShape(1, out), G.WithName(name+"_b"), G.WithInit(G.Zeroes())),
	}
}

// trunk is the deterministic tanh stack in front of a layer's distribution parameters.
type trunk []weights

func newTrunk(g *G.ExprGraph, in int, widths []int, name string, init G.InitWFn) (trunk, int) {
	var retVal trunk
	for i, w := range widths {
		retVal = append(retVal, newWeights(g, in, w, fmt.Sprintf("%s_h%d", name, i), init))
		in = w
	}
	return retVal, in
}

func (t trunk) fwd(m *maebe, input *G.Node) *G.Node {
	h := input
	for _, w := range t {
		h = m.tanh(m.affine(h, w))
	}
	return h
}

func (t trunk) params() G.Nodes {
	retVal := make(G.Nodes, 0, 2*len(t))
	for _, w := range t {
		retVal = append(retVal, w.w, w.b)
	}
	return retVal
}

// newLayer picks the layer implementation for conf.Family.
func newLayer(g *G.ExprGraph, name string, in, rows int, conf LayerConfig, init G.InitWFn) (Layer, error) {
	t, width := newTrunk(g, in, conf.Hidden, name, init)
	switch conf.Family {
	case Gaussian:
		l := &gaussian{
			g:     g,
			name:  name,
			rows:  rows,
			units: conf.Units,
			trunk: t,
			mu:    newWeights(g, width, conf.Units, name+"_mu", init),
		}
		if conf.FixedStd != nil {
			l.fixed = true
			l.std = *conf.FixedStd
		} else {
			l.logStd = newWeights(g, width, conf.Units, name+"_logstd", init)
		}
		return l, nil
	case Bernoulli:
		return &bernoulli{
			name:   name,
			trunk:  t,
			logits: newWeights(g, width, conf.Units, name+"_logits", init),
		}, nil
	}
	return nil, errors.Wrapf(bound.ErrInvalidConfiguration, "%s: unknown family %v", name, conf.Family)
}

// gaussian is a diagonal Gaussian whose mean and log standard deviation are affine in
// the trunk output. With a fixed std only the mean is learned.
type gaussian struct {
	g     *G.ExprGraph
	name  string
	rows  int
	units int

	trunk      trunk
	mu, logStd weights
	fixed      bool
	std        float64

	noise *G.Node
	mean  *G.Node
}

func (l *gaussian) EncodeAndLogProb(input, eval *G.Node) (output, logProb *G.Node, err error) {
	var m maebe
	h := l.trunk.fwd(&m, input)
	mu := m.affine(h, l.mu)

	var logStd, std *G.Node
	if !l.fixed {
		logStd = m.affine(h, l.logStd)
		std = m.exp(logStd)
	}

	output = eval
	if output == nil {
		noise := l.Noise()
		if noise == nil {
			noise = G.NewMatrix(l.g, Float, G.WithShape(l.rows, l.units), G.WithName(l.name+"_noise"))
			l.noise = noise
		}
		var spread *G.Node
		if l.fixed {
			spread = m.scale(l.std, noise)
		} else {
			spread = m.hadamard(std, noise)
		}
		output = m.add(mu, spread)
	}

	// log N(output; mu, std) = -0.5 ((output-mu)/std)^2 - log std - 0.5 log 2π
	diff := m.sub(output, mu)
	var z *G.Node
	if l.fixed {
		z = m.scale(1/l.std, diff)
	} else {
		z = m.div(diff, std)
	}
	ll := m.scale(-0.5, m.square(z))
	if !l.fixed {
		ll = m.sub(ll, logStd)
	}
	c := -float64(l.units) * halfLog2Pi
	if l.fixed {
		c -= float64(l.units) * math.Log(l.std)
	}
	logProb = m.shift(m.sum(ll, 1), c)

	if m.err != nil {
		return nil, nil, errors.WithMessagef(m.err, "%s", l.name)
	}
	l.mean = mu
	return output, logProb, nil
}

func (l *gaussian) Family() Family { return Gaussian }
func (l *gaussian) Noise() *G.Node { return l.noise }
func (l *gaussian) Mean() (*G.Node, error) {
	if l.mean == nil {
		return nil, errors.Errorf("%s has not been built", l.name)
	}
	return l.mean, nil
}

func (l *gaussian) Params() G.Nodes {
	retVal := append(l.trunk.params(), l.mu.w, l.mu.b)
	if !l.fixed {
		retVal = append(retVal, l.logStd.w, l.logStd.b)
	}
	return retVal
}

// bernoulli is a product of independent Bernoullis parameterised by logits. It only
// scores: a Bernoulli draw has no reparameterisation to differentiate through.
type bernoulli struct {
	name   string
	trunk  trunk
	logits weights

	lastLogits *G.Node
	mean       *G.Node
}

func (l *bernoulli) EncodeAndLogProb(input, eval *G.Node) (output, logProb *G.Node, err error) {
	if eval == nil {
		return nil, nil, errors.Wrapf(bound.ErrInvalidConfiguration, "%s: Bernoulli outputs can only be scored", l.name)
	}
	var m maebe
	logits := m.affine(l.trunk.fwd(&m, input), l.logits)

	// log p(x) = x·l - log(1 + e^l)
	logProb = m.sum(m.sub(m.hadamard(eval, logits), m.softplus(logits)), 1)
	if m.err != nil {
		return nil, nil, errors.WithMessagef(m.err, "%s", l.name)
	}
	l.lastLogits = logits
	l.mean = nil
	return eval, logProb, nil
}

func (l *bernoulli) Family() Family { return Bernoulli }
func (l *bernoulli) Noise() *G.Node { return nil }

func (l *bernoulli) Mean() (*G.Node, error) {
	if l.lastLogits == nil {
		return nil, errors.Errorf("%s has not been built", l.name)
	}
	if l.mean == nil {
		var m maebe
		l.mean = m.do(func() (*G.Node, error) { return G.Sigmoid(l.lastLogits) })
		if m.err != nil {
			return nil, m.err
		}
	}
	return l.mean, nil
}

func (l *bernoulli) Params() G.Nodes {
	return append(l.trunk.params(), l.logits.w, l.logits.b)
}

// logPrior scores z under the fixed prior of the given family: a standard normal, or
// fair coins.
func logPrior(m *maebe, z *G.Node, f Family) *G.Node {
	if m.err != nil {
		return nil
	}
	units := z.Shape()[1]
	switch f {
	case Gaussian:
		return m.shift(m.sum(m.scale(-0.5, m.square(z)), 1), -float64(units)*halfLog2Pi)
	case Bernoulli:
		const p = 0.5
		on := m.scale(math.Log(p), z)
		off := m.scale(math.Log(1-p), m.oneMinus(z))
		return m.sum(m.add(on, off), 1)
	}
	if m.err == nil {
		m.err = errors.Wrapf(bound.ErrInvalidConfiguration, "no prior for family %v", f)
	}
	return nil
}
