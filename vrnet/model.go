package vr

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var Float = G.Float64

// Model is the graph of one bound computation for a fixed (N, K).
//
// Every per-sample tensor has N·K rows laid out K-major: row i·N+n is sample i of
// observation n.
type Model struct {
	Config

	g  *G.ExprGraph
	x  *G.Node // replicated observations, (N·K, F)
	ws *G.Node // importance weights, (N·K). nil in a fwd only graph

	encoder, decoder []Layer
	params           G.Nodes

	logF  *G.Node // log p(z_L) + log p(x|z) - log q(z|x), (N·K)
	cost  *G.Node // -Σ logF·ws
	recon *G.Node // decoder output means, fwd only graphs

	logFVal  G.Value
	costVal  G.Value
	reconVal G.Value
}

// New returns a new, uninitialized *Model.
func New(conf Config) *Model {
	return &Model{Config: conf}
}

// Init validates the configuration and builds the graph.
func (m *Model) Init() error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.reset()
	m.g = G.NewGraph()
	if err := m.build(glorotN(rand.New(rand.NewSource(m.Seed)))); err != nil {
		return err
	}
	if err := m.fwd(); err != nil {
		return err
	}
	return m.bwd()
}

func (m *Model) build(init G.InitWFn) error {
	rows := m.Rows()
	m.x = G.NewMatrix(m.g, Float, G.WithShape(rows, m.Features), G.WithName("X"))

	L := m.Layers()
	in := m.Features
	for l, conf := range m.Encoder {
		layer, err := newLayer(m.g, fmt.Sprintf("enc%d", l), in, rows, conf, init)
		if err != nil {
			return err
		}
		m.encoder = append(m.encoder, layer)
		m.params = append(m.params, layer.Params()...)
		in = conf.Units
	}
	for l, conf := range m.Decoder {
		layer, err := newLayer(m.g, fmt.Sprintf("dec%d", l), m.Encoder[L-1-l].Units, rows, conf, init)
		if err != nil {
			return err
		}
		m.decoder = append(m.decoder, layer)
		m.params = append(m.params, layer.Params()...)
	}
	return nil
}

func (m *Model) fwd() error {
	var mb maebe

	// encode: each layer conditions on the previous layer's sample
	input := m.x
	samples := make([]*G.Node, 0, m.Layers()+1)
	var logq *G.Node
	for l, layer := range m.encoder {
		output, lq, err := layer.EncodeAndLogProb(input, nil)
		if err != nil {
			return errors.WithMessagef(err, "encoder layer %d", l)
		}
		logq = mb.accumulate(logq, lq)
		samples = append(samples, output)
		input = output
	}

	// decode in reverse, scoring each layer's target
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	samples = append(samples, m.x)
	var logpxz *G.Node
	for l, layer := range m.decoder {
		_, lp, err := layer.EncodeAndLogProb(samples[l], samples[l+1])
		if err != nil {
			return errors.WithMessagef(err, "decoder layer %d", l)
		}
		logpxz = mb.accumulate(logpxz, lp)
	}

	top := m.encoder[len(m.encoder)-1]
	logpz := logPrior(&mb, samples[0], top.Family())

	m.logF = mb.sub(mb.add(logpz, logpxz), logq)
	if mb.err != nil {
		return mb.err
	}
	G.Read(m.logF, &m.logFVal)

	if m.FwdOnly {
		recon, err := m.decoder[len(m.decoder)-1].Mean()
		if err != nil {
			return err
		}
		m.recon = recon
		G.Read(m.recon, &m.reconVal)
	}
	return nil
}

func (m *Model) bwd() error {
	if m.FwdOnly {
		return nil
	}
	m.ws = G.NewVector(m.g, Float, G.WithShape(m.Rows()), G.WithName("ImportanceWeights"))

	// the weights enter as constants: only logF is differentiated
	var mb maebe
	m.cost = mb.neg(mb.sum(mb.hadamard(m.logF, m.ws)))
	if mb.err != nil {
		return mb.err
	}
	G.Read(m.cost, &m.costVal)

	if _, err := G.Grad(m.cost, m.params...); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Params is the list of trainable parameters, encoder layers first. The order is fixed
// by the configuration, so models built from the same Config line up.
func (m *Model) Params() G.Nodes { return m.params }

// Graph returns the underlying expression graph.
func (m *Model) Graph() *G.ExprGraph { return m.g }

// let binds the inputs of one run. ws is ignored by fwd only graphs.
func (m *Model) let(x *tensor.Dense, noise []*tensor.Dense, ws *tensor.Dense) error {
	if err := G.Let(m.x, x); err != nil {
		return errors.WithStack(err)
	}
	for l, layer := range m.encoder {
		if err := G.Let(layer.Noise(), noise[l]); err != nil {
			return errors.Wrapf(err, "encoder layer %d noise", l)
		}
	}
	if m.ws != nil && ws != nil {
		if err := G.Let(m.ws, ws); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// noiseTensors allocates one noise tensor per encoder layer, shaped like its noise input.
func (m *Model) noiseTensors() []*tensor.Dense {
	retVal := make([]*tensor.Dense, len(m.encoder))
	for l, layer := range m.encoder {
		retVal[l] = tensor.New(tensor.WithShape(layer.Noise().Shape().Clone()...), tensor.Of(Float))
	}
	return retVal
}

// logWeights copies out logF of the last run.
func (m *Model) logWeights() ([]float64, error) {
	if m.logFVal == nil {
		return nil, errors.New("the graph has not been run")
	}
	data := m.logFVal.Data().([]float64)
	retVal := make([]float64, len(data))
	copy(retVal, data)
	return retVal, nil
}

func (m *Model) reset() {
	m.g = nil
	m.x = nil
	m.ws = nil
	m.encoder = nil
	m.decoder = nil
	m.params = nil
	m.logF = nil
	m.cost = nil
	m.recon = nil
	m.logFVal = nil
	m.costVal = nil
	m.reconVal = nil
}
