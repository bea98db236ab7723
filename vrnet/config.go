package vr

import (
	"math"

	"github.com/gorgonia/vrbound/bound"
	"github.com/pkg/errors"
)

// LayerConfig configures one stochastic layer.
type LayerConfig struct {
	Units  int    `yaml:"units"`            // width of the sampled/scored output
	Hidden []int  `yaml:"hidden,omitempty"` // widths of the deterministic tanh layers before it
	Family Family `yaml:"family"`

	// FixedStd pins a Gaussian layer's standard deviation instead of learning it.
	FixedStd *float64 `yaml:"fixed_std,omitempty"`
}

// Config configures the encoder/decoder stack and the bound it is trained on.
type Config struct {
	Features  int     `yaml:"features"`   // F
	BatchSize int     `yaml:"batch_size"` // N
	Samples   int     `yaml:"samples"`    // K, importance samples per observation
	Alpha     float64 `yaml:"alpha"`

	Encoder []LayerConfig `yaml:"encoder"`
	Decoder []LayerConfig `yaml:"decoder"` // decoder[l] consumes the sample of encoder[L-1-l]

	Seed    int64 `yaml:"seed"`
	Debug   bool  `yaml:"debug"` // log VM execution and watch for NaNs
	FwdOnly bool  `yaml:"-"`     // is this a fwd only graph?
}

// DefaultConf builds a mirrored stack: Gaussian latents of the given widths, and a
// Bernoulli decoder output over the features.
func DefaultConf(features int, latents ...int) Config {
	conf := Config{
		Features:  features,
		BatchSize: 20,
		Samples:   5,
		Alpha:     0,
	}
	in := features
	for _, units := range latents {
		conf.Encoder = append(conf.Encoder, LayerConfig{
			Units:  units,
			Hidden: []int{round((in + units) / 2)},
			Family: Gaussian,
		})
		in = units
	}
	for l := len(conf.Encoder) - 1; l >= 0; l-- {
		enc := conf.Encoder[l]
		dec := LayerConfig{
			Units:  features,
			Hidden: enc.Hidden,
			Family: Bernoulli,
		}
		if l > 0 {
			dec.Units = conf.Encoder[l-1].Units
			dec.Family = Gaussian
		}
		conf.Decoder = append(conf.Decoder, dec)
	}
	return conf
}

// Layers is L, the depth of the stochastic stack.
func (conf Config) Layers() int { return len(conf.Encoder) }

// Rows is N·K, the number of rows every per-sample tensor has.
func (conf Config) Rows() int { return conf.BatchSize * conf.Samples }

// Validate checks the configuration before any graph is built.
func (conf Config) Validate() error {
	switch {
	case conf.Features < 1:
		return errors.Wrapf(bound.ErrInvalidConfiguration, "features must be positive. Got %d", conf.Features)
	case conf.BatchSize < 1:
		return errors.Wrapf(bound.ErrInvalidConfiguration, "batch size must be positive. Got %d", conf.BatchSize)
	case conf.Samples < 1:
		return errors.Wrapf(bound.ErrInvalidConfiguration, "need at least one importance sample. Got %d", conf.Samples)
	case math.IsNaN(conf.Alpha) || math.IsInf(conf.Alpha, 0):
		return errors.Wrapf(bound.ErrInvalidConfiguration, "alpha must be finite. Got %v", conf.Alpha)
	case len(conf.Encoder) < 1:
		return errors.Wrap(bound.ErrInvalidConfiguration, "need at least one stochastic layer")
	case len(conf.Encoder) != len(conf.Decoder):
		return errors.Wrapf(bound.ErrInvalidConfiguration, "%d encoder layers but %d decoder layers", len(conf.Encoder), len(conf.Decoder))
	}

	for l, enc := range conf.Encoder {
		if err := enc.validate(); err != nil {
			return errors.WithMessagef(err, "encoder layer %d", l)
		}
		if enc.Family != Gaussian {
			return errors.Wrapf(bound.ErrInvalidConfiguration, "encoder layer %d: %v latents cannot be reparameterised", l, enc.Family)
		}
	}

	L := conf.Layers()
	for l, dec := range conf.Decoder {
		if err := dec.validate(); err != nil {
			return errors.WithMessagef(err, "decoder layer %d", l)
		}
		want := conf.Features
		if l < L-1 {
			want = conf.Encoder[L-2-l].Units
		}
		if dec.Units != want {
			return errors.Wrapf(bound.ErrInvalidConfiguration, "decoder layer %d produces %d units, its target has %d", l, dec.Units, want)
		}
	}
	return nil
}

// IsValid is Validate without the reason.
func (conf Config) IsValid() bool { return conf.Validate() == nil }

func (lc LayerConfig) validate() error {
	if lc.Units < 1 {
		return errors.Wrapf(bound.ErrInvalidConfiguration, "units must be positive. Got %d", lc.Units)
	}
	for i, h := range lc.Hidden {
		if h < 1 {
			return errors.Wrapf(bound.ErrInvalidConfiguration, "hidden layer %d has width %d", i, h)
		}
	}
	switch lc.Family {
	case Gaussian:
		if lc.FixedStd != nil {
			std := *lc.FixedStd
			if !(std > 0) || math.IsInf(std, 0) {
				return errors.Wrapf(bound.ErrInvalidConfiguration, "fixed std must be positive and finite. Got %v", std)
			}
		}
	case Bernoulli:
		if lc.FixedStd != nil {
			return errors.Wrap(bound.ErrInvalidConfiguration, "a Bernoulli layer has no std to fix")
		}
	default:
		return errors.Wrapf(bound.ErrInvalidConfiguration, "unknown family %v", lc.Family)
	}
	return nil
}

// round rounds a to the nearest power of two.
func round(a int) int {
	n := a - 1
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++

	lt := n / 2
	if (a - lt) < (n - a) {
		return lt
	}
	return n
}
