package vrbound

import (
	"io/ioutil"
	"math"

	"github.com/gorgonia/vrbound/bound"
	vr "github.com/gorgonia/vrbound/vrnet"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultEvalSamples is the number of importance samples held out data is scored with.
const DefaultEvalSamples = 100

// DefaultConfig trains a mirrored stack over features on Adam's default learning rate.
func DefaultConfig(features int, latents ...int) Config {
	return Config{
		Name:        "vrbound",
		NNConf:      vr.DefaultConf(features, latents...),
		LearnRate:   vr.DefaultLearnRate,
		EvalSamples: DefaultEvalSamples,
	}
}

// LoadConfig reads a YAML configuration. A missing learn rate, eval sample count, batch
// size or sample count takes its default. An evaluation batch size of zero follows the
// training batch size.
func LoadConfig(filename string) (Config, error) {
	raw, err := ioutil.ReadFile(filename)
	if err != nil {
		return Config{}, errors.WithStack(err)
	}
	conf := Config{
		LearnRate:   vr.DefaultLearnRate,
		EvalSamples: DefaultEvalSamples,
		NNConf:      vr.Config{BatchSize: 20, Samples: 5},
	}
	if err = yaml.Unmarshal(raw, &conf); err != nil {
		return Config{}, errors.Wrapf(err, "unable to parse %v", filename)
	}
	if err = conf.Validate(); err != nil {
		return Config{}, errors.WithMessagef(err, "%v", filename)
	}
	return conf, nil
}

// Validate checks the configuration, including the network's.
func (conf Config) Validate() error {
	if err := conf.NNConf.Validate(); err != nil {
		return err
	}
	switch {
	case !(conf.LearnRate > 0) || math.IsInf(conf.LearnRate, 0):
		return errors.Wrapf(bound.ErrInvalidConfiguration, "learn rate must be positive and finite. Got %v", conf.LearnRate)
	case conf.EvalSamples < 1:
		return errors.Wrapf(bound.ErrInvalidConfiguration, "eval samples must be positive. Got %d", conf.EvalSamples)
	case conf.EvalBatchSize < 0:
		return errors.Wrapf(bound.ErrInvalidConfiguration, "eval batch size cannot be negative. Got %d", conf.EvalBatchSize)
	case conf.Height < 0 || conf.Width < 0:
		return errors.Wrapf(bound.ErrInvalidConfiguration, "bad image size %dx%d", conf.Height, conf.Width)
	case conf.Height*conf.Width != 0 && conf.Height*conf.Width != conf.NNConf.Features:
		return errors.Wrapf(bound.ErrInvalidConfiguration, "a %dx%d image does not have %d features", conf.Height, conf.Width, conf.NNConf.Features)
	}
	return nil
}

// IsValid is Validate without the reason.
func (conf Config) IsValid() bool { return conf.Validate() == nil }

func (conf Config) evalBatchSize() int {
	if conf.EvalBatchSize > 0 {
		return conf.EvalBatchSize
	}
	return conf.NNConf.BatchSize
}
