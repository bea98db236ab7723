package vrbound

import (
	vr "github.com/gorgonia/vrbound/vrnet"
)

type Config struct {
	Name   string    `yaml:"name"`
	NNConf vr.Config `yaml:"nn"`

	LearnRate     float64 `yaml:"learn_rate"`
	EvalSamples   int     `yaml:"eval_samples"`    // K used by Score when none is given
	EvalBatchSize int     `yaml:"eval_batch_size"` // observations per scoring batch, defaults to NNConf.BatchSize

	// Height and Width lay a row of features out as an image. Both zero means the
	// features are not an image.
	Height int `yaml:"height"`
	Width  int `yaml:"width"`

	// extensions
	OutputEncoder OutputEncoder `yaml:"-"`
}

// OutputEncoder encodes the state of training after every epoch as whatever.
//
// An example OutputEncoder is the GifEncoder. Another example would be a logger.
type OutputEncoder interface {
	Encode(s Snapshot) error
	Flush() error
}

// Snapshot is what an OutputEncoder gets to see at the end of an epoch.
type Snapshot struct {
	Name  string
	Epoch int
	Bound float64

	Height, Width int

	// Originals and Reconstructions are row aligned: Reconstructions[i] holds the
	// decoder's output means for Originals[i].
	Originals       [][]float32
	Reconstructions [][]float32
}

// ExecLogger is anything that can return the execution log.
type ExecLogger interface {
	ExecLog() string
}

var _ ExecLogger = (*vr.Trainer)(nil)
