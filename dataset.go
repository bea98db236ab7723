package vrbound

import (
	"github.com/chewxy/math32"
	"github.com/gorgonia/vrbound/bound"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// Dataset is a set of observations, one row of Features float32s each.
type Dataset struct {
	backing  []float32
	features int
}

// NewDataset wraps backing as rows of features values. Every value must be finite.
func NewDataset(backing []float32, features int) (*Dataset, error) {
	if features < 1 {
		return nil, errors.Wrapf(bound.ErrInvalidConfiguration, "features must be positive. Got %d", features)
	}
	if len(backing) == 0 || len(backing)%features != 0 {
		return nil, errors.Wrapf(bound.ErrShapeMismatch, "%d values cannot be split into rows of %d", len(backing), features)
	}
	for i, v := range backing {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return nil, errors.Errorf("row %d, feature %d is %v", i/features, i%features, v)
		}
	}
	return &Dataset{backing: backing, features: features}, nil
}

// Len is the number of observations.
func (d *Dataset) Len() int { return len(d.backing) / d.features }

// Features is the width of an observation.
func (d *Dataset) Features() int { return d.features }

// Row returns observation i. The returned slice shares memory with the dataset.
func (d *Dataset) Row(i int) []float32 {
	return d.backing[i*d.features : (i+1)*d.features : (i+1)*d.features]
}

// Batch gathers the observations at idx into an (len(idx), Features) float64 matrix.
func (d *Dataset) Batch(idx []int) (*tensor.Dense, error) {
	backing := make([]float64, 0, len(idx)*d.features)
	for _, i := range idx {
		if i < 0 || i >= d.Len() {
			return nil, errors.Errorf("index %d out of range [0, %d)", i, d.Len())
		}
		for _, v := range d.Row(i) {
			backing = append(backing, float64(v))
		}
	}
	return tensor.New(tensor.WithShape(len(idx), d.features), tensor.WithBacking(backing)), nil
}

// Slice returns the observations in [start, end) as a Dataset sharing memory with d.
func (d *Dataset) Slice(start, end int) (*Dataset, error) {
	if start < 0 || end > d.Len() || start >= end {
		return nil, errors.Errorf("cannot slice [%d, %d) out of %d observations", start, end, d.Len())
	}
	return &Dataset{backing: d.backing[start*d.features : end*d.features], features: d.features}, nil
}

// Mean is the per-feature mean over every observation.
func (d *Dataset) Mean() []float32 {
	retVal := make([]float32, d.features)
	for i := 0; i < d.Len(); i++ {
		vecf32.Add(retVal, d.Row(i))
	}
	vecf32.Scale(retVal, 1/float32(d.Len()))
	return retVal
}
