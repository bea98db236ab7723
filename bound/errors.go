package bound

import "github.com/pkg/errors"

var (
	// ErrShapeMismatch is returned when the batch, the replicated batch and the (K, N)
	// reshape do not agree.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrInvalidConfiguration is returned before any computation starts when the
	// sample count, the layer stack or alpha cannot produce a bound.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// IsShapeMismatch reports whether err was caused by ErrShapeMismatch.
func IsShapeMismatch(err error) bool { return errors.Cause(err) == ErrShapeMismatch }

// IsInvalidConfiguration reports whether err was caused by ErrInvalidConfiguration.
func IsInvalidConfiguration(err error) bool { return errors.Cause(err) == ErrInvalidConfiguration }
