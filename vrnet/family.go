package vr

import (
	"fmt"
	"strings"

	"github.com/gorgonia/vrbound/bound"
	"github.com/pkg/errors"
)

// Family is the probability family a stochastic layer draws from and scores under.
type Family int

const (
	Gaussian Family = iota
	Bernoulli
	MAXFAMILY
)

var familyNames = [...]string{"gaussian", "bernoulli"}

func (f Family) String() string {
	if f < 0 || f >= MAXFAMILY {
		return fmt.Sprintf("Family(%d)", int(f))
	}
	return familyNames[f]
}

// MarshalText implements encoding.TextMarshaler.
func (f Family) MarshalText() ([]byte, error) {
	if f < 0 || f >= MAXFAMILY {
		return nil, errors.Wrapf(bound.ErrInvalidConfiguration, "unknown family %d", int(f))
	}
	return []byte(familyNames[f]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Family) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, name := range familyNames {
		if s == name {
			*f = Family(i)
			return nil
		}
	}
	return errors.Wrapf(bound.ErrInvalidConfiguration, "unknown family %q", string(text))
}
