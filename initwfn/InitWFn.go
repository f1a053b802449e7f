// Package initwfn names the weight initialization algorithms used to
// seed network parameters.
package initwfn

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// InitWFn couples a Gorgonia weight initializer with the name of the
// algorithm behind it, so that runs can report how their weights
// began.
type InitWFn struct {
	name string
	fn   G.InitWFn
}

// InitWFn returns the wrapped Gorgonia initializer
func (w *InitWFn) InitWFn() G.InitWFn {
	return w.fn
}

func (w *InitWFn) String() string {
	return w.name
}

// NewGlorotU returns a Glorot uniform initializer with the given gain
func NewGlorotU(gain float64) (*InitWFn, error) {
	if gain <= 0 {
		return nil, fmt.Errorf("glorotu: gain must be positive "+
			"\n\twant(> 0)\n\thave(%v)", gain)
	}
	return &InitWFn{
		name: fmt.Sprintf("GlorotU(%v)", gain),
		fn:   G.GlorotU(gain),
	}, nil
}

// NewGlorotN returns a Glorot normal initializer with the given gain
func NewGlorotN(gain float64) (*InitWFn, error) {
	if gain <= 0 {
		return nil, fmt.Errorf("glorotn: gain must be positive "+
			"\n\twant(> 0)\n\thave(%v)", gain)
	}
	return &InitWFn{
		name: fmt.Sprintf("GlorotN(%v)", gain),
		fn:   G.GlorotN(gain),
	}, nil
}

// NewZeroes returns an initializer that sets every weight to 0
func NewZeroes() (*InitWFn, error) {
	return &InitWFn{name: "Zeroes", fn: G.Zeroes()}, nil
}

// NewOnes returns an initializer that sets every weight to 1
func NewOnes() (*InitWFn, error) {
	return &InitWFn{name: "Ones", fn: G.Ones()}, nil
}
