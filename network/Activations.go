package network

import (
	G "gorgonia.org/gorgonia"
)

// Activation is a differentiable nonlinearity applied to a layer's
// outputs
type Activation struct {
	name  string
	apply func(x *G.Node) (*G.Node, error)
}

// fwd applies the nonlinearity to x. A nil Activation is the
// identity.
func (a *Activation) fwd(x *G.Node) (*G.Node, error) {
	if a == nil || a.apply == nil {
		return x, nil
	}
	return a.apply(x)
}

func (a *Activation) String() string {
	if a == nil {
		return "identity"
	}
	return a.name
}

// ReLU returns the rectified linear unit
func ReLU() *Activation {
	return &Activation{name: "relu", apply: G.Rectify}
}

// TanH returns the hyperbolic tangent
func TanH() *Activation {
	return &Activation{name: "tanh", apply: G.Tanh}
}

// Identity returns the no-op activation
func Identity() *Activation {
	return &Activation{name: "identity"}
}
