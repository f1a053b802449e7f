package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer is a single layer of a NeuralNet
type Layer interface {
	fwd(x *G.Node) (*G.Node, error)
	CloneTo(g *G.ExprGraph) Layer
	Weights() *G.Node
	Bias() *G.Node
	Activation() *Activation
}

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	if f.Weights() != nil {
		x = G.Must(G.Mul(x, f.Weights()))
	}
	if f.Bias() != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x = G.Must(G.BroadcastAdd(x, f.Bias(), nil, []byte{0}))
	}
	return f.Activation().fwd(x)
}

// CloneTo clones an fcLayer to a new computational graph
func (f *fcLayer) CloneTo(g *G.ExprGraph) Layer {
	var newWeights, newBias *G.Node

	if f.Weights() != nil {
		newWeights = f.Weights().CloneTo(g)
	}
	if f.Bias() != nil {
		newBias = f.Bias().CloneTo(g)
	}

	return &fcLayer{
		weights: newWeights,
		bias:    newBias,
		act:     f.act,
	}
}

func (f *fcLayer) Activation() *Activation {
	return f.act
}

func (f *fcLayer) Bias() *G.Node {
	return f.bias
}

func (f *fcLayer) Weights() *G.Node {
	return f.weights
}

// addfcLayers creates the fully connected layers of an MLP on graph g.
// Layer i maps sizes[i] features to sizes[i+1] features, has a bias
// unit if biases[i], and is followed by activations[i]. Node names are
// prefixed so that multiple networks can share a graph.
func addfcLayers(g *G.ExprGraph, sizes []int, biases []bool,
	init G.InitWFn, activations []*Activation, prefix string) ([]Layer,
	error) {
	if len(sizes) < 2 {
		return nil, fmt.Errorf("addfclayers: must have at least an input "+
			"and an output size \n\twant(>= 2)\n\thave(%v)", len(sizes))
	}
	if len(biases) != len(sizes)-1 {
		return nil, fmt.Errorf("addfclayers: invalid number of biases "+
			"\n\twant(%v)\n\thave(%v)", len(sizes)-1, len(biases))
	}
	if len(activations) != len(sizes)-1 {
		return nil, fmt.Errorf("addfclayers: invalid number of activations "+
			"\n\twant(%v)\n\thave(%v)", len(sizes)-1, len(activations))
	}

	layers := make([]Layer, len(sizes)-1)
	for i := range layers {
		weights := G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(sizes[i], sizes[i+1]),
			G.WithName(fmt.Sprintf("%vL%vW", prefix, i)),
			G.WithInit(init),
		)

		var bias *G.Node
		if biases[i] {
			bias = G.NewMatrix(
				g,
				tensor.Float64,
				G.WithShape(1, sizes[i+1]),
				G.WithName(fmt.Sprintf("%vL%vB", prefix, i)),
				G.WithInit(G.Zeroes()),
			)
		}

		layers[i] = &fcLayer{
			weights: weights,
			bias:    bias,
			act:     activations[i],
		}
	}

	return layers, nil
}
