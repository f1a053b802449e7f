// Package network implements neural networks for policy evaluation
// using Gorgonia computational graphs
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet is a policy-and-value network. A single forward pass
// produces unnormalized log-probabilities over actions from the policy
// head and a scalar state-value estimate from the baseline head.
//
// NeuralNets are built on a fixed graph with a fixed batch size.
// Callers fill the input node with SetInput, run a virtual machine
// over the graph, and read the results through LogitsVal and
// BaselineVal.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)
	BatchSize() int
	Features() int
	Actions() int
	SetInput([]float64) error
	Set(NeuralNet) error
	Polyak(NeuralNet, float64) error
	Learnables() G.Nodes
	Model() []G.ValueGrad

	// Logits and Baseline return the graph nodes holding the two
	// heads' outputs, for building losses on top of the network
	Logits() *G.Node
	Baseline() *G.Node

	// LogitsVal and BaselineVal return the values the heads produced
	// on the most recent virtual machine run
	LogitsVal() G.Value
	BaselineVal() G.Value
}
