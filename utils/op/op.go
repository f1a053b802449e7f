// Package op provides extended Gorgonia graph operations.
package op

import (
	G "gorgonia.org/gorgonia"
)

// LogSumExp computes log(Σ exp(logits)) along an axis in a
// numerically stable way.
//
// Gorgonia ships its own LogSumExp, but it interchanges the final sum
// and log, so it cannot be used here.
func LogSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	shifted := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	sum := G.Must(G.Sum(G.Must(G.Exp(shifted)), along))

	return G.Must(G.Add(max, G.Must(G.Log(sum))))
}

// LogSoftmax calculates the log of the softmax of logits along the
// given axis in a numerically stable way.
func LogSoftmax(logits *G.Node, along int) *G.Node {
	logSumExp := LogSumExp(logits, along)

	return G.Must(G.BroadcastSub(logits, logSumExp, nil, []byte{1}))
}
