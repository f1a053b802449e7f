package network

import (
	"encoding/gob"
	"fmt"
	"io"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// policyValueMLP implements a multilayer perceptron with a shared,
// fully connected trunk feeding two heads: a policy head producing
// one logit per action and a baseline head producing a scalar state
// value. The heads are plain linear layers; the trunk's activations
// are configurable.
type policyValueMLP struct {
	g     *G.ExprGraph
	trunk []Layer

	// policy and baseline are the output heads
	policy   Layer
	baseline Layer

	input     *G.Node
	features  int
	batchSize int
	actions   int

	hiddenSizes []int
	biases      []bool
	activations []*Activation

	logitsNode   *G.Node
	baselineNode *G.Node
	logitsVal    G.Value
	baselineVal  G.Value

	learnables G.Nodes
	model      []G.ValueGrad
}

// NewPolicyValueMLP returns a new NeuralNet with a fully connected
// trunk of hiddenSizes layers shared by the policy and baseline heads.
// The network expects inputs of batchSize rows of features columns.
func NewPolicyValueMLP(features, batchSize, actions int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	if features <= 0 {
		return nil, fmt.Errorf("newpolicyvaluemlp: invalid number of "+
			"features \n\twant(> 0)\n\thave(%v)", features)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("newpolicyvaluemlp: invalid batch size "+
			"\n\twant(> 0)\n\thave(%v)", batchSize)
	}
	if actions <= 0 {
		return nil, fmt.Errorf("newpolicyvaluemlp: invalid number of "+
			"actions \n\twant(> 0)\n\thave(%v)", actions)
	}
	if len(hiddenSizes) == 0 {
		return nil, fmt.Errorf("newpolicyvaluemlp: trunk must have at " +
			"least one hidden layer")
	}
	if len(hiddenSizes) != len(biases) {
		return nil, fmt.Errorf("newpolicyvaluemlp: invalid number of "+
			"biases \n\twant(%v)\n\thave(%v)", len(hiddenSizes), len(biases))
	}
	if len(hiddenSizes) != len(activations) {
		return nil, fmt.Errorf("newpolicyvaluemlp: invalid number of "+
			"activations \n\twant(%v)\n\thave(%v)", len(hiddenSizes),
			len(activations))
	}

	input := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batchSize, features),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	sizes := append([]int{features}, hiddenSizes...)
	trunk, err := addfcLayers(g, sizes, biases, init, activations, "Trunk")
	if err != nil {
		return nil, fmt.Errorf("newpolicyvaluemlp: could not create "+
			"trunk: %v", err)
	}

	trunkOut := hiddenSizes[len(hiddenSizes)-1]
	policyLayers, err := addfcLayers(g, []int{trunkOut, actions},
		[]bool{true}, init, []*Activation{Identity()}, "Policy")
	if err != nil {
		return nil, fmt.Errorf("newpolicyvaluemlp: could not create "+
			"policy head: %v", err)
	}
	baselineLayers, err := addfcLayers(g, []int{trunkOut, 1},
		[]bool{true}, init, []*Activation{Identity()}, "Baseline")
	if err != nil {
		return nil, fmt.Errorf("newpolicyvaluemlp: could not create "+
			"baseline head: %v", err)
	}

	network := &policyValueMLP{
		g:           g,
		trunk:       trunk,
		policy:      policyLayers[0],
		baseline:    baselineLayers[0],
		input:       input,
		features:    features,
		batchSize:   batchSize,
		actions:     actions,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
	}
	if err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("newpolicyvaluemlp: %v", err)
	}

	return network, nil
}

// fwd performs the forward pass of the policyValueMLP on the input
// node
func (p *policyValueMLP) fwd(input *G.Node) error {
	pred := input
	var err error
	for i, l := range p.trunk {
		if pred, err = l.fwd(pred); err != nil {
			return fmt.Errorf("fwd: could not compute forward pass of "+
				"layer %v: %v", i, err)
		}
	}

	if p.logitsNode, err = p.policy.fwd(pred); err != nil {
		return fmt.Errorf("fwd: could not compute forward pass of "+
			"policy head: %v", err)
	}
	if p.baselineNode, err = p.baseline.fwd(pred); err != nil {
		return fmt.Errorf("fwd: could not compute forward pass of "+
			"baseline head: %v", err)
	}

	G.Read(p.logitsNode, &p.logitsVal)
	G.Read(p.baselineNode, &p.baselineVal)

	return nil
}

// Graph returns the computational graph of the policyValueMLP
func (p *policyValueMLP) Graph() *G.ExprGraph {
	return p.g
}

// Clone clones a policyValueMLP
func (p *policyValueMLP) Clone() (NeuralNet, error) {
	return p.CloneWithBatch(p.batchSize)
}

// CloneWithBatch clones a policyValueMLP onto a fresh computational
// graph with a new input batch size
func (p *policyValueMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("clonewithbatch: invalid batch size "+
			"\n\twant(> 0)\n\thave(%v)", batchSize)
	}

	graph := G.NewGraph()
	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, p.features),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	trunk := make([]Layer, len(p.trunk))
	for i := range p.trunk {
		trunk[i] = p.trunk[i].CloneTo(graph)
	}

	network := &policyValueMLP{
		g:           graph,
		trunk:       trunk,
		policy:      p.policy.CloneTo(graph),
		baseline:    p.baseline.CloneTo(graph),
		input:       input,
		features:    p.features,
		batchSize:   batchSize,
		actions:     p.actions,
		hiddenSizes: p.hiddenSizes,
		biases:      p.biases,
		activations: p.activations,
	}
	if err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithbatch: could not clone: %v", err)
	}

	return network, nil
}

// BatchSize returns the batch size of inputs to the network
func (p *policyValueMLP) BatchSize() int {
	return p.batchSize
}

// Features returns the number of features in a single observation
// vector that the network takes as input
func (p *policyValueMLP) Features() int {
	return p.features
}

// Actions returns the number of actions the policy head produces
// logits for
func (p *policyValueMLP) Actions() int {
	return p.actions
}

// SetInput sets the value of the input node before running the forward
// pass
func (p *policyValueMLP) SetInput(input []float64) error {
	if len(input) != p.features*p.batchSize {
		msg := fmt.Sprintf("invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", p.features*p.batchSize, len(input))
		panic(msg)
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(p.input.Shape()...),
	)
	return G.Let(p.input, inputTensor)
}

// Set sets the weights of a policyValueMLP to be equal to the
// weights of another policyValueMLP
func (p *policyValueMLP) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := p.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("set: networks do not share an architecture "+
			"\n\twant(%v learnables)\n\thave(%v learnables)", len(nodes),
			len(sourceNodes))
	}

	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Polyak sets the weights of a policyValueMLP to be a polyak
// average between its existing weights and the weights of another
// policyValueMLP
func (p *policyValueMLP) Polyak(source NeuralNet, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := p.Learnables()
	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		G.Let(nodes[i], newWeights)
	}
	return nil
}

// Learnables returns the learnable nodes in a policyValueMLP
func (p *policyValueMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if p.learnables == nil {
		p.learnables = p.computeLearnables()
	}
	return p.learnables
}

func (p *policyValueMLP) computeLearnables() G.Nodes {
	layers := make([]Layer, 0, len(p.trunk)+2)
	layers = append(layers, p.trunk...)
	layers = append(layers, p.policy, p.baseline)

	learnables := make([]*G.Node, 0, 2*len(layers))
	for _, layer := range layers {
		learnables = append(learnables, layer.Weights())
		if bias := layer.Bias(); bias != nil {
			learnables = append(learnables, bias)
		}
	}
	return G.Nodes(learnables)
}

// Model returns the learnable nodes with their gradients
func (p *policyValueMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if p.model == nil {
		p.model = make([]G.ValueGrad, 0, len(p.Learnables()))
		for _, node := range p.Learnables() {
			p.model = append(p.model, node)
		}
	}
	return p.model
}

// Logits returns the graph node holding the policy head's output
func (p *policyValueMLP) Logits() *G.Node {
	return p.logitsNode
}

// Baseline returns the graph node holding the baseline head's output
func (p *policyValueMLP) Baseline() *G.Node {
	return p.baselineNode
}

// LogitsVal returns the logits produced on the most recent virtual
// machine run
func (p *policyValueMLP) LogitsVal() G.Value {
	return p.logitsVal
}

// BaselineVal returns the baseline values produced on the most recent
// virtual machine run
func (p *policyValueMLP) BaselineVal() G.Value {
	return p.baselineVal
}

// SaveWeightsTo gob-encodes the network's weights to w. Weights are
// stored by node name so that they can be restored into any network
// with the same architecture.
func SaveWeightsTo(net NeuralNet, w io.Writer) error {
	enc := gob.NewEncoder(w)

	learnables := net.Learnables()
	if err := enc.Encode(len(learnables)); err != nil {
		return fmt.Errorf("saveweightsto: could not encode learnable "+
			"count: %v", err)
	}

	for _, node := range learnables {
		if err := enc.Encode(node.Name()); err != nil {
			return fmt.Errorf("saveweightsto: could not encode name of "+
				"%v: %v", node.Name(), err)
		}
		dense, ok := node.Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("saveweightsto: learnable %v is not dense",
				node.Name())
		}
		if err := enc.Encode(dense); err != nil {
			return fmt.Errorf("saveweightsto: could not encode %v: %v",
				node.Name(), err)
		}
	}
	return nil
}

// LoadWeightsFrom restores weights saved by SaveWeightsTo into net
func LoadWeightsFrom(net NeuralNet, r io.Reader) error {
	dec := gob.NewDecoder(r)

	var count int
	if err := dec.Decode(&count); err != nil {
		return fmt.Errorf("loadweightsfrom: could not decode learnable "+
			"count: %v", err)
	}

	byName := make(map[string]*G.Node, len(net.Learnables()))
	for _, node := range net.Learnables() {
		byName[node.Name()] = node
	}
	if count != len(byName) {
		return fmt.Errorf("loadweightsfrom: architecture mismatch "+
			"\n\twant(%v learnables)\n\thave(%v learnables)", len(byName),
			count)
	}

	for i := 0; i < count; i++ {
		var name string
		if err := dec.Decode(&name); err != nil {
			return fmt.Errorf("loadweightsfrom: could not decode name "+
				"%v: %v", i, err)
		}
		dense := &tensor.Dense{}
		if err := dec.Decode(dense); err != nil {
			return fmt.Errorf("loadweightsfrom: could not decode weights "+
				"of %v: %v", name, err)
		}

		node, ok := byName[name]
		if !ok {
			return fmt.Errorf("loadweightsfrom: no learnable named %v", name)
		}
		if err := G.Let(node, dense); err != nil {
			return fmt.Errorf("loadweightsfrom: could not set %v: %v",
				name, err)
		}
	}
	return nil
}
