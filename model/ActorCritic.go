package model

import (
	"fmt"
	"io"
	"math"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	env "github.com/samuelfneumann/goseed/environment"
	"github.com/samuelfneumann/goseed/initwfn"
	"github.com/samuelfneumann/goseed/network"
	"github.com/samuelfneumann/goseed/solver"
	"github.com/samuelfneumann/goseed/trajectory"
	"github.com/samuelfneumann/goseed/utils/op"
)

// ActorCriticConfig describes an ActorCritic model
type ActorCriticConfig struct {
	Layers      []int                 // Hidden layer sizes in the trunk
	Biases      []bool                // Whether each hidden layer has a bias
	Activations []*network.Activation // Activation of each hidden layer
	InitWFn     *initwfn.InitWFn      // Weight initialization
	Solver      *solver.Solver        // Solver for learning weights

	EvalBatch         int // Observation capacity of the behaviour net
	BatchTrajectories int // Trajectories per training batch
	Rollout           int // Rows per trajectory

	Gamma        float64 // Reward discount
	EntropyCost  float64 // Entropy regularization scale
	BaselineCost float64 // Scale of the value loss

	// TotalEnvSteps linearly anneals the learning rate to zero over
	// this many environment steps. Zero disables annealing.
	TotalEnvSteps int64
}

// Validate checks whether the configuration describes a valid
// ActorCritic model.
func (c ActorCriticConfig) Validate() error {
	if len(c.Layers) == 0 {
		return fmt.Errorf("validate: no hidden layers")
	}
	if len(c.Layers) != len(c.Biases) {
		return fmt.Errorf("validate: invalid number of biases "+
			"\n\twant(%v)\n\thave(%v)", len(c.Layers), len(c.Biases))
	}
	if len(c.Layers) != len(c.Activations) {
		return fmt.Errorf("validate: invalid number of activations "+
			"\n\twant(%v)\n\thave(%v)", len(c.Layers), len(c.Activations))
	}
	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer")
	}
	if c.Solver == nil {
		return fmt.Errorf("validate: no solver")
	}
	if c.EvalBatch <= 0 {
		return fmt.Errorf("validate: illegal behaviour batch size "+
			"\n\twant(> 0)\n\thave(%v)", c.EvalBatch)
	}
	if c.BatchTrajectories <= 0 {
		return fmt.Errorf("validate: illegal number of trajectories per "+
			"batch \n\twant(> 0)\n\thave(%v)", c.BatchTrajectories)
	}
	if c.Rollout <= 0 {
		return fmt.Errorf("validate: illegal rollout length "+
			"\n\twant(> 0)\n\thave(%v)", c.Rollout)
	}
	if c.Gamma <= 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: illegal discount "+
			"\n\twant(0 < γ <= 1)\n\thave(%v)", c.Gamma)
	}
	if c.EntropyCost < 0 {
		return fmt.Errorf("validate: illegal entropy cost "+
			"\n\twant(>= 0)\n\thave(%v)", c.EntropyCost)
	}
	if c.BaselineCost < 0 {
		return fmt.Errorf("validate: illegal baseline cost "+
			"\n\twant(>= 0)\n\thave(%v)", c.BaselineCost)
	}
	if c.TotalEnvSteps < 0 {
		return fmt.Errorf("validate: illegal annealing horizon "+
			"\n\twant(>= 0)\n\thave(%v)", c.TotalEnvSteps)
	}
	return nil
}

// ActorCritic is a shared policy and value model. A behaviour network
// evaluates padded observation batches during collection while a
// training network of fixed geometry learns from stacked batches. The
// behaviour weights are refreshed from the training weights after
// every update, and a mutex serializes evaluation against training so
// collection never reads weights mid-update.
type ActorCritic struct {
	mu sync.Mutex

	behaviour   network.NeuralNet
	behaviourVM G.VM

	train   network.NeuralNet
	trainVM G.VM
	solver  *solver.Solver

	// Training placeholders
	actionIndices *G.Node
	advantages    *G.Node
	returns       *G.Node
	mask          *G.Node

	lossVal     G.Value
	policyVal   G.Value
	baselineVal G.Value
	entropyVal  G.Value

	features     int
	numActions   int
	evalBatch    int
	trajectories int
	rollout      int
	n            int

	gamma float64

	baseLearnRate float64
	totalEnvSteps int64

	trainingSteps atomic.Int64
	envSteps      atomic.Int64

	src rand.Source
}

// NewActorCritic returns a new ActorCritic for environments described
// by spec.
func NewActorCritic(spec env.Spec, c ActorCriticConfig,
	seed uint64) (*ActorCritic, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newactorcritic: %v", err)
	}

	features := spec.ObservationDim
	numActions := spec.NumActions
	n := c.BatchTrajectories * c.Rollout

	// Training network and its loss
	g := G.NewGraph()
	train, err := network.NewPolicyValueMLP(features, n, numActions, g,
		c.Layers, c.Biases, c.InitWFn.InitWFn(), c.Activations)
	if err != nil {
		return nil, fmt.Errorf("newactorcritic: could not create training "+
			"network: %v", err)
	}

	logProbs := op.LogSoftmax(train.Logits(), 1)

	// Log probability of the actions that were taken
	actionIndices := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(n, numActions),
		G.WithName("actionIndices"),
	)
	chosenLogProb := G.Must(G.HadamardProd(actionIndices, logProbs))
	chosenLogProb = G.Must(G.Sum(chosenLogProb, 1))

	advantages := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(n),
		G.WithName("advantages"),
	)
	negative := G.NewConstant(-1.0)
	policyLoss := G.Must(G.HadamardProd(chosenLogProb, advantages))
	policyLoss = G.Must(G.Sum(policyLoss))
	policyLoss = G.Must(G.Mul(negative, policyLoss))

	// Value loss against the return targets on valid rows only
	returns := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(n),
		G.WithName("returns"),
	)
	mask := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(n),
		G.WithName("mask"),
	)
	baseline := G.Must(G.Ravel(train.Baseline()))
	half := G.NewConstant(0.5)
	diff := G.Must(G.Sub(returns, baseline))
	diff = G.Must(G.HadamardProd(diff, mask))
	baselineLoss := G.Must(G.Sum(G.Must(G.Square(diff))))
	baselineLoss = G.Must(G.Mul(half, baselineLoss))
	baselineLoss = G.Must(G.Mul(G.NewConstant(c.BaselineCost), baselineLoss))

	// Negative entropy of the policy on valid rows; adding it to the
	// loss pushes the policy away from determinism
	probs := G.Must(G.Exp(logProbs))
	negEntropy := G.Must(G.HadamardProd(probs, logProbs))
	negEntropy = G.Must(G.Sum(negEntropy, 1))
	negEntropy = G.Must(G.HadamardProd(negEntropy, mask))
	negEntropy = G.Must(G.Sum(negEntropy))
	entropyLoss := G.Must(G.Mul(G.NewConstant(c.EntropyCost), negEntropy))

	loss := G.Must(G.Add(policyLoss, baselineLoss))
	loss = G.Must(G.Add(loss, entropyLoss))

	if _, err := G.Grad(loss, train.Learnables()...); err != nil {
		return nil, fmt.Errorf("newactorcritic: could not compute "+
			"gradient: %v", err)
	}
	trainVM := G.NewTapeMachine(g, G.BindDualValues(train.Learnables()...))

	// Behaviour network for action selection during collection
	behaviour, err := train.CloneWithBatch(c.EvalBatch)
	if err != nil {
		return nil, fmt.Errorf("newactorcritic: could not create behaviour "+
			"network: %v", err)
	}
	behaviourVM := G.NewTapeMachine(behaviour.Graph())

	actorCritic := &ActorCritic{
		behaviour:   behaviour,
		behaviourVM: behaviourVM,

		train:   train,
		trainVM: trainVM,
		solver:  c.Solver,

		actionIndices: actionIndices,
		advantages:    advantages,
		returns:       returns,
		mask:          mask,

		features:     features,
		numActions:   numActions,
		evalBatch:    c.EvalBatch,
		trajectories: c.BatchTrajectories,
		rollout:      c.Rollout,
		n:            n,

		gamma: c.Gamma,

		baseLearnRate: c.Solver.LearnRate(),
		totalEnvSteps: c.TotalEnvSteps,

		src: rand.NewSource(seed),
	}
	G.Read(loss, &actorCritic.lossVal)
	G.Read(policyLoss, &actorCritic.policyVal)
	G.Read(baselineLoss, &actorCritic.baselineVal)
	G.Read(entropyLoss, &actorCritic.entropyVal)

	return actorCritic, nil
}

// Evaluate runs the behaviour network over n observations and samples
// an action for each from the softmax of its logits. When n is below
// the behaviour batch capacity the remaining rows are zero padded and
// their outputs discarded.
func (a *ActorCritic) Evaluate(obs []float64, n int) (*Evaluation, error) {
	if n <= 0 || n > a.evalBatch {
		return nil, fmt.Errorf("evaluate: illegal observation count "+
			"\n\twant(1 <= count <= %v)\n\thave(%v)", a.evalBatch, n)
	}
	if len(obs) != n*a.features {
		return nil, fmt.Errorf("evaluate: illegal observation size "+
			"\n\twant(%v)\n\thave(%v)", n*a.features, len(obs))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	input := obs
	if n < a.evalBatch {
		input = make([]float64, a.evalBatch*a.features)
		copy(input, obs)
	}
	if err := a.behaviour.SetInput(input); err != nil {
		return nil, fmt.Errorf("evaluate: %v", err)
	}
	if err := a.behaviourVM.RunAll(); err != nil {
		return nil, fmt.Errorf("evaluate: forward pass failed: %v", err)
	}

	eval := &Evaluation{
		Actions:       make([]int, n),
		Logits:        make([]float64, n*a.numActions),
		Baselines:     make([]float64, n),
		NumActions:    a.numActions,
		TrainingSteps: a.trainingSteps.Load(),
	}
	copy(eval.Logits, a.behaviour.LogitsVal().Data().([]float64))
	copy(eval.Baselines, a.behaviour.BaselineVal().Data().([]float64))
	a.behaviourVM.Reset()

	weights := make([]float64, a.numActions)
	for i := 0; i < n; i++ {
		row := eval.Logits[i*a.numActions : (i+1)*a.numActions]
		logZ := floats.LogSumExp(row)
		for j, logit := range row {
			weights[j] = math.Exp(logit - logZ)
		}
		dist := distuv.NewCategorical(weights, a.src)
		eval.Actions[i] = int(dist.Rand())
	}

	return eval, nil
}

// TrainStep performs one gradient update on a stacked batch and then
// refreshes the behaviour network with the new weights.
func (a *ActorCritic) TrainStep(batch *trajectory.Batch) (*TrainMetrics,
	error) {
	if batch.Size != a.trajectories || batch.Rollout != a.rollout {
		return nil, fmt.Errorf("trainstep: illegal batch geometry "+
			"\n\twant(%v x %v)\n\thave(%v x %v)", a.trajectories, a.rollout,
			batch.Size, batch.Rollout)
	}
	if batch.ObsDim != a.features || batch.NumActions != a.numActions {
		return nil, fmt.Errorf("trainstep: illegal batch dimensions "+
			"\n\twant(%v obs, %v actions)\n\thave(%v obs, %v actions)",
			a.features, a.numActions, batch.ObsDim, batch.NumActions)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	returns := returnsToGo(batch, a.gamma)

	// One-hot actions and advantages; padding rows contribute nothing
	actions := make([]float64, a.n*a.numActions)
	advantages := make([]float64, a.n)
	for i := 0; i < a.n; i++ {
		if batch.Mask[i] == 0 {
			continue
		}
		actions[i*a.numActions+batch.Actions[i]] = 1.0
		advantages[i] = returns[i] - batch.Baselines[i]
	}

	err := G.Let(a.actionIndices, tensor.NewDense(tensor.Float64,
		a.actionIndices.Shape(), tensor.WithBacking(actions)))
	if err != nil {
		return nil, fmt.Errorf("trainstep: could not set actions: %v", err)
	}
	err = G.Let(a.advantages, tensor.NewDense(tensor.Float64,
		a.advantages.Shape(), tensor.WithBacking(advantages)))
	if err != nil {
		return nil, fmt.Errorf("trainstep: could not set advantages: %v", err)
	}
	err = G.Let(a.returns, tensor.NewDense(tensor.Float64,
		a.returns.Shape(), tensor.WithBacking(returns)))
	if err != nil {
		return nil, fmt.Errorf("trainstep: could not set return targets: %v",
			err)
	}
	err = G.Let(a.mask, tensor.NewDense(tensor.Float64, a.mask.Shape(),
		tensor.WithBacking(batch.Mask)))
	if err != nil {
		return nil, fmt.Errorf("trainstep: could not set mask: %v", err)
	}
	if err := a.train.SetInput(batch.Obs.Data().([]float64)); err != nil {
		return nil, fmt.Errorf("trainstep: %v", err)
	}

	if err := a.trainVM.RunAll(); err != nil {
		return nil, fmt.Errorf("trainstep: forward pass failed: %v", err)
	}
	if err := a.solver.Step(a.train.Model()); err != nil {
		return nil, fmt.Errorf("trainstep: could not apply gradients: %v",
			err)
	}
	a.trainVM.Reset()

	steps := a.trainingSteps.Inc()
	envSteps := a.envSteps.Add(int64(batch.Steps()))

	lr := a.solver.LearnRate()
	if a.totalEnvSteps > 0 {
		trained := envSteps
		if trained > a.totalEnvSteps {
			trained = a.totalEnvSteps
		}
		lr = a.baseLearnRate *
			(1.0 - float64(trained)/float64(a.totalEnvSteps))
		a.solver.SetLearnRate(lr)
	}

	// Hand the new weights to the behaviour network
	if err := a.behaviour.Set(a.train); err != nil {
		return nil, fmt.Errorf("trainstep: could not refresh behaviour "+
			"weights: %v", err)
	}

	return &TrainMetrics{
		TrainingSteps: steps,
		EnvSteps:      envSteps,
		Loss:          a.lossVal.Data().(float64),
		PolicyLoss:    a.policyVal.Data().(float64),
		BaselineLoss:  a.baselineVal.Data().(float64),
		EntropyLoss:   a.entropyVal.Data().(float64),
		BatchSteps:    batch.Steps(),
		LearnRate:     lr,
	}, nil
}

// TrainingSteps returns the number of gradient updates taken
func (a *ActorCritic) TrainingSteps() int64 {
	return a.trainingSteps.Load()
}

// EnvSteps returns the cumulative number of environment steps trained
// on
func (a *ActorCritic) EnvSteps() int64 {
	return a.envSteps.Load()
}

// Checkpoint serializes the training network weights
func (a *ActorCritic) Checkpoint(w io.Writer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return network.SaveWeightsTo(a.train, w)
}

// Restore loads weights written by Checkpoint into both networks
func (a *ActorCritic) Restore(r io.Reader) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := network.LoadWeightsFrom(a.train, r); err != nil {
		return fmt.Errorf("restore: %v", err)
	}
	return a.behaviour.Set(a.train)
}
