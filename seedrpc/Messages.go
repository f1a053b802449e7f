// Package seedrpc implements the remote calls between actors and the
// learner. The learner runs an HTTP server with one route per call;
// actors hold a Client. Request and response bodies are JSON, and
// failed calls carry an error envelope that reconstructs the typed
// session errors on the client side.
package seedrpc

import (
	"gonum.org/v1/gonum/mat"

	ts "github.com/samuelfneumann/goseed/timestep"
)

// Routes of the learner's HTTP server
const (
	routeCheckIn  = "/check_in"
	routeSubmit   = "/submit"
	routeCheckOut = "/check_out"
)

// CheckInRequest registers a caller with the learner
type CheckInRequest struct {
	Caller string `json:"caller"`
	Rank   int    `json:"rank"`
}

// CheckInResponse carries the session token together with everything
// an actor needs to configure itself: which source ids it owns and the
// shape of observations and actions the learner's model expects.
type CheckInResponse struct {
	Token        string `json:"token"`
	SourceIDs    []int  `json:"source_ids"`
	ObsDim       int    `json:"obs_dim"`
	NumActions   int    `json:"num_actions"`
	EnvsPerActor int    `json:"envs_per_actor"`
}

// SubmitRequest carries one environment timestep to the learner for
// evaluation. Every field of the timestep rides along so the learner
// can both act on the observation and record the episode bookkeeping.
type SubmitRequest struct {
	SourceID      int       `json:"source_id"`
	Obs           []float64 `json:"obs"`
	Reward        float64   `json:"reward"`
	Done          bool      `json:"done"`
	EpisodeID     int64     `json:"episode_id"`
	PrevEpisodeID int64     `json:"prev_episode_id"`
	EpisodeStep   int       `json:"episode_step"`
	EpisodeReturn float64   `json:"episode_return"`

	// Metrics holds per-call measurements such as the latency of the
	// previous call. They are recorded alongside the step but never
	// enter inference batches.
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// NewSubmitRequest flattens a timestep into a submit request for the
// given source
func NewSubmitRequest(sourceID int, step ts.TimeStep) *SubmitRequest {
	return &SubmitRequest{
		SourceID:      sourceID,
		Obs:           step.ObsSlice(),
		Reward:        step.Reward,
		Done:          step.Done,
		EpisodeID:     step.EpisodeID,
		PrevEpisodeID: step.PrevEpisodeID,
		EpisodeStep:   step.EpisodeStep,
		EpisodeReturn: step.EpisodeReturn,
		Metrics:       step.Metrics,
	}
}

// TimeStep reassembles the submitted timestep. The observation must be
// non-empty; callers validate the observation length against the
// environment spec first.
func (r *SubmitRequest) TimeStep() ts.TimeStep {
	step := ts.New(mat.NewVecDense(len(r.Obs), r.Obs), r.Reward, r.Done,
		r.EpisodeID, r.PrevEpisodeID, r.EpisodeStep, r.EpisodeReturn)
	step.Metrics = r.Metrics
	return step
}

// SubmitResponse answers a submit with the action to apply. The
// learner echoes the request's source id so callers can assert that
// responses align with requests. Once Shutdown is true the action is a
// placeholder and the caller should stop submitting.
type SubmitResponse struct {
	SourceID      int   `json:"source_id"`
	Action        int   `json:"action"`
	Shutdown      bool  `json:"shutdown"`
	TrainingSteps int64 `json:"training_steps"`
}

// CheckOutRequest removes a caller's session
type CheckOutRequest struct {
	Caller string `json:"caller"`
}
