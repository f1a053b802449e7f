package seedrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// callTimeout bounds every remote call. Submits wait out inference
// batching and any training step holding the model lock, so the bound
// is generous.
const callTimeout = 60 * time.Second

// Client issues remote calls to a learner's Server
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a Client calling the learner at base, e.g.
// "http://localhost:5001"
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: callTimeout},
	}
}

// CheckIn registers caller with the learner
func (c *Client) CheckIn(caller string, rank int) (*CheckInResponse, error) {
	request := CheckInRequest{Caller: caller, Rank: rank}
	response := new(CheckInResponse)
	if err := c.post(routeCheckIn, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

// Submit sends one timestep for evaluation, blocking until the learner
// answers with an action
func (c *Client) Submit(request *SubmitRequest) (*SubmitResponse, error) {
	response := new(SubmitResponse)
	if err := c.post(routeSubmit, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

// CheckOut removes caller's session
func (c *Client) CheckOut(caller string) error {
	return c.post(routeCheckOut, CheckOutRequest{Caller: caller}, nil)
}

// post runs one JSON round trip, decoding error envelopes back into
// typed errors
func (c *Client) post(route string, payload, reply interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("post %v: %v", route, err)
	}

	response, err := c.http.Post(c.base+route, "application/json",
		bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post %v: %v", route, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		var failure errorEnvelope
		if err := json.NewDecoder(response.Body).Decode(&failure); err != nil {
			return fmt.Errorf("post %v: status %v", route,
				response.StatusCode)
		}
		return failure.asError(strings.TrimPrefix(route, "/"))
	}

	if reply == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(reply); err != nil {
		return fmt.Errorf("post %v: %v", route, err)
	}
	return nil
}
