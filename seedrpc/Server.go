package seedrpc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Callee is the learner-side handler of remote calls. Session protocol
// errors returned by a Callee cross the wire typed; any other error is
// reported to the caller as an internal failure.
type Callee interface {
	// CheckIn registers a new session for caller
	CheckIn(caller string, rank int) (*CheckInResponse, error)

	// Submit evaluates one timestep, blocking until the learner has
	// batched it and run the model
	Submit(request *SubmitRequest) (*SubmitResponse, error)

	// CheckOut removes caller's session
	CheckOut(caller string) error
}

// Server exposes a Callee over HTTP
type Server struct {
	callee Callee
	http   *http.Server
}

// NewServer returns a Server for callee listening on addr once Serve
// is called
func NewServer(addr string, callee Callee) (*Server, error) {
	if callee == nil {
		return nil, fmt.Errorf("newServer: no callee")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	server := &Server{callee: callee}
	engine.POST(routeCheckIn, server.handleCheckIn)
	engine.POST(routeSubmit, server.handleSubmit)
	engine.POST(routeCheckOut, server.handleCheckOut)

	server.http = &http.Server{Addr: addr, Handler: engine}
	return server, nil
}

// Handler returns the server's route handler, e.g. for serving on a
// caller-managed listener.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Serve blocks accepting calls until Stop is called
func (s *Server) Serve() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down, waiting for in-flight calls until ctx
// expires
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleCheckIn(c *gin.Context) {
	var request CheckInRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{
			Error: err.Error(),
			Kind:  kindBadRequest,
		})
		return
	}

	response, err := s.callee.CheckIn(request.Caller, request.Rank)
	if err != nil {
		c.JSON(statusOf(err), envelope(err))
		return
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleSubmit(c *gin.Context) {
	var request SubmitRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{
			Error: err.Error(),
			Kind:  kindBadRequest,
		})
		return
	}

	response, err := s.callee.Submit(&request)
	if err != nil {
		c.JSON(statusOf(err), envelope(err))
		return
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleCheckOut(c *gin.Context) {
	var request CheckOutRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{
			Error: err.Error(),
			Kind:  kindBadRequest,
		})
		return
	}

	if err := s.callee.CheckOut(request.Caller); err != nil {
		c.JSON(statusOf(err), envelope(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}
