// Package server is the HTTP edge the reader UI talks to. It owns
// correlation-id assignment, bridges each HTTP call onto the boundary
// protocol, and maps error envelopes onto status codes. A retry in the UI
// is a plain resubmission: a new request, a new correlation id.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"feedgist/internal/worker"
)

type Server struct {
	client         *worker.Client
	engine         *gin.Engine
	requestTimeout time.Duration
	log            *slog.Logger
}

type summaryRequest struct {
	JobID     string `json:"jobId"`
	Content   string `json:"content"`
	Title     string `json:"title"`
	SourceURL string `json:"sourceUrl"`
}

func New(client *worker.Client, requestTimeout time.Duration, log *slog.Logger) *Server {
	s := &Server{
		client:         client,
		requestTimeout: requestTimeout,
		log:            log,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	api := engine.Group("/api")
	api.POST("/summaries", s.postSummary)
	api.GET("/statistics", s.getStatistics)
	api.GET("/health", s.getHealth)
	api.GET("/ready", s.getReady)

	s.engine = engine

	return s
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) postSummary(c *gin.Context) {
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"code":    string(worker.CodeInvalidInput),
			"message": "request body is not valid JSON",
		}})

		return
	}

	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	resp, ok := s.do(c, worker.Request{
		ID:   uuid.NewString(),
		Type: worker.TypeSubmitSummary,
		Submit: &worker.SubmitPayload{
			JobID:     req.JobID,
			Content:   req.Content,
			Title:     req.Title,
			SourceURL: req.SourceURL,
		},
	})
	if !ok {
		return
	}

	if resp.Type == worker.TypeError {
		c.JSON(statusFor(resp.Err.Code), gin.H{"error": resp.Err})

		return
	}

	c.JSON(http.StatusOK, resp.Summary)
}

func (s *Server) getStatistics(c *gin.Context) {
	resp, ok := s.do(c, worker.Request{
		ID:   uuid.NewString(),
		Type: worker.TypeGetStatistics,
	})
	if !ok {
		return
	}

	c.JSON(http.StatusOK, resp.Stats)
}

func (s *Server) getHealth(c *gin.Context) {
	resp, ok := s.do(c, worker.Request{
		ID:   uuid.NewString(),
		Type: worker.TypeHealthCheck,
	})
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"probes":    resp.Probes,
		"timestamp": resp.Timestamp,
	})
}

func (s *Server) getReady(c *gin.Context) {
	if !s.client.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ready":    true,
		"workerId": s.client.WorkerID(),
	})
}

// do runs one boundary exchange within the caller-side deadline. It writes
// the timeout/unavailability response itself and reports whether the
// exchange produced an envelope.
func (s *Server) do(c *gin.Context, req worker.Request) (worker.Response, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		s.log.ErrorContext(ctx, "Boundary exchange failed",
			"error", err,
			"requestType", string(req.Type),
			"correlationID", req.ID)

		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}

		c.JSON(status, gin.H{"error": gin.H{
			"code":    string(worker.CodeInternalFault),
			"message": err.Error(),
		}})

		return worker.Response{}, false
	}

	return resp, true
}

func statusFor(code worker.ErrorCode) int {
	switch code {
	case worker.CodeInvalidInput, worker.CodeUnknownMessageType:
		return http.StatusBadRequest
	case worker.CodeNoAvailableBackend:
		return http.StatusServiceUnavailable
	case worker.CodeBackendError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
