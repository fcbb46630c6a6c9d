// Package worker hosts the dispatcher inside its own goroutine and mediates
// all communication with the interactive process through correlated request
// and response envelopes, so a slow inference call never blocks the caller.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"feedgist/internal/dispatcher"
	"feedgist/internal/sanitize"
)

const defaultQueueSize = 256

// SummaryStore lets the worker reuse summaries of identical article content.
// A nil store disables reuse. Implementations log their own failures; a
// broken store must never fail a job.
type SummaryStore interface {
	Lookup(ctx context.Context, content string) (string, bool)
	Save(ctx context.Context, content, summary string)
}

// Worker is the execution boundary. It owns exactly one dispatcher for its
// whole lifetime, consumes envelopes in arrival order and answers every one
// of them exactly once with the same correlation id.
type Worker struct {
	id         string
	dispatcher *dispatcher.Dispatcher
	store      SummaryStore
	requests   chan Request
	responses  chan Response
	ctx        context.Context
	cancel     context.CancelFunc
	inflight   sync.WaitGroup
	log        *slog.Logger
}

// New builds the worker and starts its processing goroutine. The ready
// envelope is emitted before any request is consumed.
func New(
	d *dispatcher.Dispatcher,
	store SummaryStore,
	queueSize int,
	log *slog.Logger,
) *Worker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		id:         uuid.NewString(),
		dispatcher: d,
		store:      store,
		requests:   make(chan Request, queueSize),
		responses:  make(chan Response, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		log:        log,
	}

	go w.run()

	return w
}

// ID returns the worker's identity, also carried by the ready envelope.
func (w *Worker) ID() string {
	return w.id
}

// Submit enqueues one envelope. It fails when the queue is full or the
// worker is stopping; it never blocks on a slow job.
func (w *Worker) Submit(req Request) error {
	if w.ctx.Err() != nil {
		return fmt.Errorf("worker is stopped: %w", w.ctx.Err())
	}

	select {
	case w.requests <- req:
		return nil
	case <-w.ctx.Done():
		return fmt.Errorf("worker is stopped: %w", w.ctx.Err())
	default:
		return errors.New("request queue is full")
	}
}

// Responses exposes the outbound envelope stream. The channel closes after
// Stop once every queued and in-flight envelope has been answered.
func (w *Worker) Responses() <-chan Response {
	return w.responses
}

// Stop cancels the worker. Queued envelopes are answered with an error
// descriptor during drain; in-flight calls are cut short by context
// cancellation.
func (w *Worker) Stop() {
	w.cancel()
}

func (w *Worker) run() {
	defer close(w.responses)

	w.respond(Response{
		Type:      TypeReady,
		Ready:     &ReadyPayload{WorkerID: w.id},
		Timestamp: time.Now(),
	})
	w.log.Info("Worker is ready",
		"workerID", w.id)

	for {
		select {
		case req := <-w.requests:
			w.handle(req)
		case <-w.ctx.Done():
			w.drain()
			w.inflight.Wait()
			w.drain()

			return
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case req := <-w.requests:
			w.respond(w.errorResponse(req.ID, CodeInternalFault,
				"worker is shutting down", "", 0))
		default:
			return
		}
	}
}

// handle routes one envelope. Summarization runs in its own goroutine so a
// blocking inference call never delays statistics or health envelopes;
// per-instance statistics already serialize inside the dispatcher.
func (w *Worker) handle(req Request) {
	switch req.Type {
	case TypeSubmitSummary:
		w.inflight.Add(1)

		go func() {
			defer w.inflight.Done()
			w.handleSubmit(req)
		}()
	case TypeHealthCheck:
		w.handleHealthCheck(req)
	case TypeGetStatistics:
		w.handleStatistics(req)
	default:
		w.respond(w.errorResponse(req.ID, CodeUnknownMessageType,
			fmt.Sprintf("unknown message type %q", req.Type), "", 0))
	}
}

func (w *Worker) handleSubmit(req Request) {
	start := time.Now()

	// A programming error inside a single job must never take the worker
	// down; it degrades to an InternalFault envelope instead.
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Recovered from panic while handling job",
				"panic", r,
				"correlationID", req.ID)

			w.respond(w.errorResponse(req.ID, CodeInternalFault,
				"internal fault while handling job",
				fmt.Sprintf("%v", r),
				time.Since(start).Milliseconds()))
		}
	}()

	if req.Submit == nil {
		w.respond(w.errorResponse(req.ID, CodeInvalidInput,
			"submit-summary payload is missing", "", 0))

		return
	}

	content := sanitize.Clean(req.Submit.Content)

	if w.store != nil && content != "" {
		if summary, ok := w.store.Lookup(w.ctx, content); ok {
			w.respond(w.successResponse(req, summary, start, true))

			return
		}
	}

	summary, err := w.dispatcher.GenerateSummary(w.ctx, content)
	if err != nil {
		w.respond(w.errorResponseFor(req.ID, err, start))

		return
	}

	if w.store != nil {
		w.store.Save(w.ctx, content, summary)
	}

	w.respond(w.successResponse(req, summary, start, false))
}

func (w *Worker) handleHealthCheck(req Request) {
	w.respond(Response{
		ID:        req.ID,
		Type:      TypeSuccess,
		Probes:    w.dispatcher.HealthCheck(w.ctx),
		Timestamp: time.Now(),
	})
}

func (w *Worker) handleStatistics(req Request) {
	stats := w.dispatcher.Statistics()

	w.respond(Response{
		ID:        req.ID,
		Type:      TypeSuccess,
		Stats:     &stats,
		Timestamp: time.Now(),
	})
}

func (w *Worker) successResponse(
	req Request,
	summary string,
	start time.Time,
	cached bool,
) Response {
	return Response{
		ID:   req.ID,
		Type: TypeSuccess,
		Summary: &SummaryPayload{
			JobID:            req.Submit.JobID,
			Summary:          summary,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			WordCount:        len(strings.Fields(summary)),
			SummaryLength:    len([]rune(summary)),
			Cached:           cached,
		},
		Timestamp: time.Now(),
	}
}

// errorResponseFor maps dispatcher errors onto the protocol taxonomy.
func (w *Worker) errorResponseFor(id string, err error, start time.Time) Response {
	elapsed := time.Since(start).Milliseconds()

	var backendErr *dispatcher.BackendError

	switch {
	case errors.Is(err, dispatcher.ErrInvalidInput):
		return w.errorResponse(id, CodeInvalidInput,
			"content is empty after sanitization", "", elapsed)
	case errors.Is(err, dispatcher.ErrNoAvailableBackend):
		return w.errorResponse(id, CodeNoAvailableBackend,
			"no backend is available", "", elapsed)
	case errors.As(err, &backendErr):
		return w.errorResponse(id, CodeBackendError,
			fmt.Sprintf("backend %s (%s) failed", backendErr.Endpoint, backendErr.Model),
			backendErr.Err.Error(), elapsed)
	default:
		return w.errorResponse(id, CodeInternalFault, err.Error(), "", elapsed)
	}
}

func (w *Worker) errorResponse(
	id string,
	code ErrorCode,
	message string,
	detail string,
	elapsedMs int64,
) Response {
	return Response{
		ID:   id,
		Type: TypeError,
		Err: &ErrorPayload{
			Code:             code,
			Message:          message,
			Detail:           detail,
			ProcessingTimeMs: elapsedMs,
		},
		Timestamp: time.Now(),
	}
}

// respond prefers delivery: the buffered send is tried first so responses
// produced during shutdown still reach a live consumer.
func (w *Worker) respond(resp Response) {
	select {
	case w.responses <- resp:
		return
	default:
	}

	select {
	case w.responses <- resp:
	case <-w.ctx.Done():
	}
}
