package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Client is the caller side of the boundary protocol. It owns the mapping
// from in-flight correlation ids to waiting callers and demultiplexes the
// worker's response stream. Responses whose waiter has already given up are
// discarded.
type Client struct {
	worker *Worker
	log    *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Response

	ready    chan struct{}
	workerID string
}

// NewClient wraps a worker and starts routing its responses.
func NewClient(w *Worker, log *slog.Logger) *Client {
	c := &Client{
		worker:  w,
		log:     log,
		pending: make(map[string]chan Response),
		ready:   make(chan struct{}),
	}

	go c.route()

	return c
}

// WaitReady blocks until the worker's ready envelope has been observed.
// Jobs must not be submitted before that.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker never became ready: %w", ctx.Err())
	}
}

// Ready reports whether the ready envelope has been observed, without
// blocking.
func (c *Client) Ready() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// WorkerID returns the identity carried by the ready envelope, or an empty
// string before readiness.
func (c *Client) WorkerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.workerID
}

// Do submits one envelope and waits for the correlated response. The
// request's ID must be unique among in-flight calls; the caller bounds the
// wait through ctx. On ctx expiry the eventual response is discarded.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		return Response{}, errors.New("request id is empty")
	}

	ch := make(chan Response, 1)

	c.mu.Lock()
	if _, exists := c.pending[req.ID]; exists {
		c.mu.Unlock()

		return Response{}, fmt.Errorf("correlation id %q is already in flight", req.ID)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.worker.Submit(req); err != nil {
		return Response{}, fmt.Errorf("submit request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return Response{}, fmt.Errorf("await response: %w", ctx.Err())
	}
}

// route runs until the worker closes its response stream. Arrival order
// carries no meaning; only correlation ids do.
func (c *Client) route() {
	for resp := range c.worker.Responses() {
		if resp.Type == TypeReady {
			c.mu.Lock()
			if resp.Ready != nil {
				c.workerID = resp.Ready.WorkerID
			}
			c.mu.Unlock()

			close(c.ready)

			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if !ok {
			c.log.Debug("Discarding response with no waiter",
				"correlationID", resp.ID,
				"responseType", string(resp.Type))

			continue
		}

		ch <- resp
	}
}
