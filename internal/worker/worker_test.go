package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"feedgist/internal/dispatcher"
)

type stubClient struct {
	mu          sync.Mutex
	summarizeFn func(content string) (string, error)
	calls       int
}

func (s *stubClient) Summarize(_ context.Context, content string) (string, error) {
	s.mu.Lock()
	s.calls++
	fn := s.summarizeFn
	s.mu.Unlock()

	if fn != nil {
		return fn(content)
	}

	return "a short summary", nil
}

func (s *stubClient) Probe(_ context.Context) error {
	return nil
}

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]string)}
}

func (s *memoryStore) Lookup(_ context.Context, content string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, ok := s.entries[content]

	return summary, ok
}

func (s *memoryStore) Save(_ context.Context, content, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[content] = summary
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(
	t *testing.T,
	client *stubClient,
	store SummaryStore,
) (*Worker, *Client) {
	t.Helper()

	d, err := dispatcher.New(dispatcher.Config{
		Backends: []dispatcher.BackendConfig{
			{Endpoint: "http://a/v1", Model: "m", Weight: 1},
		},
		CallTimeout:      time.Second,
		FailureThreshold: 3,
	}, func(_, _ string) dispatcher.InferenceClient {
		return client
	}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := New(d, store, 16, testLogger())
	t.Cleanup(w.Stop)

	c := NewClient(w, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.WaitReady(ctx); err != nil {
		t.Fatalf("worker never became ready: %v", err)
	}

	return w, c
}

func TestWorkerEmitsReadyBeforeJobs(t *testing.T) {
	w, c := newHarness(t, &stubClient{}, nil)

	if !c.Ready() {
		t.Fatalf("expected readiness to be observed")
	}

	if c.WorkerID() != w.ID() {
		t.Fatalf("ready identity %q does not match worker id %q", c.WorkerID(), w.ID())
	}
}

func TestSubmitSummarySuccessEnvelope(t *testing.T) {
	_, c := newHarness(t, &stubClient{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id := uuid.NewString()
	resp, err := c.Do(ctx, Request{
		ID:   id,
		Type: TypeSubmitSummary,
		Submit: &SubmitPayload{
			JobID:     "job-1",
			Content:   "<p>An article about Go schedulers.</p>",
			Title:     "Schedulers",
			SourceURL: "https://example.com/a",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.ID != id {
		t.Fatalf("response id %q does not match request id %q", resp.ID, id)
	}

	if resp.Type != TypeSuccess || resp.Summary == nil {
		t.Fatalf("expected success envelope, got %+v", resp)
	}

	if resp.Summary.JobID != "job-1" {
		t.Fatalf("unexpected job id: %q", resp.Summary.JobID)
	}

	if resp.Summary.Summary != "a short summary" {
		t.Fatalf("unexpected summary: %q", resp.Summary.Summary)
	}

	if resp.Summary.WordCount != 3 {
		t.Fatalf("unexpected word count: %d", resp.Summary.WordCount)
	}

	if resp.Summary.SummaryLength != len("a short summary") {
		t.Fatalf("unexpected summary length: %d", resp.Summary.SummaryLength)
	}

	if resp.Summary.Cached {
		t.Fatalf("expected a fresh summary, got a cached one")
	}
}

func TestSubmitWhitespaceContentFailsWithoutTouchingStats(t *testing.T) {
	client := &stubClient{}
	_, c := newHarness(t, client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Do(ctx, Request{
		ID:     uuid.NewString(),
		Type:   TypeSubmitSummary,
		Submit: &SubmitPayload{JobID: "job-1", Content: "   "},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Type != TypeError || resp.Err == nil {
		t.Fatalf("expected error envelope, got %+v", resp)
	}

	if resp.Err.Code != CodeInvalidInput {
		t.Fatalf("expected InvalidInput, got %s", resp.Err.Code)
	}

	if client.callCount() != 0 {
		t.Fatalf("expected no backend call, got %d", client.callCount())
	}

	stats, err := c.Do(ctx, Request{ID: uuid.NewString(), Type: TypeGetStatistics})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Stats == nil || stats.Stats.TotalRequests != 0 {
		t.Fatalf("expected untouched statistics, got %+v", stats.Stats)
	}
}

func TestSubmitMissingPayloadFails(t *testing.T) {
	_, c := newHarness(t, &stubClient{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Do(ctx, Request{ID: uuid.NewString(), Type: TypeSubmitSummary})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Type != TypeError || resp.Err.Code != CodeInvalidInput {
		t.Fatalf("expected InvalidInput envelope, got %+v", resp)
	}
}

func TestUnknownMessageType(t *testing.T) {
	_, c := newHarness(t, &stubClient{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Do(ctx, Request{ID: uuid.NewString(), Type: "reticulate-splines"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Type != TypeError || resp.Err.Code != CodeUnknownMessageType {
		t.Fatalf("expected UnknownMessageType envelope, got %+v", resp)
	}
}

func TestHealthCheckAndStatisticsNeverFail(t *testing.T) {
	_, c := newHarness(t, &stubClient{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	health, err := c.Do(ctx, Request{ID: uuid.NewString(), Type: TypeHealthCheck})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if health.Type != TypeSuccess || len(health.Probes) != 1 {
		t.Fatalf("expected probe results, got %+v", health)
	}

	if health.Timestamp.IsZero() {
		t.Fatalf("expected liveness timestamp to be set")
	}

	stats, err := c.Do(ctx, Request{ID: uuid.NewString(), Type: TypeGetStatistics})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Type != TypeSuccess || stats.Stats == nil {
		t.Fatalf("expected statistics envelope, got %+v", stats)
	}
}

func TestBackendFailureSurfacesInstanceIdentity(t *testing.T) {
	client := &stubClient{summarizeFn: func(string) (string, error) {
		return "", errors.New("connection refused")
	}}
	_, c := newHarness(t, client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Do(ctx, Request{
		ID:     uuid.NewString(),
		Type:   TypeSubmitSummary,
		Submit: &SubmitPayload{JobID: "job-1", Content: "article text"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Err == nil || resp.Err.Code != CodeBackendError {
		t.Fatalf("expected BackendError envelope, got %+v", resp)
	}

	if resp.Err.Detail != "connection refused" {
		t.Fatalf("expected underlying cause in detail, got %q", resp.Err.Detail)
	}
}

func TestPanicInJobBecomesInternalFault(t *testing.T) {
	var once sync.Once
	client := &stubClient{summarizeFn: func(string) (string, error) {
		panicked := false
		once.Do(func() {
			panicked = true
		})
		if panicked {
			panic("boom")
		}

		return "a short summary", nil
	}}

	_, c := newHarness(t, client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Do(ctx, Request{
		ID:     uuid.NewString(),
		Type:   TypeSubmitSummary,
		Submit: &SubmitPayload{JobID: "job-1", Content: "article text"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Err == nil || resp.Err.Code != CodeInternalFault {
		t.Fatalf("expected InternalFault envelope, got %+v", resp)
	}

	// The worker must survive the panic and keep serving jobs.
	resp, err = c.Do(ctx, Request{
		ID:     uuid.NewString(),
		Type:   TypeSubmitSummary,
		Submit: &SubmitPayload{JobID: "job-2", Content: "more article text"},
	})
	if err != nil {
		t.Fatalf("unexpected error after panic: %v", err)
	}

	if resp.Type != TypeSuccess {
		t.Fatalf("expected the worker to keep serving, got %+v", resp)
	}
}

func TestCorrelationIntegrityAcrossConcurrentJobs(t *testing.T) {
	_, c := newHarness(t, &stubClient{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const jobs = 12

	var wg sync.WaitGroup
	responses := make([]Response, jobs)
	errs := make([]error, jobs)

	for i := range jobs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			id := fmt.Sprintf("corr-%d", i)
			responses[i], errs[i] = c.Do(ctx, Request{
				ID:   id,
				Type: TypeSubmitSummary,
				Submit: &SubmitPayload{
					JobID:   fmt.Sprintf("job-%d", i),
					Content: fmt.Sprintf("article body %d", i),
				},
			})
		}()
	}
	wg.Wait()

	for i := range jobs {
		if errs[i] != nil {
			t.Fatalf("job %d: unexpected error: %v", i, errs[i])
		}

		if responses[i].ID != fmt.Sprintf("corr-%d", i) {
			t.Fatalf("job %d: wrong correlation id %q", i, responses[i].ID)
		}

		if responses[i].Summary == nil ||
			responses[i].Summary.JobID != fmt.Sprintf("job-%d", i) {
			t.Fatalf("job %d: response does not match submitted job: %+v", i, responses[i])
		}
	}
}

func TestDuplicateInflightCorrelationIDRejected(t *testing.T) {
	client := &stubClient{summarizeFn: func(string) (string, error) {
		time.Sleep(200 * time.Millisecond)

		return "slow summary", nil
	}}
	_, c := newHarness(t, client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Do(ctx, Request{
			ID:     "dup",
			Type:   TypeSubmitSummary,
			Submit: &SubmitPayload{JobID: "job-1", Content: "article"},
		})
	}()

	time.Sleep(50 * time.Millisecond)

	if _, err := c.Do(ctx, Request{ID: "dup", Type: TypeGetStatistics}); err == nil {
		t.Fatalf("expected duplicate in-flight id to be rejected")
	}

	<-done
}

func TestStoreReusesIdenticalContent(t *testing.T) {
	client := &stubClient{}
	store := newMemoryStore()
	_, c := newHarness(t, client, store)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	submit := func(jobID string) Response {
		t.Helper()

		resp, err := c.Do(ctx, Request{
			ID:     uuid.NewString(),
			Type:   TypeSubmitSummary,
			Submit: &SubmitPayload{JobID: jobID, Content: "the same article body"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		return resp
	}

	first := submit("job-1")
	if first.Summary == nil || first.Summary.Cached {
		t.Fatalf("expected fresh summary, got %+v", first)
	}

	second := submit("job-2")
	if second.Summary == nil || !second.Summary.Cached {
		t.Fatalf("expected cached summary, got %+v", second)
	}

	if client.callCount() != 1 {
		t.Fatalf("expected a single backend call, got %d", client.callCount())
	}
}
