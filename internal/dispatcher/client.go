package dispatcher

import "context"

// InferenceClient executes calls against a single backend endpoint.
type InferenceClient interface {
	// Summarize produces a summary for already-sanitized article text.
	// The context carries the per-call deadline.
	Summarize(ctx context.Context, content string) (string, error)

	// Probe performs a lightweight liveness call, independent of
	// summarization traffic.
	Probe(ctx context.Context) error
}

// ClientFactory builds the client for one configured backend. It exists so
// tests can swap the OpenAI-compatible client for scripted stubs.
type ClientFactory func(endpoint, model string) InferenceClient
