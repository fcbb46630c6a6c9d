// Package dispatcher owns the pool of AI inference backends: it picks one
// instance per summarization request by weighted random selection, executes
// the call with a bounded timeout, tracks per-instance health and counters,
// and exposes point-in-time statistics.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

const probeTimeout = 10 * time.Second

// BackendConfig describes one configured backend instance.
type BackendConfig struct {
	Endpoint string
	Model    string
	Weight   int
}

// Config carries the dispatcher construction parameters.
type Config struct {
	Backends         []BackendConfig
	CallTimeout      time.Duration
	FailureThreshold int
}

// InstanceStats is the per-instance slice of a statistics snapshot.
type InstanceStats struct {
	Endpoint            string     `json:"endpoint"`
	Model               string     `json:"model"`
	Weight              int        `json:"weight"`
	Health              string     `json:"health"`
	Requests            int64      `json:"requests"`
	Successes           int64      `json:"successes"`
	Failures            int64      `json:"failures"`
	AvgLatencyMs        float64    `json:"avgLatencyMs"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastErrorAt         *time.Time `json:"lastErrorAt,omitempty"`
}

// Statistics is a point-in-time snapshot across the pool. It is recomputed
// on every read and never cached.
type Statistics struct {
	TotalRequests    int64           `json:"totalRequests"`
	TotalFailures    int64           `json:"totalFailures"`
	FailureRate      float64         `json:"failureRate"`
	HealthyInstances int             `json:"healthyInstances"`
	Instances        []InstanceStats `json:"instances"`
}

// ProbeResult reports one instance's outcome of a HealthCheck pass.
type ProbeResult struct {
	Endpoint  string    `json:"endpoint"`
	Model     string    `json:"model"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

type Dispatcher struct {
	instances        []*instance
	callTimeout      time.Duration
	failureThreshold int
	log              *slog.Logger

	randMu sync.Mutex
	rng    *rand.Rand
}

// Option tweaks dispatcher construction.
type Option func(*Dispatcher)

// WithRandSource fixes the selection source so tests can reproduce the
// weighted draw exactly.
func WithRandSource(src rand.Source) Option {
	return func(d *Dispatcher) {
		d.rng = rand.New(src)
	}
}

// New builds a dispatcher over the configured backends. An empty backend
// set is a configuration error.
func New(cfg Config, factory ClientFactory, log *slog.Logger, opts ...Option) (*Dispatcher, error) {
	if len(cfg.Backends) == 0 {
		return nil, errors.New("no backends configured")
	}

	for _, b := range cfg.Backends {
		if b.Weight < 1 {
			return nil, errors.New("backend weight must be >= 1")
		}
	}

	d := &Dispatcher{
		instances:        make([]*instance, 0, len(cfg.Backends)),
		callTimeout:      cfg.CallTimeout,
		failureThreshold: cfg.FailureThreshold,
		log:              log,
		rng:              rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}

	for _, opt := range opts {
		opt(d)
	}

	for _, b := range cfg.Backends {
		d.instances = append(d.instances, &instance{
			endpoint: b.Endpoint,
			model:    b.Model,
			weight:   b.Weight,
			client:   factory(b.Endpoint, b.Model),
		})
	}

	return d, nil
}

// GenerateSummary picks an eligible instance and executes one inference
// call against it. There is no internal failover: a failed call surfaces a
// *BackendError and the caller decides whether to resubmit.
func (d *Dispatcher) GenerateSummary(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrInvalidInput
	}

	inst := d.pick()
	if inst == nil {
		return "", ErrNoAvailableBackend
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	start := time.Now()
	summary, err := inst.client.Summarize(callCtx, content)
	latency := time.Since(start)

	if err == nil && strings.TrimSpace(summary) == "" {
		err = errors.New("backend returned an empty summary")
	}

	if err != nil {
		health := inst.recordFailure(d.failureThreshold, time.Now())
		d.log.WarnContext(ctx, "Inference call failed",
			"error", err,
			"endpoint", inst.endpoint,
			"model", inst.model,
			"health", health.String(),
			"latencyMs", latency.Milliseconds())

		return "", &BackendError{
			Endpoint: inst.endpoint,
			Model:    inst.model,
			Err:      err,
		}
	}

	inst.recordSuccess(latency)

	return strings.TrimSpace(summary), nil
}

// HealthCheck probes every instance concurrently. A successful probe
// restores eligibility and resets the consecutive-failure count; a failed
// probe leaves the instance's state untouched. The pass itself never fails.
func (d *Dispatcher) HealthCheck(ctx context.Context) []ProbeResult {
	results := make([]ProbeResult, len(d.instances))

	var wg sync.WaitGroup
	for idx, inst := range d.instances {
		wg.Add(1)

		go func() {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			result := ProbeResult{
				Endpoint:  inst.endpoint,
				Model:     inst.model,
				CheckedAt: time.Now(),
			}

			if err := inst.client.Probe(probeCtx); err != nil {
				result.Error = err.Error()
			} else {
				result.Healthy = true
				inst.recordProbeSuccess()
			}

			results[idx] = result
		}()
	}
	wg.Wait()

	return results
}

// Statistics aggregates current counters. It never fails; an empty pool is
// impossible by construction.
func (d *Dispatcher) Statistics() Statistics {
	stats := Statistics{
		Instances: make([]InstanceStats, 0, len(d.instances)),
	}

	for _, inst := range d.instances {
		snap := inst.snapshot()
		stats.Instances = append(stats.Instances, snap)

		stats.TotalRequests += snap.Requests
		stats.TotalFailures += snap.Failures
		if snap.Health == Healthy.String() {
			stats.HealthyInstances++
		}
	}

	if stats.TotalRequests > 0 {
		stats.FailureRate = float64(stats.TotalFailures) / float64(stats.TotalRequests)
	}

	return stats
}

// pick draws one eligible instance with probability proportional to its
// weight, or nil when every instance is excluded.
func (d *Dispatcher) pick() *instance {
	var eligible []*instance
	total := 0

	for _, inst := range d.instances {
		if inst.eligible() {
			eligible = append(eligible, inst)
			total += inst.weight
		}
	}

	if total == 0 {
		return nil
	}

	d.randMu.Lock()
	r := d.rng.IntN(total)
	d.randMu.Unlock()

	for _, inst := range eligible {
		r -= inst.weight
		if r < 0 {
			return inst
		}
	}

	return eligible[len(eligible)-1]
}
