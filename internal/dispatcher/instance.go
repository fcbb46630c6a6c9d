package dispatcher

import (
	"sync"
	"time"
)

// Health is the derived eligibility state of one backend instance. It is
// never persisted; it is recomputed from live-call outcomes and probes.
type Health int

const (
	Healthy Health = iota
	Degraded
	Unreachable
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// instance is one configured backend plus its mutable health and counters.
// The client call itself runs outside the mutex; only state updates
// serialize, so degradation is visible to concurrent calls as soon as it
// is recorded.
type instance struct {
	endpoint string
	model    string
	weight   int
	client   InferenceClient

	mu                  sync.Mutex
	health              Health
	requests            int64
	successes           int64
	failures            int64
	totalLatency        time.Duration
	consecutiveFailures int
	lastErrorAt         time.Time
}

func (i *instance) eligible() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.health != Unreachable && i.weight >= 1
}

func (i *instance) recordSuccess(latency time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.requests++
	i.successes++
	i.totalLatency += latency
	i.consecutiveFailures = 0
	i.health = Healthy
}

// recordFailure returns the health state after the update so the caller can
// log the transition without re-locking.
func (i *instance) recordFailure(threshold int, now time.Time) Health {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.requests++
	i.failures++
	i.consecutiveFailures++
	i.lastErrorAt = now

	if i.consecutiveFailures >= threshold {
		i.health = Unreachable
	} else {
		i.health = Degraded
	}

	return i.health
}

// recordProbeSuccess restores eligibility. A failed probe has no
// counterpart: only live-traffic failures escalate health.
func (i *instance) recordProbeSuccess() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.consecutiveFailures = 0
	i.health = Healthy
}

func (i *instance) snapshot() InstanceStats {
	i.mu.Lock()
	defer i.mu.Unlock()

	stats := InstanceStats{
		Endpoint:            i.endpoint,
		Model:               i.model,
		Weight:              i.weight,
		Health:              i.health.String(),
		Requests:            i.requests,
		Successes:           i.successes,
		Failures:            i.failures,
		ConsecutiveFailures: i.consecutiveFailures,
	}

	if i.successes > 0 {
		avg := i.totalLatency / time.Duration(i.successes)
		stats.AvgLatencyMs = float64(avg.Microseconds()) / 1000
	}

	if !i.lastErrorAt.IsZero() {
		t := i.lastErrorAt
		stats.LastErrorAt = &t
	}

	return stats
}
