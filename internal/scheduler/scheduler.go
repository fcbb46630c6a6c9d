// Package scheduler drives periodic health probes through the boundary
// protocol so Unreachable backends can recover without live traffic, and
// piggybacks summary-store housekeeping on the same tick.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"feedgist/internal/store"
	"feedgist/internal/worker"
)

const (
	DefaultProbeSpec = "* * * * *"
	probeTimeout     = 30 * time.Second
)

type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	client *worker.Client
	store  *store.Store
	spec   string
	log    *slog.Logger
}

func New(
	ctx context.Context,
	client *worker.Client,
	st *store.Store,
	spec string,
	log *slog.Logger,
) *Scheduler {
	if spec == "" {
		spec = DefaultProbeSpec
	}

	return &Scheduler{
		ctx:    ctx,
		cron:   cron.New(cron.WithLocation(time.UTC)),
		client: client,
		store:  st,
		spec:   spec,
		log:    log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.probe); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) probe() {
	ctx, cancel := context.WithTimeout(s.ctx, probeTimeout)
	defer cancel()

	resp, err := s.client.Do(ctx, worker.Request{
		ID:   uuid.NewString(),
		Type: worker.TypeHealthCheck,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to run health probe",
			"error", err)

		return
	}

	for _, probe := range resp.Probes {
		if probe.Healthy {
			s.log.DebugContext(ctx, "Backend probe succeeded",
				"endpoint", probe.Endpoint,
				"model", probe.Model)

			continue
		}

		s.log.WarnContext(ctx, "Backend probe failed",
			"endpoint", probe.Endpoint,
			"model", probe.Model,
			"probeError", probe.Error)
	}

	if s.store != nil {
		s.store.PurgeExpired(ctx)
	}
}
