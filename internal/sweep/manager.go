package sweep

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"codin-bootstrap/internal/database"
	"codin-bootstrap/internal/schema"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// Manager schedules one sweep job per TTL index.
type Manager struct {
	engine   *cron.Cron
	schedule string
	jobs     []*Job
}

func NewManager(sweeper database.Sweeper, manifest *schema.Manifest, prefix, schedule string, timeout time.Duration) (*Manager, error) {
	targets := Targets(manifest, prefix)
	if len(targets) == 0 {
		return nil, errors.New("manifest declares no TTL indexes")
	}

	// Jobs share one driver connection; cron runs entries concurrently.
	sweeper = &lockedSweeper{sweeper: sweeper}
	m := &Manager{
		engine:   cron.New(cron.WithSeconds()),
		schedule: schedule,
	}
	for _, t := range targets {
		m.jobs = append(m.jobs, NewJob(sweeper, t, timeout))
	}
	return m, nil
}

func (m *Manager) RegisterJobs() error {
	for _, j := range m.jobs {
		if _, err := m.engine.AddJob(m.schedule, j); err != nil {
			return errors.Wrapf(err, "schedule %q", m.schedule)
		}
	}
	return nil
}

// SweepOnce runs every job immediately and returns the total deleted.
func (m *Manager) SweepOnce(ctx context.Context) (int64, error) {
	var total int64
	for _, j := range m.jobs {
		n, err := j.Sweep(ctx)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (m *Manager) Start() {
	log.Info("TTL sweeper starting", "schedule", m.schedule, "targets", len(m.jobs))
	m.engine.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (m *Manager) Stop() {
	log.Info("TTL sweeper stopping")
	<-m.engine.Stop().Done()
}

type lockedSweeper struct {
	mu      sync.Mutex
	sweeper database.Sweeper
}

func (l *lockedSweeper) SweepExpired(ctx context.Context, database, collection string, index schema.Index) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweeper.SweepExpired(ctx, database, collection, index)
}
