package sweep

import (
	"context"
	log "log/slog"
	"time"

	"codin-bootstrap/internal/database"
	"codin-bootstrap/internal/schema"
)

// Target is one TTL index whose expiry the sweeper enforces.
type Target struct {
	Database   string
	Collection string
	Index      schema.Index
}

// Targets collects every TTL index of the manifest.
func Targets(manifest *schema.Manifest, prefix string) []Target {
	var targets []Target
	for _, d := range manifest.Databases {
		for _, c := range d.Collections {
			for _, idx := range c.Indexes {
				if idx.TTL() {
					targets = append(targets, Target{
						Database:   d.PhysicalName(prefix),
						Collection: c.Name,
						Index:      idx,
					})
				}
			}
		}
	}
	return targets
}

// Job deletes expired documents for one target. It implements cron.Job.
type Job struct {
	sweeper database.Sweeper
	target  Target
	timeout time.Duration
}

func NewJob(sweeper database.Sweeper, target Target, timeout time.Duration) *Job {
	return &Job{sweeper: sweeper, target: target, timeout: timeout}
}

func (j *Job) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, _ = j.Sweep(ctx)
}

func (j *Job) Sweep(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := j.sweeper.SweepExpired(ctx, j.target.Database, j.target.Collection, j.target.Index)
	fields := []any{
		log.String("database", j.target.Database),
		log.String("collection", j.target.Collection),
		log.String("index", j.target.Index.IndexName()),
		log.Duration("latency", time.Since(start)),
	}
	if err != nil {
		log.ErrorContext(ctx, "TTL sweep failed", append(fields, log.Any("err", err))...)
		return 0, err
	}
	if n > 0 {
		log.InfoContext(ctx, "TTL sweep", append(fields, log.Int64("deleted", n))...)
	}
	return n, nil
}
