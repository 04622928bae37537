package runner

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"codin-bootstrap/internal/database"
	"codin-bootstrap/internal/logger"
	"codin-bootstrap/internal/schema"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Options struct {
	Mode      Mode
	Prefix    string
	OpTimeout time.Duration
}

type runner struct {
	db     database.DatabaseDriver
	opts   Options
	hist   *hdrhistogram.Histogram
	report *Report
}

// Run ensures every database of the manifest in declaration order over a
// single driver connection. In apply mode the first error, including drift,
// aborts the remaining declarations. Plan and verify never write and report
// every gap before returning.
func Run(ctx context.Context, db database.DatabaseDriver, manifest *schema.Manifest, opts Options) (*Report, error) {
	if opts.Mode == "" {
		opts.Mode = ModeApply
	}
	if _, ok := ParseMode(string(opts.Mode)); !ok {
		return nil, errors.Errorf("unknown mode %q", opts.Mode)
	}

	report := &Report{RunID: uuid.New().String(), Backend: db.Name(), Mode: opts.Mode}
	r := &runner{
		db:     db,
		opts:   opts,
		hist:   hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3),
		report: report,
	}
	start := time.Now()
	defer report.summarize(r.hist, start)

	ctx = logger.WithRunID(ctx, report.RunID)
	log.InfoContext(ctx, "Provisioning started",
		"backend", db.Name(), "mode", opts.Mode, "databases", len(manifest.Databases))

	for _, d := range manifest.Databases {
		if err := r.ensureDatabase(ctx, d); err != nil {
			log.ErrorContext(ctx, "Provisioning aborted", "database", d.PhysicalName(opts.Prefix), "err", err)
			return report, err
		}
	}

	switch {
	case report.Drifted > 0:
		return report, errors.Wrapf(ErrSchemaDrift, "%d index(es) conflict with their declaration", report.Drifted)
	case opts.Mode == ModeVerify && report.Missing > 0:
		return report, errors.Wrapf(ErrSchemaMissing, "%d declared object(s) not found", report.Missing)
	}

	log.InfoContext(ctx, "Provisioning finished",
		"created", report.Created, "existing", report.Existing, "planned", report.Planned)
	return report, nil
}

func (r *runner) ensureDatabase(ctx context.Context, d schema.Database) error {
	physical := d.PhysicalName(r.opts.Prefix)

	if r.opts.Mode == ModeApply {
		if _, err := r.call(ctx, func(ctx context.Context) error {
			return r.db.EnsureDatabase(ctx, physical)
		}); err != nil {
			return err
		}
	}

	var names []string
	if _, err := r.call(ctx, func(ctx context.Context) (err error) {
		names, err = r.db.CollectionNames(ctx, physical)
		return err
	}); err != nil {
		return err
	}
	existing := make(map[string]bool, len(names))
	for _, n := range names {
		existing[n] = true
	}

	for _, c := range d.Collections {
		if err := r.ensureCollection(ctx, physical, c, existing[c.Name]); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) ensureCollection(ctx context.Context, database string, c schema.Collection, exists bool) error {
	step := Step{Database: database, Collection: c.Name}
	switch {
	case exists:
		step.Action = ActionExists
	case r.opts.Mode == ModeApply:
		latency, err := r.call(ctx, func(ctx context.Context) error {
			return r.db.CreateCollection(ctx, database, c.Name)
		})
		if err != nil {
			return err
		}
		step.Action, step.Latency = ActionCreated, latency
	default:
		step.Action = r.absentAction()
	}
	r.record(ctx, step)

	// Nothing to compare against until the collection exists.
	if !exists && r.opts.Mode != ModeApply {
		for _, idx := range c.Indexes {
			r.record(ctx, Step{
				Database:   database,
				Collection: c.Name,
				Index:      idx.IndexName(),
				Action:     r.absentAction(),
				Detail:     idx.String(),
			})
		}
		return nil
	}
	if len(c.Indexes) == 0 {
		return nil
	}

	var current []schema.Index
	if _, err := r.call(ctx, func(ctx context.Context) (err error) {
		current, err = r.db.Indexes(ctx, database, c.Name)
		return err
	}); err != nil {
		return err
	}

	for _, idx := range c.Indexes {
		if err := r.ensureIndex(ctx, database, c.Name, idx, current); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) ensureIndex(ctx context.Context, database, collection string, idx schema.Index, current []schema.Index) error {
	step := Step{Database: database, Collection: collection, Index: idx.IndexName()}

	if found, ok := matchIndex(idx, current); ok {
		diffs := idx.Diff(found)
		if len(diffs) == 0 {
			step.Action = ActionExists
			r.record(ctx, step)
			return nil
		}
		step.Action = ActionDrift
		step.Detail = fmt.Sprintf("existing index %s: %s", found.Name, strings.Join(diffs, "; "))
		r.record(ctx, step)
		if r.opts.Mode == ModeApply {
			return errors.Wrapf(ErrSchemaDrift, "%s.%s index %s (%s)", database, collection, idx.IndexName(), step.Detail)
		}
		return nil
	}

	step.Detail = idx.String()
	if r.opts.Mode != ModeApply {
		step.Action = r.absentAction()
		r.record(ctx, step)
		return nil
	}

	latency, err := r.call(ctx, func(ctx context.Context) error {
		return r.db.CreateIndex(ctx, database, collection, idx)
	})
	if err != nil {
		return err
	}
	step.Action, step.Latency = ActionCreated, latency
	r.record(ctx, step)
	return nil
}

// matchIndex finds the existing index a declaration refers to: one with the
// same key pattern, else one holding the same name.
func matchIndex(idx schema.Index, current []schema.Index) (schema.Index, bool) {
	for _, c := range current {
		if idx.SameKeys(c) {
			return c, true
		}
	}
	for _, c := range current {
		if c.Name == idx.IndexName() {
			return c, true
		}
	}
	return schema.Index{}, false
}

func (r *runner) absentAction() Action {
	if r.opts.Mode == ModePlan {
		return ActionPlanned
	}
	return ActionMissing
}

// call runs one administrative operation under the per-operation timeout
// and records its latency.
func (r *runner) call(ctx context.Context, op func(context.Context) error) (time.Duration, error) {
	if r.opts.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.OpTimeout)
		defer cancel()
	}

	start := time.Now()
	err := op(ctx)
	latency := time.Since(start)

	r.report.Operations++
	if err != nil {
		r.report.Errors++
	}
	_ = r.hist.RecordValue(latency.Microseconds())
	return latency, err
}

func (r *runner) record(ctx context.Context, step Step) {
	r.report.add(step)

	fields := []any{
		log.String("database", step.Database),
		log.String("collection", step.Collection),
		log.String("action", string(step.Action)),
	}
	if step.Index != "" {
		fields = append(fields, log.String("index", step.Index))
	}
	if step.Detail != "" {
		fields = append(fields, log.String("detail", step.Detail))
	}

	switch step.Action {
	case ActionDrift:
		log.WarnContext(ctx, "Schema drift", fields...)
	case ActionExists:
		log.DebugContext(ctx, "Schema step", fields...)
	default:
		log.InfoContext(ctx, "Schema step", fields...)
	}
}
