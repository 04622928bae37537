package database

import (
	"context"
	"strings"
	"time"

	"codin-bootstrap/internal/logger"
	"codin-bootstrap/internal/schema"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// PostgresDriver maps a logical database to a schema and a collection to a
// JSONB document table.
type PostgresDriver struct {
	conn *pgx.Conn
}

func (pd *PostgresDriver) Name() string { return "postgres" }

func (pd *PostgresDriver) Connect(ctx context.Context, dsn string) error {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return errors.Wrap(err, "postgres dsn")
	}
	cfg.Tracer = logger.NewPgxTracer()

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "postgres connect")
	}
	pd.conn = conn
	return nil
}

func (pd *PostgresDriver) Close(ctx context.Context) error {
	if pd.conn == nil {
		return nil
	}
	return pd.conn.Close(ctx)
}

func (pd *PostgresDriver) ExecuteTx(ctx context.Context, txFunc func(pgx.Tx) error) (err error) {
	tx, err := pd.conn.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = txFunc(tx)
	return err
}

func (pd *PostgresDriver) EnsureDatabase(ctx context.Context, database string) error {
	err := pd.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{database}.Sanitize()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+pgx.Identifier{database, metaTable}.Sanitize()+` (
			collection TEXT NOT NULL,
			name TEXT NOT NULL,
			physical TEXT NOT NULL,
			spec JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, name)
		)`)
		return err
	})
	return errors.Wrapf(err, "ensure schema %s", database)
}

func (pd *PostgresDriver) CollectionNames(ctx context.Context, database string) ([]string, error) {
	rows, err := pd.conn.Query(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_name <> $2 ORDER BY table_name",
		database, metaTable)
	if err != nil {
		return nil, errors.Wrapf(err, "list tables in %s", database)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrapf(err, "list tables in %s", database)
	}
	return names, nil
}

func (pd *PostgresDriver) CreateCollection(ctx context.Context, database, collection string) error {
	_, err := pd.conn.Exec(ctx, `CREATE TABLE `+pgx.Identifier{database, collection}.Sanitize()+` (
		id TEXT PRIMARY KEY,
		doc JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return errors.Wrapf(err, "create table %s.%s", database, collection)
}

func (pd *PostgresDriver) Indexes(ctx context.Context, database, collection string) ([]schema.Index, error) {
	rows, err := pd.conn.Query(ctx, `SELECT m.name, m.spec
		FROM `+pgx.Identifier{database, metaTable}.Sanitize()+` m
		JOIN pg_indexes i ON i.schemaname = $1 AND i.tablename = $2 AND i.indexname = m.physical
		WHERE m.collection = $2
		ORDER BY m.name`, database, collection)
	if err != nil {
		return nil, errors.Wrapf(err, "list indexes on %s.%s", database, collection)
	}
	defer rows.Close()

	var indexes []schema.Index
	for rows.Next() {
		var name string
		var spec []byte
		if err := rows.Scan(&name, &spec); err != nil {
			return nil, errors.Wrapf(err, "list indexes on %s.%s", database, collection)
		}
		index, err := decodeSpec(name, spec)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, index)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "list indexes on %s.%s", database, collection)
	}
	return indexes, nil
}

func (pd *PostgresDriver) CreateIndex(ctx context.Context, database, collection string, index schema.Index) error {
	physical, err := physicalIndexName(collection, index)
	if err != nil {
		return err
	}
	spec, err := encodeSpec(index)
	if err != nil {
		return err
	}

	err = pd.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, postgresIndexDDL(database, collection, physical, index)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO `+pgx.Identifier{database, metaTable}.Sanitize()+` (collection, name, physical, spec) VALUES ($1, $2, $3, $4)
			ON CONFLICT (collection, name) DO UPDATE SET physical = EXCLUDED.physical, spec = EXCLUDED.spec`,
			collection, index.IndexName(), physical, spec)
		return err
	})
	return errors.Wrapf(err, "create index %s on %s.%s", index.IndexName(), database, collection)
}

func (pd *PostgresDriver) SweepExpired(ctx context.Context, database, collection string, index schema.Index) (int64, error) {
	if !index.TTL() {
		return 0, errors.Errorf("index %s has no expireAfterSeconds", index.IndexName())
	}
	table := pgx.Identifier{database, collection}.Sanitize()
	path := postgresPath(index.Keys[0].Field)

	rows, err := pd.conn.Query(ctx, `SELECT id, doc #>> `+path+` FROM `+table+`
		WHERE jsonb_typeof(doc #> `+path+`) = 'string'`)
	if err != nil {
		return 0, errors.Wrapf(err, "sweep %s.%s", database, collection)
	}
	ids, skipped, err := expiredIDs(rows, index.ExpireAfter(), time.Now())
	rows.Close()
	if err != nil {
		return 0, errors.Wrapf(err, "sweep %s.%s", database, collection)
	}
	logSkipped(ctx, database, collection, index, skipped)

	var deleted int64
	for _, batch := range batches(ids, sweepBatchSize) {
		tag, err := pd.conn.Exec(ctx, "DELETE FROM "+table+" WHERE id = ANY($1)", batch)
		if err != nil {
			return deleted, errors.Wrapf(err, "sweep %s.%s", database, collection)
		}
		deleted += tag.RowsAffected()
	}
	return deleted, nil
}

// postgresPath renders a dotted field as a text[] path literal.
func postgresPath(field string) string {
	return sqlLiteral("{" + strings.ReplaceAll(field, ".", ",") + "}")
}

func postgresIndexDDL(database, collection, physical string, index schema.Index) string {
	parts := make([]string, len(index.Keys))
	for i, k := range index.Keys {
		parts[i] = "(doc #>> " + postgresPath(k.Field) + ")"
		if k.Order == schema.Descending {
			parts[i] += " DESC"
		}
	}

	ddl := "CREATE INDEX "
	if index.Unique {
		ddl = "CREATE UNIQUE INDEX "
	}
	return ddl + pgx.Identifier{physical}.Sanitize() + " ON " + pgx.Identifier{database, collection}.Sanitize() +
		" (" + strings.Join(parts, ", ") + ")"
}
