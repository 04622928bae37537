package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"codin-bootstrap/internal/logger"
	"codin-bootstrap/internal/schema"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// MySQLDriver maps a logical database to a MySQL database and a collection
// to a table with a JSON document column. Indexes use functional key parts
// and need MySQL 8.0.13 or later.
type MySQLDriver struct {
	db *sql.DB
}

func (md *MySQLDriver) Name() string { return "mysql" }

func (md *MySQLDriver) Connect(ctx context.Context, dsn string) error {
	_ = mysql.SetLogger(logger.MySQLLogger{})

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return errors.Wrap(err, "mysql dsn")
	}
	db.SetMaxOpenConns(1)
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "mysql connect")
	}
	md.db = db
	return nil
}

func (md *MySQLDriver) Close(context.Context) error {
	if md.db == nil {
		return nil
	}
	return md.db.Close()
}

func (md *MySQLDriver) EnsureDatabase(ctx context.Context, database string) error {
	if _, err := md.db.ExecContext(ctx,
		"CREATE DATABASE IF NOT EXISTS "+quoteMySQL(database)+" CHARACTER SET utf8mb4 COLLATE utf8mb4_bin"); err != nil {
		return errors.Wrapf(err, "create database %s", database)
	}
	_, err := md.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+quoteMySQL(database, metaTable)+` (
		collection VARCHAR(64) NOT NULL,
		name VARCHAR(128) NOT NULL,
		physical VARCHAR(64) NOT NULL,
		spec JSON NOT NULL,
		created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		PRIMARY KEY (collection, name)
	)`)
	return errors.Wrapf(err, "create %s in %s", metaTable, database)
}

func (md *MySQLDriver) CollectionNames(ctx context.Context, database string) ([]string, error) {
	rows, err := md.db.QueryContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_name <> ? ORDER BY table_name",
		database, metaTable)
	if err != nil {
		return nil, errors.Wrapf(err, "list tables in %s", database)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrapf(err, "list tables in %s", database)
		}
		names = append(names, name)
	}
	return names, errors.Wrapf(rows.Err(), "list tables in %s", database)
}

func (md *MySQLDriver) CreateCollection(ctx context.Context, database, collection string) error {
	_, err := md.db.ExecContext(ctx, `CREATE TABLE `+quoteMySQL(database, collection)+` (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		doc JSON NOT NULL,
		created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`)
	return errors.Wrapf(err, "create table %s.%s", database, collection)
}

func (md *MySQLDriver) Indexes(ctx context.Context, database, collection string) ([]schema.Index, error) {
	rows, err := md.db.QueryContext(ctx, `SELECT m.name, m.spec
		FROM `+quoteMySQL(database, metaTable)+` m
		WHERE m.collection = ? AND EXISTS (
			SELECT 1 FROM information_schema.statistics s
			WHERE s.table_schema = ? AND s.table_name = m.collection AND s.index_name = m.physical
		)
		ORDER BY m.name`, collection, database)
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
	return indexes, errors.Wrapf(rows.Err(), "list indexes on %s.%s", database, collection)
}

// CreateIndex runs the DDL and then records the spec. MySQL commits DDL
// implicitly, so the two statements cannot share a transaction.
func (md *MySQLDriver) CreateIndex(ctx context.Context, database, collection string, index schema.Index) error {
	physical, err := physicalIndexName(collection, index)
	if err != nil {
		return err
	}
	spec, err := encodeSpec(index)
	if err != nil {
		return err
	}

	if _, err := md.db.ExecContext(ctx, mysqlIndexDDL(database, collection, physical, index)); err != nil {
		return errors.Wrapf(err, "create index %s on %s.%s", index.IndexName(), database, collection)
	}
	_, err = md.db.ExecContext(ctx,
		`INSERT INTO `+quoteMySQL(database, metaTable)+` (collection, name, physical, spec) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE physical = VALUES(physical), spec = VALUES(spec)`,
		collection, index.IndexName(), physical, spec)
	return errors.Wrapf(err, "record index %s on %s.%s", index.IndexName(), database, collection)
}

func (md *MySQLDriver) SweepExpired(ctx context.Context, database, collection string, index schema.Index) (int64, error) {
	if !index.TTL() {
		return 0, errors.Errorf("index %s has no expireAfterSeconds", index.IndexName())
	}
	table := quoteMySQL(database, collection)
	path := mysqlPath(index.Keys[0].Field)

	rows, err := md.db.QueryContext(ctx, `SELECT id, doc->>`+path+` FROM `+table+`
		WHERE JSON_TYPE(doc->`+path+`) = 'STRING'`)
	if err != nil {
		return 0, errors.Wrapf(err, "sweep %s.%s", database, collection)
	}
	ids, skipped, err := expiredIDs(rows, index.ExpireAfter(), time.Now())
	_ = rows.Close()
	if err != nil {
		return 0, errors.Wrapf(err, "sweep %s.%s", database, collection)
	}
	logSkipped(ctx, database, collection, index, skipped)

	var deleted int64
	for _, batch := range batches(ids, sweepBatchSize) {
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(batch)), ", ")
		res, err := md.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return deleted, errors.Wrapf(err, "sweep %s.%s", database, collection)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, errors.Wrapf(err, "sweep %s.%s", database, collection)
		}
		deleted += n
	}
	return deleted, nil
}

func mysqlPath(field string) string {
	return sqlLiteral("$." + field)
}

func mysqlIndexDDL(database, collection, physical string, index schema.Index) string {
	parts := make([]string, len(index.Keys))
	for i, k := range index.Keys {
		parts[i] = "(CAST(doc->>" + mysqlPath(k.Field) + " AS CHAR(255)) COLLATE utf8mb4_bin)"
		if k.Order == schema.Descending {
			parts[i] += " DESC"
		}
	}

	ddl := "CREATE INDEX "
	if index.Unique {
		ddl = "CREATE UNIQUE INDEX "
	}
	return ddl + quoteMySQL(physical) + " ON " + quoteMySQL(database, collection) + " (" + strings.Join(parts, ", ") + ")"
}
