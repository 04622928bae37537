package database

import (
	"context"

	"codin-bootstrap/internal/schema"

	"github.com/pkg/errors"
)

var ErrUnsupported = errors.New("unsupported by backend")

// DatabaseDriver is the administrative surface the provisioner needs from a
// backend: select database, list and create collections, list and create
// indexes. Existing indexes are reported without the primary key index.
type DatabaseDriver interface {
	Name() string
	Connect(ctx context.Context, dsn string) error
	Close(ctx context.Context) error
	EnsureDatabase(ctx context.Context, database string) error
	CollectionNames(ctx context.Context, database string) ([]string, error)
	CreateCollection(ctx context.Context, database, collection string) error
	Indexes(ctx context.Context, database, collection string) ([]schema.Index, error)
	CreateIndex(ctx context.Context, database, collection string, index schema.Index) error
}

// Sweeper is implemented by backends without native TTL support. It deletes
// documents whose TTL field, an RFC 3339 timestamp, plus the index's
// expireAfterSeconds is in the past. Other values are skipped.
type Sweeper interface {
	SweepExpired(ctx context.Context, database, collection string, index schema.Index) (int64, error)
}

// New returns an unconnected driver for the named backend.
func New(backend string) (DatabaseDriver, error) {
	switch backend {
	case "mongo":
		return &MongoDriver{}, nil
	case "postgres":
		return &PostgresDriver{}, nil
	case "mysql":
		return &MySQLDriver{}, nil
	}
	return nil, errors.Errorf("unsupported database type: %s", backend)
}
