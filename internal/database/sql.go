package database

import (
	"context"
	log "log/slog"
	"strings"
	"time"

	"codin-bootstrap/internal/schema"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// SQL backends store each collection as a table of JSON documents. Declared
// index specs are recorded in metaTable so re-runs can compare options that
// the engine's catalog cannot express (TTL).
const metaTable = "_codin_indexes"

const maxIdentifierLen = 63

// physicalIndexName scopes an index name to its table; SQL index names are
// unique per schema, not per table.
func physicalIndexName(collection string, index schema.Index) (string, error) {
	name := collection + "_" + index.IndexName()
	if len(name) > maxIdentifierLen {
		return "", errors.Errorf("index name %s exceeds %d characters", name, maxIdentifierLen)
	}
	return name, nil
}

func encodeSpec(index schema.Index) (string, error) {
	index.Name = ""
	b, err := json.Marshal(index)
	if err != nil {
		return "", errors.Wrap(err, "encode index spec")
	}
	return string(b), nil
}

func decodeSpec(name string, raw []byte) (schema.Index, error) {
	var index schema.Index
	if err := json.Unmarshal(raw, &index); err != nil {
		return schema.Index{}, errors.Wrapf(err, "decode spec of index %s", name)
	}
	index.Name = name
	return index, nil
}

// quoteMySQL quotes an identifier with backticks.
func quoteMySQL(parts ...string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return strings.Join(quoted, ".")
}

func sqlLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

const sweepBatchSize = 500

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// expiredIDs reads (id, value) rows and returns the ids whose value, an
// RFC 3339 timestamp, is at least ttl in the past. Values that do not parse
// are counted in skipped and left alone.
func expiredIDs(rows rowScanner, ttl time.Duration, now time.Time) (ids []string, skipped int, err error) {
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, 0, err
		}
		at, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			skipped++
			continue
		}
		if !at.Add(ttl).After(now) {
			ids = append(ids, id)
		}
	}
	return ids, skipped, rows.Err()
}

func batches(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func logSkipped(ctx context.Context, database, collection string, index schema.Index, skipped int) {
	if skipped == 0 {
		return
	}
	log.WarnContext(ctx, "TTL values are not RFC 3339 timestamps",
		log.String("database", database),
		log.String("collection", collection),
		log.String("index", index.IndexName()),
		log.Int("skipped", skipped),
	)
}
