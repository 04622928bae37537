package schema

import (
	"bytes"
	_ "embed"
	"os"
	"regexp"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrInvalidSchema = errors.New("invalid schema")

//go:embed codin.yaml
var codinManifest []byte

var (
	namePattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// Default returns the built-in CODIN MSA manifest.
func Default() (*Manifest, error) {
	return Parse(codinManifest)
}

func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read schema file")
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "schema file %s", path)
	}
	return m, nil
}

// Parse decodes and validates a YAML manifest.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return nil, errors.Wrapf(ErrInvalidSchema, "decode: %v", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) Validate() error {
	if len(m.Databases) == 0 {
		return errors.Wrap(ErrInvalidSchema, "no databases declared")
	}
	seenDB := map[string]bool{}
	for _, d := range m.Databases {
		if !namePattern.MatchString(d.Name) {
			return errors.Wrapf(ErrInvalidSchema, "database name %q", d.Name)
		}
		if seenDB[d.Name] {
			return errors.Wrapf(ErrInvalidSchema, "database %q declared twice", d.Name)
		}
		seenDB[d.Name] = true

		seenColl := map[string]bool{}
		for _, c := range d.Collections {
			if !namePattern.MatchString(c.Name) {
				return errors.Wrapf(ErrInvalidSchema, "%s: collection name %q", d.Name, c.Name)
			}
			if seenColl[c.Name] {
				return errors.Wrapf(ErrInvalidSchema, "%s: collection %q declared twice", d.Name, c.Name)
			}
			seenColl[c.Name] = true
			if err := validateIndexes(c.Indexes); err != nil {
				return errors.Wrapf(err, "%s.%s", d.Name, c.Name)
			}
		}
	}
	return nil
}

func validateIndexes(indexes []Index) error {
	names := map[string]bool{}
	for n, idx := range indexes {
		if len(idx.Keys) == 0 {
			return errors.Wrapf(ErrInvalidSchema, "index #%d has no keys", n+1)
		}
		fields := map[string]bool{}
		for _, k := range idx.Keys {
			if !fieldPattern.MatchString(k.Field) {
				return errors.Wrapf(ErrInvalidSchema, "index #%d: field %q", n+1, k.Field)
			}
			if k.Order != Ascending && k.Order != Descending {
				return errors.Wrapf(ErrInvalidSchema, "index #%d: field %q has order %d", n+1, k.Field, k.Order)
			}
			if fields[k.Field] {
				return errors.Wrapf(ErrInvalidSchema, "index #%d: field %q repeated", n+1, k.Field)
			}
			fields[k.Field] = true
		}
		if idx.TTL() {
			if len(idx.Keys) != 1 {
				return errors.Wrapf(ErrInvalidSchema, "index %s: expireAfterSeconds needs a single-field index", idx.IndexName())
			}
			if *idx.ExpireAfterSeconds < 0 {
				return errors.Wrapf(ErrInvalidSchema, "index %s: negative expireAfterSeconds", idx.IndexName())
			}
		}
		if names[idx.IndexName()] {
			return errors.Wrapf(ErrInvalidSchema, "index %s declared twice", idx.IndexName())
		}
		names[idx.IndexName()] = true
		for _, prev := range indexes[:n] {
			if prev.SameKeys(idx) {
				return errors.Wrapf(ErrInvalidSchema, "indexes %s and %s share key pattern %s", prev.IndexName(), idx.IndexName(), idx.KeyPattern())
			}
		}
	}
	return nil
}

// Select returns a manifest restricted to the named databases, keeping
// declaration order. An empty list selects everything.
func (m *Manifest) Select(names []string) (*Manifest, error) {
	if len(names) == 0 {
		return m, nil
	}
	want := map[string]bool{}
	for _, n := range names {
		if _, ok := m.Database(n); !ok {
			return nil, errors.Wrapf(ErrInvalidSchema, "unknown database %q", n)
		}
		want[n] = true
	}
	out := &Manifest{}
	for _, d := range m.Databases {
		if want[d.Name] {
			out.Databases = append(out.Databases, d)
		}
	}
	return out, nil
}
