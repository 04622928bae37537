package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// Key is one field of an index key pattern.
type Key struct {
	Field string    `json:"field"`
	Order Direction `json:"order"`
}

// UnmarshalYAML accepts the shorthand "field" or "-field".
func (k *Key) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return errors.Wrapf(err, "line %d: index key must be a field name", node.Line)
	}
	k.Field, k.Order = strings.TrimPrefix(raw, "-"), Ascending
	if strings.HasPrefix(raw, "-") {
		k.Order = Descending
	}
	return nil
}

func (k Key) MarshalYAML() (interface{}, error) {
	if k.Order == Descending {
		return "-" + k.Field, nil
	}
	return k.Field, nil
}

type Index struct {
	Name               string `yaml:"name,omitempty" json:"name,omitempty"`
	Keys               []Key  `yaml:"keys" json:"keys"`
	Unique             bool   `yaml:"unique,omitempty" json:"unique,omitempty"`
	ExpireAfterSeconds *int32 `yaml:"expireAfterSeconds,omitempty" json:"expireAfterSeconds,omitempty"`
}

// IndexName returns the explicit name, or the name MongoDB would generate
// for the key pattern ("email_1", "followerId_1_followingId_1", "createdAt_-1").
func (i Index) IndexName() string {
	if i.Name != "" {
		return i.Name
	}
	parts := make([]string, 0, len(i.Keys)*2)
	for _, k := range i.Keys {
		parts = append(parts, k.Field, fmt.Sprintf("%d", k.Order))
	}
	return strings.Join(parts, "_")
}

func (i Index) TTL() bool {
	return i.ExpireAfterSeconds != nil
}

// ExpireAfter is the TTL as a duration, zero when the index has none.
func (i Index) ExpireAfter() time.Duration {
	if !i.TTL() {
		return 0
	}
	return time.Duration(*i.ExpireAfterSeconds) * time.Second
}

// SameKeys reports whether both indexes have the same ordered key pattern.
func (i Index) SameKeys(o Index) bool {
	if len(i.Keys) != len(o.Keys) {
		return false
	}
	for n := range i.Keys {
		if i.Keys[n] != o.Keys[n] {
			return false
		}
	}
	return true
}

// Diff lists the differences between a declared index and an existing one.
// An empty result means the existing index satisfies the declaration.
func (i Index) Diff(existing Index) []string {
	var diffs []string
	if !i.SameKeys(existing) {
		diffs = append(diffs, fmt.Sprintf("keys: declared %s, found %s", i.KeyPattern(), existing.KeyPattern()))
	}
	if i.Unique != existing.Unique {
		diffs = append(diffs, fmt.Sprintf("unique: declared %t, found %t", i.Unique, existing.Unique))
	}
	if want, got := ttlString(i.ExpireAfterSeconds), ttlString(existing.ExpireAfterSeconds); want != got {
		diffs = append(diffs, fmt.Sprintf("expireAfterSeconds: declared %s, found %s", want, got))
	}
	return diffs
}

// KeyPattern renders the keys the way the mongo shell prints them.
func (i Index) KeyPattern() string {
	parts := make([]string, len(i.Keys))
	for n, k := range i.Keys {
		parts[n] = fmt.Sprintf("%s: %d", k.Field, k.Order)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func (i Index) String() string {
	s := i.KeyPattern()
	if i.Unique {
		s += " unique"
	}
	if i.TTL() {
		s += fmt.Sprintf(" expireAfterSeconds=%d", *i.ExpireAfterSeconds)
	}
	return s
}

func ttlString(v *int32) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *v)
}

type Collection struct {
	Name    string  `yaml:"name"`
	Indexes []Index `yaml:"indexes,omitempty"`
}

type Database struct {
	Name        string       `yaml:"name"`
	Collections []Collection `yaml:"collections"`
}

// PhysicalName is the name of the database on the server.
func (d Database) PhysicalName(prefix string) string {
	return prefix + d.Name
}

// Manifest is the ordered list of databases to provision.
type Manifest struct {
	Databases []Database `yaml:"databases"`
}

func (m *Manifest) Database(name string) (Database, bool) {
	for _, d := range m.Databases {
		if d.Name == name {
			return d, true
		}
	}
	return Database{}, false
}
