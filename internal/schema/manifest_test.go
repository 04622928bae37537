package schema

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestDefaultManifestDatabases(t *testing.T) {
	m, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}

	want := map[string][]string{
		"auth":         {"users", "tokens"},
		"user":         {"users", "follows", "profiles"},
		"content":      {"posts", "comments", "likes", "images"},
		"notification": {"notifications", "notification_settings", "fcm_tokens"},
		"chat":         {"chatrooms", "messages", "participants"},
	}
	order := []string{"auth", "user", "content", "notification", "chat"}

	if len(m.Databases) != len(order) {
		t.Fatalf("expected %d databases, got %d", len(order), len(m.Databases))
	}
	for i, name := range order {
		d := m.Databases[i]
		if d.Name != name {
			t.Errorf("database #%d: expected %s, got %s", i, name, d.Name)
			continue
		}
		if len(d.Collections) != len(want[name]) {
			t.Errorf("%s: expected %d collections, got %d", name, len(want[name]), len(d.Collections))
			continue
		}
		for j, c := range d.Collections {
			if c.Name != want[name][j] {
				t.Errorf("%s collection #%d: expected %s, got %s", name, j, want[name][j], c.Name)
			}
		}
	}
}

func TestDefaultManifestIndexes(t *testing.T) {
	m, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}

	tests := []struct {
		database   string
		collection string
		name       string
		unique     bool
		ttl        *int32
	}{
		{"auth", "users", "email_1", true, nil},
		{"auth", "users", "studentId_1", true, nil},
		{"auth", "tokens", "token_1", false, nil},
		{"auth", "tokens", "expiredAt_1", false, int32Ptr(0)},
		{"user", "users", "email_1", false, nil},
		{"user", "users", "studentId_1", false, nil},
		{"user", "follows", "followerId_1_followingId_1", true, nil},
		{"content", "posts", "authorId_1", false, nil},
		{"content", "posts", "createdAt_-1", false, nil},
		{"content", "comments", "postId_1", false, nil},
		{"content", "comments", "authorId_1", false, nil},
		{"content", "likes", "postId_1_userId_1", true, nil},
		{"notification", "notifications", "userId_1", false, nil},
		{"notification", "notifications", "createdAt_-1", false, nil},
		{"notification", "fcm_tokens", "userId_1", false, nil},
		{"chat", "chatrooms", "participants_1", false, nil},
		{"chat", "messages", "chatroomId_1", false, nil},
		{"chat", "messages", "createdAt_-1", false, nil},
		{"chat", "participants", "chatroomId_1_userId_1", true, nil},
	}

	total := 0
	for _, d := range m.Databases {
		for _, c := range d.Collections {
			total += len(c.Indexes)
		}
	}
	if total != len(tests) {
		t.Errorf("expected %d declared indexes, got %d", len(tests), total)
	}

	for _, tt := range tests {
		t.Run(tt.database+"."+tt.collection+"."+tt.name, func(t *testing.T) {
			idx, ok := findIndex(m, tt.database, tt.collection, tt.name)
			if !ok {
				t.Fatalf("index not declared")
			}
			if idx.Unique != tt.unique {
				t.Errorf("unique: expected %t, got %t", tt.unique, idx.Unique)
			}
			if ttlString(idx.ExpireAfterSeconds) != ttlString(tt.ttl) {
				t.Errorf("expireAfterSeconds: expected %s, got %s", ttlString(tt.ttl), ttlString(idx.ExpireAfterSeconds))
			}
		})
	}
}

func TestParseDescendingShorthand(t *testing.T) {
	m, err := Parse([]byte(`
databases:
  - name: feed
    collections:
      - name: items
        indexes:
          - keys: [ownerId, -createdAt]
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	idx := m.Databases[0].Collections[0].Indexes[0]
	want := []Key{{Field: "ownerId", Order: Ascending}, {Field: "createdAt", Order: Descending}}
	if !idx.SameKeys(Index{Keys: want}) {
		t.Errorf("expected keys %v, got %v", want, idx.Keys)
	}
	if idx.IndexName() != "ownerId_1_createdAt_-1" {
		t.Errorf("unexpected index name %s", idx.IndexName())
	}
	if idx.KeyPattern() != "{ ownerId: 1, createdAt: -1 }" {
		t.Errorf("unexpected key pattern %s", idx.KeyPattern())
	}
}

func TestParseRejectsInvalidManifests(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ``},
		{"no databases", `databases: []`},
		{"unknown field", `
databases:
  - name: auth
    colections: []
`},
		{"bad database name", `
databases:
  - name: "a b"
`},
		{"duplicate database", `
databases:
  - name: auth
  - name: auth
`},
		{"duplicate collection", `
databases:
  - name: auth
    collections:
      - name: users
      - name: users
`},
		{"index without keys", `
databases:
  - name: auth
    collections:
      - name: users
        indexes:
          - unique: true
`},
		{"bad field", `
databases:
  - name: auth
    collections:
      - name: users
        indexes:
          - keys: ["e-mail"]
`},
		{"repeated field", `
databases:
  - name: auth
    collections:
      - name: users
        indexes:
          - keys: [email, -email]
`},
		{"compound ttl", `
databases:
  - name: auth
    collections:
      - name: tokens
        indexes:
          - keys: [userId, expiredAt]
            expireAfterSeconds: 0
`},
		{"negative ttl", `
databases:
  - name: auth
    collections:
      - name: tokens
        indexes:
          - keys: [expiredAt]
            expireAfterSeconds: -5
`},
		{"duplicate key pattern", `
databases:
  - name: auth
    collections:
      - name: users
        indexes:
          - keys: [email]
          - keys: [email]
            name: email_unique
            unique: true
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, ErrInvalidSchema) {
				t.Errorf("expected ErrInvalidSchema, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	content := `
databases:
  - name: audit
    collections:
      - name: events
        indexes:
          - keys: [at]
            expireAfterSeconds: 86400
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	idx := m.Databases[0].Collections[0].Indexes[0]
	if !idx.TTL() || *idx.ExpireAfterSeconds != 86400 {
		t.Errorf("expected a 86400s TTL index, got %s", idx)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestSelect(t *testing.T) {
	m, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	sub, err := m.Select([]string{"chat", "auth"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(sub.Databases) != 2 || sub.Databases[0].Name != "auth" || sub.Databases[1].Name != "chat" {
		t.Errorf("expected [auth chat] in declaration order, got %+v", sub.Databases)
	}

	all, err := m.Select(nil)
	if err != nil || len(all.Databases) != 5 {
		t.Errorf("empty selection should keep all databases, got %d (%v)", len(all.Databases), err)
	}

	if _, err := m.Select([]string{"billing"}); !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("expected ErrInvalidSchema for unknown database, got %v", err)
	}
}

func TestIndexDiff(t *testing.T) {
	declared := Index{Keys: []Key{{Field: "expiredAt", Order: Ascending}}, ExpireAfterSeconds: int32Ptr(0)}

	if d := declared.Diff(Index{Name: "expiredAt_1", Keys: declared.Keys, ExpireAfterSeconds: int32Ptr(0)}); len(d) != 0 {
		t.Errorf("expected no differences, got %v", d)
	}

	d := declared.Diff(Index{Keys: declared.Keys, Unique: true, ExpireAfterSeconds: int32Ptr(3600)})
	if len(d) != 2 {
		t.Fatalf("expected 2 differences, got %v", d)
	}
	if d[0] != "unique: declared false, found true" {
		t.Errorf("unexpected diff %q", d[0])
	}
	if d[1] != "expireAfterSeconds: declared 0, found 3600" {
		t.Errorf("unexpected diff %q", d[1])
	}

	d = declared.Diff(Index{Keys: []Key{{Field: "expiredAt", Order: Descending}}, ExpireAfterSeconds: int32Ptr(0)})
	if len(d) != 1 || d[0] != "keys: declared { expiredAt: 1 }, found { expiredAt: -1 }" {
		t.Errorf("unexpected diff %v", d)
	}
}

func TestExpireAfter(t *testing.T) {
	idx := Index{Keys: []Key{{Field: "expiredAt", Order: Ascending}}, ExpireAfterSeconds: int32Ptr(90)}
	if idx.ExpireAfter() != 90*time.Second {
		t.Errorf("expected 1m30s, got %s", idx.ExpireAfter())
	}
	if (Index{}).ExpireAfter() != 0 {
		t.Error("expected zero for an index without TTL")
	}
}

func TestPhysicalName(t *testing.T) {
	if got := (Database{Name: "auth"}).PhysicalName("codin-"); got != "codin-auth" {
		t.Errorf("expected codin-auth, got %s", got)
	}
}

func findIndex(m *Manifest, database, collection, name string) (Index, bool) {
	d, ok := m.Database(database)
	if !ok {
		return Index{}, false
	}
	for _, c := range d.Collections {
		if c.Name != collection {
			continue
		}
		for _, idx := range c.Indexes {
			if idx.IndexName() == name {
				return idx, true
			}
		}
	}
	return Index{}, false
}

func int32Ptr(v int32) *int32 { return &v }
