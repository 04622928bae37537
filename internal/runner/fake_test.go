package runner

import (
	"context"
	"sort"
	"strings"

	"codin-bootstrap/internal/schema"

	"github.com/pkg/errors"
)

var errInjected = errors.New("injected failure")

// fakeDriver is an in-memory backend. Calls are logged as "Op target", and
// failOn / blockOn match against that log entry.
type fakeDriver struct {
	databases map[string]map[string][]schema.Index
	calls     []string
	failOn    string
	blockOn   string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{databases: map[string]map[string][]schema.Index{}}
}

func (f *fakeDriver) Name() string                          { return "fake" }
func (f *fakeDriver) Connect(context.Context, string) error { return nil }
func (f *fakeDriver) Close(context.Context) error           { return nil }

func (f *fakeDriver) enter(ctx context.Context, call string) error {
	f.calls = append(f.calls, call)
	if f.blockOn != "" && call == f.blockOn {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.failOn != "" && call == f.failOn {
		return errInjected
	}
	return nil
}

func (f *fakeDriver) EnsureDatabase(ctx context.Context, database string) error {
	if err := f.enter(ctx, "EnsureDatabase "+database); err != nil {
		return err
	}
	if f.databases[database] == nil {
		f.databases[database] = map[string][]schema.Index{}
	}
	return nil
}

func (f *fakeDriver) CollectionNames(ctx context.Context, database string) ([]string, error) {
	if err := f.enter(ctx, "CollectionNames "+database); err != nil {
		return nil, err
	}
	var names []string
	for name := range f.databases[database] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeDriver) CreateCollection(ctx context.Context, database, collection string) error {
	if err := f.enter(ctx, "CreateCollection "+database+"."+collection); err != nil {
		return err
	}
	if _, ok := f.databases[database][collection]; ok {
		return errors.Errorf("collection %s.%s already exists", database, collection)
	}
	f.databases[database][collection] = []schema.Index{}
	return nil
}

func (f *fakeDriver) Indexes(ctx context.Context, database, collection string) ([]schema.Index, error) {
	if err := f.enter(ctx, "Indexes "+database+"."+collection); err != nil {
		return nil, err
	}
	return append([]schema.Index(nil), f.databases[database][collection]...), nil
}

func (f *fakeDriver) CreateIndex(ctx context.Context, database, collection string, index schema.Index) error {
	if err := f.enter(ctx, "CreateIndex "+database+"."+collection+"."+index.IndexName()); err != nil {
		return err
	}
	index.Name = index.IndexName()
	f.databases[database][collection] = append(f.databases[database][collection], index)
	return nil
}

// seed creates a collection with the given indexes, bypassing the call log.
func (f *fakeDriver) seed(database, collection string, indexes ...schema.Index) {
	if f.databases[database] == nil {
		f.databases[database] = map[string][]schema.Index{}
	}
	for i := range indexes {
		indexes[i].Name = indexes[i].IndexName()
	}
	f.databases[database][collection] = append(f.databases[database][collection], indexes...)
}

func (f *fakeDriver) callsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}
