package sedonadb

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

type tableEntry struct {
	name     string
	provider TableProvider
	view     bool
}

// catalogSnapshot is an immutable view of the catalog. Queries bind against
// the snapshot taken when they start.
type catalogSnapshot struct {
	tables     map[string]tableEntry
	scalars    map[string]*scalarFunction
	aggregates map[string]*aggregateFunction
}

func (s *catalogSnapshot) clone() *catalogSnapshot {
	return &catalogSnapshot{
		tables:     maps.Clone(s.tables),
		scalars:    maps.Clone(s.scalars),
		aggregates: maps.Clone(s.aggregates),
	}
}

func (s *catalogSnapshot) table(name string) (tableEntry, bool) {
	e, ok := s.tables[strings.ToLower(name)]
	return e, ok
}

func (s *catalogSnapshot) tableNames() []string {
	names := make([]string, 0, len(s.tables))
	for _, e := range s.tables {
		names = append(names, e.name)
	}
	slices.Sort(names)
	return names
}

func (s *catalogSnapshot) lookupFunction(name string) (*FunctionHandle, bool) {
	key := strings.ToLower(name)
	if f, ok := s.scalars[key]; ok {
		return &FunctionHandle{kind: FUNCTION_SCALAR, scalar: f}, true
	}
	if f, ok := s.aggregates[key]; ok {
		return &FunctionHandle{kind: FUNCTION_AGGREGATE, aggregate: f}, true
	}
	return lookupBuiltin(key)
}

// catalog holds the tables, views and functions of a Context. Mutations are
// serialized and published copy-on-write, so readers never observe a
// partially applied change.
type catalog struct {
	mu      sync.Mutex
	current atomic.Pointer[catalogSnapshot]
	logger  *slog.Logger
}

func newCatalog(logger *slog.Logger) *catalog {
	c := &catalog{logger: logger}
	c.current.Store(&catalogSnapshot{
		tables:     map[string]tableEntry{},
		scalars:    map[string]*scalarFunction{},
		aggregates: map[string]*aggregateFunction{},
	})
	return c
}

func (c *catalog) snapshot() *catalogSnapshot {
	return c.current.Load()
}

// update applies fn to a copy of the current snapshot and publishes it.
func (c *catalog) update(fn func(s *catalogSnapshot) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.current.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	c.current.Store(next)
	return nil
}

func (c *catalog) registerTable(name string, provider TableProvider, overwrite bool, view bool) error {
	if strings.TrimSpace(name) == "" {
		return getError(ErrBinding, errEmptyName)
	}
	if provider == nil {
		return getError(ErrBinding, errNilProvider)
	}
	kind := "table"
	if view {
		kind = "view"
	}
	err := c.update(func(s *catalogSnapshot) error {
		key := strings.ToLower(name)
		if existing, ok := s.tables[key]; ok && !overwrite {
			if existing.view {
				return getError(ErrNameConflict, nameConflictError("view", existing.name))
			}
			return getError(ErrNameConflict, nameConflictError("table", existing.name))
		}
		s.tables[key] = tableEntry{name: name, provider: provider, view: view}
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Debug("registered "+kind, "name", name, "overwrite", overwrite)
	return nil
}

func (c *catalog) deregisterTable(name string) error {
	err := c.update(func(s *catalogSnapshot) error {
		key := strings.ToLower(name)
		if _, ok := s.tables[key]; !ok {
			return getError(ErrNotFound, notFoundError("table", name))
		}
		delete(s.tables, key)
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Debug("deregistered table", "name", name)
	return nil
}

func (c *catalog) checkFunctionName(s *catalogSnapshot, name string) error {
	if isBuiltinFunction(name) {
		return getError(ErrNameConflict, nameConflictError("builtin function", name))
	}
	if _, ok := s.scalars[name]; ok {
		return getError(ErrNameConflict, nameConflictError("function", name))
	}
	if _, ok := s.aggregates[name]; ok {
		return getError(ErrNameConflict, nameConflictError("function", name))
	}
	return nil
}

func (c *catalog) registerScalar(f *scalarFunction) error {
	err := c.update(func(s *catalogSnapshot) error {
		if err := c.checkFunctionName(s, f.name); err != nil {
			return err
		}
		s.scalars[f.name] = f
		return nil
	})
	if err == nil {
		c.logger.Debug("registered scalar function", "name", f.name, "signature", f.signature)
	}
	return err
}

func (c *catalog) registerAggregate(f *aggregateFunction) error {
	err := c.update(func(s *catalogSnapshot) error {
		if err := c.checkFunctionName(s, f.name); err != nil {
			return err
		}
		s.aggregates[f.name] = f
		return nil
	})
	if err == nil {
		c.logger.Debug("registered aggregate function", "name", f.name, "signature", f.signature)
	}
	return err
}

func (c *catalog) deregisterFunction(name string) error {
	key := strings.ToLower(name)
	return c.update(func(s *catalogSnapshot) error {
		_, scalar := s.scalars[key]
		_, agg := s.aggregates[key]
		if !scalar && !agg {
			return getError(ErrNotFound, notFoundError("function", name))
		}
		delete(s.scalars, key)
		delete(s.aggregates, key)
		return nil
	})
}
