// Package sedonadb implements an embeddable analytical query engine for
// tabular and geometry data held in Apache Arrow record batches.
//
// A Context owns a catalog of tables, views and functions. Queries are built
// from SQL or with DataFrame transformations, optimized, and executed as a
// pull-based pipeline of record batches.
package sedonadb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/google/uuid"

	"github.com/sedonadb/go-sedonadb/internal/sqlparser"
	"github.com/sedonadb/go-sedonadb/objectstore"
)

// Context is a session of the engine. It is safe for concurrent use: queries
// may run while tables and functions are registered, and every query binds
// against the catalog as it was when the query was planned.
type Context struct {
	cfg      Config
	logger   *slog.Logger
	catalog  *catalog
	queries  *ctxStore
	profiles profileStore
	store    *objectstore.Router
	crs      *crsCache
	closed   atomic.Bool
}

// Open creates a Context configured by the options of a DSN, e.g.
// "?batch_size=4096&target_partitions=8".
func Open(dsn string) (*Context, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return NewContext(cfg)
}

// NewContext creates a Context. Zero options take their defaults.
func NewContext(cfg Config) (*Context, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	var defs map[string]json.RawMessage
	if cfg.CRSDefinitions != "" {
		var err error
		if defs, err = LoadCRSDefinitions(cfg.CRSDefinitions); err != nil {
			return nil, err
		}
	}

	return &Context{
		cfg:     cfg,
		logger:  cfg.Logger,
		catalog: newCatalog(cfg.Logger),
		queries: newContextStore(),
		store:   objectstore.New(cfg.ObjectStore, cfg.IORetries, cfg.Logger),
		crs:     newCRSCache(NewCRSEngine(defs)),
	}, nil
}

// Config returns the effective configuration.
func (c *Context) Config() Config {
	return c.cfg
}

func (c *Context) checkOpen() error {
	if c.closed.Load() {
		return getError(ErrClosed, nil)
	}
	return nil
}

// Close cancels all running queries and releases object store clients.
// Closing twice is a no-op.
func (c *Context) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n := c.queries.cancelAll(); n > 0 {
		c.logger.Debug("cancelled running queries", "count", n)
	}
	return c.store.Close()
}

// Interrupt cancels all running queries and returns how many were running.
// Their streams fail with ErrExecution.
func (c *Context) Interrupt() int {
	n := c.queries.cancelAll()
	c.logger.Debug("interrupted queries", "count", n)
	return n
}

// Exprs returns a factory for expressions that need the function registry.
func (c *Context) Exprs() *ExprFactory {
	return &ExprFactory{funcs: func() functionResolver { return c.catalog.snapshot() }}
}

// LookupFunction finds a builtin or registered function by name, ignoring case.
func (c *Context) LookupFunction(name string) (*FunctionHandle, bool) {
	return c.catalog.snapshot().lookupFunction(name)
}

// Tables returns the sorted names of all tables and views.
func (c *Context) Tables() []string {
	return c.catalog.snapshot().tableNames()
}

// RegisterTable makes a provider queryable under name. A table or view with
// the same name is an ErrNameConflict.
func (c *Context) RegisterTable(name string, provider TableProvider) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.catalog.registerTable(name, provider, false, false)
}

// ReplaceTable registers a provider, replacing any table or view of that name.
func (c *Context) ReplaceTable(name string, provider TableProvider) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.catalog.registerTable(name, provider, true, false)
}

// DeregisterTable removes a table or view. A missing name is an ErrNotFound.
func (c *Context) DeregisterTable(name string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.catalog.deregisterTable(name)
}

// CreateView registers the plan of df under name. Queries of the view inline
// the plan. An existing name is an ErrNameConflict unless overwrite is set.
func (c *Context) CreateView(name string, df *DataFrame, overwrite bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if df == nil {
		return getError(ErrBinding, interfaceIsNilError("DataFrame"))
	}
	if df.ctx != c {
		return getError(ErrBinding, fmt.Errorf("view %q: data frame belongs to another context", name))
	}
	view := &viewProvider{dataFrameProvider: dataFrameProvider{df: df}, name: name}
	return c.catalog.registerTable(name, view, overwrite, true)
}

// Table returns a data frame scanning a registered table or view.
func (c *Context) Table(name string) (*DataFrame, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	entry, ok := c.catalog.snapshot().table(name)
	if !ok {
		return nil, getError(ErrNotFound, notFoundError("table", name))
	}
	plan, err := sourcePlan(entry.name, entry.provider)
	if err != nil {
		return nil, err
	}
	return c.newDataFrame(plan), nil
}

// View is an alias of Table.
func (c *Context) View(name string) (*DataFrame, error) {
	return c.Table(name)
}

// FromProvider returns a data frame scanning provider without registering it.
func (c *Context) FromProvider(provider TableProvider) (*DataFrame, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, getError(ErrBinding, errNilProvider)
	}
	plan, err := sourcePlan("provider", provider)
	if err != nil {
		return nil, err
	}
	return c.newDataFrame(plan), nil
}

// FromRecords returns a data frame over in-memory batches. The frame retains
// the records.
func (c *Context) FromRecords(schema *arrow.Schema, records ...arrow.Record) (*DataFrame, error) {
	if schema == nil {
		return nil, getError(ErrBinding, interfaceIsNilError("arrow.Schema"))
	}
	s, err := SchemaFromArrow(schema)
	if err != nil {
		return nil, err
	}
	table, err := NewMemTable(s, records...)
	if err != nil {
		return nil, err
	}
	return c.FromProvider(table)
}

// FromArrowStream returns a data frame over a record reader. A lazy frame
// reads the stream when it is executed and can be executed only once;
// otherwise the stream is read into memory immediately. The frame takes
// ownership of the reader.
func (c *Context) FromArrowStream(ctx context.Context, reader array.RecordReader, lazy bool) (*DataFrame, error) {
	provider, err := NewReaderProvider(reader)
	if err != nil {
		return nil, err
	}
	if lazy {
		return c.FromProvider(provider)
	}
	stream, err := provider.Scan(ctx, ScanOptions{Limit: -1})
	if err != nil {
		return nil, err
	}
	records, err := drain(ctx, stream)
	if err != nil {
		return nil, wrapError(ErrExecution, err)
	}
	defer releaseRecords(records)
	table, err := NewMemTable(provider.Schema(), records...)
	if err != nil {
		return nil, err
	}
	return c.FromProvider(table)
}

// SQL plans a statement. SELECT returns a lazy data frame. CREATE VIEW and
// DROP take effect immediately and return an empty frame. EXPLAIN returns the
// plans as rows.
func (c *Context) SQL(ctx context.Context, query string) (*DataFrame, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	stmt, err := parseSQL(query)
	if err != nil {
		return nil, err
	}
	planner := newSQLPlanner(c.catalog.snapshot(), func(paths []string) (TableProvider, error) {
		return c.openParquet(ctx, paths)
	})

	switch s := stmt.(type) {
	case *sqlparser.SelectStmt:
		plan, err := planner.planSelect(s)
		if err != nil {
			return nil, err
		}
		return c.newDataFrame(plan), nil

	case *sqlparser.CreateViewStmt:
		plan, err := planner.planSelect(s.Select)
		if err != nil {
			return nil, err
		}
		if err = c.CreateView(s.Name, c.newDataFrame(plan), s.OrReplace); err != nil {
			return nil, err
		}
		return c.emptyDataFrame(), nil

	case *sqlparser.DropStmt:
		if err = c.drop(s); err != nil {
			return nil, err
		}
		return c.emptyDataFrame(), nil

	case *sqlparser.ExplainStmt:
		plan, err := planner.planSelect(s.Select)
		if err != nil {
			return nil, err
		}
		return c.explainFrame(c.newDataFrame(plan))
	}
	return nil, getError(ErrUnsupported, fmt.Errorf("statement %T", stmt))
}

func (c *Context) drop(s *sqlparser.DropStmt) error {
	kind := "table"
	if s.View {
		kind = "view"
	}
	entry, ok := c.catalog.snapshot().table(s.Name)
	switch {
	case !ok && s.IfExists:
		return nil
	case !ok:
		return getError(ErrNotFound, notFoundError(kind, s.Name))
	case entry.view != s.View:
		return getError(ErrBinding, fmt.Errorf("%q is not a %s", entry.name, kind))
	}
	err := c.catalog.deregisterTable(s.Name)
	if errors.Is(err, ErrNotFound) && s.IfExists {
		return nil
	}
	return err
}

// ProfilingInfo returns the metrics of the last finished query.
func (c *Context) ProfilingInfo() (ProfilingInfo, error) {
	info, ok := c.profiles.get()
	if !ok {
		return info, getError(ErrNotFound, errProfilingInfoEmpty)
	}
	return info, nil
}

func (c *Context) newDataFrame(plan LogicalPlan) *DataFrame {
	return &DataFrame{ctx: c, plan: plan}
}

func (c *Context) emptyDataFrame() *DataFrame {
	return c.newDataFrame(&EmptyRelationNode{})
}

func (c *Context) newExecContext(queryCtx context.Context) *execContext {
	return &execContext{
		mem:              c.cfg.Allocator,
		overflow:         c.cfg.Overflow,
		batchSize:        c.cfg.BatchSize,
		targetPartitions: c.cfg.TargetPartitions,
		logger:           c.logger,
		store:            c.store,
		crs:              c.crs,
		queryCtx:         queryCtx,
	}
}

// execute optimizes and compiles a plan and registers the query so that
// Interrupt and Close can cancel it.
func (c *Context) execute(ctx context.Context, plan LogicalPlan) (RecordStream, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithCancel(ctx)
	ec := c.newExecContext(queryCtx)

	optimized, err := newOptimizer(ec, c.logger).optimize(plan)
	if err != nil {
		cancel()
		return nil, err
	}
	root, err := ec.compile(optimized)
	if err != nil {
		cancel()
		return nil, err
	}

	id := uuid.NewString()
	c.queries.add(id, cancel)
	c.logger.Debug("query started", "query_id", id)
	return &queryStream{c: c, id: id, ctx: queryCtx, cancel: cancel, root: root, started: time.Now()}, nil
}

func releaseRecords(records []arrow.Record) {
	for _, r := range records {
		r.Release()
	}
}
