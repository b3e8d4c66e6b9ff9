package sedonadb

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
)

var (
	errQueryParameters = errors.New("query parameters are not supported")
	errClosedConn      = getError(ErrClosed, errors.New("connection is closed"))
	errClosedStmt      = getError(ErrClosed, errors.New("statement is closed"))
)

// Conn is a database/sql connection on a Context.
// Implements the driver.Conn interface.
type Conn struct {
	ctx    *Context
	owned  bool
	closed bool
}

// CheckNamedValue rejects every argument. Statements take no parameters.
// Implements the driver.NamedValueChecker interface.
func (*Conn) CheckNamedValue(*driver.NamedValue) error {
	return getError(ErrUnsupported, errQueryParameters)
}

// ExecContext runs a statement and discards its result rows.
// Implements the driver.ExecerContext interface.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.check(args); err != nil {
		return nil, err
	}
	df, err := c.ctx.SQL(ctx, query)
	if err != nil {
		return nil, err
	}
	stream, err := df.Stream(ctx)
	if err != nil {
		return nil, err
	}
	records, err := drain(ctx, stream)
	if err != nil {
		return nil, err
	}
	releaseRecords(records)
	return &result{}, nil
}

// QueryContext runs a statement and streams its rows.
// Implements the driver.QueryerContext interface.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.check(args); err != nil {
		return nil, err
	}
	df, err := c.ctx.SQL(ctx, query)
	if err != nil {
		return nil, err
	}
	return newRows(ctx, df)
}

// PrepareContext plans nothing yet; the statement is planned when it runs so
// that it binds against the catalog at that time.
// Implements the driver.ConnPrepareContext interface.
func (c *Conn) PrepareContext(_ context.Context, query string) (driver.Stmt, error) {
	if c.closed {
		return nil, errClosedConn
	}
	return &Stmt{conn: c, query: query}, nil
}

// Prepare implements the driver.Conn interface.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// BeginTx implements the driver.ConnBeginTx interface.
func (*Conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return nil, getError(ErrUnsupported, errors.New("transactions"))
}

// Begin is deprecated: Use BeginTx instead.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// IsValid implements the driver.Validator interface.
func (c *Conn) IsValid() bool {
	return !c.closed && c.ctx.checkOpen() == nil
}

// Close closes the connection. A connection opened through Driver.Open also
// closes its context.
// Implements the driver.Conn interface.
func (c *Conn) Close() error {
	if c.closed {
		return errClosedConn
	}
	c.closed = true
	if c.owned {
		return c.ctx.Close()
	}
	return nil
}

func (c *Conn) check(args []driver.NamedValue) error {
	if c.closed {
		return errClosedConn
	}
	if len(args) > 0 {
		return getError(ErrUnsupported, fmt.Errorf("%w, got %d", errQueryParameters, len(args)))
	}
	return nil
}
