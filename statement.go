package sedonadb

import (
	"context"
	"database/sql/driver"
)

// Stmt is a prepared statement. Statements take no parameters and are planned
// each time they run.
// Implements the driver.Stmt interface.
type Stmt struct {
	conn   *Conn
	query  string
	closed bool
}

// Close the statement.
// Implements the driver.Stmt interface.
func (s *Stmt) Close() error {
	if s.closed {
		return errClosedStmt
	}
	s.closed = true
	return nil
}

// NumInput returns the number of placeholder parameters, which is always zero.
// Implements the driver.Stmt interface.
func (s *Stmt) NumInput() int {
	return 0
}

// Exec implements the driver.Stmt interface.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), argsToNamedArgs(args))
}

// ExecContext implements the driver.StmtExecContext interface.
func (s *Stmt) ExecContext(ctx context.Context, nargs []driver.NamedValue) (driver.Result, error) {
	if s.closed {
		return nil, errClosedStmt
	}
	return s.conn.ExecContext(ctx, s.query, nargs)
}

// Query implements the driver.Stmt interface.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), argsToNamedArgs(args))
}

// QueryContext implements the driver.StmtQueryContext interface.
func (s *Stmt) QueryContext(ctx context.Context, nargs []driver.NamedValue) (driver.Rows, error) {
	if s.closed {
		return nil, errClosedStmt
	}
	if err := s.conn.check(nargs); err != nil {
		return nil, err
	}
	df, err := s.conn.ctx.SQL(ctx, s.query)
	if err != nil {
		return nil, err
	}
	return newRows(ctx, df)
}

func argsToNamedArgs(values []driver.Value) []driver.NamedValue {
	args := make([]driver.NamedValue, len(values))
	for n, param := range values {
		args[n].Value = param
		args[n].Ordinal = n + 1
	}
	return args
}
