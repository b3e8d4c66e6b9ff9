package sedonadb

import (
	"context"
	"database/sql"
	"database/sql/driver"
)

func init() {
	sql.Register("sedonadb", Driver{})
}

// Driver is the database/sql driver. The DSN is the one accepted by Open.
type Driver struct{}

func (d Driver) Open(dsn string) (driver.Conn, error) {
	c, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := c.Connect(context.Background())
	if err != nil {
		return nil, err
	}
	// The connection is the only user of its context.
	conn.(*Conn).owned = true
	return conn, nil
}

func (Driver) OpenConnector(dsn string) (driver.Connector, error) {
	return NewConnector(dsn, nil)
}

// NewConnector creates a Connector over a new Context configured by dsn.
// All connections of the connector share the context, so tables and views
// registered through one connection are visible to the others.
// connInitFn, if set, runs on every new connection.
// The user must close the Connector, if it is not passed to the sql.OpenDB function.
// Otherwise, sql.DB closes the Connector when calling sql.DB.Close().
func NewConnector(dsn string, connInitFn func(execer driver.ExecerContext) error) (*Connector, error) {
	c, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	return &Connector{ctx: c, connInitFn: connInitFn}, nil
}

type Connector struct {
	ctx        *Context
	connInitFn func(execer driver.ExecerContext) error
}

func (*Connector) Driver() driver.Driver {
	return Driver{}
}

// Context returns the engine context shared by the connections, e.g. to
// register tables before querying them with database/sql.
func (c *Connector) Context() *Context {
	return c.ctx
}

func (c *Connector) Connect(context.Context) (driver.Conn, error) {
	if err := c.ctx.checkOpen(); err != nil {
		return nil, err
	}
	conn := &Conn{ctx: c.ctx}
	if c.connInitFn != nil {
		if err := c.connInitFn(conn); err != nil {
			return nil, err
		}
	}
	return conn, nil
}

func (c *Connector) Close() error {
	return c.ctx.Close()
}
