// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package sqldriver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/snowbridge-dev/snowbridge"
	"github.com/snowbridge-dev/snowbridge/client"
)

// connection string keys
const (
	KeyURI       = "uri"
	KeyLibrary   = "library"
	KeyBatchSize = "batch_size"
)

var errNotSupported = snowbridge.Error{Code: snowbridge.StatusInvalidState, Msg: "transactions are not supported"}

func parseConnectStr(str string) (ret map[string]string, err error) {
	ret = make(map[string]string)
	for _, kv := range strings.Split(str, ";") {
		if strings.TrimSpace(kv) == "" {
			continue
		}
		parsed := strings.SplitN(kv, "=", 2)
		if len(parsed) != 2 {
			return nil, snowbridge.Error{
				Msg:  "invalid format for connection string",
				Code: snowbridge.StatusInvalidArgument,
			}
		}

		ret[strings.TrimSpace(parsed[0])] = strings.TrimSpace(parsed[1])
	}
	return
}

// Loader loads the library named by the library key of a connection
// string. It also returns the allocator request buffers must come
// from, drivermgr.Allocator() for a library loaded with drivermgr.Load.
// A nil allocator leaves the client default.
type Loader func(path string) (snowbridge.Library, memory.Allocator, error)

type Driver struct {
	// Library serves every connection. When nil, Loader loads the
	// library named in the connection string.
	Library snowbridge.Library
	Loader  Loader
	Options []client.Option
}

// Open returns a new connection to the database. The name
// should be semi-colon separated key-value pairs of the form:
// uri=<connection string>;library=<path>;batch_size=<rows>
//
// A library holds a single connection, so every connection returned
// for the same name shares it. Limit the pool with SetMaxOpenConns(1),
// as OpenDB does.
func (d Driver) Open(name string) (driver.Conn, error) {
	connector, err := d.OpenConnector(name)
	if err != nil {
		return nil, err
	}
	return connector.Connect(context.Background())
}

// OpenConnector expects the same format as driver.Open
func (d Driver) OpenConnector(name string) (driver.Connector, error) {
	opts, err := parseConnectStr(name)
	if err != nil {
		return nil, err
	}

	c := &connector{drv: d, uri: opts[KeyURI], batchSize: client.DefaultBatchSize, lib: d.Library}
	if v, ok := opts[KeyBatchSize]; ok {
		if c.batchSize, err = strconv.Atoi(v); err != nil || c.batchSize < 1 {
			return nil, snowbridge.Error{
				Msg:  "invalid value for " + KeyBatchSize + ": '" + v + "'",
				Code: snowbridge.StatusInvalidArgument,
			}
		}
	}
	if c.lib == nil {
		path := opts[KeyLibrary]
		if path == "" || d.Loader == nil {
			return nil, snowbridge.Error{
				Msg:  "no library: set Driver.Library, or Driver.Loader and the " + KeyLibrary + " key",
				Code: snowbridge.StatusInvalidArgument,
			}
		}
		if c.lib, c.mem, err = d.Loader(path); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// OpenDB opens a *sql.DB over d, limited to the single connection a
// library holds.
func OpenDB(d Driver, name string) (*sql.DB, error) {
	c, err := d.OpenConnector(name)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(c)
	db.SetMaxOpenConns(1)
	return db, nil
}

type connector struct {
	drv       Driver
	lib       snowbridge.Library
	mem       memory.Allocator
	uri       string
	batchSize int

	mu sync.Mutex
	db *client.Database
}

// Connect returns a connection to the database, connecting the library
// on first use.
func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil || !c.db.Connected() {
		db, err := client.Connect(ctx, c.lib, c.uri, c.options()...)
		if err != nil {
			return nil, err
		}
		c.db = db
	}
	return &conn{db: c.db, batchSize: c.batchSize}, nil
}

// options are the driver's client options, followed by the allocator
// of a loaded library so that one always wins.
func (c *connector) options() []client.Option {
	opts := append([]client.Option(nil), c.drv.Options...)
	if c.mem != nil {
		opts = append(opts, client.WithAllocator(c.mem))
	}
	return opts
}

// Driver returns the underlying Driver of the connector,
// mainly to maintain compatibility with the Driver method on sql.DB
func (c *connector) Driver() driver.Driver { return c.drv }

// Close disconnects the library. sql.DB.Close calls it.
func (c *connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		c.db.Disconnect()
		c.db = nil
	}
	return nil
}

// conn is a connection to a database. It is not used concurrently by
// multiple goroutines.
type conn struct {
	db        *client.Database
	batchSize int
}

// Close does nothing: the library connection belongs to the connector.
func (c *conn) Close() error { return nil }

func (c *conn) Ping(ctx context.Context) error {
	if !c.db.Ping(ctx) {
		return c.db.Err()
	}
	return nil
}

func (c *conn) IsValid() bool { return c.db.Connected() }

// Begin exists to fulfill the Conn interface, but will return an error.
//
// Deprecated
func (c *conn) Begin() (driver.Tx, error) {
	return nil, errNotSupported
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return nil, errNotSupported
}

// Prepare returns a prepared statement, bound to this connection. The
// statement is only sent when executed.
func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *conn) PrepareContext(_ context.Context, query string) (driver.Stmt, error) {
	return &stmt{conn: c, query: query}, nil
}

func argValues(args []driver.NamedValue) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		if a.Name != "" {
			return nil, snowbridge.Error{
				Msg:  "named parameters are not supported: '" + a.Name + "'",
				Code: snowbridge.StatusInvalidArgument,
			}
		}
		out[i] = a.Value
	}
	return out, nil
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	values, err := argValues(args)
	if err != nil {
		return nil, err
	}
	res, err := c.db.Execute(ctx, query, values...)
	if err != nil {
		return nil, err
	}
	return result{res}, nil
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	values, err := argValues(args)
	if err != nil {
		return nil, err
	}
	rdr, err := c.db.NewRecordReader(ctx, nil, query, c.batchSize, values...)
	if err != nil {
		return nil, err
	}
	return &rows{rdr: rdr}, nil
}

type result struct {
	res snowbridge.ExecResult
}

func (r result) LastInsertId() (int64, error) { return int64(r.res.LastInsertID), nil }
func (r result) RowsAffected() (int64, error) { return int64(r.res.RowsAffected), nil }

type stmt struct {
	conn  *conn
	query string
}

func (s *stmt) Close() error { return nil }

// NumInput returns -1: the number of placeholders is not known before
// the statement runs.
func (s *stmt) NumInput() int { return -1 }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return nil, driver.ErrSkip
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, driver.ErrSkip
}

func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

// rows hands out the text cells of a result. Every column scans as a
// string; the remote column type is reported through the ColumnType
// methods.
type rows struct {
	rdr       *client.RecordReader
	curRow    int64
	curRecord arrow.Record
}

func (r *rows) Columns() (out []string) {
	out = make([]string, len(r.rdr.Schema().Fields()))
	for i, f := range r.rdr.Schema().Fields() {
		out[i] = f.Name
	}
	return
}

func (r *rows) Close() error {
	if r.rdr == nil {
		return nil
	}
	r.curRecord = nil
	r.rdr.Release()
	r.rdr = nil
	return nil
}

func (r *rows) Next(dest []driver.Value) error {
	if r.curRecord != nil && r.curRow == r.curRecord.NumRows() {
		r.curRecord = nil
	}

	for r.curRecord == nil {
		if !r.rdr.Next() {
			if err := r.rdr.Err(); err != nil {
				return err
			}
			return io.EOF
		}
		r.curRecord = r.rdr.Record()
		r.curRow = 0
		if r.curRecord.NumRows() == 0 {
			r.curRecord = nil
		}
	}

	for i, col := range r.curRecord.Columns() {
		str, ok := col.(*array.String)
		if !ok {
			return errors.New("unexpected column type " + col.DataType().String())
		}
		dest[i] = str.Value(int(r.curRow))
	}

	r.curRow++
	return nil
}

func (r *rows) column(index int) client.Column {
	return r.rdr.Columns()[index]
}

func (r *rows) ColumnTypeDatabaseTypeName(index int) string {
	return r.column(index).Type.Name()
}

func (r *rows) ColumnTypeNullable(index int) (nullable, ok bool) {
	if p := r.column(index).Type.Parsed; p != nil {
		return p.Nullable, true
	}
	return false, false
}

func (r *rows) ColumnTypeLength(index int) (length int64, ok bool) {
	if p := r.column(index).Type.Parsed; p != nil && p.Length > 0 {
		return p.Length, true
	}
	return 0, false
}

func (r *rows) ColumnTypePrecisionScale(index int) (precision, scale int64, ok bool) {
	if p := r.column(index).Type.Parsed; p != nil && p.Precision > 0 {
		return p.Precision, p.Scale, true
	}
	return 0, 0, false
}

func (r *rows) ColumnTypeScanType(int) reflect.Type {
	return reflect.TypeOf("")
}

var (
	_ driver.DriverContext                  = Driver{}
	_ driver.Connector                      = (*connector)(nil)
	_ driver.ConnBeginTx                    = (*conn)(nil)
	_ driver.ConnPrepareContext             = (*conn)(nil)
	_ driver.ExecerContext                  = (*conn)(nil)
	_ driver.QueryerContext                 = (*conn)(nil)
	_ driver.Pinger                         = (*conn)(nil)
	_ driver.Validator                      = (*conn)(nil)
	_ driver.StmtExecContext                = (*stmt)(nil)
	_ driver.StmtQueryContext               = (*stmt)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*rows)(nil)
	_ driver.RowsColumnTypeNullable         = (*rows)(nil)
	_ driver.RowsColumnTypeLength           = (*rows)(nil)
	_ driver.RowsColumnTypePrecisionScale   = (*rows)(nil)
	_ driver.RowsColumnTypeScanType         = (*rows)(nil)
)
