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

// Package snowflake is the remote side of the snowbridge boundary: a
// Session holding one database/sql connection to Snowflake, and a
// Library exposing it through the snowbridge.Library calls.
//
// Result values are rendered as text, NULL as the text "NULL", and
// column types are described as JSON.
package snowflake

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/snowbridge-dev/snowbridge/internal/driverbase"
	"github.com/snowflakedb/gosnowflake"
	"golang.org/x/sync/errgroup"
)

const (
	DriverName = "snowflake"
	NullValue  = "NULL"
)

var (
	ErrNotConnected = errors.New("database connection not initialized")
	ErrNoCursor     = errors.New("no cursor available")
)

type sessionOptions struct {
	sqlDriver string
	logger    *slog.Logger
}

// Option configures a Session.
type Option func(*sessionOptions)

// WithSQLDriver opens connections through another registered
// database/sql driver instead of gosnowflake. The connection string is
// then passed to sql.Open as is, and asynchronous statements run on a
// background goroutine under a generated id.
func WithSQLDriver(name string) Option {
	return func(o *sessionOptions) { o.sqlDriver = name }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *sessionOptions) { o.logger = logger }
}

// Column describes a result column: its name and a JSON type descriptor.
type Column struct {
	Name string
	Type string
}

type typeDescriptor struct {
	TypeName  string
	Length    int64
	Precision int64
	Scale     int64
	Nullable  bool
}

func describe(ct *sql.ColumnType) string {
	desc := typeDescriptor{TypeName: ct.DatabaseTypeName(), Nullable: true}
	if n, ok := ct.Length(); ok {
		desc.Length = n
	}
	if p, s, ok := ct.DecimalSize(); ok {
		desc.Precision, desc.Scale = p, s
	}
	if nullable, ok := ct.Nullable(); ok {
		desc.Nullable = nullable
	}
	out, err := json.Marshal(desc)
	if err != nil {
		return desc.TypeName
	}
	return string(out)
}

type cursor struct {
	rows    *sql.Rows
	numCols int
}

// Session is a single connection to the remote service, with at most
// one statement being executed and one open cursor at a time.
//
// Cancel may be called from any goroutine while Execute is running.
type Session struct {
	sqlDriver string
	logger    *slog.Logger

	mu     sync.Mutex
	db     *sql.DB
	cancel context.CancelFunc
	async  *errgroup.Group

	curMu sync.Mutex
	cur   *cursor
}

func NewSession(opts ...Option) *Session {
	o := sessionOptions{sqlDriver: DriverName}
	for _, opt := range opts {
		opt(&o)
	}
	return &Session{
		sqlDriver: o.sqlDriver,
		logger:    driverbase.LoggerOrNil(o.logger),
		async:     &errgroup.Group{},
	}
}

// Init connects to the database described by connStr, replacing any
// previous connection, and pings it.
func (s *Session) Init(ctx context.Context, connStr string) error {
	if err := s.Close(); err != nil {
		return fmt.Errorf("failed to close existing connection: %w", err)
	}

	db, err := s.open(connStr)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	return nil
}

func (s *Session) open(connStr string) (*sql.DB, error) {
	if s.sqlDriver != DriverName {
		db, err := sql.Open(s.sqlDriver, connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return db, nil
	}

	cfg, err := ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(gosnowflake.NewConnector(gosnowflake.SnowflakeDriver{}, *cfg)), nil
}

func (s *Session) getDB() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

func (s *Session) Ping(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the open cursor, waits for background statements and
// closes the connection. Closing a closed Session does nothing.
func (s *Session) Close() error {
	s.CloseCursor()
	asyncErr := s.Wait()

	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	if asyncErr != nil {
		s.logger.Warn("background statement failed", "error", asyncErr)
	}
	return nil
}

// Wait blocks until the statements started by ExecuteAsync without
// server-side async support have finished, and returns the first error.
func (s *Session) Wait() error {
	s.mu.Lock()
	grp := s.async
	s.async = &errgroup.Group{}
	s.mu.Unlock()
	return grp.Wait()
}

// Execute runs a statement and waits for it. Drivers that do not report
// an insert id or an affected row count leave that value at zero.
func (s *Session) Execute(ctx context.Context, query string, args []any) (lastID, rowsAffected int64, err error) {
	db, err := s.getDB()
	if err != nil {
		return 0, 0, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		if ctx.Err() != nil {
			return 0, 0, fmt.Errorf("query cancelled: %w", err)
		}
		return 0, 0, err
	}
	if id, err := res.LastInsertId(); err == nil {
		lastID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		rowsAffected = n
	}
	return lastID, rowsAffected, nil
}

// Cancel aborts the statement Execute is running, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.logger.Debug("cancelling statement")
		s.cancel()
	}
}

// ExecuteAsync submits a statement and returns its query id without
// waiting for the statement to finish.
func (s *Session) ExecuteAsync(ctx context.Context, query string, args []any) (string, error) {
	db, err := s.getDB()
	if err != nil {
		return "", err
	}
	if s.sqlDriver == DriverName {
		return submitAsync(ctx, db, query, args)
	}

	id := uuid.NewString()
	s.mu.Lock()
	grp := s.async
	s.mu.Unlock()
	grp.Go(func() error {
		if _, err := db.ExecContext(context.Background(), query, args...); err != nil {
			return fmt.Errorf("query %s: %w", id, err)
		}
		return nil
	})
	return id, nil
}

func submitAsync(ctx context.Context, db *sql.DB, query string, args []any) (string, error) {
	named, err := namedValues(args)
	if err != nil {
		return "", err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	var queryID string
	err = conn.Raw(func(driverConn any) error {
		stmt, err := driverConn.(driver.ConnPrepareContext).PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		res, err := stmt.(driver.StmtExecContext).ExecContext(gosnowflake.WithAsyncMode(ctx), named)
		if err != nil {
			return err
		}
		if sfRes, ok := res.(gosnowflake.SnowflakeResult); ok {
			queryID = sfRes.GetQueryID()
			return nil
		}
		if sfStmt, ok := stmt.(gosnowflake.SnowflakeStmt); ok {
			queryID = sfStmt.GetQueryID()
			return nil
		}
		return errors.New("statement does not report a query id")
	})
	return queryID, err
}

func namedValues(args []any) ([]driver.NamedValue, error) {
	named := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		v, err := driver.DefaultParameterConverter.ConvertValue(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named, nil
}

// Fetch runs a query and keeps its rows as the open cursor, closing the
// previous one.
func (s *Session) Fetch(ctx context.Context, query string, args []any) ([]Column, error) {
	s.CloseCursor()

	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	types, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error getting column types: %w", err)
	}
	cols := make([]Column, len(types))
	for i, ct := range types {
		cols[i] = Column{Name: ct.Name(), Type: describe(ct)}
	}

	s.curMu.Lock()
	s.cur = &cursor{rows: rows, numCols: len(cols)}
	s.curMu.Unlock()
	return cols, nil
}

// FetchNextRow reads the next row of the open cursor. It returns nil
// once the rows are exhausted.
func (s *Session) FetchNextRow() ([]string, error) {
	s.curMu.Lock()
	defer s.curMu.Unlock()
	if s.cur == nil {
		return nil, ErrNoCursor
	}

	rows := s.cur.rows
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error advancing cursor: %w", err)
		}
		return nil, nil
	}

	values := make([]any, s.cur.numCols)
	scanArgs := make([]any, len(values))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	if err := rows.Scan(scanArgs...); err != nil {
		return nil, fmt.Errorf("error scanning row: %w", err)
	}

	row := make([]string, len(values))
	for i, v := range values {
		row[i] = formatValue(v)
	}
	return row, nil
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return NullValue
	case []byte:
		return string(v)
	}
	return fmt.Sprintf("%v", v)
}

// CloseCursor closes the open cursor. It does nothing when there is none.
func (s *Session) CloseCursor() {
	s.curMu.Lock()
	defer s.curMu.Unlock()
	if s.cur == nil {
		return
	}
	if err := s.cur.rows.Close(); err != nil {
		s.logger.Warn("failed to close cursor", "error", err)
	}
	s.cur = nil
}

// ErrorMessage renders err for the boundary. A Snowflake error, wrapped
// or not, is reduced to its message; the error number and SQL state are
// logged instead.
func (s *Session) ErrorMessage(err error) string {
	var sfErr *gosnowflake.SnowflakeError
	if errors.As(err, &sfErr) {
		s.logger.Debug("snowflake error",
			slog.Int("number", sfErr.Number),
			slog.String("sqlstate", sfErr.SQLState),
			slog.String("query_id", sfErr.QueryID))
		if sfErr.Message != "" {
			return sfErr.Message
		}
	}
	return err.Error()
}
