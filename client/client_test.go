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

package client_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/snowbridge-dev/snowbridge"
	"github.com/snowbridge-dev/snowbridge/client"
	"github.com/snowbridge-dev/snowbridge/driver/dummy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type ClientTests struct {
	suite.Suite

	ctx     context.Context
	mem     *memory.CheckedAllocator
	libMem  *memory.CheckedAllocator
	lib     *dummy.Library
	spans   *tracetest.SpanRecorder
	db      *client.Database
	connStr string
}

func (s *ClientTests) SetupTest() {
	s.ctx = context.Background()
	s.mem = memory.NewCheckedAllocator(memory.NewGoAllocator())
	s.libMem = memory.NewCheckedAllocator(memory.NewGoAllocator())
	s.lib = dummy.New(s.libMem)
	s.spans = tracetest.NewSpanRecorder()
	s.connStr = "user:pass@account/db/schema?warehouse=wh"
}

func (s *ClientTests) connect(opts ...client.Option) *client.Database {
	opts = append([]client.Option{
		client.WithAllocator(s.mem),
		client.WithTracerProvider(trace.NewTracerProvider(trace.WithSpanProcessor(s.spans))),
	}, opts...)
	db, err := client.Connect(s.ctx, s.lib, s.connStr, opts...)
	s.Require().NoError(err)
	s.db = db
	return db
}

func (s *ClientTests) TearDownTest() {
	if s.db != nil {
		s.db.Disconnect()
		s.db = nil
	}
	s.mem.AssertSize(s.T(), 0)
	s.libMem.AssertSize(s.T(), 0)
	s.Zero(s.lib.Outstanding(), "library buffers left unfreed")
	s.Empty(s.lib.Problems())
}

func (s *ClientTests) TestConnectPingDisconnect() {
	db := s.connect()
	s.Equal(s.connStr, s.lib.ConnString())
	s.True(db.Connected())
	s.True(db.Ping(s.ctx))
	s.NoError(db.Err())

	db.Disconnect()
	s.False(db.Connected())
	s.False(db.Ping(s.ctx))
	s.ErrorIs(db.Err(), snowbridge.ErrConnection)
	s.Equal(1, s.lib.Calls("Ping"), "a closed database must not call the library")

	db.Disconnect()
	s.Equal(1, s.lib.Calls("CloseConnection"))
}

func (s *ClientTests) TestConnectFailure() {
	s.lib.ConnectError = "260008: failed to connect to db. verify account name is correct"
	_, err := client.Connect(s.ctx, s.lib, "bad", client.WithAllocator(s.mem))
	s.Require().Error(err)

	var sbErr snowbridge.Error
	s.Require().ErrorAs(err, &sbErr)
	s.Equal(snowbridge.StatusConnection, sbErr.Code)
	s.Equal("Connection failed", sbErr.Context)
	s.Equal(s.lib.ConnectError, sbErr.Msg)
}

func (s *ClientTests) TestPingFailure() {
	db := s.connect()
	s.lib.PingError = "390114: authentication token has expired"
	s.False(db.Ping(s.ctx))
	s.ErrorIs(db.Err(), snowbridge.ErrConnection)
	s.ErrorContains(db.Err(), s.lib.PingError)

	s.lib.PingError = ""
	s.True(db.Ping(s.ctx))
	s.NoError(db.Err())
}

func (s *ClientTests) TestExecute() {
	db := s.connect()
	s.lib.ExecResult = snowbridge.ExecResult{LastInsertID: 2, RowsAffected: 1}

	res, err := db.Execute(s.ctx, "INSERT INTO T (NAME, AGE) VALUES (?, ?)", "Bob", 30)
	s.Require().NoError(err)
	s.Equal(snowbridge.ExecResult{LastInsertID: 2, RowsAffected: 1}, res)
	s.Equal("INSERT INTO T (NAME, AGE) VALUES (?, ?)", s.lib.LastQuery())
	s.Equal([]any{"Bob", int64(30)}, s.lib.LastArgs())
}

func (s *ClientTests) TestExecuteNegativeResult() {
	db := s.connect()
	s.lib.ExecResult = snowbridge.ExecResult{LastInsertID: -1, RowsAffected: 0}

	res, err := db.Execute(s.ctx, "TRUNCATE TABLE T")
	s.Require().NoError(err)
	s.EqualValues(-1, res.LastInsertID)
	s.Nil(s.lib.LastArgs())
}

func (s *ClientTests) TestErrorTextIsKept() {
	db := s.connect()
	s.lib.ExecError = "syntax error"
	s.lib.AsyncError = "syntax error"
	s.lib.FetchError = "syntax error"

	_, err := db.Execute(s.ctx, "SELEC 1")
	s.ErrorIs(err, snowbridge.ErrQuery)
	s.ErrorContains(err, "syntax error")

	_, err = db.ExecuteAsync(s.ctx, "SELEC 1")
	s.ErrorIs(err, snowbridge.ErrQuery)
	s.ErrorContains(err, "syntax error")

	err = db.Select(s.ctx, "SELEC 1", func(*client.Cursor, client.Row) error { return nil })
	s.ErrorIs(err, snowbridge.ErrQuery)
	s.ErrorContains(err, "syntax error")
	s.False(s.lib.CursorOpen())
	s.Equal(1, s.lib.Calls("CloseCursor"))

	var sbErr snowbridge.Error
	s.Require().ErrorAs(err, &sbErr)
	s.Equal("syntax error", sbErr.Msg)
	s.Equal("Fetch failed", sbErr.Context)
}

func (s *ClientTests) TestExecuteAsync() {
	db := s.connect()
	s.lib.QueryID = "01b7a2c4-0000-4d3e-0000-5c1d00021f2a"

	id, err := db.ExecuteAsync(s.ctx, "CALL LONG_RUNNING(?)", 5)
	s.Require().NoError(err)
	s.Equal(s.lib.QueryID, id)
	s.Len(id, 36)
	s.Zero(s.lib.Calls("CancelExecution"))
}

func (s *ClientTests) TestNotConnectedBeforeEncoding() {
	db := s.connect()
	db.Disconnect()

	_, err := db.Execute(s.ctx, "SELECT ?", struct{}{})
	s.ErrorIs(err, snowbridge.ErrConnection)
	_, err = db.ExecuteAsync(s.ctx, "SELECT ?", struct{}{})
	s.ErrorIs(err, snowbridge.ErrConnection)
	err = db.Select(s.ctx, "SELECT ?", func(*client.Cursor, client.Row) error { return nil }, struct{}{})
	s.ErrorIs(err, snowbridge.ErrConnection)
	s.Zero(s.lib.Calls("Execute") + s.lib.Calls("AsyncExecute") + s.lib.Calls("Fetch"))
}

func (s *ClientTests) TestInvalidArgument() {
	db := s.connect()
	_, err := db.Execute(s.ctx, "SELECT ?", map[string]int{})
	s.ErrorIs(err, snowbridge.ErrInvalidArgument)
	s.Zero(s.lib.Calls("Execute"))

	err = db.Select(s.ctx, "SELECT 1", nil)
	s.ErrorIs(err, snowbridge.ErrInvalidArgument)
	s.Zero(s.lib.Calls("Fetch"))
}

func (s *ClientTests) scriptTable() {
	s.lib.Columns = []string{"NAME", "AGE"}
	s.lib.Types = []string{
		`{"TypeName":"TEXT","Length":16777216,"Nullable":true}`,
		"NUMBER(38,0)",
	}
	s.lib.Rows = [][]string{{"Alice", "20"}, {"Bob", "30"}}
}

func (s *ClientTests) TestSelect() {
	db := s.connect()
	s.scriptTable()

	var rows []client.Row
	var cols []client.Column
	err := db.Select(s.ctx, "SELECT * FROM T", func(cur *client.Cursor, row client.Row) error {
		cols = cur.Columns()
		s.Equal(client.CursorStreaming, cur.State())
		rows = append(rows, row)
		return nil
	})
	s.Require().NoError(err)
	s.Equal([]client.Row{{"Alice", "20"}, {"Bob", "30"}}, rows)
	s.Equal(1, s.lib.Calls("CloseCursor"))
	s.False(s.lib.CursorOpen())

	s.Require().Len(cols, 2)
	s.Equal("NAME", cols[0].Name)
	s.Require().NotNil(cols[0].Type.Parsed)
	s.Equal("TEXT", cols[0].Type.Name())
	s.EqualValues(16777216, cols[0].Type.Parsed.Length)
	s.Nil(cols[1].Type.Parsed)
	s.Equal("NUMBER(38,0)", cols[1].Type.Name())
}

func (s *ClientTests) TestSelectEmpty() {
	db := s.connect()
	s.lib.Columns = []string{"X"}
	s.lib.Types = []string{"NUMBER"}

	calls := 0
	s.NoError(db.Select(s.ctx, "SELECT X FROM EMPTY", func(*client.Cursor, client.Row) error {
		calls++
		return nil
	}))
	s.Zero(calls)
	s.Equal(1, s.lib.Calls("CloseCursor"))
}

func (s *ClientTests) TestSelectHandlerError() {
	db := s.connect()
	s.scriptTable()

	stop := errors.New("stop")
	calls := 0
	err := db.Select(s.ctx, "SELECT * FROM T", func(*client.Cursor, client.Row) error {
		calls++
		return stop
	})
	s.ErrorIs(err, stop)
	s.Equal(1, calls)
	s.Equal(1, s.lib.Calls("CloseCursor"))
}

func (s *ClientTests) TestSelectHandlerPanic() {
	db := s.connect()
	s.scriptTable()

	s.PanicsWithValue("boom", func() {
		_ = db.Select(s.ctx, "SELECT * FROM T", func(*client.Cursor, client.Row) error {
			panic("boom")
		})
	})
	s.Equal(1, s.lib.Calls("CloseCursor"))
	s.False(s.lib.CursorOpen())
}

func (s *ClientTests) TestSelectRowError() {
	db := s.connect()
	s.scriptTable()
	s.lib.RowError = "000604: SQL execution canceled"
	s.lib.RowErrorAt = 1

	var rows []client.Row
	err := db.Select(s.ctx, "SELECT * FROM T", func(_ *client.Cursor, row client.Row) error {
		rows = append(rows, row)
		return nil
	})
	s.ErrorIs(err, snowbridge.ErrQuery)
	s.ErrorContains(err, s.lib.RowError)
	s.Len(rows, 1)
	s.Equal(1, s.lib.Calls("CloseCursor"))
}

func (s *ClientTests) TestSelectMismatchedColumns() {
	db := s.connect()
	s.lib.Columns = []string{"A", "B"}
	s.lib.Types = []string{"TEXT"}

	err := db.Select(s.ctx, "SELECT A, B FROM T", func(*client.Cursor, client.Row) error { return nil })
	s.ErrorIs(err, snowbridge.ErrQuery)
	s.ErrorContains(err, "reported 2 columns")
	s.Equal(1, s.lib.Calls("CloseCursor"))
}

func (s *ClientTests) TestSelectCancelledContext() {
	db := s.connect()
	s.scriptTable()

	ctx, cancel := context.WithCancel(s.ctx)
	err := db.Select(ctx, "SELECT * FROM T", func(*client.Cursor, client.Row) error {
		cancel()
		return nil
	})
	var sbErr snowbridge.Error
	s.Require().ErrorAs(err, &sbErr)
	s.Equal(snowbridge.StatusCancelled, sbErr.Code)
	s.Equal(1, s.lib.Calls("FetchNextRow"))
	s.Equal(1, s.lib.Calls("CloseCursor"))
}

func (s *ClientTests) TestRows() {
	db := s.connect()
	s.scriptTable()

	var names []string
	for row, err := range db.Rows(s.ctx, "SELECT * FROM T") {
		s.Require().NoError(err)
		names = append(names, row[0])
	}
	s.Equal([]string{"Alice", "Bob"}, names)

	for row, err := range db.Rows(s.ctx, "SELECT * FROM T") {
		s.Require().NoError(err)
		s.Equal("Alice", row[0])
		break
	}
	s.Equal(2, s.lib.Calls("CloseCursor"))

	s.lib.FetchError = "002003: object does not exist"
	var errs []error
	for _, err := range db.Rows(s.ctx, "SELECT * FROM MISSING") {
		errs = append(errs, err)
	}
	s.Require().Len(errs, 1)
	s.ErrorIs(errs[0], snowbridge.ErrQuery)
}

func (s *ClientTests) TestRecordReader() {
	db := s.connect()
	s.scriptTable()
	s.lib.Rows = append(s.lib.Rows, []string{"Carol", "NULL"})

	rdr, err := db.NewRecordReader(s.ctx, s.mem, "SELECT * FROM T", 2)
	s.Require().NoError(err)
	defer rdr.Release()

	schema := rdr.Schema()
	s.Equal(2, schema.NumFields())
	typ, ok := schema.Field(0).Metadata.GetValue(client.MetadataKeyDatabaseType)
	s.True(ok)
	s.Equal("TEXT", typ)

	var names, ages []string
	batches := 0
	for rdr.Next() {
		batches++
		rec := rdr.Record()
		for i := range int(rec.NumRows()) {
			names = append(names, rec.Column(0).(*array.String).Value(i))
			ages = append(ages, rec.Column(1).(*array.String).Value(i))
		}
	}
	s.NoError(rdr.Err())
	s.Equal(2, batches)
	s.Equal([]string{"Alice", "Bob", "Carol"}, names)
	s.Equal([]string{"20", "30", "NULL"}, ages)
	s.Equal(1, s.lib.Calls("CloseCursor"))
}

func (s *ClientTests) TestRecordReaderReleasedEarly() {
	db := s.connect()
	s.scriptTable()

	rdr, err := db.NewRecordReader(s.ctx, s.mem, "SELECT * FROM T", 1)
	s.Require().NoError(err)
	s.True(rdr.Next())
	rdr.Release()
	s.Equal(1, s.lib.Calls("CloseCursor"))
	s.False(s.lib.CursorOpen())
}

func (s *ClientTests) TestSpans() {
	db := s.connect()
	s.lib.ExecError = "syntax error"
	_, _ = db.Execute(s.ctx, "SELEC 1")

	var names []string
	for _, span := range s.spans.Ended() {
		names = append(names, span.Name())
	}
	s.Equal([]string{"snowbridge.Connect", "snowbridge.Execute"}, names)
	s.Equal("Error", s.spans.Ended()[1].Status().Code.String())
}

func TestClient(t *testing.T) {
	suite.Run(t, new(ClientTests))
}

func TestExecuteCancelledByContext(t *testing.T) {
	lib := dummy.New(nil)
	lib.BlockExecute = true
	db, err := client.Connect(context.Background(), lib, "acct")
	require.NoError(t, err)
	defer db.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-lib.ExecuteStarted
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := db.Execute(ctx, "CALL SYSTEM$WAIT(60)")
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, snowbridge.ErrQuery)
		assert.ErrorContains(t, err, "query cancelled")
	case <-time.After(10 * time.Second):
		t.Fatal("Execute was not cancelled")
	}
	assert.Equal(t, 1, lib.Calls("CancelExecution"))
	assert.Zero(t, lib.Outstanding())
}

func TestExecuteAlreadyCancelled(t *testing.T) {
	lib := dummy.New(nil)
	db, err := client.Connect(context.Background(), lib, "acct")
	require.NoError(t, err)
	defer db.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = db.Execute(ctx, "SELECT 1")
	var sbErr snowbridge.Error
	require.ErrorAs(t, err, &sbErr)
	assert.Equal(t, snowbridge.StatusCancelled, sbErr.Code)
	assert.Zero(t, lib.Calls("Execute"))
}

func TestParseTypeInfo(t *testing.T) {
	tests := []struct {
		raw      string
		name     string
		parsed   bool
		nullable bool
	}{
		{`{"TypeName":"NUMBER","Precision":38,"Scale":2,"Nullable":false}`, "NUMBER", true, false},
		{`{"TypeName":"TEXT","Nullable":true}`, "TEXT", true, true},
		{"VARCHAR", "VARCHAR", false, false},
		{"null", "null", false, false},
		{`{"TypeName":`, `{"TypeName":`, false, false},
		{"", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			info := client.ParseTypeInfo(tt.raw)
			assert.Equal(t, tt.raw, info.Raw)
			assert.Equal(t, tt.name, info.Name())
			if !tt.parsed {
				assert.Nil(t, info.Parsed)
				return
			}
			require.NotNil(t, info.Parsed)
			assert.Equal(t, tt.nullable, info.Parsed.Nullable)
		})
	}
}
