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

// Package validation is a library-agnostic test suite for
// snowbridge.Library implementations. It drives a library through the
// client package and checks the behavior every implementation must
// share: connection handling, statement results, row order, error text
// and buffer ownership.
package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/snowbridge-dev/snowbridge"
	"github.com/snowbridge-dev/snowbridge/client"
	"github.com/stretchr/testify/suite"
)

type LibraryQuirks interface {
	// Called in SetupTest to create the library under test
	SetupLibrary(*testing.T) snowbridge.Library
	// Called in TearDownTest; checks that every buffer the library
	// handed out was freed
	TearDownLibrary(*testing.T, snowbridge.Library)
	// The connection string passed to client.Connect
	ConnString() string
	// Return a connection string the library fails to connect with
	FailConnect(snowbridge.Library) string
	// Return a statement the library rejects, and text the error
	// message contains
	FailQuery(snowbridge.Library) (query, message string)
	// Return the SQL to reference the bind parameter for a given index
	BindParameter(index int) string
	// Create a table with the columns NAME and AGE holding the rows
	// (Alice, 20) and (Bob, 30)
	CreateSampleTable(ctx context.Context, db *client.Database, tableName string) error
}

type LibraryTests struct {
	suite.Suite

	Quirks LibraryQuirks

	ctx context.Context
	mem *memory.CheckedAllocator
	Lib snowbridge.Library
	DB  *client.Database
}

func (l *LibraryTests) SetupTest() {
	l.ctx = context.Background()
	l.mem = memory.NewCheckedAllocator(memory.DefaultAllocator)
	l.Lib = l.Quirks.SetupLibrary(l.T())

	var err error
	l.DB, err = client.Connect(l.ctx, l.Lib, l.Quirks.ConnString(),
		client.WithAllocator(l.mem), client.WithoutInterruptHandling())
	l.Require().NoError(err)
}

func (l *LibraryTests) TearDownTest() {
	l.DB.Disconnect()
	l.Quirks.TearDownLibrary(l.T(), l.Lib)
	l.mem.AssertSize(l.T(), 0)
	l.DB, l.Lib = nil, nil
}

func (l *LibraryTests) sampleTable() string {
	const table = "SNOWBRIDGE_PEOPLE"
	l.Require().NoError(l.Quirks.CreateSampleTable(l.ctx, l.DB, table))
	return table
}

func (l *LibraryTests) TestPingDisconnect() {
	l.True(l.DB.Ping(l.ctx))
	l.NoError(l.DB.Err())

	l.DB.Disconnect()
	l.False(l.DB.Ping(l.ctx))
	l.ErrorIs(l.DB.Err(), snowbridge.ErrConnection)
}

func (l *LibraryTests) TestConnectFailure() {
	_, err := client.Connect(l.ctx, l.Lib, l.Quirks.FailConnect(l.Lib),
		client.WithAllocator(l.mem), client.WithoutInterruptHandling())
	l.ErrorIs(err, snowbridge.ErrConnection)

	var sbErr snowbridge.Error
	l.Require().ErrorAs(err, &sbErr)
	l.NotEmpty(sbErr.Msg)
}

func (l *LibraryTests) TestExecuteInsert() {
	table := l.sampleTable()
	res, err := l.DB.Execute(l.ctx, "INSERT INTO "+table+" (NAME, AGE) VALUES ("+
		l.Quirks.BindParameter(0)+", "+l.Quirks.BindParameter(1)+")", "Carol", 40)
	l.Require().NoError(err)
	l.EqualValues(1, res.RowsAffected)
}

func (l *LibraryTests) TestSelectRows() {
	table := l.sampleTable()

	var rows []client.Row
	err := l.DB.Select(l.ctx, "SELECT NAME, AGE FROM "+table+" ORDER BY AGE", func(cur *client.Cursor, row client.Row) error {
		l.Len(cur.Columns(), 2)
		rows = append(rows, row)
		return nil
	})
	l.Require().NoError(err)
	l.Equal([]client.Row{{"Alice", "20"}, {"Bob", "30"}}, rows)
}

func (l *LibraryTests) TestColumns() {
	table := l.sampleTable()

	var cols []client.Column
	l.Require().NoError(l.DB.Select(l.ctx, "SELECT NAME, AGE FROM "+table, func(cur *client.Cursor, _ client.Row) error {
		cols = cur.Columns()
		return nil
	}))
	l.Require().Len(cols, 2)
	l.Equal("NAME", cols[0].Name)
	l.Equal("AGE", cols[1].Name)
	for _, c := range cols {
		l.NotEmpty(c.Type.Raw)
		l.NotEmpty(c.Type.Name())
	}
}

func (l *LibraryTests) TestSelectHandlerError() {
	table := l.sampleTable()
	stop := errors.New("stop")

	calls := 0
	err := l.DB.Select(l.ctx, "SELECT NAME, AGE FROM "+table+" ORDER BY AGE", func(*client.Cursor, client.Row) error {
		calls++
		return stop
	})
	l.ErrorIs(err, stop)
	l.Equal(1, calls)

	// the cursor was closed, a new query starts from the first row
	for row, err := range l.DB.Rows(l.ctx, "SELECT NAME, AGE FROM "+table+" ORDER BY AGE") {
		l.Require().NoError(err)
		l.Equal("Alice", row[0])
		break
	}
}

func (l *LibraryTests) TestQueryError() {
	query, message := l.Quirks.FailQuery(l.Lib)

	_, err := l.DB.Execute(l.ctx, query)
	l.ErrorIs(err, snowbridge.ErrQuery)
	l.ErrorContains(err, message)

	err = l.DB.Select(l.ctx, query, func(*client.Cursor, client.Row) error { return nil })
	l.ErrorIs(err, snowbridge.ErrQuery)
	l.ErrorContains(err, message)

	// errors leave the connection usable
	l.True(l.DB.Ping(l.ctx))
}

func (l *LibraryTests) TestExecuteAsync() {
	table := l.sampleTable()
	id, err := l.DB.ExecuteAsync(l.ctx, "INSERT INTO "+table+" (NAME, AGE) VALUES ("+
		l.Quirks.BindParameter(0)+", "+l.Quirks.BindParameter(1)+")", "Dave", 50)
	l.Require().NoError(err)
	l.NotEmpty(id)
	l.Less(len(id), snowbridge.QueryIDLength)
}

func (l *LibraryTests) TestRecordReader() {
	table := l.sampleTable()

	rdr, err := l.DB.NewRecordReader(l.ctx, l.mem, "SELECT NAME, AGE FROM "+table+" ORDER BY AGE", 0)
	l.Require().NoError(err)
	defer rdr.Release()

	var names []string
	for rdr.Next() {
		col := rdr.Record().Column(0).(*array.String)
		for i := range col.Len() {
			names = append(names, col.Value(i))
		}
	}
	l.NoError(rdr.Err())
	l.Equal([]string{"Alice", "Bob"}, names)
}
