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

package sqldriver_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/snowbridge-dev/snowbridge"
	"github.com/snowbridge-dev/snowbridge/client"
	"github.com/snowbridge-dev/snowbridge/driver/dummy"
	"github.com/snowbridge-dev/snowbridge/driver/snowflake"
	"github.com/snowbridge-dev/snowbridge/sqldriver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestDummyLibrary(t *testing.T) {
	lib := dummy.New(nil)
	lib.Columns = []string{"NAME", "AGE"}
	lib.Types = []string{
		`{"TypeName":"TEXT","Length":16777216,"Nullable":true}`,
		`{"TypeName":"NUMBER","Precision":38,"Scale":0,"Nullable":false}`,
	}
	lib.Rows = [][]string{{"Alice", "20"}, {"Bob", "30"}}
	lib.ExecResult = snowbridge.ExecResult{LastInsertID: 2, RowsAffected: 1}

	db, err := sqldriver.OpenDB(sqldriver.Driver{
		Library: lib,
		Options: []client.Option{client.WithoutInterruptHandling()},
	}, "uri=account;batch_size=1")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.PingContext(ctx))
	assert.Equal(t, "account", lib.ConnString())

	res, err := db.ExecContext(ctx, "INSERT INTO T VALUES (?, ?)", "Bob", 30)
	require.NoError(t, err)
	id, _ := res.LastInsertId()
	n, _ := res.RowsAffected()
	assert.EqualValues(t, 2, id)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []any{"Bob", int64(30)}, lib.LastArgs())

	rows, err := db.QueryContext(ctx, "SELECT NAME, AGE FROM T")
	require.NoError(t, err)

	cols, err := rows.ColumnTypes()
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "TEXT", cols[0].DatabaseTypeName())
	length, ok := cols[0].Length()
	assert.True(t, ok)
	assert.EqualValues(t, 16777216, length)
	nullable, ok := cols[1].Nullable()
	assert.True(t, ok)
	assert.False(t, nullable)
	precision, scale, ok := cols[1].DecimalSize()
	assert.True(t, ok)
	assert.EqualValues(t, 38, precision)
	assert.EqualValues(t, 0, scale)

	var got [][2]string
	for rows.Next() {
		var name, age string
		require.NoError(t, rows.Scan(&name, &age))
		got = append(got, [2]string{name, age})
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, [][2]string{{"Alice", "20"}, {"Bob", "30"}}, got)
	assert.False(t, lib.CursorOpen())

	_, err = db.BeginTx(ctx, nil)
	assert.Error(t, err)

	require.NoError(t, db.Close())
	assert.Equal(t, 1, lib.Calls("CloseConnection"))
	assert.Zero(t, lib.Outstanding())
}

func TestQueryError(t *testing.T) {
	lib := dummy.New(nil)
	lib.FetchError = "002003: SQL compilation error: Object 'T' does not exist"
	db, err := sqldriver.OpenDB(sqldriver.Driver{Library: lib}, "uri=account")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Query("SELECT * FROM T")
	assert.ErrorIs(t, err, snowbridge.ErrQuery)
	assert.ErrorContains(t, err, "does not exist")
}

func TestSQLiteSession(t *testing.T) {
	lib := snowflake.NewLibrary(snowflake.NewSession(snowflake.WithSQLDriver("sqlite")), nil)
	db, err := sqldriver.OpenDB(sqldriver.Driver{
		Library: lib,
		Options: []client.Option{client.WithoutInterruptHandling()},
	}, "uri="+filepath.Join(t.TempDir(), "sqldriver.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE T (NAME TEXT, AGE INTEGER)")
	require.NoError(t, err)
	stmt, err := db.Prepare("INSERT INTO T VALUES (?, ?)")
	require.NoError(t, err)
	for _, p := range []struct {
		name string
		age  int
	}{{"Alice", 20}, {"Bob", 30}} {
		_, err := stmt.Exec(p.name, p.age)
		require.NoError(t, err)
	}
	require.NoError(t, stmt.Close())
	_, err = db.Exec("INSERT INTO T VALUES ('Carol', NULL)")
	require.NoError(t, err)

	var total string
	require.NoError(t, db.QueryRow("SELECT SUM(AGE) FROM T").Scan(&total))
	assert.Equal(t, "50", total)

	var age sql.NullString
	require.NoError(t, db.QueryRow("SELECT AGE FROM T WHERE NAME = ?", "Carol").Scan(&age))
	assert.Equal(t, sql.NullString{String: snowflake.NullValue, Valid: true}, age)
}
