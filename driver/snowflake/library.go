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

package snowflake

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/snowbridge-dev/snowbridge"
)

// Library serves the snowbridge.Library calls from a Session in the
// same process. Everything it returns is allocated from its allocator
// and must be handed back through Free.
type Library struct {
	sess *Session
	mem  memory.Allocator
}

// NewLibrary returns a Library over sess. A nil allocator means
// memory.DefaultAllocator.
func NewLibrary(sess *Session, mem memory.Allocator) *Library {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Library{sess: sess, mem: mem}
}

// Session returns the session the library serves.
func (l *Library) Session() *Session { return l.sess }

func (l *Library) text(s string) []byte {
	buf := l.mem.Allocate(len(s) + 1)
	snowbridge.CopyCString(buf, s)
	return buf
}

func (l *Library) errText(err error) []byte {
	if err == nil {
		return nil
	}
	return l.text(l.sess.ErrorMessage(err))
}

func (l *Library) texts(values []string) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = l.text(v)
	}
	return out
}

func (l *Library) InitConnection(connStr []byte) []byte {
	if len(connStr) == 0 {
		return l.text("connection string cannot be nil")
	}
	return l.errText(l.sess.Init(context.Background(), snowbridge.GoString(connStr)))
}

func (l *Library) Ping() []byte {
	return l.errText(l.sess.Ping(context.Background()))
}

func (l *Library) CloseConnection() {
	if err := l.sess.Close(); err != nil {
		l.sess.logger.Warn("failed to close connection", "error", err)
	}
}

func (l *Library) Execute(query []byte, args *snowbridge.Batch, lastID, rowsAffected []byte) []byte {
	goArgs, err := snowbridge.DecodeArgs(args)
	if err != nil {
		return l.errText(err)
	}
	id, n, err := l.sess.Execute(context.Background(), snowbridge.GoString(query), goArgs)
	if err != nil {
		return l.errText(err)
	}
	binary.NativeEndian.PutUint32(lastID, uint32(int32(id)))
	binary.NativeEndian.PutUint32(rowsAffected, uint32(int32(n)))
	return nil
}

func (l *Library) AsyncExecute(query []byte, args *snowbridge.Batch, queryID []byte) []byte {
	if len(query) == 0 {
		return l.text("query cannot be nil")
	}
	goArgs, err := snowbridge.DecodeArgs(args)
	if err != nil {
		return l.errText(err)
	}
	id, err := l.sess.ExecuteAsync(context.Background(), snowbridge.GoString(query), goArgs)
	if err != nil {
		return l.errText(err)
	}
	if len(id) >= len(queryID) {
		return l.text(fmt.Sprintf("query id %q does not fit in %d bytes", id, len(queryID)))
	}
	snowbridge.CopyCString(queryID, id)
	return nil
}

func (l *Library) CancelExecution() { l.sess.Cancel() }

func (l *Library) Fetch(query []byte, args *snowbridge.Batch, numCols []byte, names, types *[][]byte) []byte {
	goArgs, err := snowbridge.DecodeArgs(args)
	if err != nil {
		return l.errText(err)
	}
	cols, err := l.sess.Fetch(context.Background(), snowbridge.GoString(query), goArgs)
	if err != nil {
		return l.errText(err)
	}

	colNames := make([]string, len(cols))
	colTypes := make([]string, len(cols))
	for i, c := range cols {
		colNames[i], colTypes[i] = c.Name, c.Type
	}
	*names = l.texts(colNames)
	*types = l.texts(colTypes)
	binary.NativeEndian.PutUint32(numCols, uint32(len(cols)))
	return nil
}

func (l *Library) FetchNextRow(isOver []byte, values *[][]byte, numCols int32) []byte {
	row, err := l.sess.FetchNextRow()
	if err != nil {
		return l.errText(err)
	}
	if row == nil {
		isOver[0] = 1
		return nil
	}
	isOver[0] = 0
	if len(row) != int(numCols) {
		return l.text(fmt.Sprintf("expected %d columns, row has %d", numCols, len(row)))
	}
	*values = l.texts(row)
	return nil
}

func (l *Library) CloseCursor() { l.sess.CloseCursor() }

func (l *Library) Free(buf []byte) {
	if len(buf) > 0 {
		l.mem.Free(buf)
	}
}

var _ snowbridge.Library = (*Library)(nil)
