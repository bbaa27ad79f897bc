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

//go:build unix

package client_test

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/snowbridge-dev/snowbridge"
	"github.com/snowbridge-dev/snowbridge/client"
	"github.com/snowbridge-dev/snowbridge/driver/dummy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCancelledBySignal(t *testing.T) {
	lib := dummy.New(nil)
	lib.BlockExecute = true
	db, err := client.Connect(context.Background(), lib, "acct", client.WithSignals(syscall.SIGUSR2))
	require.NoError(t, err)
	defer db.Disconnect()

	// keeps SIGUSR2 from killing the test binary once the guard is gone
	sink := make(chan os.Signal, 4)
	signal.Notify(sink, syscall.SIGUSR2)
	defer signal.Stop(sink)

	done := make(chan error, 1)
	go func() {
		_, err := db.Execute(context.Background(), "CALL SYSTEM$WAIT(60)")
		done <- err
	}()

	select {
	case <-lib.ExecuteStarted:
	case <-time.After(10 * time.Second):
		t.Fatal("Execute never started")
	}
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR2))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, snowbridge.ErrQuery)
		assert.ErrorContains(t, err, "query cancelled")
	case <-time.After(10 * time.Second):
		t.Fatal("Execute was not cancelled")
	}
	assert.Equal(t, 1, lib.Calls("CancelExecution"))

	// the guard is gone: a later signal reaches nobody but the sink
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR2))
	select {
	case <-sink:
	case <-time.After(10 * time.Second):
	}
	assert.Equal(t, 1, lib.Calls("CancelExecution"))
}
