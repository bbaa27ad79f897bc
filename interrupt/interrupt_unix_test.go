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

package interrupt_test

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/snowbridge-dev/snowbridge/interrupt"
	"github.com/stretchr/testify/require"
)

func TestRealSignalDelivery(t *testing.T) {
	// SIGUSR1 keeps the test away from the runner's own SIGINT handling
	c := interrupt.NewCoordinator(nil, syscall.SIGUSR1)

	var cancels atomic.Int32
	g := c.Install(context.Background(), func() { cancels.Add(1) })

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	require.Eventually(t, func() bool { return cancels.Load() == 1 }, 5*time.Second, time.Millisecond)

	g.Remove()
	g.Remove()
	require.EqualValues(t, 1, cancels.Load())
}

func TestRealSignalBurst(t *testing.T) {
	c := interrupt.NewCoordinator(nil, syscall.SIGUSR1)

	var cancels atomic.Int32
	g := c.Install(context.Background(), func() {
		cancels.Add(1)
		time.Sleep(300 * time.Millisecond)
	})
	defer g.Remove()

	for range 3 {
		require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
		time.Sleep(20 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return cancels.Load() == 3 }, 5*time.Second, 5*time.Millisecond)
	g.Remove()
	require.Equal(t, 3, g.Delivered())
}
