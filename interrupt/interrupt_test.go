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

package interrupt

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeSignals stands in for os/signal so tests can deliver signals
// without touching the process.
type fakeSignals struct {
	mu      sync.Mutex
	subs    map[chan<- os.Signal][]os.Signal
	stopped int
}

func newFakeSignals() *fakeSignals {
	return &fakeSignals{subs: make(map[chan<- os.Signal][]os.Signal)}
}

func (f *fakeSignals) notify(c chan<- os.Signal, sig ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[c] = sig
}

func (f *fakeSignals) stop(c chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, c)
	f.stopped++
}

func (f *fakeSignals) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSignals) deliver(sig os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c, sigs := range f.subs {
		for _, s := range sigs {
			if s == sig {
				// like signal.Notify, never block the sender
				select {
				case c <- sig:
				default:
				}
			}
		}
	}
}

func newTestCoordinator(f *fakeSignals, logger *slog.Logger) *Coordinator {
	c := NewCoordinator(logger)
	c.notify = f.notify
	c.stop = f.stop
	return c
}

func TestOneCancelPerSignal(t *testing.T) {
	f := newFakeSignals()
	c := newTestCoordinator(f, nil)

	var cancels atomic.Int32
	g := c.Install(context.Background(), func() { cancels.Add(1) })
	require.Equal(t, 1, f.subscribers())

	f.deliver(syscall.SIGINT)
	require.Eventually(t, func() bool { return cancels.Load() == 1 }, time.Second, time.Millisecond)
	f.deliver(syscall.SIGTERM)
	require.Eventually(t, func() bool { return cancels.Load() == 2 }, time.Second, time.Millisecond)

	g.Remove()
	assert.Equal(t, 0, f.subscribers())
	assert.Equal(t, 2, g.Delivered())
	assert.EqualValues(t, 2, cancels.Load())
}

func TestSignalBurstDuringSlowCancel(t *testing.T) {
	f := newFakeSignals()
	c := newTestCoordinator(f, nil)

	var cancels atomic.Int32
	g := c.Install(context.Background(), func() {
		cancels.Add(1)
		time.Sleep(100 * time.Millisecond)
	})

	f.deliver(syscall.SIGINT)
	require.Eventually(t, func() bool { return cancels.Load() == 1 }, time.Second, time.Millisecond)
	// the first cancel is still sleeping
	for range 5 {
		f.deliver(syscall.SIGTERM)
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return cancels.Load() == 6 }, 5*time.Second, time.Millisecond)

	g.Remove()
	assert.Equal(t, 6, g.Delivered())
	assert.EqualValues(t, 6, cancels.Load())
}

func TestRemoveIsIdempotent(t *testing.T) {
	f := newFakeSignals()
	c := newTestCoordinator(f, nil)

	g := c.Install(context.Background(), func() { t.Error("cancel must not be called") })
	g.Remove()
	g.Remove()
	assert.Equal(t, 1, f.stopped)
	assert.Zero(t, g.Delivered())
}

func TestContextDoneCancelsOnce(t *testing.T) {
	f := newFakeSignals()
	c := newTestCoordinator(f, nil)

	ctx, cancelCtx := context.WithCancel(context.Background())
	var cancels atomic.Int32
	g := c.Install(ctx, func() { cancels.Add(1) })
	defer g.Remove()

	cancelCtx()
	require.Eventually(t, func() bool { return cancels.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, cancels.Load())
}

type mockedHandler struct {
	mock.Mock
	slog.Handler
}

func (h *mockedHandler) Enabled(_ context.Context, level slog.Level) bool { return true }

func (h *mockedHandler) Handle(ctx context.Context, r slog.Record) error {
	h.Called(r.Level, r.Message)
	return nil
}

func TestPanickingHandlerIsReported(t *testing.T) {
	handler := &mockedHandler{}
	handler.On("Handle", slog.LevelDebug, "cancelling in-flight statement").Return()
	handler.On("Handle", slog.LevelWarn, "interrupt handler failed").Return()

	f := newFakeSignals()
	c := newTestCoordinator(f, slog.New(handler))

	var calls atomic.Int32
	g := c.Install(context.Background(), func() {
		calls.Add(1)
		panic("cancel exploded")
	})

	f.deliver(syscall.SIGINT)
	f.deliver(syscall.SIGINT)
	require.Eventually(t, func() bool { return g.Delivered() == 2 }, time.Second, time.Millisecond)
	g.Remove()

	assert.EqualValues(t, 2, calls.Load())
	handler.AssertNumberOfCalls(t, "Handle", 4)
	handler.AssertCalled(t, "Handle", slog.LevelWarn, "interrupt handler failed")
}

func TestDefaultSignals(t *testing.T) {
	c := NewCoordinator(nil)
	assert.Equal(t, []os.Signal{syscall.SIGINT, syscall.SIGTERM}, c.Signals())

	c = NewCoordinator(nil, syscall.SIGHUP)
	assert.Equal(t, []os.Signal{syscall.SIGHUP}, c.Signals())
}
