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

// Package interrupt turns process interrupts into cancellation requests
// for the single blocking call they are installed around.
//
//	guard := coord.Install(ctx, lib.CancelExecution)
//	defer guard.Remove()
//	lib.Execute(...)
//
// While the guard is installed the process does not die on SIGINT or
// SIGTERM; each delivered signal calls cancel once instead. Removing
// the guard unsubscribes, and once no other part of the program is
// subscribed to those signals their default disposition is back.
package interrupt

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/snowbridge-dev/snowbridge/internal/driverbase"
)

// DefaultSignals are the signals a Coordinator listens to unless told
// otherwise.
var DefaultSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// Coordinator installs per-call interrupt guards.
type Coordinator struct {
	logger  *slog.Logger
	signals []os.Signal

	notify func(c chan<- os.Signal, sig ...os.Signal)
	stop   func(c chan<- os.Signal)
}

// NewCoordinator returns a Coordinator for signals, or DefaultSignals
// when none are given. A nil logger discards handler failures.
func NewCoordinator(logger *slog.Logger, signals ...os.Signal) *Coordinator {
	if len(signals) == 0 {
		signals = DefaultSignals
	}
	return &Coordinator{
		logger:  driverbase.LoggerOrNil(logger),
		signals: signals,
		notify:  signal.Notify,
		stop:    signal.Stop,
	}
}

// Signals returns the signals the coordinator listens to.
func (c *Coordinator) Signals() []os.Signal { return c.signals }

// Install subscribes to the coordinator's signals and calls cancel once
// for every signal delivered until the returned Guard is removed. If
// ctx is done before that, cancel is called once more for it.
//
// cancel runs on a goroutine owned by the guard, concurrently with the
// call being protected. A panic in cancel is logged and swallowed.
func (c *Coordinator) Install(ctx context.Context, cancel func()) *Guard {
	g := &Guard{
		coord: c,
		ch:    make(chan os.Signal, signalBuffer),
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	c.notify(g.ch, c.signals...)

	g.wg.Add(2)
	go g.receive()
	go g.run(ctx.Done(), cancel)
	return g
}

// signal.Notify drops a signal when the channel is full, so the
// receiver keeps it drained while cancel runs.
const signalBuffer = 16

// Guard is one installed set of handlers.
type Guard struct {
	coord *Coordinator
	ch    chan os.Signal
	kick  chan struct{}
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	mu        sync.Mutex
	pending   []string
	delivered int
}

// receive moves delivered signals into pending without waiting for
// cancel.
func (g *Guard) receive() {
	defer g.wg.Done()
	for {
		select {
		case <-g.done:
			return
		case sig := <-g.ch:
			g.mu.Lock()
			g.pending = append(g.pending, sig.String())
			g.mu.Unlock()
			select {
			case g.kick <- struct{}{}:
			default:
			}
		}
	}
}

func (g *Guard) run(ctxDone <-chan struct{}, cancel func()) {
	defer g.wg.Done()
	for {
		select {
		case <-g.done:
			return
		case <-g.kick:
			g.mu.Lock()
			reasons := g.pending
			g.pending = nil
			g.mu.Unlock()
			for _, reason := range reasons {
				g.invoke(cancel, reason)
			}
		case <-ctxDone:
			// a done channel stays readable, only react to it once
			ctxDone = nil
			g.invoke(cancel, "context done")
		}
	}
}

func (g *Guard) invoke(cancel func(), reason string) {
	g.mu.Lock()
	g.delivered++
	g.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			g.coord.logger.Warn("interrupt handler failed",
				slog.String("reason", reason),
				slog.Any("error", r))
		}
	}()
	g.coord.logger.Debug("cancelling in-flight statement", slog.String("reason", reason))
	cancel()
}

// Delivered reports how many times cancel has been invoked.
func (g *Guard) Delivered() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.delivered
}

// Remove unsubscribes the guard and waits for its goroutine to exit,
// so cancel is never called after Remove returns. Calling it again is
// a no-op.
func (g *Guard) Remove() {
	g.once.Do(func() {
		g.coord.stop(g.ch)
		close(g.done)
		g.wg.Wait()
	})
}
