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

// Package client is the user-facing API over a snowbridge.Library:
// connect, execute, submit asynchronously and stream query results.
//
// A Database wraps the single connection a Library holds. It is meant
// for one logical caller at a time and does no locking of its own.
// Every operation pings the connection first and fails with
// snowbridge.ErrConnection if it is down, before any argument is
// encoded.
package client

import (
	"context"
	"log/slog"
	"os"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/bluele/gcache"
	"github.com/snowbridge-dev/snowbridge"
	"github.com/snowbridge-dev/snowbridge/interrupt"
	"github.com/snowbridge-dev/snowbridge/internal/driverbase"
	"github.com/snowbridge-dev/snowbridge/ledger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	driverName = "Snowbridge"

	defaultTypeCacheSize = 256

	msgNotConnected = "Not connected to database"
)

type options struct {
	mem            memory.Allocator
	logger         *slog.Logger
	signals        []os.Signal
	noInterrupts   bool
	typeCacheSize  int
	tracerProvider trace.TracerProvider
}

// Option configures a Database.
type Option func(*options)

// WithAllocator sets the allocator request buffers are taken from. It
// must hand out memory the Library can read: C memory (see
// mallocator) for a dynamically loaded library.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) { o.mem = mem }
}

// WithLogger sets the logger. Boundary calls are logged at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSignals replaces the signals that cancel a running Execute.
func WithSignals(sig ...os.Signal) Option {
	return func(o *options) { o.signals = sig }
}

// WithoutInterruptHandling leaves process signals alone during Execute.
func WithoutInterruptHandling() Option {
	return func(o *options) { o.noInterrupts = true }
}

// WithTypeCacheSize sets how many parsed column type descriptors are
// kept. Zero disables the cache.
func WithTypeCacheSize(n int) Option {
	return func(o *options) { o.typeCacheSize = n }
}

// WithTracerProvider traces operations with tp instead of the
// provider selected by OTEL_TRACES_EXPORTER.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// Database is a connection opened through a Library.
type Database struct {
	lib        snowbridge.Library
	mem        memory.Allocator
	logger     *slog.Logger
	tracing    *driverbase.Tracing
	interrupts *interrupt.Coordinator
	types      gcache.Cache

	closed bool
	err    error
}

// Connect opens the connection described by connStr. On failure the
// error has StatusConnection and carries the library's message as is.
func Connect(ctx context.Context, lib snowbridge.Library, connStr string, opts ...Option) (db *Database, err error) {
	o := options{typeCacheSize: defaultTypeCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mem == nil {
		o.mem = memory.DefaultAllocator
	}

	info := driverbase.DefaultDriverInfo(driverName)
	var tracing *driverbase.Tracing
	if o.tracerProvider != nil {
		tracing = driverbase.NilTracing(info)
		tracing.Tracer = o.tracerProvider.Tracer("snowbridge." + driverName)
	} else if tracing, err = driverbase.NewTracing(ctx, info); err != nil {
		return nil, err
	}

	db = &Database{
		lib:     lib,
		mem:     o.mem,
		logger:  driverbase.LoggerOrNil(o.logger),
		tracing: tracing,
	}
	if !o.noInterrupts {
		db.interrupts = interrupt.NewCoordinator(db.logger, o.signals...)
	}
	if o.typeCacheSize > 0 {
		db.types = gcache.New(o.typeCacheSize).LRU().
			LoaderFunc(func(key any) (any, error) {
				return ParseTypeInfo(key.(string)), nil
			}).Build()
	}

	ctx, span := db.StartSpan(ctx, "snowbridge.Connect")
	defer func() { endSpan(span, err) }()

	l := ledger.New(db.mem)
	defer l.Release()

	db.logger.DebugContext(ctx, "boundary call", "call", "InitConnection")
	if err = db.check(l, "Connection failed", lib.InitConnection(l.CString(connStr))); err != nil {
		_ = tracing.Close()
		return nil, asConnectionError(err)
	}
	return db, nil
}

// Ping reports whether the connection is alive. When it is not, the
// reason is kept and returned by Err until the next successful Ping.
func (db *Database) Ping(ctx context.Context) bool {
	if db.closed {
		db.err = snowbridge.Error{Code: snowbridge.StatusConnection, Msg: msgNotConnected}
		return false
	}

	l := ledger.New(db.mem)
	defer l.Release()

	db.logger.DebugContext(ctx, "boundary call", "call", "Ping")
	if err := db.check(l, "Ping failed", db.lib.Ping()); err != nil {
		db.err = asConnectionError(err)
		return false
	}
	db.err = nil
	return true
}

// Err returns why the last Ping failed, or nil if it succeeded.
func (db *Database) Err() error { return db.err }

// Disconnect closes the connection. Calling it again does nothing.
func (db *Database) Disconnect() {
	if db.closed {
		return
	}
	db.closed = true
	db.logger.Debug("boundary call", "call", "CloseConnection")
	db.lib.CloseConnection()
	db.err = snowbridge.Error{Code: snowbridge.StatusConnection, Msg: msgNotConnected}
	if db.types != nil {
		db.types.Purge()
	}
	if err := db.tracing.Close(); err != nil {
		db.logger.Warn("failed to shut down tracing", "error", err)
	}
}

// Connected reports whether Disconnect has not been called yet. It does
// not contact the remote service; use Ping for that.
func (db *Database) Connected() bool { return !db.closed }

func (db *Database) ensureConnected(ctx context.Context) error {
	if !db.Ping(ctx) {
		return db.err
	}
	return nil
}

// check turns the error text returned by a boundary call into an error,
// handing the text to l so it is freed with the rest of the request.
func (db *Database) check(l *ledger.Ledger, op string, errText []byte) error {
	if len(errText) == 0 {
		return nil
	}
	l.Adopt(errText, db.lib.Free)
	msg := snowbridge.GoString(errText)
	if msg == "" {
		return nil
	}
	return snowbridge.Error{Code: snowbridge.StatusQuery, Context: op, Msg: msg}
}

func asConnectionError(err error) error {
	if e, ok := err.(snowbridge.Error); ok {
		e.Code = snowbridge.StatusConnection
		return e
	}
	return err
}

func (db *Database) SetLogger(logger *slog.Logger) {
	db.logger = driverbase.LoggerOrNil(logger)
}

func (db *Database) GetTraceParent() string {
	return db.tracing.GetTraceParent()
}

func (db *Database) SetTraceParent(traceParent string) {
	db.tracing.SetTraceParent(traceParent)
}

func (db *Database) StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return db.tracing.StartSpan(ctx, spanName, opts...)
}

func (db *Database) GetInitialSpanAttributes() []attribute.KeyValue {
	return db.tracing.GetInitialSpanAttributes()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

var (
	_ snowbridge.DatabaseLogging = (*Database)(nil)
	_ snowbridge.OTelTracing     = (*Database)(nil)
)
