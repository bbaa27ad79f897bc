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

package driverbase

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/snowbridge-dev/snowbridge"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	driverNamespace = "snowbridge"

	// EnvTracesExporter selects the span exporter, see
	// snowbridge.TelemetryExporter for the accepted values.
	EnvTracesExporter = "OTEL_TRACES_EXPORTER"
)

// exporterFactory builds the span exporters for one
// OTEL_TRACES_EXPORTER value. A nil factory means tracing is off.
type exporterFactory func(ctx context.Context, prefix string) ([]sdktrace.SpanExporter, error)

var exporterFactories = map[snowbridge.TelemetryExporter]exporterFactory{
	snowbridge.TelemetryExporterNone:    nil,
	snowbridge.TelemetryExporterConsole: consoleExporters,
	snowbridge.TelemetryExporterOtlp:    otlpExporters,
	snowbridge.TelemetryExporterFile:    fileExporters,
}

// Tracing owns the tracer of one connection and the provider behind
// it, if one had to be created.
type Tracing struct {
	Tracer trace.Tracer

	info        *DriverInfo
	errs        ErrorHelper
	shutdown    func(context.Context) error
	traceParent string
}

// NewTracing configures tracing from OTEL_TRACES_EXPORTER. When it is
// unset, spans go to the global tracer provider.
func NewTracing(ctx context.Context, info *DriverInfo) (*Tracing, error) {
	return NewTracingWithExporter(ctx, info, os.Getenv(EnvTracesExporter))
}

// NewTracingWithExporter is NewTracing with an explicit exporter name.
func NewTracingWithExporter(ctx context.Context, info *DriverInfo, exporterName string) (*Tracing, error) {
	t := NilTracing(info)
	tracerName := driverNamespace + "." + info.GetName()
	if exporterName == "" {
		t.Tracer = otel.Tracer(tracerName)
		return t, nil
	}

	factory, ok := exporterFactories[snowbridge.TelemetryExporter(exporterName)]
	if !ok {
		return nil, t.errs.Errorf(snowbridge.StatusInvalidArgument, "Unknown %s option '%s'", EnvTracesExporter, exporterName)
	}
	if factory == nil {
		return t, nil
	}

	exporters, err := factory(ctx, strings.ToLower(tracerName))
	if err != nil {
		return nil, err
	}
	if len(exporters) == 0 {
		return nil, t.errs.Errorf(snowbridge.StatusInvalidState, "No trace exporters added '%s'", exporterName)
	}
	provider, err := newTracerProvider(exporters)
	if err != nil {
		return nil, err
	}
	t.shutdown = provider.Shutdown
	t.Tracer = provider.Tracer(tracerName,
		trace.WithInstrumentationVersion(info.GetDriverVersion()),
		trace.WithSchemaURL(semconv.SchemaURL))
	return t, nil
}

// NilTracing returns tracing that records nothing.
func NilTracing(info *DriverInfo) *Tracing {
	return &Tracing{
		Tracer: noop.NewTracerProvider().Tracer(""),
		info:   info,
		errs:   ErrorHelper{DriverName: info.GetName()},
	}
}

// Close flushes and shuts down the tracer provider, if one was created.
// It is safe to call more than once.
func (t *Tracing) Close() error {
	if t.shutdown == nil {
		return nil
	}
	shutdown := t.shutdown
	t.shutdown = nil
	return shutdown(context.Background())
}

func (t *Tracing) GetInitialSpanAttributes() []attribute.KeyValue {
	return t.info.SpanAttributes()
}

func (t *Tracing) GetTraceParent() string { return t.traceParent }

func (t *Tracing) SetTraceParent(traceParent string) { t.traceParent = traceParent }

// StartSpan starts a span under the span ctx carries or, failing that,
// under the W3C trace parent set with SetTraceParent.
func (t *Tracing) StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t.traceParent != "" && !trace.SpanContextFromContext(ctx).IsValid() {
		ctx = propagation.TraceContext{}.Extract(ctx, propagation.MapCarrier{"traceparent": t.traceParent})
	}
	opts = append(opts, trace.WithAttributes(t.GetInitialSpanAttributes()...))
	return t.Tracer.Start(ctx, spanName, opts...)
}

func consoleExporters(context.Context, string) ([]sdktrace.SpanExporter, error) {
	exp, err := stdouttrace.New()
	if err != nil {
		return nil, err
	}
	return []sdktrace.SpanExporter{exp}, nil
}

// otlpExporters sends spans over both gRPC and HTTP. Endpoints and
// headers come from the standard OTEL_EXPORTER_OTLP_* variables.
func otlpExporters(ctx context.Context, _ string) ([]sdktrace.SpanExporter, error) {
	const (
		initialInterval = 5 * time.Second
		maxInterval     = 30 * time.Second
	)
	grpcExp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
		Enabled: true, InitialInterval: initialInterval, MaxInterval: maxInterval,
	}))
	if err != nil {
		return nil, err
	}
	httpExp, err := otlptracehttp.New(ctx, otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
		Enabled: true, InitialInterval: initialInterval, MaxInterval: maxInterval,
	}))
	if err != nil {
		_ = grpcExp.Shutdown(ctx)
		return nil, err
	}
	return []sdktrace.SpanExporter{grpcExp, httpExp}, nil
}

func fileExporters(_ context.Context, prefix string) ([]sdktrace.SpanExporter, error) {
	w, err := NewTraceFileWriter(TraceFileOptions{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	return []sdktrace.SpanExporter{exp}, nil
}

func newTracerProvider(exporters []sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	service := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(driverNamespace))
	res, err := resource.Merge(resource.Default(), service)
	if errors.Is(err, resource.ErrSchemaURLConflict) {
		res, err = service, nil
	}
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	for _, exp := range exporters {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}
