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

// Command sbquery runs one statement against Snowflake through a
// snowbridge library and prints the outcome.
//
//	sbquery [flags] QUERY [ARG...]
//
// Without -exec or -async the query is a select and its rows are
// printed as CSV or line-delimited JSON. Arguments that parse as
// integers are bound as integers, everything else as text.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/snowbridge-dev/snowbridge"
	"github.com/snowbridge-dev/snowbridge/client"
	"github.com/snowbridge-dev/snowbridge/internal/config"
)

var version = "dev"

// opener provides the library a run talks to, the allocator its
// requests must be taken from, and a function that unloads it.
type opener func(cfg *config.Config, logger *slog.Logger) (snowbridge.Library, memory.Allocator, func() error, error)

type app struct {
	stdout io.Writer
	stderr io.Writer
	open   opener
	opts   []client.Option
}

func main() {
	a := app{stdout: os.Stdout, stderr: os.Stderr, open: openLibrary}
	os.Exit(a.run(context.Background(), os.Args[1:]))
}

func (a app) run(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("sbquery", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "sbquery %s\n\n", version)
		fmt.Fprintf(a.stderr, "Usage:\n  sbquery [flags] QUERY [ARG...]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(a.stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(a.stderr, "  %s       connection string (required)\n", config.EnvURI)
		fmt.Fprintf(a.stderr, "  %s   shared library to load instead of the built-in driver\n", config.EnvLibrary)
		fmt.Fprintf(a.stderr, "  %s    csv or json\n", config.EnvFormat)
	}

	var (
		exec      = fs.Bool("exec", false, "run a statement and print the rows it affected")
		async     = fs.Bool("async", false, "submit a statement and print its query id")
		format    = fs.String("format", "", "output format of rows, csv or json")
		envFile   = fs.String("env", "", "load settings from this file instead of .env")
		batchSize = fs.Int("batch", 0, "rows per batch when printing a select")
		showVer   = fs.Bool("version", false, "show version")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVer {
		fmt.Fprintf(a.stdout, "sbquery %s\n", version)
		return 0
	}
	if fs.NArg() == 0 || (*exec && *async) {
		fs.Usage()
		return 2
	}

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	if *format != "" {
		os.Setenv(config.EnvFormat, *format)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		fmt.Fprintln(a.stderr, "sbquery:", err)
		return 2
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}

	logger := slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if err := a.query(ctx, cfg, logger, *exec, *async, fs.Arg(0), bindArgs(fs.Args()[1:])); err != nil {
		fmt.Fprintln(a.stderr, "sbquery:", err)
		return 1
	}
	return 0
}

func (a app) query(ctx context.Context, cfg *config.Config, logger *slog.Logger, exec, async bool, query string, args []any) (err error) {
	lib, mem, unload, err := a.open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := unload(); cerr != nil {
			logger.Warn("failed to unload library", "error", cerr)
		}
	}()

	opts := append([]client.Option{client.WithAllocator(mem), client.WithLogger(logger)}, a.opts...)
	db, err := client.Connect(ctx, lib, cfg.URI, opts...)
	if err != nil {
		return err
	}
	defer db.Disconnect()

	switch {
	case exec:
		res, err := db.Execute(ctx, query, args...)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "rows affected: %d\nlast insert id: %d\n", res.RowsAffected, res.LastInsertID)
	case async:
		id, err := db.ExecuteAsync(ctx, query, args...)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, id)
	default:
		rdr, err := db.NewRecordReader(ctx, memory.DefaultAllocator, query, cfg.BatchSize, args...)
		if err != nil {
			return err
		}
		defer rdr.Release()
		return writeRecords(a.stdout, cfg.Format, rdr)
	}
	return nil
}

func bindArgs(raw []string) []any {
	args := make([]any, len(raw))
	for i, s := range raw {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			args[i] = n
		} else {
			args[i] = s
		}
	}
	return args
}
