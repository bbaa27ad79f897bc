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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	traceFileExt        = ".jsonl"
	defaultTraceMaxSize = 1 << 20
	defaultTraceMaxKept = 100
)

// TraceFileOptions configures a TraceFileWriter. Zero values take the
// defaults: a traces folder under the user configuration directory,
// files of 1 MiB and 100 kept files.
type TraceFileOptions struct {
	Dir      string
	Prefix   string
	MaxBytes int64
	MaxFiles int
}

// TraceFileWriter appends span output to "<Prefix>-<UTC time>.jsonl"
// files in Dir. Once the current file reaches MaxBytes the next write
// starts a new file, and the oldest files beyond MaxFiles are removed.
// A new writer carries on with the newest file when it is not full.
type TraceFileWriter struct {
	opts TraceFileOptions

	mu  sync.Mutex
	cur *os.File
}

// NewTraceFileWriter creates the folder if needed and checks that a
// file can be written there.
func NewTraceFileWriter(opts TraceFileOptions) (*TraceFileWriter, error) {
	if opts.Dir == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		opts.Dir = filepath.Join(cfgDir, ".snowbridge", "traces")
	}
	if opts.Prefix == "" {
		opts.Prefix = driverNamespace
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultTraceMaxSize
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = defaultTraceMaxKept
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	probe, err := os.CreateTemp(opts.Dir, opts.Prefix+"-probe")
	if err != nil {
		return nil, fmt.Errorf("trace folder %s is not writable: %w", opts.Dir, err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	return &TraceFileWriter{opts: opts}, nil
}

// Options returns the effective options.
func (w *TraceFileWriter) Options() TraceFileOptions { return w.opts }

func (w *TraceFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cur != nil {
		full, err := w.full(w.cur.Name())
		if err != nil {
			return 0, err
		}
		if full {
			if err := w.closeCurrent(); err != nil {
				return 0, err
			}
			if err := w.prune(); err != nil {
				return 0, err
			}
		}
	}
	if w.cur == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	return w.cur.Write(p)
}

// Current returns the path of the open file, or "" when none is open.
func (w *TraceFileWriter) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return ""
	}
	return w.cur.Name()
}

func (w *TraceFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeCurrent()
}

// Clear closes the writer and removes all of its files.
func (w *TraceFileWriter) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.closeCurrent(); err != nil {
		return err
	}
	files, err := w.files()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	return nil
}

func (w *TraceFileWriter) closeCurrent() error {
	if w.cur == nil {
		return nil
	}
	err := w.cur.Close()
	w.cur = nil
	return err
}

func (w *TraceFileWriter) full(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.Size() >= w.opts.MaxBytes, nil
}

// open reuses the newest file if it has room, otherwise creates one.
// Files are mode 0666 so they can be reopened on Windows.
func (w *TraceFileWriter) open() error {
	if files, err := w.files(); err == nil && len(files) > 0 {
		newest := files[len(files)-1]
		if full, err := w.full(newest); err == nil && !full {
			if f, err := os.OpenFile(newest, os.O_APPEND|os.O_WRONLY, 0o666); err == nil {
				w.cur = f
				return nil
			}
		}
	}

	name := w.opts.Prefix + "-" + time.Now().UTC().Format("2006-01-02-15-04-05.000000000") + traceFileExt
	f, err := os.OpenFile(filepath.Join(w.opts.Dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return err
	}
	w.cur = f
	return nil
}

func (w *TraceFileWriter) prune() error {
	files, err := w.files()
	if err != nil || len(files) <= w.opts.MaxFiles {
		return nil
	}
	for _, f := range files[:len(files)-w.opts.MaxFiles] {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	return nil
}

// files lists the writer's files oldest first; the timestamp in the
// name sorts lexically.
func (w *TraceFileWriter) files() ([]string, error) {
	return filepath.Glob(filepath.Join(w.opts.Dir, w.opts.Prefix+"-*"+traceFileExt))
}
