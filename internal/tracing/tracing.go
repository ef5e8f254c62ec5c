// Copyright 2015 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing defines the named span events the engine emits. Per the
// engine's scope, tracing/observability sinks are external collaborators:
// this package only defines the Tracer interface and a log/slog-backed
// implementation, never a trace exporter.
package tracing

import (
	"log/slog"
	"time"
)

// Tracer receives named span events from the engine. Start returns a func
// to call when the span ends; callers should always defer it.
type Tracer interface {
	Start(span string, attrs ...slog.Attr) func()
}

// Noop discards every span.
type Noop struct{}

func (Noop) Start(string, ...slog.Attr) func() { return func() {} }

// Slog emits spans as structured log records at debug level, via the
// given logger. This is the default non-noop Tracer: it satisfies "the
// core emits named span events, the sink is external" without requiring
// callers to wire an actual tracing backend.
type Slog struct {
	Logger *slog.Logger
}

// NewSlog returns a Slog tracer. A nil logger falls back to slog.Default().
func NewSlog(logger *slog.Logger) Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return Slog{Logger: logger}
}

func (s Slog) Start(span string, attrs ...slog.Attr) func() {
	start := time.Now()
	args := make([]any, 0, len(attrs)*2+2)
	args = append(args, "span", span)
	for _, a := range attrs {
		args = append(args, a.Key, a.Value)
	}
	s.Logger.Debug("span start", args...)
	return func() {
		s.Logger.Debug("span end", "span", span, "duration", time.Since(start))
	}
}
