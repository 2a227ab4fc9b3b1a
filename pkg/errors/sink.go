package errors

import (
	"context"
	"log/slog"
	"sync"
)

// Sink receives non-fatal diagnostics raised while resolving or mapping a template.
// Implementations must be safe for concurrent use.
type Sink interface {
	Report(err *TopoError)
}

// Discard drops every diagnostic.
var Discard Sink = discard{}

type discard struct{}

func (discard) Report(*TopoError) {}

// Collector accumulates diagnostics in report order.
type Collector struct {
	mu    sync.Mutex
	items []*TopoError
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Report implements Sink.
func (c *Collector) Report(err *TopoError) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.items = append(c.items, err)
	c.mu.Unlock()
}

// Diagnostics returns a copy of everything reported so far.
func (c *Collector) Diagnostics() []*TopoError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*TopoError, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of collected diagnostics.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// LogSink forwards diagnostics to a slog.Logger at a level matching their severity.
type LogSink struct {
	Logger *slog.Logger
}

// Report implements Sink.
func (s LogSink) Report(err *TopoError) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch err.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError, SeverityFatal:
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, err.Message,
		"code", err.Code,
		"resource", err.ResourceID,
		"recoverable", err.Recoverable,
	)
}

// Tee fans a diagnostic out to several sinks.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) Report(err *TopoError) {
	for _, s := range t {
		if s != nil {
			s.Report(err)
		}
	}
}
