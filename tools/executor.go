// Tool Executor with timeout race and statistics.
//
// Information Hiding:
// - Validation, decoding, and the timeout race hidden behind Execute
// - Panic recovery hidden; callers only ever see a Result
// - Statistics and metrics bookkeeping hidden

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/richinex/loom/internal/logging"
	"github.com/richinex/loom/internal/telemetry"
)

// Stats are running execution counters. AverageTime is derived on read.
type Stats struct {
	TotalCalls   int
	SuccessCount int
	ErrorCount   int
	PerTool      map[string]int
	ErrorsByCode map[ErrorCode]int
	TotalTime    time.Duration
}

// AverageTime returns TotalTime / TotalCalls.
func (s Stats) AverageTime() time.Duration {
	if s.TotalCalls == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.TotalCalls)
}

// Executor validates, runs, and accounts for tool calls.
type Executor struct {
	registry *Registry
	config   ToolConfig
	logger   *slog.Logger

	mu    sync.Mutex
	stats Stats

	calls    metric.Int64Counter
	duration metric.Float64Histogram
	tracer   trace.Tracer
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry *Registry, config ToolConfig) *Executor {
	meter := telemetry.Meter()
	calls, _ := meter.Int64Counter("loom.tool.calls",
		metric.WithDescription("Tool invocations by tool and result code"))
	duration, _ := meter.Float64Histogram("loom.tool.duration",
		metric.WithDescription("Tool invocation wall time"),
		metric.WithUnit("ms"))

	return &Executor{
		registry: registry,
		config:   config,
		logger:   logging.OrDefault(nil, "executor"),
		stats:    newStats(),
		calls:    calls,
		duration: duration,
		tracer:   telemetry.Tracer(),
	}
}

// WithLogger sets the logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logging.OrDefault(logger, "executor")
	return e
}

// Registry returns the registry the executor resolves names against.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// CallOption adjusts a single Execute call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout        time.Duration
	skipValidation bool
}

// WithTimeout overrides the timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// SkipValidation bypasses the descriptor's validator for one call.
func SkipValidation() CallOption {
	return func(o *callOptions) { o.skipValidation = true }
}

// Execute runs tool name with args. It always returns within the effective
// timeout plus scheduling overhead, whether or not the tool honors ctx.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage, tc *Context, opts ...CallOption) Result {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := e.tracer.Start(ctx, "tool.execute", trace.WithAttributes(attribute.String("tool", name)))
	defer span.End()

	start := time.Now()
	res, known := e.execute(ctx, name, args, tc.withDefaults(), o)
	elapsed := time.Since(start)
	res.Metadata.ExecutionTimeMs = elapsed.Milliseconds()

	e.record(name, known, res, elapsed)

	code := string(res.Code())
	if code == "" {
		code = "OK"
	} else {
		span.SetStatus(codes.Error, res.Error.Message)
	}
	attrs := metric.WithAttributes(attribute.String("tool", name), attribute.String("code", code))
	e.calls.Add(ctx, 1, attrs)
	e.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)

	e.logger.Debug("tool executed", "tool", name, "success", res.Success, "code", code, "elapsed", elapsed)
	return res
}

func (e *Executor) execute(ctx context.Context, name string, args json.RawMessage, tc *Context, o callOptions) (Result, bool) {
	tool, ok := e.registry.Get(name)
	if !ok {
		return Failf(CodeToolNotFound, "tool '%s' not found", name).
			WithDetails(map[string]any{"available": e.registry.Names()}), false
	}

	desc := tool.Descriptor()
	if !o.skipValidation && desc.Validator != nil {
		if violations := desc.Validator(args); len(violations) > 0 {
			return Failf(CodeValidation, "invalid parameters for '%s'", name).WithDetails(violations), true
		}
	}

	params, err := DecodeParams(name, args)
	if err != nil {
		return Fail(CodeValidation, err.Error()), true
	}

	return e.race(ctx, tool, params, tc, e.timeoutFor(tool, desc, params, o)), true
}

func (e *Executor) timeoutFor(tool Tool, desc Descriptor, params Params, o callOptions) time.Duration {
	if o.timeout > 0 {
		return o.timeout
	}
	if h, ok := tool.(TimeoutHinter); ok {
		if d := h.CallTimeout(params); d > 0 {
			return d
		}
	}
	if desc.Timeout > 0 {
		return desc.Timeout
	}
	return e.config.Timeout()
}

// race runs the tool body in its own goroutine against the deadline. The
// result channel is buffered so an abandoned body can still finish.
func (e *Executor) race(ctx context.Context, tool Tool, params Params, tc *Context, timeout time.Duration) Result {
	name := tool.Descriptor().Name
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Failf(CodeExecution, "tool '%s' panicked: %v", name, r)
			}
		}()
		done <- tool.Execute(runCtx, params, tc)
	}()

	select {
	case res := <-done:
		// A failure produced because the deadline passed is reported as the
		// deadline, not as the tool's own error.
		if res.Success || runCtx.Err() == nil {
			if !res.Success && res.Error == nil {
				return Failf(CodeExecution, "tool '%s' failed without an error", name)
			}
			return res
		}
	case <-runCtx.Done():
	}

	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Failf(CodeUserCancelled, "tool '%s' cancelled", name)
	}
	return Failf(CodeTimeout, "tool '%s' timed out after %s", name, timeout).
		WithDetails(map[string]any{"timeoutMs": timeout.Milliseconds()})
}

// record updates statistics. Unknown tools count toward totals and errors
// but not toward PerTool, so the map only ever holds registered names.
func (e *Executor) record(name string, known bool, res Result, elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.TotalCalls++
	e.stats.TotalTime += elapsed
	if known {
		e.stats.PerTool[name]++
	}
	if res.Success {
		e.stats.SuccessCount++
	} else {
		e.stats.ErrorCount++
		e.stats.ErrorsByCode[res.Code()]++
	}
}

// Stats returns a snapshot of the counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.stats
	out.PerTool = make(map[string]int, len(e.stats.PerTool))
	for k, v := range e.stats.PerTool {
		out.PerTool[k] = v
	}
	out.ErrorsByCode = make(map[ErrorCode]int, len(e.stats.ErrorsByCode))
	for k, v := range e.stats.ErrorsByCode {
		out.ErrorsByCode[k] = v
	}
	return out
}

func newStats() Stats {
	return Stats{PerTool: map[string]int{}, ErrorsByCode: map[ErrorCode]int{}}
}
