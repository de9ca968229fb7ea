package tools

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"
)

// sleepTool sleeps for a duration, ignoring cancellation when stubborn.
type sleepTool struct {
	name     string
	d        time.Duration
	stubborn bool
	hint     time.Duration
	calls    atomic.Int32
}

func (t *sleepTool) Descriptor() Descriptor {
	params := []ToolParameter{{Name: "label", ParamType: "string"}}
	return Descriptor{Name: t.name, Description: "sleeps", Parameters: params, Validator: SchemaValidator(params)}
}

func (t *sleepTool) Execute(ctx context.Context, params Params, tc *Context) Result {
	t.calls.Add(1)
	if t.stubborn {
		time.Sleep(t.d)
		return OK("done")
	}
	select {
	case <-time.After(t.d):
		return OK("done")
	case <-ctx.Done():
		return Fail(CodeExecution, ctx.Err().Error())
	}
}

type hintedTool struct{ sleepTool }

func (t *hintedTool) CallTimeout(Params) time.Duration { return t.hint }

type panicTool struct{}

func (panicTool) Descriptor() Descriptor { return Descriptor{Name: "boom", Description: "panics"} }
func (panicTool) Execute(context.Context, Params, *Context) Result {
	panic("kaboom")
}

type requiredTool struct{ calls atomic.Int32 }

func (t *requiredTool) Descriptor() Descriptor {
	params := []ToolParameter{{Name: "path", ParamType: "string", Required: true}}
	return Descriptor{Name: "needs_path", Description: "requires path", Parameters: params, Validator: SchemaValidator(params)}
}

func (t *requiredTool) Execute(_ context.Context, params Params, _ *Context) Result {
	t.calls.Add(1)
	raw, ok := params.(RawParams)
	if !ok {
		return Fail(CodeExecution, "expected raw params")
	}
	return OK(string(raw.Args))
}

func newTestExecutor(t *testing.T, tools ...Tool) *Executor {
	t.Helper()
	r := NewRegistry()
	if err := r.RegisterAll(tools...); err != nil {
		t.Fatalf("register: %v", err)
	}
	return NewExecutor(r, ToolConfig{})
}

func TestExecuteToolNotFound(t *testing.T) {
	e := newTestExecutor(t)

	res := e.Execute(context.Background(), "missing", json.RawMessage(`{}`), NewContext(t.TempDir()))
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Code() != CodeToolNotFound {
		t.Errorf("code = %s, want %s", res.Code(), CodeToolNotFound)
	}

	stats := e.Stats()
	if stats.TotalCalls != 1 || stats.ErrorCount != 1 {
		t.Errorf("stats = %+v, want one failed call", stats)
	}
	if _, ok := stats.PerTool["missing"]; ok {
		t.Error("unknown tool should not appear in PerTool")
	}
}

func TestExecuteValidation(t *testing.T) {
	tool := &requiredTool{}
	e := newTestExecutor(t, tool)

	tests := []struct {
		name     string
		args     string
		opts     []CallOption
		wantCode ErrorCode
		wantRuns int32
	}{
		{name: "missing required", args: `{}`, wantCode: CodeValidation, wantRuns: 0},
		{name: "wrong type", args: `{"path":3}`, wantCode: CodeValidation, wantRuns: 0},
		{name: "blank required", args: `{"path":"  "}`, wantCode: CodeValidation, wantRuns: 0},
		{name: "valid", args: `{"path":"a.go"}`, wantRuns: 1},
		{name: "skipped validation", args: `{}`, opts: []CallOption{SkipValidation()}, wantRuns: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool.calls.Store(0)
			res := e.Execute(context.Background(), "needs_path", json.RawMessage(tt.args), nil, tt.opts...)
			if res.Code() != tt.wantCode {
				t.Errorf("code = %q, want %q (%s)", res.Code(), tt.wantCode, res)
			}
			if got := tool.calls.Load(); got != tt.wantRuns {
				t.Errorf("tool body ran %d times, want %d", got, tt.wantRuns)
			}
		})
	}
}

func TestExecuteValidationDetails(t *testing.T) {
	e := newTestExecutor(t, &requiredTool{})

	res := e.Execute(context.Background(), "needs_path", json.RawMessage(`{}`), nil)
	violations, ok := res.Error.Details.([]string)
	if !ok || len(violations) != 1 {
		t.Fatalf("details = %#v, want one violation", res.Error.Details)
	}
}

func TestExecuteTimeout(t *testing.T) {
	tests := []struct {
		name     string
		stubborn bool
	}{
		{name: "cooperative tool", stubborn: false},
		{name: "tool ignoring cancellation", stubborn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExecutor(t, &sleepTool{name: "sleep", d: 2000 * time.Millisecond, stubborn: tt.stubborn})

			start := time.Now()
			res := e.Execute(context.Background(), "sleep", nil, nil, WithTimeout(500*time.Millisecond))
			elapsed := time.Since(start)

			if res.Code() != CodeTimeout {
				t.Fatalf("code = %s, want %s", res.Code(), CodeTimeout)
			}
			if elapsed < 450*time.Millisecond || elapsed > 700*time.Millisecond {
				t.Errorf("settled after %v, want about 500ms", elapsed)
			}
		})
	}
}

func TestExecuteTimeoutPrecedence(t *testing.T) {
	hinted := &hintedTool{sleepTool{name: "hinted", d: 300 * time.Millisecond, hint: 100 * time.Millisecond}}
	described := &sleepTool{name: "plain", d: 50 * time.Millisecond}
	e := newTestExecutor(t, hinted, described)

	if res := e.Execute(context.Background(), "hinted", nil, nil); res.Code() != CodeTimeout {
		t.Errorf("hinted tool: code = %s, want TIMEOUT from the hint", res.Code())
	}
	if res := e.Execute(context.Background(), "hinted", nil, nil, WithTimeout(time.Second)); !res.Success {
		t.Errorf("call option should override the hint: %s", res)
	}
	if res := e.Execute(context.Background(), "plain", nil, nil); !res.Success {
		t.Errorf("default timeout should allow a short call: %s", res)
	}
}

func TestExecuteParentCancelled(t *testing.T) {
	e := newTestExecutor(t, &sleepTool{name: "sleep", d: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	res := e.Execute(ctx, "sleep", nil, nil)
	if res.Code() != CodeUserCancelled {
		t.Errorf("code = %s, want %s", res.Code(), CodeUserCancelled)
	}
}

func TestExecutePanicRecovered(t *testing.T) {
	e := newTestExecutor(t, panicTool{})

	res := e.Execute(context.Background(), "boom", nil, nil)
	if res.Code() != CodeExecution {
		t.Fatalf("code = %s, want %s", res.Code(), CodeExecution)
	}
}

func TestExecuteStats(t *testing.T) {
	e := newTestExecutor(t, &sleepTool{name: "quick", d: time.Millisecond}, &requiredTool{})

	e.Execute(context.Background(), "quick", nil, nil)
	e.Execute(context.Background(), "quick", nil, nil)
	e.Execute(context.Background(), "needs_path", json.RawMessage(`{}`), nil)
	e.Execute(context.Background(), "nope", nil, nil)

	stats := e.Stats()
	if stats.TotalCalls != 4 {
		t.Errorf("TotalCalls = %d, want 4", stats.TotalCalls)
	}
	if stats.SuccessCount != 2 || stats.ErrorCount != 2 {
		t.Errorf("success/error = %d/%d, want 2/2", stats.SuccessCount, stats.ErrorCount)
	}
	if stats.PerTool["quick"] != 2 || stats.PerTool["needs_path"] != 1 {
		t.Errorf("PerTool = %v", stats.PerTool)
	}
	if stats.ErrorsByCode[CodeValidation] != 1 || stats.ErrorsByCode[CodeToolNotFound] != 1 {
		t.Errorf("ErrorsByCode = %v", stats.ErrorsByCode)
	}
	if stats.TotalTime <= 0 || stats.AverageTime() != stats.TotalTime/4 {
		t.Errorf("AverageTime = %v with TotalTime %v", stats.AverageTime(), stats.TotalTime)
	}

	// The snapshot is a copy.
	stats.PerTool["quick"] = 99
	if e.Stats().PerTool["quick"] != 2 {
		t.Error("Stats() leaked internal map")
	}
}

func TestExecuteRecordsElapsed(t *testing.T) {
	e := newTestExecutor(t, &sleepTool{name: "sleep", d: 20 * time.Millisecond})

	res := e.Execute(context.Background(), "sleep", nil, nil)
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res)
	}
	if res.Metadata.ExecutionTimeMs < 20 {
		t.Errorf("ExecutionTimeMs = %d, want >= 20", res.Metadata.ExecutionTimeMs)
	}
}
