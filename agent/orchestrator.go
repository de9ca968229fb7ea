// Orchestrator: the per-turn tool loop.
//
// A turn moves Start -> SendingInitial -> (ToolExecuting <-> AwaitingModel)
// -> Terminal. Tool calls from one reply run strictly in order.
//
// Information Hiding:
// - Model retry and empty-reply handling hidden
// - Guardrails, loop detection, and escalation hidden
// - Summary synthesis for unfinished turns hidden

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/richinex/loom/contextstore"
	"github.com/richinex/loom/internal/logging"
	"github.com/richinex/loom/internal/retry"
	"github.com/richinex/loom/internal/telemetry"
	"github.com/richinex/loom/llm"
	"github.com/richinex/loom/model"
	"github.com/richinex/loom/recovery"
	"github.com/richinex/loom/tools"
)

// Apology is returned when a turn produced neither text nor tool calls.
const Apology = "I wasn't able to come up with a response to that. Could you rephrase the request or add more detail about what you need?"

// Session is the model conversation the orchestrator drives.
type Session interface {
	Send(ctx context.Context, text string) (llm.Reply, error)
	SendToolResults(ctx context.Context, results []llm.ToolResult) (llm.Reply, error)
}

// readLike tools are subject to the repeated-read guardrail.
var readLike = map[string]bool{
	"read_file":        true,
	"list_directory":   true,
	"glob":             true,
	"search_code":      true,
	"get_codebase_map": true,
	"bash_output":      true,
}

// focusTools move the context store's focus to the file they touched.
var focusTools = map[string]bool{
	"write_file": true,
	"edit_file":  true,
}

// Orchestrator runs turns against one session. A turn is not safe to run
// concurrently with another turn on the same orchestrator.
type Orchestrator struct {
	config     Config
	session    Session
	executor   *tools.Executor
	toolCtx    *tools.Context
	store      *contextstore.Store
	tracker    *recovery.Tracker
	classifier Classifier
	planner    Planner
	policy     retry.Policy
	logger     *slog.Logger
	tracer     trace.Tracer
}

// New creates an orchestrator whose session offers every tool in the
// executor's registry.
func New(config Config, provider llm.Provider, executor *tools.Executor) *Orchestrator {
	session := llm.NewSession(provider, config.SystemPrompt, executor.Registry().Declarations())
	return NewWithSession(config, session, executor)
}

// NewWithSession creates an orchestrator over an existing session.
func NewWithSession(config Config, session Session, executor *tools.Executor) *Orchestrator {
	o := &Orchestrator{
		config:     config,
		session:    session,
		executor:   executor,
		toolCtx:    tools.NewContext(""),
		store:      contextstore.New(contextstore.DefaultBudget),
		tracker:    recovery.NewTracker(config.ReadRepeatThreshold, config.FailureThreshold),
		classifier: KeywordClassifier{},
		planner:    TemplatePlanner{},
		logger:     logging.OrDefault(nil, "orchestrator"),
		tracer:     telemetry.Tracer(),
	}
	o.policy = retry.Default()
	o.policy.MaxRetries = config.EmptyReplyRetries
	if config.RetryBaseDelay > 0 {
		o.policy.BaseDelay = config.RetryBaseDelay
	}
	return o
}

// WithToolContext sets the context handed to every tool.
func (o *Orchestrator) WithToolContext(tc *tools.Context) *Orchestrator {
	o.toolCtx = tc
	return o
}

// WithStore replaces the context store.
func (o *Orchestrator) WithStore(store *contextstore.Store) *Orchestrator {
	o.store = store
	return o
}

// WithClassifier swaps the intent classifier.
func (o *Orchestrator) WithClassifier(c Classifier) *Orchestrator {
	o.classifier = c
	return o
}

// WithPlanner swaps the planner; nil disables planning.
func (o *Orchestrator) WithPlanner(p Planner) *Orchestrator {
	o.planner = p
	return o
}

// WithRetryPolicy replaces the model-call retry policy.
func (o *Orchestrator) WithRetryPolicy(p retry.Policy) *Orchestrator {
	o.policy = p
	return o
}

// WithLogger sets the logger.
func (o *Orchestrator) WithLogger(logger *slog.Logger) *Orchestrator {
	o.logger = logging.OrDefault(logger, "orchestrator")
	return o
}

// Store returns the context store.
func (o *Orchestrator) Store() *contextstore.Store {
	return o.store
}

// Tracker returns the recovery tracker.
func (o *Orchestrator) Tracker() *recovery.Tracker {
	return o.tracker
}

// Executor returns the tool executor.
func (o *Orchestrator) Executor() *tools.Executor {
	return o.executor
}

// turn is the mutable state of one Run.
type turn struct {
	iteration  int
	modelCalls int
	usage      llm.TokenUsage
	steps      []Step
	calls      []ToolCall
	diag       Diagnostics
	loopsSeen  map[string]bool
	lastTool   string
	start      time.Time
	intent     Intent
	plan       []string
	escalation bool
}

// Run executes one user turn and always returns a non-empty ResultText
// unless ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, request string) Response {
	ctx, span := o.tracer.Start(ctx, "agent.turn")
	defer span.End()

	o.tracker.ClearHistory()
	o.store.ResetUsage()

	t := &turn{
		start:     time.Now(),
		loopsSeen: make(map[string]bool),
		diag:      Diagnostics{ReadCounts: make(map[string]int)},
	}

	t.intent = o.classifier.Classify(request)
	o.logger.Info("turn started", "intent", t.intent.Kind, "scope", t.intent.Scope, "files", t.intent.Files)
	if t.intent.Scope == ScopeBroad && o.planner != nil {
		t.plan = o.planner.Plan(request, t.intent)
		o.logger.Debug("plan", "steps", t.plan)
	}
	span.SetAttributes(attribute.String("intent", string(t.intent.Kind)), attribute.String("scope", string(t.intent.Scope)))

	reply, err := o.send(ctx, t, func(ctx context.Context) (llm.Reply, error) {
		return o.session.Send(ctx, request)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return o.finish(t, NewFailureResponse(fmt.Sprintf("model call failed: %v", err), t.steps, o.metadata(t)))
	}

	for t.iteration < o.config.MaxIterations && len(reply.ToolCalls) > 0 {
		t.steps = append(t.steps, Step{Iteration: t.iteration, Text: reply.Text, Tools: callNames(reply.ToolCalls)})

		results := make([]llm.ToolResult, 0, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			if ctx.Err() != nil {
				return o.finish(t, NewFailureResponse(fmt.Sprintf("execution cancelled: %v", ctx.Err()), t.steps, o.metadata(t)))
			}
			results = append(results, o.runTool(ctx, t, call))
		}

		t.iteration++
		o.advise(t)

		reply, err = o.send(ctx, t, func(ctx context.Context) (llm.Reply, error) {
			return o.session.SendToolResults(ctx, results)
		})
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return o.finish(t, NewFailureResponse(fmt.Sprintf("model call failed: %v", err), t.steps, o.metadata(t)))
		}
	}

	span.SetAttributes(attribute.Int("iterations", t.iteration), attribute.Int("tool_calls", len(t.calls)))

	if len(reply.ToolCalls) > 0 {
		o.logger.Warn("iteration budget exhausted", "iterations", t.iteration, "tool_calls", len(t.calls))
		summary := o.summarize(t, fmt.Sprintf("I reached the limit of %d tool iterations before finishing.", o.config.MaxIterations))
		return o.finish(t, NewTimeoutResponse(summary, t.steps, o.metadata(t)))
	}

	text := strings.TrimSpace(reply.Text)
	switch {
	case text != "":
		t.steps = append(t.steps, Step{Iteration: t.iteration, Text: text})
		return o.finish(t, NewSuccessResponse(text, t.steps, o.metadata(t)))
	case len(t.calls) == 0:
		return o.finish(t, NewSuccessResponse(Apology, t.steps, o.metadata(t)))
	default:
		summary := o.summarize(t, "The model stopped without giving a final answer.")
		return o.finish(t, NewSuccessResponse(summary, t.steps, o.metadata(t)))
	}
}

// send calls the model with retries. An empty reply that survives every
// retry is returned as a zero Reply with a nil error.
func (o *Orchestrator) send(ctx context.Context, t *turn, fn func(context.Context) (llm.Reply, error)) (llm.Reply, error) {
	policy := o.policy
	userRetry := policy.OnRetry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		o.logger.Warn("retrying model call", "attempt", attempt, "delay", delay, "error", err)
		if userRetry != nil {
			userRetry(err, attempt, delay)
		}
	}

	reply, err := retry.Do(ctx, policy, func(ctx context.Context) (llm.Reply, error) {
		ctx, span := o.tracer.Start(ctx, "agent.model_call")
		defer span.End()

		t.modelCalls++
		reply, err := fn(ctx)
		t.usage.Add(reply.Usage)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		return reply, err
	})
	if errors.Is(err, llm.ErrEmptyReply) && ctx.Err() == nil {
		o.logger.Warn("model kept returning empty replies", "attempts", policy.MaxRetries+1)
		return llm.Reply{}, nil
	}
	return reply, err
}

// runTool executes one call with the tracker, guardrail, and store wired
// around it.
func (o *Orchestrator) runTool(ctx context.Context, t *turn, call llm.ToolCall) llm.ToolResult {
	action := o.tracker.RecordAction(call.Name, call.Arguments)
	t.lastTool = call.Name

	if readLike[call.Name] {
		key := call.Name + ":" + action.Target
		t.diag.ReadCounts[key]++
		if n := t.diag.ReadCounts[key]; n >= o.config.ReadRepeatThreshold {
			t.diag.GuardrailWarnings++
			o.logger.Warn("repeated read", "tool", call.Name, "target", action.Target, "count", n)
		}
	}

	start := time.Now()
	res := o.executor.Execute(ctx, call.Name, call.Arguments, o.toolCtx)
	content := res.String()

	t.calls = append(t.calls, model.ToolCall{
		Name:       call.Name,
		Target:     action.Target,
		InputSize:  len(call.Arguments),
		OutputSize: len(content),
		DurationMs: uint64(time.Since(start).Milliseconds()),
		Success:    res.Success,
		Code:       string(res.Code()),
	})

	if res.Success {
		if res.Snippet != nil {
			o.store.Add(res.Snippet.Source, res.Snippet.Content)
			o.store.MarkUsed(res.Snippet.Source)
		}
		if focusTools[call.Name] {
			o.focusOn(action.Target)
		}
	} else {
		t.diag.Failures++
		o.tracker.RecordFailure(action, string(res.Code()), res.Error.Message)
		o.logger.Debug("tool failed", "tool", call.Name, "code", res.Code(), "message", res.Error.Message)
		if !t.escalation && o.tracker.ShouldAskUser() {
			t.escalation = true
			t.diag.Escalated = true
			o.logger.Warn("repeated tool failures; autonomous recovery unlikely", "failures", len(o.tracker.Failures()))
		}
	}

	if loop := o.tracker.DetectLoop(); loop.Detected() {
		desc := loop.String()
		if !t.loopsSeen[desc] {
			t.loopsSeen[desc] = true
			t.diag.Loops = append(t.diag.Loops, desc)
			args := []any{"loop", desc}
			if s, ok := o.tracker.SuggestAlternative(); ok {
				args = append(args, "suggest", s.Tool)
			}
			o.logger.Warn("unproductive pattern", args...)
		}
	}

	return llm.ToolResult{CallID: call.ID, Name: call.Name, Content: content}
}

// focusOn makes path the current file and its directory related.
func (o *Orchestrator) focusOn(path string) {
	if dir := filepath.Dir(path); dir != "." {
		o.store.SetFocus(path, dir+"/")
		return
	}
	o.store.SetFocus(path)
}

// advise logs an escalating advisory when the iteration count reaches a
// configured threshold.
func (o *Orchestrator) advise(t *turn) {
	level := slices.Index(o.config.WarningThresholds, t.iteration)
	if level < 0 {
		return
	}
	remaining := o.config.MaxIterations - t.iteration
	var msg string
	switch {
	case level == len(o.config.WarningThresholds)-1:
		msg = fmt.Sprintf("iteration %d: %d left, the turn is about to end", t.iteration, remaining)
	case level == 0:
		msg = fmt.Sprintf("iteration %d: %d left, the turn is running long", t.iteration, remaining)
	default:
		msg = fmt.Sprintf("iteration %d: %d left, no answer yet", t.iteration, remaining)
	}
	t.diag.Advisories = append(t.diag.Advisories, msg)
	o.logger.Warn("iteration advisory", "iteration", t.iteration, "remaining", remaining, "level", level+1)
}

// summarize condenses an unfinished turn: every tool and its count,
// whether repetition was seen, and a next step.
func (o *Orchestrator) summarize(t *turn, headline string) string {
	var b strings.Builder
	b.WriteString(headline)
	b.WriteString("\n\nTools used:\n")
	names, counts := model.CountByName(t.calls)
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %d\n", name, counts[name])
	}

	if len(t.diag.Loops) > 0 {
		fmt.Fprintf(&b, "\nRepetition detected: yes (%s)\n", strings.Join(t.diag.Loops, "; "))
	} else {
		b.WriteString("\nRepetition detected: no\n")
	}
	if t.diag.Failures > 0 {
		fmt.Fprintf(&b, "Failed calls: %d\n", t.diag.Failures)
	}

	fmt.Fprintf(&b, "\nSuggested next step: %s", o.nextStep(t))
	return b.String()
}

func (o *Orchestrator) nextStep(t *turn) string {
	if s, ok := o.tracker.SuggestAlternative(); ok {
		return fmt.Sprintf("use %s to %s, or narrow the request to a specific file or function.", s.Tool, s.Reason)
	}
	if t.lastTool != "" {
		return fmt.Sprintf("tell me what to do with the %s results so far, or narrow the request.", t.lastTool)
	}
	return "narrow the request to a specific file or function."
}

func (o *Orchestrator) metadata(t *turn) Metadata {
	usage := t.usage
	return Metadata{
		ExecutionTimeMs: uint64(time.Since(t.start).Milliseconds()),
		Iterations:      t.iteration,
		ModelCalls:      t.modelCalls,
		ToolCalls:       t.calls,
		TokenUsage:      &usage,
		Context:         o.store.UsageStats(),
	}
}

func (o *Orchestrator) finish(t *turn, resp Response) Response {
	resp.Intent = t.intent
	resp.Plan = t.plan
	resp.Diagnostics = t.diag
	o.logger.Info("turn finished", "type", resp.Type, "iterations", t.iteration, "tool_calls", len(t.calls), "duration_ms", resp.Metadata.ExecutionTimeMs)
	return resp
}

func callNames(calls []llm.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
