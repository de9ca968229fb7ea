// Command execution for CLI commands.
//
// Information Hiding:
// - Orchestrator setup per command hidden
// - Session persistence for chat hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/richinex/loom/agent"
	"github.com/richinex/loom/config"
	"github.com/richinex/loom/contextstore"
	"github.com/richinex/loom/llm"
	"github.com/richinex/loom/mcp"
	"github.com/richinex/loom/model"
	"github.com/richinex/loom/storage"
	"github.com/richinex/loom/tools"
)

// defaultDBPath is where named chat sessions persist when no path is set.
const defaultDBPath = ".loom/loom.db"

// ErrBudgetExhausted is returned by RunTask when the model still wanted
// tools after the last permitted iteration.
var ErrBudgetExhausted = errors.New("iteration budget exhausted")

// RunTask executes a single task and prints the answer.
func RunTask(ctx context.Context, task string, opts Options, out io.Writer) error {
	rt, err := NewRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)
	return runTask(ctx, rt, task, opts.Verbose, out)
}

func runTask(ctx context.Context, rt *Runtime, task string, verbose bool, out io.Writer) error {
	orch, _, err := rt.Agent("run")
	if err != nil {
		return err
	}

	response := orch.Run(ctx, task)
	if verbose {
		printSteps(out, response.Steps)
		printDiagnostics(out, response)
	}

	switch response.Type {
	case agent.ResponseSuccess:
		fmt.Fprintf(out, "%s\n", response.Result)
		if calls := response.Metadata.ToolCalls; len(calls) > 0 {
			fmt.Fprintf(out, "\n(%d iterations: %s)\n", response.Metadata.Iterations, summarizeCalls(calls))
		}
		return nil
	case agent.ResponseFailure:
		return fmt.Errorf("task failed: %s", response.Error)
	case agent.ResponseTimeout:
		fmt.Fprintf(out, "%s\n", response.PartialResult)
		return ErrBudgetExhausted
	default:
		return fmt.Errorf("unknown response type: %v", response.Type)
	}
}

// ChatOptions selects where a chat session lives.
type ChatOptions struct {
	SessionID string // empty starts a new session
	DBPath    string // empty uses settings, then defaultDBPath for named sessions
}

// Chat runs an interactive session reading lines from in.
func Chat(ctx context.Context, opts Options, chat ChatOptions, in io.Reader, out io.Writer) error {
	rt, err := NewRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)
	return runChat(ctx, rt, chat, in, out)
}

// openConversations picks SQLite when a path is known or the session is
// named, and memory otherwise.
func openConversations(settings config.Settings, chat ChatOptions) (storage.ConversationStorage, func() error, error) {
	path := chat.DBPath
	if path == "" {
		path = settings.Storage.DBPath
	}
	if path == "" && chat.SessionID != "" {
		path = defaultDBPath
	}
	if path == "" {
		return storage.NewInMemoryStorage(), func() error { return nil }, nil
	}

	db, err := storage.OpenSqlite(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, db.Close, nil
}

func runChat(ctx context.Context, rt *Runtime, chat ChatOptions, in io.Reader, out io.Writer) error {
	orch, session, err := rt.Agent("chat")
	if err != nil {
		return err
	}

	store, closeStore, err := openConversations(rt.Settings, chat)
	if err != nil {
		return err
	}
	defer closeStore()

	sessionID := chat.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	history, err := store.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	if len(history) > 0 {
		session.Restore(history)
		fmt.Fprintf(out, "Resuming session '%s' (%d messages)\n", sessionID, len(history))
	}
	fmt.Fprintf(out, "Session %s. Type 'exit' to quit, '/help' for commands.\n\n", sessionID)

	save := func() {
		if err := store.Save(ctx, sessionID, session.History()); err != nil {
			rt.Logger.Warn("failed to save history", "session", sessionID, "error", err)
		}
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// Writes wait for approval read from the same input. The main loop is
	// blocked in orch.Run while a request is served, so only one reader
	// touches the scanner at a time.
	confirmer := tools.NewConfirmer(rt.Settings.Tools.ConfirmTimeout)
	rt.ToolCtx.Confirm = confirmer
	defer func() { rt.ToolCtx.Confirm = nil }()

	var lastInput string
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "exit" || input == "quit":
			return nil
		case input == "/help":
			fmt.Fprintln(out, "Commands: /stats, /context, /clear, /sessions, exit")
			continue
		case input == "/context":
			printContext(out, orch.Store(), lastInput)
			continue
		case input == "/stats":
			printStats(out, rt.Executor.Stats(), orch, session.Usage())
			continue
		case input == "/clear":
			orch.Store().Clear()
			session.Reset()
			save()
			fmt.Fprintln(out, "Conversation and context cleared.")
			continue
		case input == "/sessions":
			ids, err := store.ListSessions(ctx)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			for _, id := range ids {
				marker := " "
				if id == sessionID {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\n", marker, id)
			}
			continue
		}

		lastInput = input
		response := runConfirmed(ctx, orch, confirmer, input, scanner, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch response.Type {
		case agent.ResponseSuccess:
			fmt.Fprintf(out, "\n%s\n\n", response.Result)
		case agent.ResponseFailure:
			fmt.Fprintf(out, "\nError: %s\n\n", response.Error)
		case agent.ResponseTimeout:
			fmt.Fprintf(out, "\n%s\n\n", response.PartialResult)
		}
		save()
	}

	return scanner.Err()
}

// runConfirmed runs one turn while serving write confirmations.
func runConfirmed(ctx context.Context, orch *agent.Orchestrator, confirmer *tools.Confirmer, input string, scanner *bufio.Scanner, out io.Writer) agent.Response {
	serveCtx, stop := context.WithCancel(ctx)
	served := make(chan struct{})
	go func() {
		defer close(served)
		confirmer.Serve(serveCtx, func(req tools.ConfirmRequest) bool {
			return askApproval(req, scanner, out)
		})
	}()

	response := orch.Run(ctx, input)
	stop()
	<-served
	return response
}

// askApproval shows the pending change and reads y/n. Anything but an
// explicit yes, including end of input, denies.
func askApproval(req tools.ConfirmRequest, scanner *bufio.Scanner, out io.Writer) bool {
	fmt.Fprintf(out, "\n%s wants to change %s:\n%s\n", req.Tool, req.Path, req.Diff)
	fmt.Fprint(out, "Apply? [y/N] ")
	if !scanner.Scan() {
		fmt.Fprintln(out)
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

// maxContextItems bounds the /context listing.
const maxContextItems = 5

// printContext shows the focus paths and the cached items that rank highest
// for the last request.
func printContext(out io.Writer, store *contextstore.Store, query string) {
	focus := store.Focus()
	if len(focus) > 0 {
		fmt.Fprintln(out, "Focus:")
		for _, f := range focus {
			fmt.Fprintf(out, "  [%s] %s\n", f.Tier, f.Path)
		}
	}

	items := store.Retrieve(query, maxContextItems)
	if len(items) == 0 {
		fmt.Fprintln(out, "Context is empty.")
		return
	}
	fmt.Fprintln(out, "Context:")
	for _, item := range items {
		note := ""
		if item.Truncated {
			note = ", truncated"
		}
		fmt.Fprintf(out, "  [%s] %s (%d tokens%s)\n", item.Tier, item.Source, item.Tokens, note)
	}
}

// ListTools prints the registry, including MCP tools when configured.
func ListTools(ctx context.Context, opts Options, out io.Writer) error {
	rt, err := NewRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)
	printTools(out, rt.Registry.List(), opts.Verbose)
	return nil
}

func printTools(out io.Writer, descriptors []tools.Descriptor, verbose bool) {
	fmt.Fprintln(out, "Available tools:")
	fmt.Fprintln(out)

	for _, d := range descriptors {
		fmt.Fprintf(out, "  %s%s\n", d.Name, capabilityTags(d.Capabilities))
		fmt.Fprintf(out, "    %s\n", d.Description)

		if verbose && len(d.Parameters) > 0 {
			fmt.Fprintln(out, "    Parameters:")
			for _, param := range d.Parameters {
				req := ""
				if param.Required {
					req = "*"
				}
				fmt.Fprintf(out, "      %s%s: %s - %s\n", param.Name, req, param.ParamType, param.Description)
			}
		}
		fmt.Fprintln(out)
	}
}

func capabilityTags(c tools.Capabilities) string {
	var tags []string
	if c.WritesFiles {
		tags = append(tags, "writes")
	}
	if c.ExecutesCommands {
		tags = append(tags, "exec")
	}
	if c.AccessesNetwork {
		tags = append(tags, "network")
	}
	if c.RequiresNativeEngine {
		tags = append(tags, "engine")
	}
	if len(tags) == 0 {
		return ""
	}
	return " [" + strings.Join(tags, ",") + "]"
}

// ServeMCP exposes the tool registry over MCP on stdio.
func ServeMCP(ctx context.Context, opts Options) error {
	rt, err := NewRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	server, err := mcp.NewServer(rt.Executor, rt.ToolCtx, rt.Logger)
	if err != nil {
		return err
	}
	return server.ServeStdio()
}

const maxStepTextLen = 400

func printSteps(out io.Writer, steps []agent.Step) {
	fmt.Fprintln(out, "--- Steps ---")
	for _, step := range steps {
		fmt.Fprintf(out, "[%d] %s\n", step.Iteration, truncateString(step.Text, maxStepTextLen))
		if len(step.Tools) > 0 {
			fmt.Fprintf(out, "    Tools: %s\n", strings.Join(step.Tools, ", "))
		}
	}
	fmt.Fprintln(out, "-------------")
	fmt.Fprintln(out)
}

func printDiagnostics(out io.Writer, r agent.Response) {
	d := r.Diagnostics
	if r.Intent.Kind != "" {
		fmt.Fprintf(out, "Intent: %s (%s)\n", r.Intent.Kind, r.Intent.Scope)
	}
	for i, step := range r.Plan {
		fmt.Fprintf(out, "  %d. %s\n", i+1, step)
	}
	for _, a := range d.Advisories {
		fmt.Fprintf(out, "Advisory: %s\n", a)
	}
	for _, l := range d.Loops {
		fmt.Fprintf(out, "Loop: %s\n", l)
	}
	if d.Escalated {
		fmt.Fprintf(out, "Escalated after %d failures\n", d.Failures)
	}
	fmt.Fprintln(out)
}

// printStats prints executor totals, this session's token usage, and the
// context store occupancy.
func printStats(out io.Writer, stats tools.Stats, orch *agent.Orchestrator, usage llm.TokenUsage) {
	fmt.Fprintln(out, "Tool calls:")
	fmt.Fprintf(out, "  Total: %d (ok %d, failed %d), avg %s\n",
		stats.TotalCalls, stats.SuccessCount, stats.ErrorCount, stats.AverageTime())

	names := make([]string, 0, len(stats.PerTool))
	for name := range stats.PerTool {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %s: %d\n", name, stats.PerTool[name])
	}
	for code, n := range stats.ErrorsByCode {
		fmt.Fprintf(out, "  error %s: %d\n", code, n)
	}

	fmt.Fprintln(out, "Token usage:")
	fmt.Fprintf(out, "  Prompt: %d, completion: %d, total: %d\n",
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)

	ctxUsage := orch.Store().UsageStats()
	fmt.Fprintln(out, "Context:")
	fmt.Fprintf(out, "  %d items, %d/%d tokens\n", ctxUsage.Items, ctxUsage.TotalTokens, ctxUsage.Budget)
	if len(ctxUsage.FilesUsed) > 0 {
		fmt.Fprintf(out, "  Used last turn: %s\n", strings.Join(ctxUsage.FilesUsed, ", "))
	}
}

// summarizeCalls renders per-tool counts, e.g. "read_file x2, glob".
func summarizeCalls(calls []model.ToolCall) string {
	names, counts := model.CountByName(calls)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name
		if counts[name] > 1 {
			parts[i] = fmt.Sprintf("%s x%d", name, counts[name])
		}
	}
	return strings.Join(parts, ", ")
}

// truncateString truncates a string to maxLen runes, preserving UTF-8 boundaries.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
