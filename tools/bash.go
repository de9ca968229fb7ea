// Shell tools over the process supervisor.
//
// Information Hiding:
// - Foreground and background execution behind one bash tool
// - Supervisor errors mapped to result codes
// - Optional command allowlist enforced before spawning

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/richinex/loom/process"
)

const (
	// DefaultBashTimeoutMs applies to foreground commands without a timeout.
	DefaultBashTimeoutMs = 120_000
	// MaxBashTimeoutMs is the largest accepted foreground timeout.
	MaxBashTimeoutMs = 600_000

	// bashGrace lets the supervisor report its own timeout, with captured
	// output, before the executor deadline fires.
	bashGrace = 5 * time.Second
)

// BashTool runs shell commands in the foreground or background.
type BashTool struct {
	supervisor      *process.Supervisor
	allowedCommands []string
}

// NewBashTool creates a bash tool backed by supervisor.
func NewBashTool(supervisor *process.Supervisor) *BashTool {
	return &BashTool{supervisor: supervisor}
}

// WithAllowedCommands restricts the first word of every command.
// An empty list allows everything.
func (t *BashTool) WithAllowedCommands(commands []string) *BashTool {
	t.allowedCommands = commands
	return t
}

// Descriptor returns the tool descriptor.
func (t *BashTool) Descriptor() Descriptor {
	params := []ToolParameter{
		{Name: "command", ParamType: "string", Description: "Shell command to run", Required: true},
		{Name: "timeout", ParamType: "integer", Description: fmt.Sprintf("Foreground timeout in milliseconds (default %d, max %d)", DefaultBashTimeoutMs, MaxBashTimeoutMs)},
		{Name: "run_in_background", ParamType: "boolean", Description: "Return a bash_id immediately; poll with bash_output"},
		{Name: "description", ParamType: "string", Description: "Short description of what the command does"},
	}
	return Descriptor{
		Name:         "bash",
		Description:  "Execute a shell command in the working directory",
		Parameters:   params,
		Capabilities: Capabilities{ExecutesCommands: true},
		Validator:    Validators(SchemaValidator(params), t.validateCommand),
	}
}

func (t *BashTool) validateCommand(args json.RawMessage) []string {
	p, err := decodeAs[BashParams](args)
	if err != nil {
		return nil
	}
	bp := p.(BashParams)

	var violations []string
	if bp.TimeoutMs < 0 || bp.TimeoutMs > MaxBashTimeoutMs {
		violations = append(violations, fmt.Sprintf("timeout must be between 0 and %d", MaxBashTimeoutMs))
	}
	if !t.isCommandAllowed(bp.Command) {
		violations = append(violations, fmt.Sprintf("command '%s' is not allowed", firstWord(bp.Command)))
	}
	return violations
}

func (t *BashTool) isCommandAllowed(command string) bool {
	if len(t.allowedCommands) == 0 {
		return true
	}
	base := firstWord(command)
	for _, allowed := range t.allowedCommands {
		if allowed == base {
			return true
		}
	}
	return false
}

func firstWord(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (p BashParams) timeout() time.Duration {
	ms := p.TimeoutMs
	if ms <= 0 {
		ms = DefaultBashTimeoutMs
	}
	return time.Duration(min(ms, MaxBashTimeoutMs)) * time.Millisecond
}

// CallTimeout widens the executor deadline to the command's own timeout.
func (t *BashTool) CallTimeout(params Params) time.Duration {
	p, ok := params.(BashParams)
	if !ok || p.RunInBackground {
		return 0
	}
	return p.timeout() + bashGrace
}

// BashData is the payload of a successful foreground command.
type BashData struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	Output   string `json:"output"`
}

// BashStarted is the payload of a background launch.
type BashStarted struct {
	BashID string         `json:"bash_id"`
	Status process.Status `json:"status"`
}

// Execute runs the command.
func (t *BashTool) Execute(ctx context.Context, params Params, tc *Context) Result {
	p, bad := paramsAs[BashParams](params)
	if bad != nil {
		return *bad
	}

	if p.RunInBackground {
		id, err := t.supervisor.Start(p.Command)
		if err != nil {
			return Failf(CodeExecution, "failed to start command: %v", err)
		}
		tc.logger().Info("bash started in background", "bash_id", id, "description", p.Description)
		return OK(BashStarted{BashID: id, Status: process.StatusRunning})
	}

	timeout := p.timeout()
	res, err := t.supervisor.Run(ctx, p.Command, timeout)
	details := map[string]any{"stdout": res.Stdout, "stderr": res.Stderr, "exitCode": res.ExitCode}
	switch {
	case errors.Is(err, process.ErrTimeout):
		details["timeoutMs"] = timeout.Milliseconds()
		return Failf(CodeTimeout, "command timed out after %s", timeout).WithDetails(details)
	case errors.Is(err, context.Canceled):
		return Fail(CodeUserCancelled, "command cancelled").WithDetails(details)
	case err != nil:
		return Failf(CodeExecution, "failed to execute command: %v", err)
	case res.ExitCode != 0:
		return Failf(CodeCommandFailed, "command failed with exit code %d", res.ExitCode).WithDetails(details)
	}

	return OK(BashData{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Output:   res.Output,
	}).WithSnippet("bash: "+p.Command, res.Output)
}

// BashOutputTool reads incremental output of a background command.
type BashOutputTool struct {
	supervisor *process.Supervisor
}

// NewBashOutputTool creates a bash_output tool.
func NewBashOutputTool(supervisor *process.Supervisor) *BashOutputTool {
	return &BashOutputTool{supervisor: supervisor}
}

var bashIDParam = ToolParameter{Name: "bash_id", ParamType: "string", Description: "Id returned by a background bash call", Required: true}

// Descriptor returns the tool descriptor.
func (t *BashOutputTool) Descriptor() Descriptor {
	params := []ToolParameter{bashIDParam}
	return Descriptor{
		Name:         "bash_output",
		Description:  "Read output produced by a background command since the last read",
		Parameters:   params,
		Capabilities: Capabilities{ExecutesCommands: true},
		Validator:    SchemaValidator(params),
	}
}

// Execute reads the output.
func (t *BashOutputTool) Execute(ctx context.Context, params Params, tc *Context) Result {
	p, bad := paramsAs[BashOutputParams](params)
	if bad != nil {
		return *bad
	}
	out, err := t.supervisor.Read(p.BashID)
	if err != nil {
		return supervisorFailure(err, p.BashID)
	}
	return OK(out)
}

// KillBashTool terminates a background command.
type KillBashTool struct {
	supervisor *process.Supervisor
}

// NewKillBashTool creates a kill_bash tool.
func NewKillBashTool(supervisor *process.Supervisor) *KillBashTool {
	return &KillBashTool{supervisor: supervisor}
}

// Descriptor returns the tool descriptor.
func (t *KillBashTool) Descriptor() Descriptor {
	params := []ToolParameter{bashIDParam}
	return Descriptor{
		Name:         "kill_bash",
		Description:  "Terminate a background command; succeeds if it already stopped",
		Parameters:   params,
		Capabilities: Capabilities{ExecutesCommands: true, Idempotent: true},
		Validator:    SchemaValidator(params),
	}
}

// KillBashData is the payload of a kill.
type KillBashData struct {
	process.KillResult
	Message string `json:"message"`
}

// Execute kills the process.
func (t *KillBashTool) Execute(ctx context.Context, params Params, tc *Context) Result {
	p, bad := paramsAs[KillBashParams](params)
	if bad != nil {
		return *bad
	}
	res, err := t.supervisor.Kill(p.BashID)
	if err != nil {
		return supervisorFailure(err, p.BashID)
	}

	msg := fmt.Sprintf("%s killed", p.BashID)
	if res.PriorStatus.Terminal() {
		msg = fmt.Sprintf("%s already %s", p.BashID, res.PriorStatus)
	}
	return OK(KillBashData{KillResult: res, Message: msg})
}

func supervisorFailure(err error, id string) Result {
	if errors.Is(err, process.ErrNotFound) {
		return Failf(CodeBashNotFound, "no background command with id %s", id)
	}
	return Failf(CodeExecution, "%s: %v", id, err)
}
