// Package recovery watches one turn's tool calls for unproductive patterns.
//
// Information Hiding:
// - Salient-target extraction from raw arguments hidden
// - Loop heuristics and thresholds hidden
// - Alternative-tool table hidden
package recovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultRepeatThreshold is how many identical calls count as no progress.
	DefaultRepeatThreshold = 3
	// DefaultFailureThreshold is how many failures trigger escalation.
	DefaultFailureThreshold = 3

	// window is how many recent actions alternation detection considers.
	// No-progress counting looks back at least this far.
	window = 5
)

// salientKeys are checked in order to name what a call operates on.
var salientKeys = []string{"path", "file_path", "pattern", "query", "command", "bash_id", "url", "directory"}

// Action is one recorded tool call.
type Action struct {
	Tool   string
	Params json.RawMessage
	Target string
	At     time.Time
}

// Failure is one failed call.
type Failure struct {
	Action  Action
	Kind    string
	Message string
}

// LoopKind names a detected pattern.
type LoopKind string

const (
	LoopNone        LoopKind = ""
	LoopNoProgress  LoopKind = "no_progress"
	LoopAlternation LoopKind = "alternation"
)

// Loop describes what DetectLoop found.
type Loop struct {
	Kind   LoopKind
	Tools  []string
	Target string
	Count  int
}

// Detected reports whether any pattern was found.
func (l Loop) Detected() bool {
	return l.Kind != LoopNone
}

func (l Loop) String() string {
	switch l.Kind {
	case LoopNoProgress:
		return fmt.Sprintf("%s called %d times on %q without progress", l.Tools[0], l.Count, l.Target)
	case LoopAlternation:
		return fmt.Sprintf("alternating between %s and %s", l.Tools[0], l.Tools[1])
	default:
		return "no loop"
	}
}

// Suggestion is an alternative tool to try.
type Suggestion struct {
	Tool   string
	Reason string
}

var alternatives = map[string]Suggestion{
	"read_file":        {Tool: "search_code", Reason: "search for the symbol instead of re-reading the same file"},
	"search_code":      {Tool: "get_codebase_map", Reason: "get an overview of where things are declared"},
	"glob":             {Tool: "list_directory", Reason: "inspect the directory layout directly"},
	"list_directory":   {Tool: "glob", Reason: "match files by pattern across the tree"},
	"bash":             {Tool: "read_file", Reason: "read the relevant file instead of re-running the command"},
	"bash_output":      {Tool: "kill_bash", Reason: "stop the background command if it is stuck"},
	"write_file":       {Tool: "read_file", Reason: "check the current file content before writing again"},
	"edit_file":        {Tool: "read_file", Reason: "re-read the file so old_string matches exactly"},
	"get_codebase_map": {Tool: "read_file", Reason: "open a specific file from the map"},
	"http_request":     {Tool: "search_code", Reason: "look for the answer in the local code first"},
}

// Tracker records actions and failures for one turn. It is safe for
// concurrent use.
type Tracker struct {
	repeatThreshold  int
	failureThreshold int

	mu       sync.Mutex
	actions  []Action
	failures []Failure
}

// NewTracker creates a tracker; non-positive thresholds take defaults.
func NewTracker(repeatThreshold, failureThreshold int) *Tracker {
	if repeatThreshold <= 0 {
		repeatThreshold = DefaultRepeatThreshold
	}
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	return &Tracker{repeatThreshold: repeatThreshold, failureThreshold: failureThreshold}
}

// RecordAction appends a call and returns it with its salient target.
func (t *Tracker) RecordAction(tool string, params json.RawMessage) Action {
	a := Action{Tool: tool, Params: params, Target: Target(params), At: time.Now()}
	t.mu.Lock()
	t.actions = append(t.actions, a)
	t.mu.Unlock()
	return a
}

// RecordFailure appends a failure of action.
func (t *Tracker) RecordFailure(action Action, kind, message string) {
	t.mu.Lock()
	t.failures = append(t.failures, Failure{Action: action, Kind: kind, Message: message})
	t.mu.Unlock()
}

// Target returns the argument that identifies what a call operates on: the
// first salient key present, else the compacted arguments.
func Target(params json.RawMessage) string {
	var fields map[string]any
	if err := json.Unmarshal(params, &fields); err == nil {
		for _, k := range salientKeys {
			if v, ok := fields[k]; ok && v != nil {
				return fmt.Sprint(v)
			}
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, params); err != nil {
		return string(params)
	}
	return buf.String()
}

// DetectLoop inspects the most recent actions. No progress wins over
// alternation when both apply.
func (t *Tracker) DetectLoop() Loop {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.actions)
	if n == 0 {
		return Loop{}
	}
	// The repeat span grows with the threshold so any threshold can fire.
	span := t.actions[max(0, n-max(window, t.repeatThreshold)):]
	last := span[len(span)-1]

	count := 0
	for _, a := range span {
		if a.Tool == last.Tool && a.Target == last.Target {
			count++
		}
	}
	if count >= t.repeatThreshold {
		return Loop{Kind: LoopNoProgress, Tools: []string{last.Tool}, Target: last.Target, Count: count}
	}

	if n >= window {
		recent := t.actions[n-window:]
		x, y := recent[0].Tool, recent[1].Tool
		if x != y && recent[2].Tool == x && recent[3].Tool == y && recent[4].Tool == x {
			return Loop{Kind: LoopAlternation, Tools: []string{x, y}, Count: window}
		}
	}
	return Loop{}
}

// SuggestAlternative maps the last tool used to a complementary one.
func (t *Tracker) SuggestAlternative() (Suggestion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.actions) == 0 {
		return Suggestion{}, false
	}
	s, ok := alternatives[t.actions[len(t.actions)-1].Tool]
	return s, ok
}

// ShouldAskUser reports whether failures have reached the threshold.
func (t *Tracker) ShouldAskUser() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failures) >= t.failureThreshold
}

// Actions returns a copy of the recorded actions.
func (t *Tracker) Actions() []Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Action(nil), t.actions...)
}

// Failures returns a copy of the recorded failures.
func (t *Tracker) Failures() []Failure {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Failure(nil), t.failures...)
}

// ClearHistory forgets everything; called at the start of each turn.
func (t *Tracker) ClearHistory() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions = nil
	t.failures = nil
}
