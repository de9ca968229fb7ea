// Intent classification and coarse planning.
//
// Information Hiding:
// - Keyword tables hidden behind the Classifier interface
// - Plan templates hidden behind the Planner interface

package agent

import (
	"regexp"
	"strings"
)

// IntentKind is what the user is asking for.
type IntentKind string

const (
	IntentQuestion IntentKind = "question"
	IntentExplore  IntentKind = "explore"
	IntentEdit     IntentKind = "edit"
	IntentDebug    IntentKind = "debug"
	IntentCommand  IntentKind = "command"
)

// Scope is how much of the codebase a request is likely to touch.
type Scope string

const (
	ScopeNarrow Scope = "narrow"
	ScopeBroad  Scope = "broad"
)

// Intent is a classification result. It feeds logging and planning only.
type Intent struct {
	Kind  IntentKind `json:"kind"`
	Scope Scope      `json:"scope"`
	Files []string   `json:"files,omitempty"`
}

// Classifier labels a request.
type Classifier interface {
	Classify(request string) Intent
}

// Planner turns a broad request into informational steps.
type Planner interface {
	Plan(request string, intent Intent) []string
}

// KeywordClassifier matches request words against fixed keyword lists.
type KeywordClassifier struct{}

var (
	kindKeywords = []struct {
		kind  IntentKind
		words []string
	}{
		{IntentDebug, []string{"fix", "bug", "error", "fail", "failing", "crash", "broken", "panic", "debug"}},
		{IntentEdit, []string{"add", "implement", "change", "refactor", "rename", "update", "remove", "write", "create"}},
		{IntentCommand, []string{"run", "build", "test", "install", "deploy", "execute"}},
		{IntentExplore, []string{"find", "where", "list", "show", "search", "overview", "structure"}},
	}

	broadWords = []string{"all", "every", "entire", "whole", "across", "codebase", "project", "repository", "everywhere", "architecture"}

	fileRef = regexp.MustCompile(`[\w./-]+\.[A-Za-z]{1,6}\b`)
)

// Classify picks the first kind whose keywords appear; requests naming no
// file or using a broad word are broad.
func (KeywordClassifier) Classify(request string) Intent {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(request), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		words[w] = true
	}

	intent := Intent{Kind: IntentQuestion, Scope: ScopeNarrow}
	for _, k := range kindKeywords {
		if containsAny(words, k.words) {
			intent.Kind = k.kind
			break
		}
	}

	intent.Files = fileRef.FindAllString(request, -1)
	if containsAny(words, broadWords) || (len(intent.Files) == 0 && intent.Kind != IntentQuestion) {
		intent.Scope = ScopeBroad
	}
	return intent
}

func containsAny(words map[string]bool, list []string) bool {
	for _, w := range list {
		if words[w] {
			return true
		}
	}
	return false
}

// TemplatePlanner returns a fixed step list per intent kind.
type TemplatePlanner struct{}

var planTemplates = map[IntentKind][]string{
	IntentDebug: {
		"Reproduce the failure and capture the error output",
		"Locate the code path named in the error",
		"Apply the smallest fix",
		"Re-run the failing command to confirm",
	},
	IntentEdit: {
		"Map the relevant part of the codebase",
		"Read the files that will change",
		"Make the edits",
		"Build or test to verify",
	},
	IntentCommand: {
		"Run the command",
		"Inspect the output",
		"Report the result",
	},
	IntentExplore: {
		"Get a codebase map",
		"Search for the named symbols",
		"Read the most relevant files",
		"Summarize the findings",
	},
	IntentQuestion: {
		"Search for the relevant code",
		"Read it",
		"Answer",
	},
}

// Plan returns the template for intent.Kind.
func (TemplatePlanner) Plan(_ string, intent Intent) []string {
	steps := planTemplates[intent.Kind]
	return append([]string(nil), steps...)
}
