// Package json recovers JSON objects from model output.
//
// Providers return tool-call arguments as strings. Most are clean JSON, but
// some models wrap them in markdown fences, prefix commentary, or send an
// empty string for parameterless calls. This package turns all of those into
// a JSON object the tool layer can decode.
package json

import (
	"encoding/json"
	"fmt"
	"strings"
)

// emptyObject is used for calls that carry no arguments.
var emptyObject = json.RawMessage(`{}`)

// ExtractObject finds the JSON object in s. It accepts:
//  1. a bare object
//  2. an object inside a ```json fenced block
//  3. an object embedded in prose, delimited by the first '{' and last '}'
func ExtractObject(s string) (json.RawMessage, error) {
	s = stripFences(s)

	if isObject(s) {
		return json.RawMessage(s), nil
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		candidate := s[start : end+1]
		if isObject(candidate) {
			return json.RawMessage(candidate), nil
		}
	}

	preview := s
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return nil, fmt.Errorf("no JSON object in %q", preview)
}

// NormalizeArguments returns raw as a JSON object. Blank input becomes {}.
// Input that cannot be recovered is returned unchanged so that the schema
// validator reports it to the model.
func NormalizeArguments(raw string) json.RawMessage {
	if strings.TrimSpace(raw) == "" {
		return emptyObject
	}
	obj, err := ExtractObject(raw)
	if err != nil {
		return json.RawMessage(raw)
	}
	return obj
}

// Decode extracts an object from s and unmarshals it into a T.
func Decode[T any](s string) (T, error) {
	var out T
	obj, err := ExtractObject(s)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(obj, &out); err != nil {
		return out, fmt.Errorf("decode object: %w", err)
	}
	return out, nil
}

func isObject(s string) bool {
	var m map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &m) == nil && m != nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(s)
	}
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
