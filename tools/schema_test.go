package tools

import (
	"encoding/json"
	"testing"
)

func TestSchemaValidator(t *testing.T) {
	params := []ToolParameter{
		{Name: "path", ParamType: "string", Required: true},
		{Name: "limit", ParamType: "integer"},
		{Name: "ratio", ParamType: "number"},
		{Name: "all", ParamType: "boolean"},
		{Name: "ignore", ParamType: "array"},
	}
	validate := SchemaValidator(params)

	tests := []struct {
		name       string
		args       string
		violations int
	}{
		{name: "minimal valid", args: `{"path":"a"}`, violations: 0},
		{name: "all valid", args: `{"path":"a","limit":3,"ratio":0.5,"all":true,"ignore":["*.md"]}`, violations: 0},
		{name: "empty input", args: ``, violations: 1},
		{name: "not an object", args: `[1,2]`, violations: 1},
		{name: "missing required", args: `{"limit":3}`, violations: 1},
		{name: "null required", args: `{"path":null}`, violations: 1},
		{name: "fractional integer", args: `{"path":"a","limit":1.5}`, violations: 1},
		{name: "several problems", args: `{"path":"","all":"yes","ignore":"x"}`, violations: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := validate(json.RawMessage(tt.args))
			if len(got) != tt.violations {
				t.Errorf("violations = %v, want %d", got, tt.violations)
			}
		})
	}
}

func TestDecodeParams(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		args    string
		want    Params
		wantErr bool
	}{
		{name: "read_file", tool: "read_file", args: `{"path":"a.go","offset":2}`, want: ReadFileParams{Path: "a.go", Offset: 2}},
		{name: "bash background", tool: "bash", args: `{"command":"ls","run_in_background":true}`, want: BashParams{Command: "ls", RunInBackground: true}},
		{name: "kill_bash", tool: "kill_bash", args: `{"bash_id":"bash_1"}`, want: KillBashParams{BashID: "bash_1"}},
		{name: "empty args", tool: "get_codebase_map", args: ``, want: CodebaseMapParams{}},
		{name: "bad type", tool: "glob", args: `{"pattern":1}`, wantErr: true},
		{name: "unknown tool", tool: "mcp_thing", args: `{"x":1}`, want: RawParams{Tool: "mcp_thing", Args: json.RawMessage(`{"x":1}`)}},
		{name: "unknown tool invalid json", tool: "mcp_thing", args: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeParams(tt.tool, json.RawMessage(tt.args))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if raw, ok := tt.want.(RawParams); ok {
				gotRaw, ok := got.(RawParams)
				if !ok || gotRaw.Tool != raw.Tool || string(gotRaw.Args) != string(raw.Args) {
					t.Errorf("got %#v, want %#v", got, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}
