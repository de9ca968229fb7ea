package tools

import (
	"time"

	"github.com/richinex/loom/process"
)

// BuiltinOptions tunes the standard tool set.
type BuiltinOptions struct {
	MaxFileSize     int64
	AllowedCommands []string
	AllowedDomains  []string
	HTTPTimeout     time.Duration
}

// Builtins returns the standard tool set. The shell tools share supervisor.
func Builtins(supervisor *process.Supervisor, opts BuiltinOptions) []Tool {
	httpTimeout := opts.HTTPTimeout
	if httpTimeout <= 0 {
		httpTimeout = DefaultTimeout
	}
	return []Tool{
		NewReadFileTool(opts.MaxFileSize),
		NewWriteFileTool(),
		NewEditFileTool(),
		NewListDirectoryTool(),
		NewGlobTool(0),
		NewSearchCodeTool(),
		NewCodebaseMapTool(),
		NewBashTool(supervisor).WithAllowedCommands(opts.AllowedCommands),
		NewBashOutputTool(supervisor),
		NewKillBashTool(supervisor),
		NewHTTPTool(httpTimeout).WithAllowedDomains(opts.AllowedDomains),
	}
}

// RegisterBuiltins registers the standard tool set into r.
func RegisterBuiltins(r *Registry, supervisor *process.Supervisor, opts BuiltinOptions) error {
	return r.RegisterAll(Builtins(supervisor, opts)...)
}
