package command

import (
	"context"
	"strings"
)

// Result is the captured outcome of a single command invocation. A non-zero
// exit code is a result, not a Go error; a Go error means the command could
// not be run at all.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (r *Result) Ok() bool {
	return r.ExitCode == 0
}

// Executor runs a shell command on a target machine and captures its output.
// Calls are synchronous; a hung command hangs the caller unless the context
// is cancelled.
type Executor interface {
	Run(ctx context.Context, command string) (*Result, error)
	Host() string
}

// shellQuote wraps s in single quotes so it survives one level of shell
// evaluation unchanged.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
