package command

import (
	"context"
	"fmt"
)

// NamespaceExecutor runs commands inside a named network namespace, which
// stands in for a separate emulated host.
type NamespaceExecutor struct {
	name  string
	local *LocalExecutor
}

func NewNamespaceExecutor(name string) *NamespaceExecutor {
	return &NamespaceExecutor{
		name:  name,
		local: NewLocalExecutor(),
	}
}

func (e *NamespaceExecutor) Host() string {
	return e.name
}

func (e *NamespaceExecutor) Run(ctx context.Context, command string) (*Result, error) {
	wrapped := fmt.Sprintf("ip netns exec %s sh -c %s", e.name, shellQuote(command))
	return e.local.Run(ctx, wrapped)
}
