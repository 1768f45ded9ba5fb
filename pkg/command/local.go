package command

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// LocalExecutor runs commands on the machine hosting the process.
type LocalExecutor struct{}

func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{}
}

func (e *LocalExecutor) Host() string {
	return "local"
}

func (e *LocalExecutor) Run(ctx context.Context, command string) (*Result, error) {
	log.Debug().Str("host", e.Host()).Str("command", command).Msg("executing command")

	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, errors.Wrapf(err, "unable to run command: %s", command)
	}

	return result, nil
}
