package docker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// result is the raw outcome of one CLI invocation.
type result struct {
	stdout   string
	stderr   string
	exitCode int
}

// runFunc executes binary with args. extraEnv is appended to the current
// process environment. A non-zero exit is reported in result, not as error;
// the error is reserved for processes that could not run to completion.
type runFunc func(ctx context.Context, extraEnv []string, binary string, args ...string) (result, error)

func execRun(ctx context.Context, extraEnv []string, binary string, args ...string) (result, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec // G204: args are constructed internally from validated names
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := result{stdout: stdout.String(), stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		res.exitCode = exitErr.ExitCode()
		return res, nil
	}
	res.exitCode = -1
	return res, err
}
