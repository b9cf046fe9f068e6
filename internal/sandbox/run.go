package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for output pipes once the interpreter
// has exited or been killed.
const waitDelay = 2 * time.Second

// RunResult is the captured outcome of a script execution. A non-zero exit
// status is reported here rather than as an error.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Timeout  time.Duration
}

func (r RunResult) String() string {
	var parts []string
	if r.Stdout != "" {
		parts = append(parts, "STDOUT:\n"+r.Stdout)
	}
	if r.Stderr != "" {
		parts = append(parts, "STDERR:\n"+r.Stderr)
	}
	if r.TimedOut {
		parts = append(parts, fmt.Sprintf("Process timed out after %s", r.Timeout))
	} else if r.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("Process exited with code %d", r.ExitCode))
	}
	if len(parts) == 0 {
		return "No output produced."
	}
	return strings.Join(parts, "\n")
}

// Run executes the script at rel with the configured interpreter, using the
// sandbox root as working directory.
func (f *FS) Run(ctx context.Context, rel string, args []string) (RunResult, error) {
	path, err := f.within("execute", rel)
	if err != nil {
		return RunResult{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RunResult{}, fmt.Errorf("%q: %w", rel, ErrNotFound)
		}
		return RunResult{}, fmt.Errorf("stat %q: %w", rel, err)
	}
	if !info.Mode().IsRegular() {
		return RunResult{}, fmt.Errorf("%q: %w", rel, ErrNotFile)
	}
	if !strings.EqualFold(filepath.Ext(path), ScriptExt) {
		return RunResult{}, fmt.Errorf("%q: %w", rel, ErrNotScript)
	}

	execCtx, cancel := context.WithTimeout(ctx, f.execTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, f.interpreter, append([]string{path}, args...)...)
	cmd.Dir = f.root
	cmd.WaitDelay = waitDelay
	startInGroup(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := RunResult{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Timeout: f.execTimeout,
	}
	if runErr == nil {
		return res, nil
	}
	if errors.Is(runErr, exec.ErrWaitDelay) {
		// exited cleanly, but a leftover child held the pipes open
		_ = killGroup(cmd)
		return res, nil
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("executing Python file %q: %w", rel, runErr)
}
