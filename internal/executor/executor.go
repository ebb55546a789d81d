// Package executor runs a job's script in a shell and captures its output.
package executor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"rat/internal/job"
)

// DefaultShell is used when Shell.Path is empty.
const DefaultShell = "/bin/sh"

// Output is what a finished process left behind.
type Output struct {
	Status   *int // nil when terminated by a signal
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Result converts o into a job result for jobID.
func (o Output) Result(jobID int64) job.Result {
	return job.Result{JobID: jobID, Status: o.Status, Stdout: o.Stdout, Stderr: o.Stderr}
}

// Shell runs scripts as `<Path> -c <script>`.
//
// There is no timeout and no way to interrupt a script once started; Run
// blocks until the process exits.
type Shell struct {
	Path string
}

func New(shell string) *Shell {
	return &Shell{Path: strings.TrimSpace(shell)}
}

func (s *Shell) path() string {
	if s != nil && s.Path != "" {
		return s.Path
	}
	return DefaultShell
}

// Check reports, as *job.ExecutionError, the spawn failures that can be
// detected without starting anything: a missing shell or working directory.
// The scheduler calls it while the job is still Dequeued so such a job goes
// back to the queue instead of being stranded in Running.
func (s *Shell) Check(script, dir string) error {
	if _, err := exec.LookPath(s.path()); err != nil {
		return &job.ExecutionError{Script: script, Dir: dir, Err: err}
	}
	st, err := os.Stat(dir)
	if err == nil && !st.IsDir() {
		err = fmt.Errorf("%s: not a directory", dir)
	}
	if err != nil {
		return &job.ExecutionError{Script: script, Dir: dir, Err: err}
	}
	return nil
}

// Run executes script with working directory dir. A non-zero exit is not an
// error; only a failure to start the process is, reported as
// *job.ExecutionError.
func (s *Shell) Run(script, dir string) (Output, error) {
	cmd := exec.Command(s.path(), "-c", script)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Output{}, &job.ExecutionError{Script: script, Dir: dir, Err: err}
	}
	err := cmd.Wait()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Wait failed for a reason other than the exit status (e.g. copying
		// output); the process did run, so keep what was captured.
		out.Stderr += err.Error()
	}
	if code := cmd.ProcessState.ExitCode(); code >= 0 {
		out.Status = &code
	}
	return out, nil
}
