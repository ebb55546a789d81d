package job

import (
	"errors"
	"strings"
	"time"
)

// Job is a scheduled shell command.
type Job struct {
	ID     int64
	Name   string // optional, display only
	Script string
	RunAt  time.Time // UTC
	Cwd    []byte    // raw path bytes, see PathToBytes
	State  State
}

// Dir returns the working directory as a path.
func (j Job) Dir() string { return BytesToPath(j.Cwd) }

// Label is Name when set, otherwise the script.
func (j Job) Label() string {
	if strings.TrimSpace(j.Name) != "" {
		return j.Name
	}
	return j.Script
}

// Result is the outcome of one execution of a job.
type Result struct {
	ID     int64
	JobID  int64
	Status *int // nil when the process was terminated by a signal
	Stdout string
	Stderr string
}

// Success reports a zero exit status.
func (r Result) Success() bool { return r.Status != nil && *r.Status == 0 }

type Option func(*Job)

func WithName(name string) Option {
	return func(j *Job) { j.Name = strings.TrimSpace(name) }
}

// New builds a queued job after validating its required fields.
func New(script string, runAt time.Time, cwd string, opts ...Option) (Job, error) {
	if strings.TrimSpace(script) == "" {
		return Job{}, errors.New("job: script is required")
	}
	if runAt.IsZero() {
		return Job{}, errors.New("job: run_at is required")
	}
	if strings.TrimSpace(cwd) == "" {
		return Job{}, errors.New("job: cwd is required")
	}
	j := Job{
		Script: script,
		RunAt:  runAt.UTC(),
		Cwd:    PathToBytes(cwd),
		State:  StateQueued,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&j)
		}
	}
	return j, nil
}
