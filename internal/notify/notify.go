// Package notify reports finished jobs to an external channel.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"rat/internal/job"
)

// Notifier is told about every job that reached Done. Implementations must
// not block for long: the scheduler loop calls them inline.
type Notifier interface {
	JobFinished(ctx context.Context, j job.Job, r job.Result) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) JobFinished(context.Context, job.Job, job.Result) error { return nil }

// Switch forwards to a Notifier that can be replaced at runtime (config
// reload). The zero value forwards to Nop.
type Switch struct {
	mu sync.RWMutex
	n  Notifier
}

func (s *Switch) Set(n Notifier) {
	s.mu.Lock()
	s.n = n
	s.mu.Unlock()
}

func (s *Switch) JobFinished(ctx context.Context, j job.Job, r job.Result) error {
	s.mu.RLock()
	n := s.n
	s.mu.RUnlock()
	if n == nil {
		return nil
	}
	return n.JobFinished(ctx, j, r)
}

const maxTail = 1500

// FormatMessage renders a short plain-text summary of a finished job.
func FormatMessage(j job.Job, r job.Result) string {
	var b strings.Builder
	status := "signal"
	if r.Status != nil {
		status = fmt.Sprintf("exit=%d", *r.Status)
	}
	mark := "FAIL"
	if r.Success() {
		mark = "OK"
	}
	fmt.Fprintf(&b, "[rat] %s job %d", mark, j.ID)
	if name := strings.TrimSpace(j.Name); name != "" {
		fmt.Fprintf(&b, " (%s)", name)
	}
	fmt.Fprintf(&b, " %s\n$ %s", status, truncate(j.Script, 300))
	if out := strings.TrimSpace(r.Stdout); out != "" {
		b.WriteString("\n--- stdout\n")
		b.WriteString(tail(out, maxTail))
	}
	if errOut := strings.TrimSpace(r.Stderr); errOut != "" {
		b.WriteString("\n--- stderr\n")
		b.WriteString(tail(errOut, maxTail))
	}
	return b.String()
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}

func tail(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	return "..." + s[len(s)-(maxN-3):]
}
