package executor

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"rat/internal/job"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := os.Stat(DefaultShell); err != nil {
		t.Skipf("%s not available: %v", DefaultShell, err)
	}
}

func TestRunCapturesOutput(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)
	tests := []struct {
		name       string
		script     string
		wantStatus int
		wantOut    string
		wantErr    string
	}{
		{name: "echo", script: "echo hi", wantStatus: 0, wantOut: "hi\n"},
		{name: "stderr", script: "echo oops >&2; exit 3", wantStatus: 3, wantErr: "oops\n"},
		{name: "silent", script: "true", wantStatus: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := New("").Run(tt.script, t.TempDir())
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if out.Status == nil || *out.Status != tt.wantStatus {
				t.Fatalf("Status = %v, want %d", out.Status, tt.wantStatus)
			}
			if out.Stdout != tt.wantOut {
				t.Fatalf("Stdout = %q, want %q", out.Stdout, tt.wantOut)
			}
			if out.Stderr != tt.wantErr {
				t.Fatalf("Stderr = %q, want %q", out.Stderr, tt.wantErr)
			}
		})
	}
}

func TestRunUsesWorkingDirectory(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	out, err := New(DefaultShell).Run("ls marker", dir)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Stdout != "marker\n" {
		t.Fatalf("Stdout = %q, want %q", out.Stdout, "marker\n")
	}
}

func TestRunSignaledHasNoStatus(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)
	out, err := New("").Run("kill -9 $$", t.TempDir())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != nil {
		t.Fatalf("Status = %d, want nil for a signaled process", *out.Status)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	_, err := New("").Run("true", missing)
	var ee *job.ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("Run() error = %v, want *job.ExecutionError", err)
	}
	if ee.Dir != missing {
		t.Fatalf("ExecutionError.Dir = %q, want %q", ee.Dir, missing)
	}

	_, err = New("/no/such/shell").Run("true", t.TempDir())
	if !job.IsExecution(err) {
		t.Fatalf("Run() with missing shell error = %v, want ExecutionError", err)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)
	dir := t.TempDir()
	if err := New("").Check("true", dir); err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if err := New("").Check("true", filepath.Join(dir, "gone")); !job.IsExecution(err) {
		t.Fatalf("Check() missing dir error = %v, want ExecutionError", err)
	}
	if err := New("/no/such/shell").Check("true", dir); !job.IsExecution(err) {
		t.Fatalf("Check() missing shell error = %v, want ExecutionError", err)
	}
}
