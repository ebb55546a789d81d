package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"rat/internal/job"
	logx "rat/pkg/logx"
)

func TestFormatMessage(t *testing.T) {
	zero := 0
	msg := FormatMessage(
		job.Job{ID: 3, Name: "backup", Script: "tar czf x.tgz ."},
		job.Result{Status: &zero, Stdout: "done\n"},
	)
	for _, want := range []string{"[rat] OK job 3 (backup) exit=0", "$ tar czf x.tgz .", "--- stdout\ndone"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("FormatMessage() = %q, missing %q", msg, want)
		}
	}
	if strings.Contains(msg, "stderr") {
		t.Fatalf("empty stderr should be omitted: %q", msg)
	}

	msg = FormatMessage(job.Job{ID: 4, Script: "sleep 1000"}, job.Result{Stderr: "Killed"})
	if !strings.Contains(msg, "FAIL job 4 signal") {
		t.Fatalf("FormatMessage() for signaled job = %q", msg)
	}
}

func TestTailKeepsEnd(t *testing.T) {
	got := tail(strings.Repeat("a", 50)+"END", 20)
	if len(got) != 20 || !strings.HasSuffix(got, "END") || !strings.HasPrefix(got, "...") {
		t.Fatalf("tail() = %q", got)
	}
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recordingNotifier) JobFinished(_ context.Context, j job.Job, _ job.Result) error {
	r.mu.Lock()
	r.ids = append(r.ids, j.ID)
	r.mu.Unlock()
	return nil
}

func TestSwitch(t *testing.T) {
	var s Switch
	if err := s.JobFinished(context.Background(), job.Job{ID: 1}, job.Result{}); err != nil {
		t.Fatalf("zero Switch error: %v", err)
	}
	rec := &recordingNotifier{}
	s.Set(rec)
	_ = s.JobFinished(context.Background(), job.Job{ID: 2}, job.Result{})
	s.Set(Nop{})
	_ = s.JobFinished(context.Background(), job.Job{ID: 3}, job.Result{})
	if len(rec.ids) != 1 || rec.ids[0] != 2 {
		t.Fatalf("recorded ids = %v, want [2]", rec.ids)
	}
}

func TestNewTelegramValidates(t *testing.T) {
	if _, err := NewTelegram(TelegramConfig{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := NewTelegram(TelegramConfig{Token: "t"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing chat id")
	}
}

func TestTelegramSends(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		vals := parseBody(r.Header.Get("Content-Type"), body)
		mu.Lock()
		calls = append(calls, vals)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"x"}}`)
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: 42, RatePerSec: 1, OnlyFailures: true, URL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("NewTelegram() error: %v", err)
	}
	zero, one := 0, 1
	ctx := context.Background()
	if err := tg.JobFinished(ctx, job.Job{ID: 1, Script: "true"}, job.Result{Status: &zero}); err != nil {
		t.Fatalf("JobFinished(success) error: %v", err)
	}
	if err := tg.JobFinished(ctx, job.Job{ID: 2, Script: "false"}, job.Result{Status: &one}); err != nil {
		t.Fatalf("JobFinished(failure) error: %v", err)
	}
	// Burst of 1: the next one is dropped, not queued.
	if err := tg.JobFinished(ctx, job.Job{ID: 3, Script: "false"}, job.Result{Status: &one}); err != nil {
		t.Fatalf("JobFinished(rate limited) error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("sendMessage calls = %d, want 1", len(calls))
	}
	if got := calls[0].Get("text"); !strings.Contains(got, "FAIL job 2") {
		t.Fatalf("sent text = %q", got)
	}
}

func parseBody(contentType string, body []byte) url.Values {
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		v, _ := url.ParseQuery(string(body))
		return v
	}
	var fields map[string]any
	_ = json.Unmarshal(body, &fields)
	v := url.Values{}
	for k, raw := range fields {
		if s, ok := raw.(string); ok {
			v.Set(k, s)
		}
	}
	return v
}
