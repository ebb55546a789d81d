// Package runat parses the run_at argument of `rat add` into an absolute
// UTC time.
package runat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind describes which form a run_at string used.
type Kind int

const (
	KindAbsolute Kind = iota
	KindNow
	KindRelative
	KindClock
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindAbsolute:
		return "absolute"
	case KindNow:
		return "now"
	case KindRelative:
		return "relative"
	case KindClock:
		return "clock"
	case KindCron:
		return "cron"
	default:
		return "unknown"
	}
}

// Parsed is a resolved run_at.
type Parsed struct {
	At   time.Time // UTC
	Kind Kind
}

// Supported forms:
//   - Absolute: RFC3339 ("2025-01-02T15:04:05+07:00"), "2025-01-02 15:04[:05]",
//     "2025-01-02" (midnight). Values without a zone are read in loc.
//   - "now"
//   - Relative: "+90s", "+1h30m", "in:10m", "in 10m"
//   - Clock "HH:MM": next occurrence in loc (today if still ahead, else tomorrow)
//   - Cron: "cron:<expr>", a 5/6-field expression or a descriptor such as
//     "@hourly"; resolves to the next fire time after now.
//
// loc defaults to time.Local.
type Parser struct {
	Now      func() time.Time
	Location *time.Location
	cron     cron.Parser
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{
		Now:      time.Now,
		Location: loc,
		cron:     cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse resolves raw relative to the current time in the local zone.
func Parse(raw string) (Parsed, error) {
	return NewParser(nil).Parse(raw)
}

var (
	reClock    = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	absLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

func (p *Parser) Parse(raw string) (Parsed, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Parsed{}, fmt.Errorf("run_at required")
	}
	now := p.now()
	low := strings.ToLower(s)

	// Prefixes (explicit)
	switch {
	case low == "now":
		return Parsed{At: now.UTC(), Kind: KindNow}, nil
	case strings.HasPrefix(low, "cron:"):
		return p.parseCron(strings.TrimSpace(s[len("cron:"):]), now)
	case strings.HasPrefix(low, "in:"):
		return parseRelative(strings.TrimSpace(s[len("in:"):]), now)
	case strings.HasPrefix(low, "in "):
		return parseRelative(strings.TrimSpace(s[len("in "):]), now)
	case strings.HasPrefix(s, "+"):
		return parseRelative(s[1:], now)
	}

	if m := reClock.FindStringSubmatch(s); m != nil {
		return p.parseClock(m, now)
	}

	for _, layout := range absLayouts {
		if t, err := time.ParseInLocation(layout, s, p.loc()); err == nil {
			return Parsed{At: t.UTC(), Kind: KindAbsolute}, nil
		}
	}

	// Heuristics:
	// - any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return p.parseCron(s, now)
	}

	return Parsed{}, fmt.Errorf(
		"invalid run_at %q (use RFC3339, 'now', '+10m', 'HH:MM' or cron like '0 3 * * *')",
		raw,
	)
}

func (p *Parser) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Parser) loc() *time.Location {
	if p.Location != nil {
		return p.Location
	}
	return time.Local
}

func parseRelative(v string, now time.Time) (Parsed, error) {
	if v == "" {
		return Parsed{}, fmt.Errorf("duration required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Parsed{}, fmt.Errorf("invalid relative run_at %q (use Go duration like '90s' or '1h30m')", v)
	}
	if d < 0 {
		return Parsed{}, fmt.Errorf("relative run_at must be >= 0")
	}
	return Parsed{At: now.Add(d).UTC(), Kind: KindRelative}, nil
}

func (p *Parser) parseClock(m []string, now time.Time) (Parsed, error) {
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if hh > 23 {
		return Parsed{}, fmt.Errorf("invalid hour in %q", m[0])
	}
	if mm > 59 {
		return Parsed{}, fmt.Errorf("invalid minutes in %q", m[0])
	}
	local := now.In(p.loc())
	at := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, p.loc())
	if !at.After(local) {
		at = at.AddDate(0, 0, 1)
	}
	return Parsed{At: at.UTC(), Kind: KindClock}, nil
}

func (p *Parser) parseCron(expr string, now time.Time) (Parsed, error) {
	if expr == "" {
		return Parsed{}, fmt.Errorf("cron expression required after 'cron:'")
	}
	sched, err := p.cron.Parse(expr)
	if err != nil {
		return Parsed{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	next := sched.Next(now.In(p.loc()))
	if next.IsZero() {
		return Parsed{}, fmt.Errorf("cron %q never fires", expr)
	}
	return Parsed{At: next.UTC(), Kind: KindCron}, nil
}
