package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"rat/internal/job"
	logx "rat/pkg/logx"
)

type TelegramConfig struct {
	Token  string
	ChatID int64
	// RatePerSec caps outgoing messages; excess notifications are dropped.
	RatePerSec int
	// OnlyFailures skips jobs that exited 0.
	OnlyFailures bool
	// URL overrides the Bot API endpoint (tests, self-hosted API servers).
	URL string
}

// Telegram sends one message per finished job to a chat.
type Telegram struct {
	bot     *tele.Bot
	chat    tele.ChatID
	limiter *rate.Limiter
	only    bool
	log     logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimSpace(cfg.URL),
		Token:   cfg.Token,
		Offline: true, // send-only: no getMe round trip, no poller
		Client:  &http.Client{Timeout: 8 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Telegram{
		bot:     b,
		chat:    tele.ChatID(cfg.ChatID),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		only:    cfg.OnlyFailures,
		log:     log.With(logx.String("component", "notify.telegram")),
	}, nil
}

func (t *Telegram) JobFinished(ctx context.Context, j job.Job, r job.Result) error {
	if t.only && r.Success() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// Never block the scheduler loop on the rate limit.
	if !t.limiter.Allow() {
		t.log.Debug("notification dropped (rate limited)", logx.Int64("job_id", j.ID))
		return nil
	}
	_, err := t.bot.Send(t.chat, FormatMessage(j, r), &tele.SendOptions{DisableWebPagePreview: true})
	return err
}
