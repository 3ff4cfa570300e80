// Package telegram sends plain text messages through the Telegram Bot API.
// It backs both the log sink and the update notifier; it never polls for
// incoming updates.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "covidboard/pkg/logx"
)

const textLimit = 4000

// Options configure a Client. Zero values are usable.
type Options struct {
	// URL overrides the Bot API endpoint (tests point it at httptest).
	URL     string
	Timeout time.Duration
	Log     logx.Logger
}

// Client is a send-only bot.
type Client struct {
	bot *tele.Bot
	log logx.Logger
}

func New(token string, opt Options) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram token is required")
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 15 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     opt.URL,
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: opt.Timeout},
		OnError: func(err error, _ tele.Context) {
			opt.Log.Warn("telegram error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	return &Client{bot: b, log: opt.Log}, nil
}

// SendText delivers text to chatID (and the forum topic threadID when set),
// splitting it into several messages when it exceeds the API limit.
func (c *Client) SendText(ctx context.Context, chatID int64, threadID int, text string) error {
	if chatID == 0 {
		return errors.New("telegram chat id is required")
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.bot.Send(chat, chunk, &tele.SendOptions{
			ThreadID:              threadID,
			DisableWebPagePreview: true,
		})
		if err != nil {
			c.log.Debug("telegram send failed", logx.Int64("chat_id", chatID), logx.Err(err))
			return err
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that do not leave tiny chunks behind.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
