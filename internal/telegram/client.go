// Package telegram provides a client for sending notifications via Telegram Bot API.
// It formats simulation run summaries into human-readable messages and handles
// delivery with retry logic for reliability.
package telegram

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/casesim/internal/report"
)

// sender is the part of the bot API the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Send sends a notification with the summaries of the finished runs
func (c *Client) Send(ctx context.Context, district string, summaries []report.RunSummary) error {
	msg := tgbotapi.NewMessage(c.chatID, formatMessage(district, summaries))
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatMessage formats run summaries into a Telegram message
func formatMessage(district string, summaries []report.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧪 *Simulation finished: %s*\n\n", escapeMarkdownV2(district))

	for i, s := range summaries {
		seed := "unseeded"
		if s.Seeded {
			seed = fmt.Sprintf("seed %d", s.Seed)
		}
		fmt.Fprintf(&b, "%d\\. *%s* \\(%s\\)\n", i+1, escapeMarkdownV2(s.Label),
			escapeMarkdownV2(fmt.Sprintf("%d days, %s", s.Length, seed)))

		for _, vs := range s.Variables {
			fmt.Fprintf(&b, "   %s: %s %s\n",
				escapeMarkdownV2(string(vs.Variable)),
				escapeMarkdownV2(fmt.Sprintf("%.1f", vs.SimulatedMean)),
				escapeMarkdownV2(fmt.Sprintf("(observed %.1f)", vs.ObservedMean)))
		}
		fmt.Fprintf(&b, "   active: %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f", s.ActiveMean)))

		rate := "undefined"
		if !math.IsNaN(s.PositivityMean) {
			rate = fmt.Sprintf("%.1f%%", s.PositivityMean)
		}
		fmt.Fprintf(&b, "   positivity: %s", escapeMarkdownV2(rate))
		if s.UndefinedRates > 0 {
			fmt.Fprintf(&b, " %s", escapeMarkdownV2(fmt.Sprintf("(%d days undefined)", s.UndefinedRates)))
		}
		b.WriteString("\n\n")
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
