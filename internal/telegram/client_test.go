package telegram

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/casesim/internal/models"
	"github.com/rewired-gh/casesim/internal/report"
)

type fakeBot struct {
	failures int
	calls    int
	last     tgbotapi.Chattable
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls++
	f.last = c
	if f.calls <= f.failures {
		return tgbotapi.Message{}, errors.New("too many requests")
	}
	return tgbotapi.Message{}, nil
}

func testSummaries() []report.RunSummary {
	return []report.RunSummary{
		{
			Label:  "fixed",
			Length: 31,
			Variables: []report.VariableStats{
				{Variable: models.Suspected, ObservedMean: 7.29, SimulatedMean: 8},
			},
			ActiveMean:     -5.5,
			PositivityMean: math.NaN(),
			UndefinedRates: 31,
		},
		{
			Label:          "user",
			Seed:           42,
			Seeded:         true,
			Length:         10,
			ActiveMean:     2,
			PositivityMean: 37.5,
		},
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"CEMPAKA PUTIH", "CEMPAKA PUTIH"},
		{"7.5", "7\\.5"},
		{"-5.5", "\\-5\\.5"},
		{"(observed 1.0)", "\\(observed 1\\.0\\)"},
		{"a_b*c!", "a\\_b\\*c\\!"},
	}

	for _, tt := range tests {
		result := escapeMarkdownV2(tt.input)
		if result != tt.expected {
			t.Errorf("escapeMarkdownV2(%q) = %q, expected %q", tt.input, result, tt.expected)
		}
	}
}

func TestFormatMessage(t *testing.T) {
	msg := formatMessage("CEMPAKA PUTIH", testSummaries())

	expected := []string{
		"*Simulation finished: CEMPAKA PUTIH*",
		"1\\. *fixed* \\(31 days, unseeded\\)",
		"suspected: 8\\.0 \\(observed 7\\.3\\)",
		"active: \\-5\\.5",
		"positivity: undefined \\(31 days undefined\\)",
		"2\\. *user* \\(10 days, seed 42\\)",
		"positivity: 37\\.5%",
	}
	for _, want := range expected {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected message to contain %q, got:\n%s", want, msg)
		}
	}
}

func TestClient_SendRetries(t *testing.T) {
	bot := &fakeBot{failures: 2}
	c, err := newClient(bot, "12345", 3, time.Millisecond)
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}

	if err := c.Send(context.Background(), "CEMPAKA PUTIH", testSummaries()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if bot.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", bot.calls)
	}

	msg, ok := bot.last.(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("Expected MessageConfig, got %T", bot.last)
	}
	if msg.ChatID != 12345 || msg.ParseMode != "MarkdownV2" {
		t.Errorf("Unexpected message config: chat %d, mode %s", msg.ChatID, msg.ParseMode)
	}
}

func TestClient_SendGivesUp(t *testing.T) {
	bot := &fakeBot{failures: 10}
	c, err := newClient(bot, "12345", 2, time.Millisecond)
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}

	if err := c.Send(context.Background(), "X", nil); err == nil {
		t.Error("Expected error after exhausting retries")
	}
	if bot.calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", bot.calls)
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	if _, err := newClient(&fakeBot{}, "not-a-number", 3, time.Second); err == nil {
		t.Error("Expected error for invalid chat ID")
	}
}
