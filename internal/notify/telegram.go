// Package notify sends recurring run summaries to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/ledgerline/internal/logger"
	"github.com/hray3182/ledgerline/internal/recurring"
)

// maxFailuresListed bounds the per-rule lines in one message.
const maxFailuresListed = 10

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	sender Sender
	chatID int64
}

// NewTelegram connects to the Bot API with token. Messages go to chatID.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram API: %w", err)
	}
	return NewTelegramWithSender(api, chatID), nil
}

func NewTelegramWithSender(sender Sender, chatID int64) *Telegram {
	return &Telegram{sender: sender, chatID: chatID}
}

// NotifyRun implements recurring.Notifier.
func (t *Telegram) NotifyRun(ctx context.Context, report recurring.JobReport) error {
	m := render(report)
	msg := tgbotapi.NewMessage(t.chatID, m.String())
	msg.Entities = m.entities

	sent, err := t.sender.Send(msg)
	if err != nil {
		return fmt.Errorf("failed to send run summary: %w", err)
	}
	logger.FromContext(ctx).Debug().
		Int64("owner_id", report.OwnerID).
		Int("message_id", sent.MessageID).
		Msg("run summary sent")
	return nil
}

func render(report recurring.JobReport) *message {
	m := &message{}
	if report.JobStatus == recurring.JobFailed {
		m.styled("bold", "❌ Recurring run failed")
	} else {
		m.styled("bold", "🔄 Recurring run completed")
	}
	m.text(fmt.Sprintf("\n\nOwner: %d\nRun: ", report.OwnerID))
	m.styled("code", report.RunID.String())
	m.text("\n" + report.Result.Message)

	run := report.Run
	if run == nil {
		if report.Result.Error != "" {
			m.text("\n\n")
			m.styled("code", report.Result.Error)
		}
		return m
	}

	m.text(fmt.Sprintf("\n\nCreated: %d\nSkipped: %d\nFailed: %d", run.Generated, run.Skipped, run.Failed))
	if run.Contended > 0 {
		m.text(fmt.Sprintf("\nBusy elsewhere: %d", run.Contended))
	}
	for i, f := range run.Failures {
		if i == maxFailuresListed {
			m.text(fmt.Sprintf("\n… and %d more", len(run.Failures)-i))
			break
		}
		m.text("\n• ")
		m.styled("bold", fmt.Sprintf("rule %d", f.RuleID))
		m.text(": " + f.Error)
	}
	return m
}

// message accumulates plain text plus Telegram entities. Entity offsets are
// in UTF-16 code units and are appended in ascending order.
type message struct {
	b        strings.Builder
	entities []tgbotapi.MessageEntity
}

func (m *message) text(s string) {
	m.b.WriteString(s)
}

func (m *message) styled(kind, s string) {
	m.entities = append(m.entities, tgbotapi.MessageEntity{
		Type:   kind,
		Offset: utf16Len(m.b.String()),
		Length: utf16Len(s),
	})
	m.b.WriteString(s)
}

func (m *message) String() string {
	return m.b.String()
}

// utf16Len counts UTF-16 code units without decoding: every leading byte is
// one unit, four-byte sequences are surrogate pairs.
func utf16Len(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b&0xc0 == 0x80 {
			continue
		}
		if b >= 0xf0 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
