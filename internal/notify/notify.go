package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/consensus"
	"github.com/mtzanidakis/sminos/internal/natsbus"
)

// telegramMaxLen is Telegram's hard per-message character limit.
const telegramMaxLen = 4096

// Notifier forwards consensus outcomes to a Telegram chat. It is a passive
// observer on the bus; losing it never affects a round.
type Notifier struct {
	bot    *telego.Bot
	chatID int64
	sub    *nats.Subscription
}

func New(cfg config.TelegramConfig) (*Notifier, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Notifier{bot: bot, chatID: cfg.ChatID}, nil
}

// Start subscribes to consensus events and relays them until the context
// is cancelled.
func (n *Notifier) Start(ctx context.Context, bus *natsbus.Client) error {
	sub, err := bus.Subscribe(natsbus.TopicEventsConsensus, func(msg *nats.Msg) {
		n.handleEvent(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe consensus events: %w", err)
	}
	n.sub = sub

	slog.Info("notifier started", "chat", n.chatID)
	<-ctx.Done()
	_ = sub.Unsubscribe()
	return nil
}

type consensusEvent struct {
	Proposal string           `json:"proposal"`
	Result   consensus.Result `json:"result"`
}

func (n *Notifier) handleEvent(ctx context.Context, data []byte) {
	var event consensusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Warn("malformed consensus event", "error", err)
		return
	}

	if err := n.SendMessage(ctx, formatOutcome(event)); err != nil {
		slog.Error("failed to send telegram notification", "chat", n.chatID, "error", err)
	}
}

func formatOutcome(event consensusEvent) string {
	verdict := "REJECTED"
	if event.Result.Consensus {
		verdict = "APPROVED"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Proposal %s: %s\n", event.Proposal, verdict)
	fmt.Fprintf(&b, "Approval rate: %.1f%% over %d votes\n", event.Result.ApprovalRate*100, event.Result.TotalVotes)
	if event.Result.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", event.Result.Reason)
	}
	for i, reason := range event.Result.Reasons {
		if reason == "" {
			continue
		}
		fmt.Fprintf(&b, "- vote %d: %s\n", i+1, reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SendMessage delivers text to the configured chat, split across messages
// when it exceeds Telegram's limit.
func (n *Notifier) SendMessage(ctx context.Context, text string) error {
	for _, chunk := range chunkMessage(text, telegramMaxLen) {
		_, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(n.chatID), chunk))
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// chunkMessage splits a message into chunks that fit within Telegram's
// message size limit, preferring newline boundaries.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}
