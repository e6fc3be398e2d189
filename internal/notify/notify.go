// Package notify forwards finished turns to Telegram. The bot is send-only:
// it never polls for updates, it watches the bus for turn_completed events
// and pushes the answer or a failure notice to the configured chat.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nats-io/nats.go"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/bus"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/config"
)

type Notifier struct {
	bot    *telego.Bot
	client *bus.Client
	chatID int64
	sub    *nats.Subscription
}

func New(cfg config.TelegramConfig, client *bus.Client) (*Notifier, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Notifier{bot: bot, client: client, chatID: cfg.ChatID}, nil
}

// Start subscribes to turn events and returns. Messages are sent from the
// subscription callback.
func (n *Notifier) Start(ctx context.Context) error {
	sub, err := n.client.Subscribe(bus.TopicEventsTurns, func(msg *nats.Msg) {
		var event bus.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		n.handleEvent(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("subscribe turn events: %w", err)
	}
	n.sub = sub
	slog.Info("telegram notifier started", "chat", n.chatID)
	return nil
}

func (n *Notifier) Stop() {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
}

func (n *Notifier) handleEvent(ctx context.Context, event bus.Event) {
	if event.Type != "turn_completed" {
		return
	}
	text := formatOutcome(event)
	if text == "" {
		return
	}
	if err := n.send(ctx, text); err != nil {
		slog.Error("telegram notify failed", "turn", event.TurnID, "error", err)
	}
}

// formatOutcome renders one finished turn as a message. Empty means there is
// nothing worth sending.
func formatOutcome(event bus.Event) string {
	status, _ := event.Data["status"].(string)
	answer, _ := event.Data["answer"].(string)

	if status == "failed" {
		errMsg, _ := event.Data["error"].(string)
		if errMsg == "" {
			errMsg = "unknown error"
		}
		return fmt.Sprintf("Turn %s failed: %s", event.TurnID, errMsg)
	}

	if answer == "" {
		return ""
	}
	text := toTelegramMarkdown(answer)
	if caveat, _ := event.Data["caveat"].(bool); caveat {
		text += "\n\n(caveat: review found unresolved gaps)"
	}
	return text
}

func (n *Notifier) send(ctx context.Context, text string) error {
	for _, chunk := range chunkMessage(text, 4096) {
		msg := tu.Message(tu.ID(n.chatID), chunk)
		if _, err := n.bot.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}
