package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ridequeue/internal/domain"
	"ridequeue/internal/events"
	"ridequeue/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// HeadSource returns the current head of the queue.
type HeadSource interface {
	GetNextCustomer(ctx context.Context) (*models.QueueEntry, error)
}

// TelegramNotifier tells the driver chat who is next after every change of
// the queue head.
type TelegramNotifier struct {
	bot    domain.TelegramSender
	queue  HeadSource
	chatID int64
	logger zerolog.Logger
}

func NewTelegramNotifier(bot domain.TelegramSender, queue HeadSource, chatID int64, logger zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:    bot,
		queue:  queue,
		chatID: chatID,
		logger: logger.With().Str("component", "telegram_notifier").Logger(),
	}
}

// Attach subscribes the notifier to queue events. Each message is sent on its
// own goroutine.
func (n *TelegramNotifier) Attach(bus *events.EventBus) {
	bus.SubscribeAll(func(event *events.Event) error {
		go func() {
			if err := n.HandleEvent(event); err != nil {
				n.logger.Warn().Err(err).Str("event_type", event.Type).Msg("notification dropped")
			}
		}()
		return nil
	})
}

// HandleEvent is an events.EventHandler.
func (n *TelegramNotifier) HandleEvent(event *events.Event) error {
	payload, err := events.DecodeQueuePayload(event)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	text := n.describe(event.Type, payload)
	if text == "" {
		return nil
	}

	if n.affectsHead(event.Type, payload) {
		if head := n.headLine(); head != "" {
			text += "\n" + head
		}
	}

	return n.SendMessage(text)
}

func (n *TelegramNotifier) describe(eventType string, p events.QueueEventPayload) string {
	id := ""
	if len(p.EntryIDs) > 0 {
		id = p.EntryIDs[0]
	}
	switch eventType {
	case events.EventEntryAdded:
		return fmt.Sprintf("➕ Новый клиент в очереди: `%s`, позиция %d", id, p.Position)
	case events.EventRideStarted:
		return fmt.Sprintf("🚗 Поездка начата: `%s` (%s)", id, p.Actor)
	case events.EventRideCompleted:
		return fmt.Sprintf("✅ Поездка завершена: `%s` (%s)", id, p.Actor)
	case events.EventCustomerRemoved:
		return fmt.Sprintf("❌ Клиент снят с очереди: `%s` (%s), причина: %s", id, p.Actor, p.Reason)
	case events.EventQueueReordered:
		return fmt.Sprintf("🔀 Очередь переставлена (%s): %s", p.Actor, strings.Join(p.Order, ", "))
	case events.EventSyncApplied:
		return fmt.Sprintf("🖥 Синхронизация с кассой (%s), новых: %d", p.Actor, len(p.EntryIDs))
	default:
		return ""
	}
}

func (n *TelegramNotifier) affectsHead(eventType string, p events.QueueEventPayload) bool {
	switch eventType {
	case events.EventEntryAdded:
		return p.Position == 1
	case events.EventRideCompleted, events.EventCustomerRemoved, events.EventQueueReordered, events.EventSyncApplied:
		return true
	default:
		return false
	}
}

func (n *TelegramNotifier) headLine() string {
	if n.queue == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	head, err := n.queue.GetNextCustomer(ctx)
	if err != nil {
		n.logger.Warn().Err(err).Msg("failed to load queue head")
		return ""
	}
	if head == nil {
		return "Очередь пуста"
	}
	return fmt.Sprintf("Следующий: `%s` (клиент %s)", head.ID, head.CustomerID)
}

// SendMessage posts a markdown message to the driver chat.
func (n *TelegramNotifier) SendMessage(text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error().Err(err).Int64("chat_id", n.chatID).Msg("telegram send failed")
		return err
	}
	return nil
}
