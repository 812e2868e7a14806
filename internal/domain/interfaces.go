package domain

import (
	"context"
	"time"

	"ridequeue/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// QueueRepository is the durable store behind the queue engine.
type QueueRepository interface {
	// CreateEntry assigns the tail position and inserts the entry atomically.
	CreateEntry(ctx context.Context, entry *models.QueueEntry) error
	GetEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	GetEntryByPayment(ctx context.Context, paymentID string) (*models.QueueEntry, error)
	ListActiveEntries(ctx context.Context) ([]*models.QueueEntry, error)
	ListEntries(ctx context.Context, includeTerminal bool) ([]*models.QueueEntry, error)
	// ApplyChanges writes every change or none of them.
	ApplyChanges(ctx context.Context, changes []models.EntryChange) error
	Ping(ctx context.Context) error
}

type SyncStateRepository interface {
	GetState(ctx context.Context, terminalID string) (*models.DesktopSyncState, error)
	SetState(ctx context.Context, state *models.DesktopSyncState) error
	ClearState(ctx context.Context, terminalID string) error
	CheckRateLimit(ctx context.Context, terminalID string, limit int, window time.Duration) (bool, error)
}

// SyncTaskLister exposes mirror jobs to operators.
type SyncTaskLister interface {
	ListSyncTasks(ctx context.Context, status string, limit int) ([]models.SyncTask, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type QueueService interface {
	Admit(ctx context.Context, payment models.PaymentConfirmation) (*models.QueueEntry, error)
	OnPaymentConfirmed(ctx context.Context, payment models.PaymentConfirmation) (*models.QueueEntry, bool, error)
	Recalculate(ctx context.Context) error
	Reorder(ctx context.Context, orderedIDs []string, actor models.Actor) error
	StartRide(ctx context.Context, entryID string, driver string) (*models.QueueEntry, error)
	CompleteRide(ctx context.Context, entryID string, driver string) (*models.QueueEntry, error)
	RemoveCustomer(ctx context.Context, entryID, reason, staff string) (*models.QueueEntry, error)
	SyncFromDesktop(ctx context.Context, snapshot []string, actor models.Actor) (*models.SyncReport, error)
	GetNextCustomer(ctx context.Context) (*models.QueueEntry, error)
	GetCurrentQueue(ctx context.Context, includeTerminal bool) ([]*models.QueueEntry, error)
	GetEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	GetSyncState(ctx context.Context, terminalID string) (*models.DesktopSyncState, error)
	ResetSyncState(ctx context.Context, terminalID string) error
	Ping(ctx context.Context) error
}
