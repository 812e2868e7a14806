package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QueueEntry is one customer's slot in the line.
type QueueEntry struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	PaymentID     string          `json:"payment_id"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Position      int             `json:"position"`
	Status        string          `json:"status"` // waiting, in_progress, completed, cancelled
	QueuedAt      time.Time       `json:"queued_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CompletedBy   string          `json:"completed_by,omitempty"`
	RemovedBy     string          `json:"removed_by,omitempty"`
	RemovalReason string          `json:"removal_reason,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int64           `json:"version"`
}

// IsActive reports whether the entry occupies a position.
func (e *QueueEntry) IsActive() bool {
	return IsActiveStatus(e.Status)
}

// Clone returns a copy that can be mutated without touching the original.
func (e *QueueEntry) Clone() *QueueEntry {
	c := *e
	if e.StartedAt != nil {
		t := *e.StartedAt
		c.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// PaymentConfirmation is the admission ticket handed over by the payment subsystem.
type PaymentConfirmation struct {
	PaymentID  string          `json:"payment_id"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
}

// EntryChange is a compare-and-swap write of one entry: Entry carries the new
// state, FromVersion the version it was computed from.
type EntryChange struct {
	Entry       *QueueEntry
	FromVersion int64
}
