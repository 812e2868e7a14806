package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ridequeue/internal/models"

	"github.com/mattn/go-sqlite3"
)

const entryColumns = `id, customer_id, payment_id, payment_amount, payment_method, position, status,
    queued_at, started_at, completed_at, completed_by, removed_by, removal_reason, updated_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.QueueEntry, error) {
	var (
		e           models.QueueEntry
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.CustomerID, &e.PaymentID, &e.PaymentAmount, &e.PaymentMethod, &e.Position, &e.Status,
		&e.QueuedAt, &startedAt, &completedAt, &e.CompletedBy, &e.RemovedBy, &e.RemovalReason, &e.UpdatedAt, &e.Version,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*models.QueueEntry, error) {
	var entries []*models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue entries: %w", err)
	}
	return entries, nil
}

// CreateEntry appends entry at the tail of the active queue.
// Position, status, timestamps and version are assigned here.
func (db *DB) CreateEntry(ctx context.Context, entry *models.QueueEntry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE payment_id = ? AND status <> ?`,
		entry.PaymentID, models.StatusCancelled,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check payment: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("payment %s: %w", entry.PaymentID, ErrDuplicateAdmission)
	}

	var tail int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM queue_entries WHERE status IN (?, ?)`,
		models.StatusWaiting, models.StatusInProgress,
	).Scan(&tail)
	if err != nil {
		return fmt.Errorf("failed to read queue tail: %w", err)
	}

	now := time.Now().UTC()
	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = now
	}
	entry.Position = tail + 1
	entry.Status = models.StatusWaiting
	entry.UpdatedAt = now
	entry.Version = 1

	_, err = tx.ExecContext(ctx, `INSERT INTO queue_entries (`+entryColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, '', '', '', ?, ?)`,
		entry.ID, entry.CustomerID, entry.PaymentID, entry.PaymentAmount.String(), entry.PaymentMethod,
		entry.Position, entry.Status, entry.QueuedAt, entry.UpdatedAt, entry.Version,
	)
	if err != nil {
		return mapConstraintError(err, "failed to create queue entry")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.logger.Debug().Str("entry_id", entry.ID).Int("position", entry.Position).Msg("queue entry created")
	return nil
}

// GetEntry returns an entry in any status.
func (db *DB) GetEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return e, nil
}

// GetEntryByPayment returns the non-cancelled entry created for a payment.
func (db *DB) GetEntryByPayment(ctx context.Context, paymentID string) (*models.QueueEntry, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE payment_id = ? AND status <> ? LIMIT 1`,
		paymentID, models.StatusCancelled,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", paymentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry by payment: %w", err)
	}
	return e, nil
}

// ListActiveEntries returns waiting and in-progress entries ordered by position.
func (db *DB) ListActiveEntries(ctx context.Context) ([]*models.QueueEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE status IN (?, ?) ORDER BY position ASC`,
		models.StatusWaiting, models.StatusInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListEntries returns active entries by position, followed by terminal ones
// in admission order when includeTerminal is set.
func (db *DB) ListEntries(ctx context.Context, includeTerminal bool) ([]*models.QueueEntry, error) {
	if !includeTerminal {
		return db.ListActiveEntries(ctx)
	}

	rows, err := db.QueryContext(ctx, `SELECT `+entryColumns+` FROM queue_entries
        ORDER BY CASE WHEN status IN (?, ?) THEN 0 ELSE 1 END,
                 CASE WHEN status IN (?, ?) THEN position ELSE 0 END,
                 queued_at ASC, id ASC`,
		models.StatusWaiting, models.StatusInProgress,
		models.StatusWaiting, models.StatusInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ApplyChanges writes all changes in one transaction. Every row is guarded by
// its FromVersion; if any row moved on, nothing is written and
// ErrConcurrentModification is returned.
//
// Active positions are first parked at their negated value and flipped back
// afterwards so that a permutation never collides on the position index.
func (db *DB) ApplyChanges(ctx context.Context, changes []models.EntryChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	parked := make([]string, 0, len(changes))

	for _, ch := range changes {
		e := ch.Entry
		position := e.Position
		if models.IsActiveStatus(e.Status) {
			position = -e.Position
			parked = append(parked, e.ID)
		}

		res, err := tx.ExecContext(ctx, `UPDATE queue_entries SET
                position = ?, status = ?, started_at = ?, completed_at = ?,
                completed_by = ?, removed_by = ?, removal_reason = ?,
                updated_at = ?, version = version + 1
            WHERE id = ? AND version = ?`,
			position, e.Status, nullTime(e.StartedAt), nullTime(e.CompletedAt),
			e.CompletedBy, e.RemovedBy, e.RemovalReason,
			now, e.ID, ch.FromVersion,
		)
		if err != nil {
			return mapConstraintError(err, "failed to update queue entry")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return db.missingRowError(ctx, tx, e.ID, ch.FromVersion)
		}
	}

	if len(parked) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(parked)), ",")
		args := make([]interface{}, 0, len(parked))
		for _, id := range parked {
			args = append(args, id)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE queue_entries SET position = -position WHERE position < 0 AND id IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return mapConstraintError(err, "failed to restore positions")
		}
	}

	if err := checkContiguous(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, ch := range changes {
		ch.Entry.Version = ch.FromVersion + 1
		ch.Entry.UpdatedAt = now
	}

	db.logger.Debug().Int("changes", len(changes)).Msg("queue changes applied")
	return nil
}

func (db *DB) missingRowError(ctx context.Context, tx *sql.Tx, id string, fromVersion int64) error {
	var current int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM queue_entries WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read entry version: %w", err)
	}
	db.logger.Debug().
		Str("entry_id", id).
		Int64("expected_version", fromVersion).
		Int64("current_version", current).
		Msg("version mismatch")
	return fmt.Errorf("entry %s version %d != %d: %w", id, current, fromVersion, ErrConcurrentModification)
}

// checkContiguous fails when active positions are not exactly 1..n, which
// happens if an entry was admitted between the caller's read and this write.
func checkContiguous(ctx context.Context, tx *sql.Tx) error {
	var count, minPos, maxPos int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MIN(position), 0), COALESCE(MAX(position), 0)
         FROM queue_entries WHERE status IN (?, ?)`,
		models.StatusWaiting, models.StatusInProgress,
	).Scan(&count, &minPos, &maxPos)
	if err != nil {
		return fmt.Errorf("failed to verify positions: %w", err)
	}
	if count > 0 && (minPos != 1 || maxPos != count) {
		return fmt.Errorf("positions %d..%d for %d active entries: %w", minPos, maxPos, count, ErrConcurrentModification)
	}
	return nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// mapConstraintError turns unique index violations into domain errors.
func mapConstraintError(err error, msg string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		if strings.Contains(sqliteErr.Error(), "payment_id") {
			return fmt.Errorf("%s: %w", msg, ErrDuplicateAdmission)
		}
		return fmt.Errorf("%s: %w", msg, ErrConcurrentModification)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
