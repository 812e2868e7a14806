package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ridequeue/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

func newTestEntry(id, paymentID string) *models.QueueEntry {
	return &models.QueueEntry{
		ID:            id,
		CustomerID:    "cust-" + id,
		PaymentID:     paymentID,
		PaymentAmount: decimal.RequireFromString("12.50"),
		PaymentMethod: "card",
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "db_test_dir")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestNewDB_NilLogger(t *testing.T) {
	db, err := NewDB(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()
}

func TestCreateTables_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	require.NoError(t, createTables(db.DB))
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	assert.NoError(t, db.Ping(context.Background()))
}
