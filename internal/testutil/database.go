// Package testutil provides shared fixtures for tests that need a real
// storage backend. It offers migrated in-memory databases with automatic
// cleanup and seeding hooks.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/matchbook-labs/matchbook/internal/model"
	"github.com/matchbook-labs/matchbook/internal/service"
	"github.com/matchbook-labs/matchbook/internal/storage"
)

// TestDB wraps a migrated in-memory storage instance for one test.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates a new in-memory database, runs migrations and registers
// cleanup on the test.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup  func(context.Context, service.Storage) error
	Receipts     []model.Receipt
	Transactions []model.Transaction
}

// SetupTestDBWithOptions creates a migrated test database seeded with the
// given fixtures.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	db := SetupTestDB(t)
	ctx := context.Background()

	for i := range opts.Receipts {
		if err := db.Storage.SaveReceipt(ctx, &opts.Receipts[i]); err != nil {
			t.Fatalf("failed to seed receipt %q: %v", opts.Receipts[i].ID, err)
		}
	}
	if len(opts.Transactions) > 0 {
		if err := db.Storage.SaveTransactions(ctx, opts.Transactions); err != nil {
			t.Fatalf("failed to seed transactions: %v", err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, db.Storage); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return db
}

// Receipt builds a pending receipt fixture with sensible defaults.
func Receipt(id, merchant string, amount float64, date time.Time) model.Receipt {
	return model.Receipt{
		ID:           id,
		MerchantName: merchant,
		Amount:       amount,
		Date:         date,
		Status:       model.StatusPending,
	}
}

// Transaction builds a ledger entry fixture with sensible defaults.
func Transaction(id, merchant string, amount float64, date time.Time) model.Transaction {
	return model.Transaction{
		ID:           id,
		MerchantName: merchant,
		Description:  merchant,
		Amount:       amount,
		Date:         date,
	}
}
