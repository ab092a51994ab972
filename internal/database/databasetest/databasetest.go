// Package databasetest provides an in-memory SQLite database with the
// dashboard schema for tests.
package databasetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/Additional-Code/invoicedesk/internal/database"
	"github.com/Additional-Code/invoicedesk/internal/entity"
)

// New opens a fresh in-memory database with foreign keys enforced, creates the
// customers and invoices tables and closes it when the test ends.
func New(t testing.TB) *database.Connections {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, database.SQLiteDSN(":memory:"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// :memory: databases are per connection.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if _, err := db.NewCreateTable().Model((*entity.Customer)(nil)).Exec(ctx); err != nil {
		t.Fatalf("create customers: %v", err)
	}
	if _, err := db.NewCreateTable().Model((*entity.Invoice)(nil)).
		ForeignKey(`("customer_id") REFERENCES "customers" ("id")`).
		Exec(ctx); err != nil {
		t.Fatalf("create invoices: %v", err)
	}
	return database.Single(db)
}

// SeedCustomer inserts a customer row directly.
func SeedCustomer(t testing.TB, conns *database.Connections, c entity.Customer) {
	t.Helper()
	if _, err := conns.Writer.NewInsert().Model(&c).Exec(context.Background()); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
}
