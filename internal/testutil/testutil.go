// Package testutil provides shared test helpers for lifeline packages.
//
// [OpenDB] returns a migrated in-memory sqlite database private to the test.
// [NewGateway] wraps a database in a db.Gateway that never sleeps between
// retries. [RequireReceive] guards channel reads with a timeout so a broken
// test fails instead of hanging.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/lifeline/internal/db"
	"github.com/zulandar/lifeline/internal/logging"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens an in-memory sqlite database with every lifeline table
// migrated. The pool is pinned to one connection so all queries see the
// same database. It is closed when the test finishes.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testutil: open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("testutil: sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(conn); err != nil {
		t.Fatalf("testutil: migrate: %v", err)
	}
	return conn
}

// NewGateway returns a gateway backed by conn. Retries do not sleep. A nil
// logger discards output.
func NewGateway(t testing.TB, conn *gorm.DB, log logrus.FieldLogger) *db.Gateway {
	t.Helper()
	gw, err := db.NewGateway(db.GatewayOpts{
		Open:   func(context.Context) (*gorm.DB, error) { return conn, nil },
		Logger: logging.OrDiscard(log),
		Sleep:  func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("testutil: gateway: %v", err)
	}
	return gw
}

// SeedResponders seeds the default locations and responders into conn.
func SeedResponders(t testing.TB, conn *gorm.DB) {
	t.Helper()
	if _, err := db.SeedResponders(conn, db.DefaultLocations, db.DefaultUnits); err != nil {
		t.Fatalf("testutil: seed responders: %v", err)
	}
}

// RequireReceive reads one value from ch within timeout, or fails the test.
func RequireReceive[T any](t testing.TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while %s", what)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v while %s", timeout, what)
	}
	panic("unreachable")
}
