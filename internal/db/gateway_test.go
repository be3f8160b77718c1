package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/zulandar/lifeline/internal/models"
	"gorm.io/gorm"
)

type gatewayFixture struct {
	gw     *Gateway
	opens  atomic.Int32
	sleeps []time.Duration
	hook   *test.Hook
}

// newGatewayFixture builds a gateway whose opener hands out fresh migrated
// in-memory databases and whose sleep records delays instead of waiting.
func newGatewayFixture(t *testing.T, open OpenFunc) *gatewayFixture {
	t.Helper()
	f := &gatewayFixture{}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f.hook = hook

	if open == nil {
		open = func(ctx context.Context) (*gorm.DB, error) {
			conn := openTestDB(t)
			if err := AutoMigrate(conn); err != nil {
				return nil, err
			}
			return conn, nil
		}
	}
	counted := func(ctx context.Context) (*gorm.DB, error) {
		f.opens.Add(1)
		return open(ctx)
	}

	gw, err := NewGateway(GatewayOpts{
		Open:   counted,
		Logger: logger,
		Sleep:  func(d time.Duration) { f.sleeps = append(f.sleeps, d) },
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	f.gw = gw
	t.Cleanup(func() { gw.Release() })
	return f
}

func TestNewGateway_RequiresOpener(t *testing.T) {
	if _, err := NewGateway(GatewayOpts{}); err == nil {
		t.Fatal("expected error for nil opener")
	}
}

func TestNewGateway_RejectsNegativeDelay(t *testing.T) {
	open := func(context.Context) (*gorm.DB, error) { return nil, nil }
	if _, err := NewGateway(GatewayOpts{Open: open, BaseDelay: -time.Second}); err == nil {
		t.Fatal("expected error for negative delay")
	}
}

func TestGateway_LazyConnect(t *testing.T) {
	f := newGatewayFixture(t, nil)
	if f.opens.Load() != 0 || f.gw.Connected() {
		t.Fatal("gateway connected before first use")
	}

	first, err := f.gw.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	second, err := f.gw.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if first != second {
		t.Error("Acquire returned different connections")
	}
	if f.opens.Load() != 1 {
		t.Errorf("opens = %d, want 1", f.opens.Load())
	}
}

func TestGateway_ConcurrentAcquireOpensOnce(t *testing.T) {
	f := newGatewayFixture(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.gw.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.opens.Load() != 1 {
		t.Errorf("opens = %d, want 1", f.opens.Load())
	}
}

func TestGateway_FailedConnectLeavesStateUnset(t *testing.T) {
	fail := true
	var good *gorm.DB
	f := newGatewayFixture(t, func(ctx context.Context) (*gorm.DB, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		good = openTestDB(t)
		return good, nil
	})

	_, err := f.gw.Acquire(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Acquire error = %v, want *ConnectionError", err)
	}
	if f.gw.Connected() {
		t.Fatal("gateway reports connected after failed open")
	}

	fail = false
	conn, err := f.gw.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after recovery: %v", err)
	}
	if conn != good || f.opens.Load() != 2 {
		t.Errorf("opens = %d, want 2 with the recovered connection", f.opens.Load())
	}
}

func TestGateway_ReleaseIsIdempotent(t *testing.T) {
	f := newGatewayFixture(t, nil)

	if err := f.gw.Release(); err != nil {
		t.Fatalf("Release before connect: %v", err)
	}
	if _, err := f.gw.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := f.gw.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := f.gw.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if f.gw.Connected() {
		t.Error("gateway still connected after Release")
	}

	if _, err := f.gw.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	if f.opens.Load() != 2 {
		t.Errorf("opens = %d, want 2", f.opens.Load())
	}
}

func TestGateway_AutoMigrate(t *testing.T) {
	logger, _ := test.NewNullLogger()
	gw, err := NewGateway(GatewayOpts{
		Open:        func(context.Context) (*gorm.DB, error) { return openTestDB(t), nil },
		Logger:      logger,
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	conn, err := gw.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !conn.Migrator().HasTable(&models.Session{}) {
		t.Error("sessions table not created by auto-migrate")
	}
}

func TestRun_RetriesTransientThenFails(t *testing.T) {
	f := newGatewayFixture(t, nil)

	calls := 0
	err := f.gw.Run(context.Background(), "test.op", func(tx *gorm.DB) error {
		calls++
		return driver.ErrBadConn
	})

	var failed *OperationFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Run error = %v, want *OperationFailedError", err)
	}
	if failed.Attempts != 3 || failed.Op != "test.op" {
		t.Errorf("failed = %+v", failed)
	}
	if !errors.Is(err, driver.ErrBadConn) {
		t.Error("OperationFailedError does not wrap the root cause")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	want := []time.Duration{time.Second, 2 * time.Second}
	if len(f.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", f.sleeps, want)
	}
	for i := range want {
		if f.sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, f.sleeps[i], want[i])
		}
	}

	var retries int
	var gaveUp *logrus.Entry
	for _, e := range f.hook.AllEntries() {
		switch e.Message {
		case "db: transient error, retrying":
			retries++
		case "db: giving up":
			gaveUp = e
		}
	}
	if retries != 2 {
		t.Errorf("retry log entries = %d, want 2", retries)
	}
	if gaveUp == nil {
		t.Fatal("missing final failure log entry")
	}
	if _, ok := gaveUp.Data["stack"]; !ok {
		t.Error("final failure log entry has no stack")
	}
}

func TestRun_RecoversAfterTransientError(t *testing.T) {
	f := newGatewayFixture(t, nil)

	calls := 0
	err := f.gw.Run(context.Background(), "test.op", func(tx *gorm.DB) error {
		calls++
		if calls == 1 {
			return driver.ErrBadConn
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != time.Second {
		t.Errorf("sleeps = %v, want [1s]", f.sleeps)
	}
}

func TestRun_NonTransientNotRetried(t *testing.T) {
	f := newGatewayFixture(t, nil)
	sentinel := errors.New("constraint violated")

	calls := 0
	err := f.gw.Run(context.Background(), "test.op", func(tx *gorm.DB) error {
		calls++
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("Run error = %v, want sentinel unchanged", err)
	}
	if calls != 1 || len(f.sleeps) != 0 {
		t.Errorf("calls = %d, sleeps = %v; want 1 call and no sleep", calls, f.sleeps)
	}

	entries := f.hook.AllEntries()
	if len(entries) == 0 {
		t.Fatal("non-transient error was not logged")
	}
	last := entries[len(entries)-1]
	if last.Level != logrus.ErrorLevel {
		t.Errorf("level = %v, want error", last.Level)
	}
	if _, ok := last.Data["stack"]; !ok {
		t.Error("non-transient failure logged without stack")
	}
}

func TestRun_ConnectFailureIsRetried(t *testing.T) {
	f := newGatewayFixture(t, func(context.Context) (*gorm.DB, error) {
		return nil, errors.New("connection refused")
	})

	err := f.gw.Run(context.Background(), "test.op", func(tx *gorm.DB) error {
		t.Fatal("op must not run without a connection")
		return nil
	})
	var failed *OperationFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Run error = %v, want *OperationFailedError", err)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Error("cause is not a *ConnectionError")
	}
	if f.opens.Load() != 3 {
		t.Errorf("opens = %d, want 3", f.opens.Load())
	}
}

func TestRun_RollsBackOnError(t *testing.T) {
	f := newGatewayFixture(t, nil)
	ctx := context.Background()

	err := f.gw.Run(ctx, "test.insert", func(tx *gorm.DB) error {
		if err := tx.Create(&models.Session{ID: "s-1", Language: "Tamil", PriorityLevel: 3}).Error; err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected error")
	}

	count, err := Query(ctx, f.gw, "test.count", func(tx *gorm.DB) (int64, error) {
		var n int64
		err := tx.Model(&models.Session{}).Count(&n).Error
		return n, err
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if count != 0 {
		t.Errorf("sessions = %d, want 0 after rollback", count)
	}
}

func TestRun_IgnoresCallerCancellation(t *testing.T) {
	f := newGatewayFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.gw.Run(ctx, "test.insert", func(tx *gorm.DB) error {
		return tx.Create(&models.Session{ID: "s-2", Language: "Tamil", PriorityLevel: 3}).Error
	})
	if err != nil {
		t.Fatalf("Run with cancelled context: %v", err)
	}
}

func TestQuery_ReturnsValue(t *testing.T) {
	f := newGatewayFixture(t, nil)

	got, err := Query(context.Background(), f.gw, "test.value", func(tx *gorm.DB) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Errorf("Query = %q, %v; want ok, nil", got, err)
	}

	sentinel := errors.New("nope")
	got, err = Query(context.Background(), f.gw, "test.value", func(tx *gorm.DB) (string, error) {
		return "partial", sentinel
	})
	if err != sentinel || got != "" {
		t.Errorf("Query = %q, %v; want empty value and sentinel", got, err)
	}
}
