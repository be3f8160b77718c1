package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/lifeline/internal/logging"
	"gorm.io/gorm"
)

// OpenFunc opens a new store connection.
type OpenFunc func(ctx context.Context) (*gorm.DB, error)

// GatewayOpts holds parameters for NewGateway.
type GatewayOpts struct {
	Open        OpenFunc
	Logger      logrus.FieldLogger
	MaxAttempts int           // total attempts per operation; default 3
	BaseDelay   time.Duration // linear backoff step; default 1s
	AutoMigrate bool          // migrate tables after each fresh connect

	// Sleep waits between attempts. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Gateway owns the single shared store connection. The connection is opened
// lazily on first use and released once at shutdown; both paths run under
// one mutex. Queries on an acquired connection run concurrently.
type Gateway struct {
	open        OpenFunc
	log         logrus.FieldLogger
	maxAttempts int
	baseDelay   time.Duration
	autoMigrate bool
	sleep       func(time.Duration)

	mu   sync.Mutex
	conn *gorm.DB
}

// NewGateway creates a Gateway. No connection is made until first use.
func NewGateway(opts GatewayOpts) (*Gateway, error) {
	if opts.Open == nil {
		return nil, fmt.Errorf("db: opener is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay < 0 {
		return nil, fmt.Errorf("db: base delay must not be negative")
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Gateway{
		open:        opts.Open,
		log:         logging.OrDiscard(opts.Logger).WithField("component", "db"),
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		autoMigrate: opts.AutoMigrate,
		sleep:       opts.Sleep,
	}, nil
}

// Acquire returns the live connection, opening it if needed. A failed open
// returns a *ConnectionError and leaves the gateway unconnected so the next
// call tries again.
func (g *Gateway) Acquire(ctx context.Context) (*gorm.DB, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn != nil {
		return g.conn, nil
	}

	conn, err := g.open(ctx)
	if err != nil {
		g.log.WithError(err).Error("db: connect failed")
		return nil, &ConnectionError{Err: err}
	}
	if g.autoMigrate {
		if err := AutoMigrate(conn); err != nil {
			Close(conn)
			g.log.WithError(err).Error("db: migrate after connect failed")
			return nil, &ConnectionError{Err: err}
		}
	}
	g.conn = conn
	g.log.Info("db: connected")
	return conn, nil
}

// Connected reports whether a connection is currently held.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn != nil
}

// Release closes the connection if one is held. Safe to call more than once.
func (g *Gateway) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return nil
	}
	conn := g.conn
	g.conn = nil
	if err := Close(conn); err != nil {
		g.log.WithError(err).Warn("db: disconnect failed")
		return err
	}
	g.log.Info("db: disconnected")
	return nil
}

// Run executes op in a transaction. Transient failures are retried with a
// linear backoff (BaseDelay, 2*BaseDelay, ...) up to MaxAttempts total; if
// every attempt fails the result is an *OperationFailedError. Any other error
// is logged and returned as is. Cancelling ctx does not abort an operation
// that has already started.
func (g *Gateway) Run(ctx context.Context, name string, op func(tx *gorm.DB) error) error {
	ctx = context.WithoutCancel(ctx)
	log := g.log.WithField("op", name)

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		err := g.runOnce(ctx, op)
		if err == nil {
			if attempt > 1 {
				log.WithField("attempt", attempt).Info("db: operation succeeded after retry")
			}
			return nil
		}
		if !IsTransient(err) {
			logging.WithStack(log).WithError(err).Error("db: operation failed")
			return err
		}

		lastErr = err
		if attempt < g.maxAttempts {
			delay := g.baseDelay * time.Duration(attempt)
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
			}).WithError(err).Warn("db: transient error, retrying")
			g.sleep(delay)
		}
	}

	failed := &OperationFailedError{Op: name, Attempts: g.maxAttempts, Err: lastErr}
	logging.WithStack(log).WithError(lastErr).WithField("attempt", g.maxAttempts).Error("db: giving up")
	return failed
}

func (g *Gateway) runOnce(ctx context.Context, op func(tx *gorm.DB) error) error {
	conn, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	return conn.WithContext(ctx).Transaction(op)
}

// Query runs fn through g.Run and returns its value.
func Query[T any](ctx context.Context, g *Gateway, name string, fn func(tx *gorm.DB) (T, error)) (T, error) {
	var out T
	err := g.Run(ctx, name, func(tx *gorm.DB) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
