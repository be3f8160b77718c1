package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/lifeline/internal/config"
	"github.com/zulandar/lifeline/internal/db"
	"github.com/zulandar/lifeline/internal/logging"
)

// loadConfig reads the config file and builds the process logger writing to
// errOut.
func loadConfig(configPath string, errOut io.Writer) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log, errOut)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// newGateway builds the store gateway from cfg. Nothing is opened until the
// first operation.
func newGateway(cfg *config.Config, log logrus.FieldLogger) (*db.Gateway, error) {
	return db.NewGateway(db.GatewayOpts{
		Open:        db.Opener(cfg.Database),
		Logger:      log,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		AutoMigrate: cfg.Database.AutoMigrate,
	})
}

// withGateway runs fn with a gateway built from the config at configPath and
// releases the connection afterwards.
func withGateway(configPath string, errOut io.Writer, fn func(ctx context.Context, cfg *config.Config, gw *db.Gateway, log *logrus.Logger) error) error {
	cfg, log, err := loadConfig(configPath, errOut)
	if err != nil {
		return err
	}
	gw, err := newGateway(cfg, log)
	if err != nil {
		return err
	}
	defer gw.Release()
	return fn(context.Background(), cfg, gw, log)
}
