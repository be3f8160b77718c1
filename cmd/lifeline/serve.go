package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zulandar/lifeline/internal/config"
	"github.com/zulandar/lifeline/internal/db"
	"github.com/zulandar/lifeline/internal/dispatch"
	"github.com/zulandar/lifeline/internal/ledger"
	"github.com/zulandar/lifeline/internal/notify"
	"github.com/zulandar/lifeline/internal/server"
	"github.com/zulandar/lifeline/internal/sweep"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the call server",
		Long: `Starts the HTTP server: a WebSocket per live call for the voice front end
and a read API over sessions, dispatches and responders. The stale-session
sweeper runs alongside it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to lifeline config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, log, err := loadConfig(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	gw, err := newGateway(cfg, log)
	if err != nil {
		return err
	}
	led, err := ledger.New(ledger.Opts{
		Gateway:         gw,
		Logger:          log,
		DefaultLanguage: cfg.Language,
	})
	if err != nil {
		return err
	}
	rec, err := ledger.NewRecorder(ledger.RecorderOpts{
		Appender:  led,
		Logger:    log,
		QueueSize: cfg.Transcript.QueueSize,
	})
	if err != nil {
		return err
	}
	pub, err := newPublisher(cfg.AMQP, log)
	if err != nil {
		return err
	}
	disp, err := dispatch.New(dispatch.Opts{
		Gateway:   gw,
		Publisher: pub,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	sw, err := sweep.New(sweep.Opts{
		Gateway:   gw,
		Schedule:  cfg.Sweep.Schedule,
		IdleAfter: cfg.Sweep.IdleAfter,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sw.Start()
	serveErr := server.Start(ctx, server.StartOpts{
		Ledger:          led,
		Recorder:        rec,
		Dispatcher:      disp,
		Logger:          log,
		Port:            cfg.Server.Port,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		Out:             cmd.OutOrStdout(),
	})

	shutdown(log, sw, rec, gw, pub)
	return serveErr
}

// newPublisher dials the dispatch event exchange, or returns a no-op
// publisher when no broker URL is configured.
func newPublisher(cfg config.AMQPConfig, log logrus.FieldLogger) (notify.Publisher, error) {
	if cfg.URL == "" {
		log.Info("serve: amqp url not set, dispatch events disabled")
		return notify.Nop{}, nil
	}
	pub, err := notify.DialAMQP(cfg.URL, cfg.Exchange, log)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// shutdown stops the sweeper, waits for queued transcript entries, then
// releases the store and closes the publisher. It runs after server.Start
// has returned, when every call handler has already exited.
func shutdown(log logrus.FieldLogger, sw *sweep.Sweeper, rec *ledger.Recorder, gw *db.Gateway, pub notify.Publisher) {
	ctx := context.Background()
	if err := sw.Stop(ctx); err != nil {
		log.WithError(err).Warn("serve: sweeper stop failed")
	}
	if err := rec.Drain(ctx); err != nil {
		log.WithError(err).Warn("serve: transcript drain failed")
	}
	if err := gw.Release(); err != nil {
		log.WithError(err).Warn("serve: store release failed")
	}
	if err := pub.Close(); err != nil {
		log.WithError(err).Warn("serve: publisher close failed")
	}
	log.Info("serve: shutdown complete")
}
