package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infodancer/mailtest/internal/config"
	"github.com/infodancer/mailtest/internal/logging"
	"github.com/infodancer/mailtest/mailbox"
	"github.com/infodancer/mailtest/metrics"
	"github.com/infodancer/mailtest/pop3"
	"github.com/infodancer/mailtest/server"
	"github.com/infodancer/mailtest/smtp"
)

// protocolServer is the part of a protocol engine the daemon drives.
type protocolServer interface {
	Start() error
	Stop() error
	Protocol() string
	Port() int
	UseTLS() bool
}

func runServe(cfg config.Config) error {
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	store := seedStore(cfg)
	logger.Info("mailbox store seeded", "mailboxes", len(cfg.Mailboxes))

	collector, metricsServer := metrics.New(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Address: cfg.Metrics.Address,
		Path:    cfg.Metrics.Path,
	})
	if cfg.Metrics.Enabled {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics endpoint enabled",
			"address", cfg.Metrics.Address,
			"path", cfg.Metrics.Path)
	}

	var servers []protocolServer

	if cfg.SMTP.Enabled {
		srv := smtp.NewServer(store)
		if err := configure(srv.Core, cfg, cfg.SMTP, logger, collector); err != nil {
			return fmt.Errorf("configuring smtp: %w", err)
		}
		servers = append(servers, srv)
	}

	if cfg.POP3.Enabled {
		srv := pop3.NewServer(store)
		if err := configure(srv.Core, cfg, cfg.POP3, logger, collector); err != nil {
			return fmt.Errorf("configuring pop3: %w", err)
		}
		servers = append(servers, srv)
	}

	for _, srv := range servers {
		if err := srv.Start(); err != nil {
			stopServers(servers, logger)
			return fmt.Errorf("starting %s server: %w", srv.Protocol(), err)
		}
		logger.Info("server started",
			"protocol", srv.Protocol(),
			"port", srv.Port(),
			"tls", srv.UseTLS())
	}

	logger.Info("mailtestd running", "hostname", cfg.Hostname)

	<-ctx.Done()

	stopServers(servers, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	logger.Info("mailtestd stopped")
	return nil
}

// configure applies the shared and per-protocol settings to a server core.
func configure[S server.Session](core *server.Core[S], cfg config.Config, proto config.ProtocolConfig, logger *slog.Logger, collector metrics.Collector) error {
	core.SetHostname(cfg.Hostname)
	core.SetLogger(logger)
	core.SetCollector(collector)

	if err := core.SetPort(proto.Port); err != nil {
		return err
	}

	core.SetTLS(proto.TLS)
	if cfg.TLS.Protocol != "" {
		if err := core.SetTLSProtocol(cfg.TLS.Protocol); err != nil {
			return err
		}
	}

	core.SetAuthenticationRequired(proto.AuthRequired)
	if proto.AuthTypes != nil {
		if err := core.SetAuthTypes(proto.AuthTypes...); err != nil {
			return err
		}
	}

	return nil
}

// stopServers stops every server, continuing past individual failures.
func stopServers(servers []protocolServer, logger *slog.Logger) {
	for _, srv := range servers {
		if err := srv.Stop(); err != nil {
			logger.Error("error stopping server",
				"protocol", srv.Protocol(),
				"error", err)
		}
	}
}

// seedStore builds the mailbox store from the configured mailboxes.
func seedStore(cfg config.Config) *mailbox.Store {
	store := mailbox.NewStore()
	for _, m := range cfg.Mailboxes {
		mb := store.AddMailbox(m.Username, m.Secret, m.Email)
		for _, content := range m.Messages {
			mb.AddMessage(content)
		}
	}
	return store
}
