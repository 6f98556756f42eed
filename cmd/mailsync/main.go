package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nhle/mailsync/internal/bodystore"
	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/imap"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/ops"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/internal/sync"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	log := newLogger(*logLevel)

	if flag.Arg(0) == "set-password" {
		if err := setPassword(flag.Arg(1)); err != nil {
			log.Error("storing password", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*configPath, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// setPassword prompts for an account password on stdin and stores it in
// the system keyring.
func setPassword(accountID string) error {
	if accountID == "" {
		return fmt.Errorf("usage: mailsync set-password <account-id>")
	}
	fmt.Fprintf(os.Stderr, "password for %s: ", accountID)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return fmt.Errorf("reading password: %w", scanner.Err())
	}
	return credential.Set(credential.PasswordKey(accountID), scanner.Text())
}

// run wires the engine together and blocks until a shutdown signal.
func run(configPath string, log *slog.Logger) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", configPath, err)
	}
	if len(cfg.Accounts) == 0 {
		return fmt.Errorf("no accounts configured in %s", configPath)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	s, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, "mailsync.db"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	bodies, err := bodystore.New(filepath.Join(cfg.DataDir, "bodies"))
	if err != nil {
		return fmt.Errorf("opening body store: %w", err)
	}

	accounts := make([]imap.Account, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		password, err := credential.Get(credential.PasswordKey(a.ID))
		if err != nil {
			return fmt.Errorf(
				"no password for account %s (run: mailsync set-password %s): %w",
				a.ID, a.ID, err,
			)
		}
		accounts = append(accounts, imap.Account{
			ID:       a.ID,
			Host:     a.Host,
			Port:     a.Port,
			Username: a.Username,
			Password: password,
			TLS:      a.TLS,
		})
	}
	dialer := imap.NewAccountDialer(accounts)

	ctx := context.Background()

	service := sync.NewService(s, bodies, dialer, cfg.Sync, cfg.Accounts, log)
	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting sync service: %w", err)
	}

	worker := ops.NewWorker(s, bodies, dialer, cfg.Sync.OperationPollInterval(), log)
	if err := worker.Start(ctx); err != nil {
		service.Stop()
		return fmt.Errorf("starting operation worker: %w", err)
	}

	go logEvents(service.Events(), log)
	go logFailures(worker.Failures(), log)

	for _, a := range cfg.Accounts {
		go func(accountID string) {
			if err := service.StartFullSync(ctx, accountID); err != nil {
				log.Error("full sync", "account", accountID, "error", err)
			}
		}(a.ID)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	worker.Stop()
	service.Stop()
	return nil
}

func logEvents(events <-chan sync.Event, log *slog.Logger) {
	for ev := range events {
		switch e := ev.(type) {
		case model.HeaderProgress:
			log.Info("header sync",
				"account", e.AccountID,
				"folder", e.FolderPath,
				"status", e.Status,
				"synced", e.Synced,
				"total", e.Total,
			)
		case model.DownloadStats:
			log.Debug("download queue",
				"pending", e.Pending,
				"processing", e.Processing,
				"synced", e.Synced,
				"error", e.Error,
			)
		}
	}
}

func logFailures(failures <-chan model.OperationFailure, log *slog.Logger) {
	for f := range failures {
		log.Warn("operation rolled back",
			"type", f.OperationType,
			"folder", f.FolderPath,
			"affected", f.AffectedCount,
			"error", f.Error,
		)
	}
}
