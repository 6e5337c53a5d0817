package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/triggerflow/internal/engine"
	"github.com/rendis/triggerflow/internal/logging"
	"github.com/rendis/triggerflow/internal/mailer"
	"github.com/rendis/triggerflow/internal/store"
	"github.com/rendis/triggerflow/internal/validation"
)

// app is the wired process: logger, store and mailer built from Config.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	mailer    mailer.Sender
	validator validation.Validator
}

// newApp opens and migrates the database. Callers must call close.
func newApp(ctx context.Context, cfg Config) (*app, error) {
	// stdout carries command output and the MCP transport.
	logger, err := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	sender, err := newMailer(cfg.Mail, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: st, mailer: sender, validator: validator}, nil
}

func newMailer(cfg MailConfig, logger *slog.Logger) (mailer.Sender, error) {
	switch cfg.Driver {
	case "", "log":
		return mailer.NewLogSender(logger), nil
	case "smtp":
		return mailer.NewSMTPSender(cfg.SMTP)
	default:
		return nil, fmt.Errorf("unknown mail driver %q (want log or smtp)", cfg.Driver)
	}
}

func (a *app) engine(ownerID string) (*engine.Engine, error) {
	return engine.New(ownerID, engine.Deps{
		Store:     a.store,
		Mailer:    a.mailer,
		Logger:    a.logger,
		Validator: a.validator,
	}, a.cfg.Engine)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("close store", slog.String("error", err.Error()))
	}
}
