package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/triggerflow/internal/engine"
	"github.com/rendis/triggerflow/internal/mailer"
	"github.com/rendis/triggerflow/internal/sweeper"
)

// isolate points HOME at an empty dir so no user config is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := loadConfig(newViper(), "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".triggerflow", "triggerflow.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "log", cfg.Mail.Driver)
	assert.Equal(t, 587, cfg.Mail.SMTP.Port)
	assert.Equal(t, engine.DefaultPoolSize, cfg.Engine.PoolSize)
	assert.Equal(t, engine.DefaultRunTimeout, cfg.Engine.RunTimeout)
	assert.Equal(t, sweeper.DefaultSchedule, cfg.Sweeper.Schedule)
	assert.Equal(t, sweeper.DefaultStaleAfter, cfg.Sweeper.StaleAfter)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("TRIGGERFLOW_ENGINE_POOL_SIZE", "3")
	t.Setenv("TRIGGERFLOW_ENGINE_RUN_TIMEOUT", "45s")
	t.Setenv("TRIGGERFLOW_MAIL_DRIVER", "smtp")

	cfg, err := loadConfig(newViper(), "")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Engine.PoolSize)
	assert.Equal(t, 45*time.Second, cfg.Engine.RunTimeout)
	assert.Equal(t, "smtp", cfg.Mail.Driver)
}

func TestLoadConfig_File(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "triggerflow.yaml")
	content := `
db_path: /tmp/flows.db
log:
  format: json
mail:
  driver: smtp
  smtp:
    host: mail.example.com
    from: noreply@example.com
sweeper:
  schedule: "*/5 * * * *"
  stale_after: 1h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := loadConfig(newViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/flows.db", cfg.DBPath)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "mail.example.com", cfg.Mail.SMTP.Host)
	assert.Equal(t, "*/5 * * * *", cfg.Sweeper.Schedule)
	assert.Equal(t, time.Hour, cfg.Sweeper.StaleAfter)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := loadConfig(newViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestNewMailer(t *testing.T) {
	s, err := newMailer(MailConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &mailer.LogSender{}, s)

	_, err = newMailer(MailConfig{Driver: "smtp"}, nil)
	require.Error(t, err, "smtp without host")

	s, err = newMailer(MailConfig{Driver: "smtp", SMTP: mailer.SMTPConfig{Host: "localhost", From: "a@b.com"}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &mailer.SMTPSender{}, s)

	_, err = newMailer(MailConfig{Driver: "pigeon"}, nil)
	require.Error(t, err)
}
