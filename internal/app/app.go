// Package app wires configuration, logging, the SDK client, and the local
// history store into one unit for the CLI commands.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/podtech-ai/tabichan-go/internal/config"
	"github.com/podtech-ai/tabichan-go/internal/history"
	"github.com/podtech-ai/tabichan-go/internal/logging"
	"github.com/podtech-ai/tabichan-go/internal/metrics"
	"github.com/podtech-ai/tabichan-go/tabichan"
)

// Options carry command-line overrides applied on top of the config file.
type Options struct {
	ConfigPath string
	APIKey     string
	BaseURL    string
	JSONLogs   bool
}

// App bundles the services a CLI command needs.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	Client  *tabichan.Client
	History *history.Store
}

// New loads configuration and constructs the client stack. History is nil
// when disabled.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.APIKey != "" {
		cfg.API.Key = opts.APIKey
	}
	if opts.BaseURL != "" {
		cfg.API.BaseURL = opts.BaseURL
	}
	if cfg.API.Key == "" {
		return nil, fmt.Errorf("api key is not set; use --api-key or TABICHAN_API_KEY")
	}

	logger, err := logging.New(cfg.Logging.Development && !opts.JSONLogs)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	metrics.Init()

	chatTimeout, pollTimeout, imageTimeout := cfg.Timeouts()
	backoffInitial, backoffMax := cfg.Backoff()
	client, err := tabichan.New(cfg.API.Key,
		tabichan.WithBaseURL(cfg.API.BaseURL),
		tabichan.WithLogger(logging.Named(logger, "client")),
		tabichan.WithTimeouts(chatTimeout, pollTimeout, imageTimeout),
		tabichan.WithRetry(cfg.HTTP.MaxRetries, backoffInitial, backoffMax),
		tabichan.WithPollInterval(cfg.PollInterval()),
		tabichan.WithMaxPollAttempts(cfg.Poll.MaxAttempts),
		tabichan.WithPollRate(cfg.Poll.RPS),
	)
	if err != nil {
		return nil, fmt.Errorf("build client: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Client: client}

	if cfg.History.Enabled {
		path, err := historyPath(cfg.History.Path)
		if err != nil {
			logger.Warn("history store unavailable", zap.Error(err))
		} else {
			store, err := history.Open(ctx, path)
			if err != nil {
				logger.Warn("history store unavailable", zap.Error(err))
			} else {
				a.History = store
			}
		}
	}

	return a, nil
}

// UserID returns the configured user ID, falling back to a stable default.
func (a *App) UserID() string {
	if a.Config.API.UserID != "" {
		return a.Config.API.UserID
	}
	return "default"
}

// NewSession builds a WebSocket session from the app's configuration.
func (a *App) NewSession() (*tabichan.Session, error) {
	sess, err := tabichan.NewSession(a.UserID(), a.Config.API.Key,
		tabichan.SessionBaseURL(a.Config.API.WSBaseURL),
		tabichan.SessionLogger(logging.Named(a.Logger, "session")),
	)
	if err != nil {
		return nil, fmt.Errorf("build session: %w", err)
	}
	return sess, nil
}

// Close releases app resources. Safe to call once after commands finish.
func (a *App) Close() {
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.Logger.Warn("close history store", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}

func historyPath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".tabichan")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create history dir: %w", err)
	}
	return filepath.Join(dir, "history.db"), nil
}
