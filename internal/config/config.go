package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

type AppConfig struct {
	Mode Mode

	GameServerURL  string
	GameID         int
	PollInterval   time.Duration
	RequestTimeout time.Duration
	RequestRetry   int

	ListenAddr  string
	PieceScale  float64
	ModelDir    string
	MessagesDir string

	RedisURL    string
	DatabaseURL string

	HistoryLimit int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Mode:           ModeLocal,
		PollInterval:   1500 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
		RequestRetry:   3,
		ListenAddr:     ":8080",
		PieceScale:     0.25,
		ModelDir:       "./models",
		HistoryLimit:   10,
	}

	if v := env("ARBOARD_MODE"); v != "" {
		cfg.Mode = Mode(strings.ToLower(v))
	}
	cfg.GameServerURL = env("GAME_SERVER_URL")
	if v := env("GAME_ID"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("GAME_ID: %w", err)
		}
		cfg.GameID = n
	}
	if v := env("POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := env("REQUEST_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := env("REQUEST_RETRY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestRetry = n
		}
	}

	if v := env("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := env("PIECE_SCALE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.PieceScale = f
		}
	}
	if v := env("MODEL_DIR"); v != "" {
		cfg.ModelDir = v
	}
	cfg.MessagesDir = env("MESSAGES_DIR")

	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")
	if v := env("HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HistoryLimit = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	switch c.Mode {
	case ModeLocal:
	case ModeRemote:
		if c.GameServerURL == "" {
			return errors.New("GAME_SERVER_URL is required in remote mode")
		}
		if c.GameID <= 0 {
			return errors.New("GAME_ID must be a positive integer in remote mode")
		}
	default:
		return fmt.Errorf("ARBOARD_MODE must be local or remote, got %q", c.Mode)
	}
	return nil
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }
