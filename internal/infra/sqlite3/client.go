// Package sqlite3 opens the SQLite database backing the pending-order queue.
package sqlite3

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const memoryDSN = ":memory:"

var (
	defaultConnTimeout     = 10 * time.Second
	defaultMaxOpenConns    = 4
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = time.Hour
	defaultBusyTimeout     = 5 * time.Second
)

type config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnTimeout     time.Duration
	BusyTimeout     time.Duration
}

type Option func(*config)

// WithDSN sets a file path or ":memory:".
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.DSN = dsn
	}
}

func WithMaxOpenConns(maxOpen int) Option {
	return func(c *config) {
		c.MaxOpenConns = maxOpen
	}
}

func WithMaxIdleConns(maxIdle int) Option {
	return func(c *config) {
		c.MaxIdleConns = maxIdle
	}
}

func WithConnMaxLifetime(lifetime time.Duration) Option {
	return func(c *config) {
		c.ConnMaxLifetime = lifetime
	}
}

func WithConnTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.ConnTimeout = timeout
	}
}

// WithBusyTimeout makes writers wait for a lock instead of failing with SQLITE_BUSY.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.BusyTimeout = timeout
	}
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		DSN:             memoryDSN,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnTimeout:     defaultConnTimeout,
		BusyTimeout:     defaultBusyTimeout,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// каждое соединение к :memory: получает свою пустую базу
	if cfg.DSN == memoryDSN {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return cfg
}

// dataSource appends driver parameters understood by mattn/go-sqlite3.
func (c *config) dataSource() string {
	if c.DSN == memoryDSN {
		return c.DSN
	}

	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprint(c.BusyTimeout.Milliseconds()))
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")

	sep := "?"
	if strings.Contains(c.DSN, "?") {
		sep = "&"
	}
	return "file:" + strings.TrimPrefix(c.DSN, "file:") + sep + params.Encode()
}

func New(ctx context.Context, opts ...Option) (*DB, error) {
	cfg := newConfig(opts...)

	db, err := sqlx.Open("sqlite3", cfg.dataSource())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite3 database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite3 database: %w", err)
	}

	return &DB{DB: db}, nil
}

type DB struct {
	*sqlx.DB
}

// Ready is used by the readiness check.
func (d *DB) Ready(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.DB.Close()
}
