package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Env              string                  `env:"ENV,default=local"`
	Logger           LoggerConfig            `env:",prefix=LOGGER_"`
	Observability    ObservabilityHTTPConfig `env:",prefix=OBSERVABILITY_"`
	API              APIHTTPConfig           `env:",prefix=API_"`
	ShutdownDuration time.Duration           `env:"SHUTDOWN_DURATION,default=30s"`
	WebhookSecret    string                  `env:"WEBHOOK_SECRET,required"`
	HealthInterval   time.Duration           `env:"HEALTHCHECK_INTERVAL,default=30s"`
	Discord          DiscordConfig           `env:",prefix=DISCORD_"`
	Threads          ThreadsConfig           `env:",prefix=THREADS_"`
	Backend          BackendConfig           `env:",prefix=BACKEND_"`
	Retry            RetryConfig             `env:",prefix=RETRY_"`
	Pending          PendingConfig           `env:",prefix=PENDING_"`
	DB               SQLiteConfig            `env:",prefix=DB_"`
	Telegram         TelegramConfig          `env:",prefix=TELEGRAM_"`
}

// Validate checks constraints envconfig tags cannot express.
func (c Config) Validate() error {
	if c.Discord.ClaimChannelID == "" && c.Discord.ClaimChannelName == "" {
		return errors.New("DISCORD_CLAIM_CHANNEL_ID or DISCORD_CLAIM_CHANNEL_NAME must be set")
	}
	if c.Threads.KeepAliveInterval <= 0 {
		return fmt.Errorf("THREADS_KEEPALIVE_INTERVAL must be positive, got %s", c.Threads.KeepAliveInterval)
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("HEALTHCHECK_INTERVAL must be positive, got %s", c.HealthInterval)
	}
	if c.Pending.MaxAttempts <= 0 {
		return fmt.Errorf("PENDING_MAX_ATTEMPTS must be positive, got %d", c.Pending.MaxAttempts)
	}
	if c.Pending.MaxAge <= 0 {
		return fmt.Errorf("PENDING_MAX_AGE must be positive, got %s", c.Pending.MaxAge)
	}
	if c.Telegram.Enabled() && len(c.Telegram.AdminIDs) == 0 {
		return errors.New("TELEGRAM_ADMIN_IDS must be set when TELEGRAM_BOT_TOKEN is")
	}
	return nil
}

type DiscordConfig struct {
	Token            string   `env:"TOKEN,required"`
	GuildID          string   `env:"GUILD_ID,required"`
	StaffRoleID      string   `env:"STAFF_ROLE_ID,required"`
	ClaimChannelID   string   `env:"CLAIM_CHANNEL_ID"`
	ClaimChannelName string   `env:"CLAIM_CHANNEL_NAME,default=claim-orders"`
	StaffChannelID   string   `env:"STAFF_CHANNEL_ID"`
	LogChannelName   string   `env:"LOG_CHANNEL_NAME,default=order-completions"`
	StaffUserIDs     []string `env:"STAFF_USER_IDS"`
	RegisterCommands bool     `env:"REGISTER_COMMANDS,default=true"`
}

type ThreadsConfig struct {
	KeepAliveInterval time.Duration `env:"KEEPALIVE_INTERVAL,default=60s"`
	GraceDelay        time.Duration `env:"GRACE_DELAY,default=5s"`
	MemberAddDelay    time.Duration `env:"MEMBER_ADD_DELAY,default=500ms"`
	DMDelay           time.Duration `env:"DM_DELAY,default=1s"`
	// AutoArchiveMinutes must be one of 60, 1440, 4320, 10080.
	AutoArchiveMinutes int `env:"AUTO_ARCHIVE_MINUTES,default=10080"`
	HistoryLimit       int `env:"HISTORY_LIMIT,default=100"`
}

type BackendConfig struct {
	BaseURL      string        `env:"BASE_URL,default=http://127.0.0.1:3000"`
	Secret       string        `env:"SECRET"`
	SecretHeader string        `env:"SECRET_HEADER,default=X-Webhook-Secret"`
	HealthPath   string        `env:"HEALTH_PATH,default=/health"`
	Timeout      time.Duration `env:"TIMEOUT,default=10s"`
}

type RetryConfig struct {
	MaxTries        uint          `env:"MAX_TRIES,default=4"`
	InitialInterval time.Duration `env:"INITIAL_INTERVAL,default=500ms"`
	MaxInterval     time.Duration `env:"MAX_INTERVAL,default=10s"`
}

type PendingConfig struct {
	// SweepSchedule is the cron schedule for re-checking queued orders.
	SweepSchedule string `env:"SWEEP_SCHEDULE,default=*/10 * * * *"`
	SweepBatch    uint64 `env:"SWEEP_BATCH,default=50"`
	// MaxAttempts failed thread creations expire a queued order.
	MaxAttempts int `env:"MAX_ATTEMPTS,default=5"`
	// MaxAge expires orders whose customer never joined.
	MaxAge time.Duration `env:"MAX_AGE,default=168h"`
}

type TelegramConfig struct {
	BotToken string        `env:"BOT_TOKEN"`
	Timeout  time.Duration `env:"TIMEOUT,default=30s"`
	AdminIDs []int64       `env:"ADMIN_IDS"`
}

// Enabled reports whether the staff mirror should run.
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != ""
}

type LoggerConfig struct {
	Level string `env:"LEVEL,default=debug"`
}

type ObservabilityHTTPConfig struct {
	Host         string        `env:"HOST,default=127.0.0.1"`
	Port         uint16        `env:"PORT,default=8383"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
}

func (a ObservabilityHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type APIHTTPConfig struct {
	Host         string        `env:"HOST,default=0.0.0.0"`
	Port         uint16        `env:"PORT,default=3001"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=2m"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=1m"`
	MaxBodyBytes int64         `env:"MAX_BODY_BYTES,default=1048576"`
}

func (a APIHTTPConfig) ADDR() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type SQLiteConfig struct {
	Path         string        `env:"PATH,default=./data/orderdesk.db"`
	MaxOpenConns int           `env:"MAX_OPEN_CONNS,default=4"`
	MaxIdleConns int           `env:"MAX_IDLE_CONNS,default=2"`
	MaxLifetime  time.Duration `env:"MAX_LIFETIME,default=5m"`
	BusyTimeout  time.Duration `env:"BUSY_TIMEOUT,default=5s"`
}
