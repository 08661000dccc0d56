package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func load(t *testing.T, env map[string]string) (Config, error) {
	t.Helper()
	var cfg Config
	err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.MapLookuper(env),
	})
	return cfg, err
}

func required() map[string]string {
	return map[string]string{
		"WEBHOOK_SECRET":        "s3cret",
		"DISCORD_TOKEN":         "token",
		"DISCORD_GUILD_ID":      "g1",
		"DISCORD_STAFF_ROLE_ID": "role-staff",
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t, required())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Threads.KeepAliveInterval != 60*time.Second {
		t.Errorf("keep-alive interval = %s", cfg.Threads.KeepAliveInterval)
	}
	if cfg.Discord.ClaimChannelName != "claim-orders" {
		t.Errorf("claim channel = %q", cfg.Discord.ClaimChannelName)
	}
	if cfg.Backend.SecretHeader != "X-Webhook-Secret" {
		t.Errorf("secret header = %q", cfg.Backend.SecretHeader)
	}
	if cfg.Pending.SweepSchedule != "*/10 * * * *" {
		t.Errorf("sweep schedule = %q", cfg.Pending.SweepSchedule)
	}
	if cfg.Pending.MaxAttempts != 5 || cfg.Pending.MaxAge != 7*24*time.Hour {
		t.Errorf("pending expiry = %d attempts, %s", cfg.Pending.MaxAttempts, cfg.Pending.MaxAge)
	}
	if cfg.Telegram.Enabled() {
		t.Error("telegram mirror enabled without token")
	}
	if cfg.Backend.HealthPath != "/health" || cfg.HealthInterval != 30*time.Second {
		t.Errorf("health check = %q every %s", cfg.Backend.HealthPath, cfg.HealthInterval)
	}
	if cfg.API.ADDR() != "0.0.0.0:3001" {
		t.Errorf("api addr = %q", cfg.API.ADDR())
	}
}

func TestMissingWebhookSecret(t *testing.T) {
	env := required()
	delete(env, "WEBHOOK_SECRET")
	if _, err := load(t, env); err == nil {
		t.Fatal("expected error without WEBHOOK_SECRET")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			HealthInterval: 30 * time.Second,
			Discord:        DiscordConfig{ClaimChannelName: "claim-orders"},
			Threads:        ThreadsConfig{KeepAliveInterval: time.Minute},
			Pending:        PendingConfig{MaxAttempts: 5, MaxAge: time.Hour},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"no claim channel", func(c *Config) { c.Discord.ClaimChannelName = "" }, true},
		{"claim by id", func(c *Config) { c.Discord.ClaimChannelName, c.Discord.ClaimChannelID = "", "123" }, false},
		{"zero keep-alive", func(c *Config) { c.Threads.KeepAliveInterval = 0 }, true},
		{"zero health interval", func(c *Config) { c.HealthInterval = 0 }, true},
		{"no pending attempts", func(c *Config) { c.Pending.MaxAttempts = 0 }, true},
		{"no pending age", func(c *Config) { c.Pending.MaxAge = 0 }, true},
		{"telegram without admins", func(c *Config) { c.Telegram.BotToken = "t" }, true},
		{"telegram with admins", func(c *Config) { c.Telegram.BotToken, c.Telegram.AdminIDs = "t", []int64{1} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
