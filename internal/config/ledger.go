package config

import (
	"time"

	"github.com/spf13/viper"
)

type LedgerConfig struct {
	LockTTL              time.Duration
	LockWait             time.Duration
	LockRetryInterval    time.Duration
	HistoryMaxPageSize   int
	PendingStaleAfter    time.Duration
	PendingSweepSchedule string
	PendingSweepLimit    int
	AuditQueue           string
	AuditBuffer          int
	AuditTimeout         time.Duration
	DefaultActor         string
	ServerPort           string
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"database.url":       "DATABASE_URL",
	"database.max_conns": "DATABASE_MAX_CONNS",
	"redis.url":          "REDIS_URL",

	"ledger.lock_ttl":               "LEDGER_LOCK_TTL",
	"ledger.lock_wait":              "LEDGER_LOCK_WAIT",
	"ledger.lock_retry_interval":    "LEDGER_LOCK_RETRY_INTERVAL",
	"ledger.history_max_page_size":  "LEDGER_HISTORY_MAX_PAGE_SIZE",
	"ledger.pending_stale_after":    "LEDGER_PENDING_STALE_AFTER",
	"ledger.pending_sweep_schedule": "LEDGER_PENDING_SWEEP_SCHEDULE",
	"ledger.pending_sweep_limit":    "LEDGER_PENDING_SWEEP_LIMIT",
	"ledger.audit_queue":            "LEDGER_AUDIT_QUEUE",
	"ledger.audit_buffer":           "LEDGER_AUDIT_BUFFER",
	"ledger.audit_timeout":          "LEDGER_AUDIT_TIMEOUT",
	"ledger.default_actor":          "LEDGER_DEFAULT_ACTOR",

	"server.port": "PORT",
}

// ReadInConfig points viper at an optional .env file and binds the
// environment overrides. A missing file is not an error.
func ReadInConfig(path string) error {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	return viper.ReadInConfig()
}

func LoadLedgerConfig() *LedgerConfig {
	viper.SetDefault("ledger.lock_ttl", 10*time.Second)
	viper.SetDefault("ledger.lock_wait", 5*time.Second)
	viper.SetDefault("ledger.lock_retry_interval", 25*time.Millisecond)
	viper.SetDefault("ledger.history_max_page_size", 100)
	viper.SetDefault("ledger.pending_stale_after", 15*time.Minute)
	viper.SetDefault("ledger.pending_sweep_schedule", "0 */5 * * * *")
	viper.SetDefault("ledger.pending_sweep_limit", 500)
	viper.SetDefault("ledger.audit_queue", "ledger_audit_queue")
	viper.SetDefault("ledger.audit_buffer", 1024)
	viper.SetDefault("ledger.audit_timeout", 2*time.Second)
	viper.SetDefault("ledger.default_actor", "system")
	viper.SetDefault("server.port", "8080")

	return &LedgerConfig{
		LockTTL:              viper.GetDuration("ledger.lock_ttl"),
		LockWait:             viper.GetDuration("ledger.lock_wait"),
		LockRetryInterval:    viper.GetDuration("ledger.lock_retry_interval"),
		HistoryMaxPageSize:   viper.GetInt("ledger.history_max_page_size"),
		PendingStaleAfter:    viper.GetDuration("ledger.pending_stale_after"),
		PendingSweepSchedule: viper.GetString("ledger.pending_sweep_schedule"),
		PendingSweepLimit:    viper.GetInt("ledger.pending_sweep_limit"),
		AuditQueue:           viper.GetString("ledger.audit_queue"),
		AuditBuffer:          viper.GetInt("ledger.audit_buffer"),
		AuditTimeout:         viper.GetDuration("ledger.audit_timeout"),
		DefaultActor:         viper.GetString("ledger.default_actor"),
		ServerPort:           viper.GetString("server.port"),
	}
}
