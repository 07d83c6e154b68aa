package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoadLedgerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()

		cfg := LoadLedgerConfig()
		assert.Equal(t, 10*time.Second, cfg.LockTTL)
		assert.Equal(t, 5*time.Second, cfg.LockWait)
		assert.Equal(t, 25*time.Millisecond, cfg.LockRetryInterval)
		assert.Equal(t, 100, cfg.HistoryMaxPageSize)
		assert.Equal(t, "0 */5 * * * *", cfg.PendingSweepSchedule)
		assert.Equal(t, "ledger_audit_queue", cfg.AuditQueue)
		assert.Equal(t, "system", cfg.DefaultActor)
		assert.Equal(t, "8080", cfg.ServerPort)
	})

	t.Run("environment overrides", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()
		t.Setenv("LEDGER_LOCK_WAIT", "750ms")
		t.Setenv("LEDGER_HISTORY_MAX_PAGE_SIZE", "25")

		_ = ReadInConfig(t.TempDir() + "/missing.env")
		cfg := LoadLedgerConfig()
		assert.Equal(t, 750*time.Millisecond, cfg.LockWait)
		assert.Equal(t, 25, cfg.HistoryMaxPageSize)
	})
}
