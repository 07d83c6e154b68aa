// Package store defines the durable storage contract of the ledger: account
// balances, the transaction log, the rate table and conversion records.
// Implementations live in the postgres and memory subpackages.
package store

import (
	"context"
	"time"

	"github.com/growshop/ledger/internal/models"
)

// AccountStore persists accounts. Accounts are never deleted.
type AccountStore interface {
	// CreateAccount fails with models.ErrAccountExists for a taken key.
	CreateAccount(ctx context.Context, account *models.Account) error
	// GetAccount is an advisory read; see Store.Commit for the authoritative one.
	GetAccount(ctx context.Context, key models.AccountKey) (*models.Account, error)
	SetAccountStatus(ctx context.Context, key models.AccountKey, status models.AccountStatus, actor string) error
}

// EntryStore is the append-oriented transaction log.
type EntryStore interface {
	// InsertEntries writes entries in one statement batch, all or none.
	InsertEntries(ctx context.Context, entries ...*models.LedgerEntry) error
	// TransitionEntries applies every transition or none. Each transition
	// only matches an entry still in its From status.
	TransitionEntries(ctx context.Context, transitions ...models.Transition) error
	GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error)
	// ListEntries returns entries newest first.
	ListEntries(ctx context.Context, key models.AccountKey, offset, limit int) ([]*models.LedgerEntry, error)
	CountEntries(ctx context.Context, key models.AccountKey) (int64, error)
	// ListStalePending returns pending entries created before the cutoff, oldest first.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.LedgerEntry, error)
	// SumApplied totals the amounts of entries whose delta reached the
	// balance (success or reversed), split by direction.
	SumApplied(ctx context.Context, key models.AccountKey, currency models.Currency) (credits, debits int64, err error)
}

// RateStore is the append-only conversion rate table.
type RateStore interface {
	// GetActiveRate fails with models.ErrNoActiveRate when none is active.
	GetActiveRate(ctx context.Context, currency models.Currency) (*models.ConversionRate, error)
	// SetRate inserts rate as the active row and deactivates the previous one atomically.
	SetRate(ctx context.Context, rate *models.ConversionRate) error
	ListActiveRates(ctx context.Context) ([]*models.ConversionRate, error)
	DeactivateRate(ctx context.Context, currency models.Currency) error
}

// ConversionStore holds conversion audit records.
type ConversionStore interface {
	InsertConversion(ctx context.Context, record *models.ConversionRecord) error
	ListConversions(ctx context.Context, filter models.ConversionFilter) ([]*models.ConversionRecord, error)
	// ConversionStats aggregates successful conversions created in [since, until).
	ConversionStats(ctx context.Context, since, until time.Time) ([]*models.ConversionStats, error)
}

// Store is everything the ledger services need.
type Store interface {
	AccountStore
	EntryStore
	RateStore
	ConversionStore

	// Commit applies m as one atomic storage transaction: it locks and
	// re-reads the account, applies every delta, rejects with
	// models.ErrInsufficientFunds if any balance would go negative or a
	// *models.RangeError if a credit would overflow, applies
	// the guarded transitions and writes m.Conversion.
	// On any error nothing is applied. It returns the account as committed.
	Commit(ctx context.Context, m *models.Mutation) (*models.Account, error)

	Ping(ctx context.Context) error
}
