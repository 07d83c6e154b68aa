package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/growshop/ledger/internal/audit"
	"github.com/growshop/ledger/internal/lock"
	"github.com/growshop/ledger/internal/models"
	"github.com/growshop/ledger/internal/store/memory"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Handle, error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lock.Handle), args.Error(1)
}

func (m *MockLocker) Release(ctx context.Context, h *lock.Handle) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

// recorder keeps every emitted audit event in order.
type recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorder) Emit(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

func (r *recorder) ofKind(kind audit.Kind) []audit.Event {
	var out []audit.Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

var (
	discordUser = models.AccountKey{UserID: "123456789", Platform: models.PlatformDiscord}
	webUser     = models.AccountKey{UserID: "web-42", Platform: models.PlatformWeb}
)

type fixture struct {
	store       *memory.Store
	locker      *lock.MemoryLocker
	audit       *recorder
	deps        Deps
	accounts    *AccountService
	balances    *BalanceService
	conversions *ConversionService
	rates       *RateService
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, lock.Options{TTL: 5 * time.Second, WaitTimeout: 10 * time.Second, RetryInterval: time.Millisecond})
}

func newFixtureWith(t *testing.T, opts lock.Options) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.New(),
		locker: lock.NewMemoryLocker(),
		audit:  &recorder{},
	}
	logger := quietLogger()
	f.deps = Deps{
		Store:  f.store,
		Locks:  lock.NewController(f.locker, opts, logger),
		Audit:  f.audit,
		Logger: logger,
	}
	ledger := NewLedger(f.deps)
	f.accounts = ledger.Accounts
	f.balances = ledger.Balances
	f.conversions = ledger.Conversions
	f.rates = ledger.Rates
	return f
}

func (f *fixture) register(t *testing.T, key models.AccountKey) {
	t.Helper()
	growID := ""
	if key.Platform == models.PlatformDiscord {
		growID = "GROW_" + key.UserID
	}
	_, err := f.accounts.Register(context.Background(), RegisterRequest{Key: key, GrowID: growID})
	require.NoError(t, err)
}

func (f *fixture) credit(t *testing.T, key models.AccountKey, currency models.Currency, amount int64) {
	t.Helper()
	_, err := f.balances.UpdateBalance(context.Background(), UpdateRequest{
		Key: key, Currency: currency, Amount: amount, Type: models.EntryAdd,
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, key models.AccountKey) models.Balances {
	t.Helper()
	snap, err := f.balances.ReadBalance(context.Background(), key)
	require.NoError(t, err)
	return snap.Balances
}

func (f *fixture) entries(t *testing.T, key models.AccountKey) []*models.LedgerEntry {
	t.Helper()
	entries, err := f.store.ListEntries(context.Background(), key, 0, 0)
	require.NoError(t, err)
	return entries
}
