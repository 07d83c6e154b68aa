package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/growshop/ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var player = models.AccountKey{UserID: "u1", Platform: models.PlatformDiscord}

func seed(t *testing.T, s *Store, wl int64) {
	t.Helper()
	require.NoError(t, s.CreateAccount(context.Background(), &models.Account{
		Key:      player,
		GrowID:   "PLAYER1",
		Balances: models.Balances{WL: wl},
		Status:   models.AccountActive,
	}))
}

func pending(id string, cur models.Currency, dir models.Direction, amount int64, at time.Time) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:        id,
		Key:       player,
		Currency:  cur,
		Type:      models.EntryAdd,
		Direction: dir,
		Amount:    amount,
		Status:    models.StatusPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestStore_Commit(t *testing.T) {
	ctx := context.Background()

	t.Run("applies deltas and transitions together", func(t *testing.T) {
		s := New()
		seed(t, s, 100)
		require.NoError(t, s.InsertEntries(ctx, pending("txn_1", models.CurrencyWL, models.DirectionDown, 40, time.Now())))

		acct, err := s.Commit(ctx, &models.Mutation{
			Key:         player,
			Actor:       "tester",
			Deltas:      []models.Delta{{Currency: models.CurrencyWL, Amount: -40}},
			Transitions: []models.Transition{{EntryID: "txn_1", From: models.StatusPending, To: models.StatusSuccess}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(60), acct.Balances.WL)
		assert.Equal(t, "tester", acct.UpdatedBy)

		e, err := s.GetEntry(ctx, "txn_1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusSuccess, e.Status)
	})

	t.Run("insufficient funds applies nothing", func(t *testing.T) {
		s := New()
		seed(t, s, 100)
		require.NoError(t, s.InsertEntries(ctx, pending("txn_1", models.CurrencyWL, models.DirectionDown, 150, time.Now())))

		_, err := s.Commit(ctx, &models.Mutation{
			Key:         player,
			Deltas:      []models.Delta{{Currency: models.CurrencyWL, Amount: -150}},
			Transitions: []models.Transition{{EntryID: "txn_1", From: models.StatusPending, To: models.StatusSuccess}},
		})
		assert.True(t, errors.Is(err, models.ErrInsufficientFunds))

		acct, _ := s.GetAccount(ctx, player)
		assert.Equal(t, int64(100), acct.Balances.WL)
		e, _ := s.GetEntry(ctx, "txn_1")
		assert.Equal(t, models.StatusPending, e.Status)
	})

	t.Run("credit overflow is a range error", func(t *testing.T) {
		s := New()
		seed(t, s, math.MaxInt64-5)
		require.NoError(t, s.InsertEntries(ctx, pending("txn_1", models.CurrencyWL, models.DirectionUp, 10, time.Now())))

		_, err := s.Commit(ctx, &models.Mutation{
			Key:         player,
			Deltas:      []models.Delta{{Currency: models.CurrencyWL, Amount: 10}},
			Transitions: []models.Transition{{EntryID: "txn_1", From: models.StatusPending, To: models.StatusSuccess}},
		})
		assert.True(t, errors.Is(err, models.ErrRange))
		assert.False(t, errors.Is(err, models.ErrInsufficientFunds))

		acct, _ := s.GetAccount(ctx, player)
		assert.Equal(t, int64(math.MaxInt64-5), acct.Balances.WL)
	})

	t.Run("fault on second leg rolls back the first", func(t *testing.T) {
		s := New()
		seed(t, s, 1000)
		now := time.Now()
		require.NoError(t, s.InsertEntries(ctx,
			pending("debit", models.CurrencyWL, models.DirectionDown, 200, now),
			pending("credit", models.CurrencyRupiah, models.DirectionUp, 1_000_000, now),
		))
		s.Fault = func(step string) error {
			if step == "transition:credit" {
				return errors.New("disk full")
			}
			return nil
		}

		_, err := s.Commit(ctx, &models.Mutation{
			Key: player,
			Deltas: []models.Delta{
				{Currency: models.CurrencyWL, Amount: -200},
				{Currency: models.CurrencyRupiah, Amount: 1_000_000},
			},
			Transitions: []models.Transition{
				{EntryID: "debit", From: models.StatusPending, To: models.StatusSuccess},
				{EntryID: "credit", From: models.StatusPending, To: models.StatusSuccess},
			},
			Conversion: &models.ConversionRecord{ID: "conv_1", Key: player, Status: models.ConversionSuccess},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrStorage))

		acct, _ := s.GetAccount(ctx, player)
		assert.Equal(t, int64(1000), acct.Balances.WL)
		assert.Equal(t, int64(0), acct.Balances.Rupiah)
		for _, id := range []string{"debit", "credit"} {
			e, _ := s.GetEntry(ctx, id)
			assert.Equal(t, models.StatusPending, e.Status)
		}
		records, _ := s.ListConversions(ctx, models.ConversionFilter{})
		assert.Empty(t, records)
	})

	t.Run("guarded transition rejects stale status", func(t *testing.T) {
		s := New()
		seed(t, s, 10)
		e := pending("txn_1", models.CurrencyWL, models.DirectionUp, 5, time.Now())
		e.Status = models.StatusFailed
		require.NoError(t, s.InsertEntries(ctx, e))

		_, err := s.Commit(ctx, &models.Mutation{
			Key:         player,
			Deltas:      []models.Delta{{Currency: models.CurrencyWL, Amount: 5}},
			Transitions: []models.Transition{{EntryID: "txn_1", From: models.StatusPending, To: models.StatusSuccess}},
		})
		var te *models.TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, models.StatusFailed, te.From)

		acct, _ := s.GetAccount(ctx, player)
		assert.Equal(t, int64(10), acct.Balances.WL)
	})

	t.Run("unknown account", func(t *testing.T) {
		s := New()
		_, err := s.Commit(ctx, &models.Mutation{Key: player})
		assert.Equal(t, models.ErrAccountNotFound, err)
	})
}

func TestStore_TransitionEntries(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertEntries(ctx,
		pending("a", models.CurrencyWL, models.DirectionUp, 1, time.Now()),
		pending("b", models.CurrencyWL, models.DirectionUp, 1, time.Now()),
	))

	err := s.TransitionEntries(ctx,
		models.Transition{EntryID: "a", From: models.StatusPending, To: models.StatusFailed},
		models.Transition{EntryID: "b", From: models.StatusPending, To: models.StatusReversed},
	)
	assert.True(t, errors.Is(err, models.ErrIllegalTransition))

	a, _ := s.GetEntry(ctx, "a")
	assert.Equal(t, models.StatusPending, a.Status)

	err = s.TransitionEntries(ctx, models.Transition{EntryID: "missing", From: models.StatusPending, To: models.StatusFailed})
	assert.True(t, errors.Is(err, models.ErrEntryNotFound))
}

func TestStore_ListEntries(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertEntries(ctx, pending(fmt.Sprintf("txn_%d", i), models.CurrencyWL, models.DirectionUp, 1, base.Add(time.Duration(i)*time.Minute))))
	}

	first, err := s.ListEntries(ctx, player, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "txn_4", first[0].ID)
	assert.Equal(t, "txn_3", first[1].ID)

	last, err := s.ListEntries(ctx, player, 4, 2)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "txn_0", last[0].ID)

	none, err := s.ListEntries(ctx, player, -20, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err := s.CountEntries(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	stale, err := s.ListStalePending(ctx, base.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 2)
}

func TestStore_Rates(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetActiveRate(ctx, models.CurrencyWL)
	assert.True(t, errors.Is(err, models.ErrNoActiveRate))

	require.NoError(t, s.SetRate(ctx, &models.ConversionRate{ID: "r1", Currency: models.CurrencyWL, Rate: 4000, MinAmount: 1, MaxAmount: 100}))
	require.NoError(t, s.SetRate(ctx, &models.ConversionRate{ID: "r2", Currency: models.CurrencyWL, Rate: 5000, MinAmount: 1, MaxAmount: 100}))

	active, err := s.GetActiveRate(ctx, models.CurrencyWL)
	require.NoError(t, err)
	assert.Equal(t, "r2", active.ID)

	rates, _ := s.ListActiveRates(ctx)
	assert.Len(t, rates, 1)

	require.NoError(t, s.DeactivateRate(ctx, models.CurrencyWL))
	assert.True(t, errors.Is(s.DeactivateRate(ctx, models.CurrencyWL), models.ErrNoActiveRate))
}
