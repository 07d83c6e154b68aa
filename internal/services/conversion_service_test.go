package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/growshop/ledger/internal/audit"
	"github.com/growshop/ledger/internal/lock"
	"github.com/growshop/ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (f *fixture) setRate(t *testing.T, currency models.Currency, rate, min, max int64) *models.ConversionRate {
	t.Helper()
	r, err := f.rates.SetRate(context.Background(), SetRateRequest{
		Currency: currency, Rate: rate, MinAmount: min, MaxAmount: max, Actor: "admin",
	})
	require.NoError(t, err)
	return r
}

func convertFixture(t *testing.T) *fixture {
	f := newFixture(t)
	f.register(t, discordUser)
	f.credit(t, discordUser, models.CurrencyWL, 1000)
	f.setRate(t, models.CurrencyWL, 5000, 1, 10_000)
	return f
}

func TestConversionService_Convert(t *testing.T) {
	ctx := context.Background()

	t.Run("debits game currency and credits rupiah", func(t *testing.T) {
		f := convertFixture(t)

		record, err := f.conversions.Convert(ctx, ConvertRequest{
			Key: discordUser, FromCurrency: models.CurrencyWL, Amount: 200, Actor: "user",
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(record.ID, "conv_"))
		assert.Equal(t, models.ConversionSuccess, record.Status)
		assert.Equal(t, int64(5000), record.RateUsed)
		assert.Equal(t, int64(1_000_000), record.ConvertedAmount)
		assert.Equal(t, models.CurrencyRupiah, record.ToCurrency)

		balances := f.balance(t, discordUser)
		assert.Equal(t, int64(800), balances.WL)
		assert.Equal(t, int64(1_000_000), balances.Rupiah)

		debit, err := f.store.GetEntry(ctx, record.DebitEntryID)
		require.NoError(t, err)
		credit, err := f.store.GetEntry(ctx, record.CreditEntryID)
		require.NoError(t, err)
		for _, leg := range []*models.LedgerEntry{debit, credit} {
			assert.Equal(t, models.EntryConvert, leg.Type)
			assert.Equal(t, models.StatusSuccess, leg.Status)
			assert.Equal(t, record.ID, leg.ConversionID)
			rate, ok := leg.Metadata["rate_used"].AsInt()
			assert.True(t, ok)
			assert.Equal(t, int64(5000), rate)
		}
		assert.Equal(t, models.DirectionDown, debit.Direction)
		assert.Equal(t, int64(200), debit.Amount)
		assert.Equal(t, models.DirectionUp, credit.Direction)
		assert.Equal(t, int64(1_000_000), credit.Amount)

		for _, cur := range []models.Currency{models.CurrencyWL, models.CurrencyRupiah} {
			report, err := f.balances.Reconcile(ctx, discordUser, cur)
			require.NoError(t, err)
			assert.True(t, report.Consistent, cur)
		}

		require.Len(t, f.audit.ofKind(audit.KindConversion), 1)
		assert.Len(t, f.audit.ofKind(audit.KindLedgerEntry), 3)
	})

	t.Run("captured rate survives a rate change", func(t *testing.T) {
		f := convertFixture(t)

		record, err := f.conversions.Convert(ctx, ConvertRequest{Key: discordUser, FromCurrency: models.CurrencyWL, Amount: 10})
		require.NoError(t, err)
		f.setRate(t, models.CurrencyWL, 6000, 1, 10_000)

		history, err := f.conversions.GetHistory(ctx, models.ConversionFilter{Key: &discordUser})
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, record.ID, history[0].ID)
		assert.Equal(t, int64(5000), history[0].RateUsed)
	})

	t.Run("insufficient funds fails both legs", func(t *testing.T) {
		f := convertFixture(t)

		_, err := f.conversions.Convert(ctx, ConvertRequest{Key: discordUser, FromCurrency: models.CurrencyWL, Amount: 5000})
		require.ErrorIs(t, err, models.ErrInsufficientFunds)

		balances := f.balance(t, discordUser)
		assert.Equal(t, int64(1000), balances.WL)
		assert.Equal(t, int64(0), balances.Rupiah)

		entries := f.entries(t, discordUser)
		require.Len(t, entries, 3)
		assert.Equal(t, models.StatusFailed, entries[0].Status)
		assert.Equal(t, models.StatusFailed, entries[1].Status)

		history, err := f.conversions.GetHistory(ctx, models.ConversionFilter{})
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, models.ConversionFailed, history[0].Status)
		reason, _ := history[0].Metadata["error"].AsString()
		assert.Contains(t, reason, "insufficient funds")
	})

	t.Run("storage failure on the credit leg rolls back the debit", func(t *testing.T) {
		f := convertFixture(t)

		transitions := 0
		f.store.Fault = func(step string) error {
			if strings.HasPrefix(step, "transition:") {
				transitions++
				if transitions == 2 {
					return errors.New("disk full")
				}
			}
			return nil
		}

		_, err := f.conversions.Convert(ctx, ConvertRequest{Key: discordUser, FromCurrency: models.CurrencyWL, Amount: 200})
		require.ErrorIs(t, err, models.ErrStorage)
		assert.True(t, models.IsRetryable(err))

		balances := f.balance(t, discordUser)
		assert.Equal(t, int64(1000), balances.WL)
		assert.Equal(t, int64(0), balances.Rupiah)

		entries := f.entries(t, discordUser)
		require.Len(t, entries, 3)
		assert.Equal(t, models.StatusFailed, entries[0].Status)
		assert.Equal(t, models.StatusFailed, entries[1].Status)
		assert.False(t, f.locker.Held(lock.AccountKey(discordUser)))

		history, err := f.conversions.GetHistory(ctx, models.ConversionFilter{})
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, models.ConversionFailed, history[0].Status)
	})

	t.Run("no active rate", func(t *testing.T) {
		f := convertFixture(t)

		_, err := f.conversions.Convert(ctx, ConvertRequest{Key: discordUser, FromCurrency: models.CurrencyDL, Amount: 1})
		assert.ErrorIs(t, err, models.ErrNoActiveRate)

		require.NoError(t, f.rates.DeactivateRate(ctx, models.CurrencyWL, "admin"))
		_, err = f.conversions.Convert(ctx, ConvertRequest{Key: discordUser, FromCurrency: models.CurrencyWL, Amount: 1})
		assert.ErrorIs(t, err, models.ErrNoActiveRate)
		assert.Len(t, f.entries(t, discordUser), 1)
	})

	t.Run("amount outside rate bounds", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, discordUser)
		f.credit(t, discordUser, models.CurrencyWL, 1000)
		f.setRate(t, models.CurrencyWL, 5000, 10, 500)

		for _, amount := range []int64{9, 501} {
			_, err := f.conversions.Convert(ctx, ConvertRequest{Key: discordUser, FromCurrency: models.CurrencyWL, Amount: amount})
			require.ErrorIs(t, err, models.ErrRange)

			var re *models.RangeError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, int64(10), re.Min)
			assert.Equal(t, int64(500), re.Max)
		}
		assert.Len(t, f.entries(t, discordUser), 1)
	})

	t.Run("converted amount overflow", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, discordUser)
		f.credit(t, discordUser, models.CurrencyBGL, 1000)
		f.setRate(t, models.CurrencyBGL, math.MaxInt64/10, 1, 1000)

		_, err := f.conversions.Convert(ctx, ConvertRequest{Key: discordUser, FromCurrency: models.CurrencyBGL, Amount: 100})
		require.ErrorIs(t, err, models.ErrRange)
		assert.Equal(t, int64(1000), f.balance(t, discordUser).BGL)
	})
}

func TestConversionService_ValidationBeforeLock(t *testing.T) {
	locker := new(MockLocker)
	f := convertFixture(t)

	deps := f.deps
	deps.Locks = lock.NewController(locker, lock.Options{}, quietLogger())
	service := NewConversionService(deps, NewBalanceService(deps))

	tests := []struct {
		name  string
		req   ConvertRequest
		field string
	}{
		{"zero amount", ConvertRequest{Key: discordUser, FromCurrency: models.CurrencyWL, Amount: 0}, "amount"},
		{"negative amount", ConvertRequest{Key: discordUser, FromCurrency: models.CurrencyWL, Amount: -1}, "amount"},
		{"rupiah source", ConvertRequest{Key: discordUser, FromCurrency: models.CurrencyRupiah, Amount: 1}, "from_currency"},
		{"web account", ConvertRequest{Key: webUser, FromCurrency: models.CurrencyWL, Amount: 1}, "platform"},
		{"unknown currency", ConvertRequest{Key: discordUser, FromCurrency: "gold", Amount: 1}, "from_currency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Convert(context.Background(), tt.req)
			require.ErrorIs(t, err, models.ErrValidation)

			var ve *models.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	locker.AssertNotCalled(t, "Acquire", mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, f.entries(t, discordUser), 1)
	assert.Empty(t, f.audit.ofKind(audit.KindConversion))
}

func TestConversionService_HistoryAndStats(t *testing.T) {
	ctx := context.Background()
	f := convertFixture(t)
	f.credit(t, discordUser, models.CurrencyDL, 50)
	f.setRate(t, models.CurrencyDL, 500_000, 1, 100)

	other := models.AccountKey{UserID: "987654321", Platform: models.PlatformDiscord}
	f.register(t, other)
	f.credit(t, other, models.CurrencyWL, 100)

	since := time.Now().UTC().Add(-time.Minute)
	for _, req := range []ConvertRequest{
		{Key: discordUser, FromCurrency: models.CurrencyWL, Amount: 100},
		{Key: discordUser, FromCurrency: models.CurrencyDL, Amount: 2},
		{Key: other, FromCurrency: models.CurrencyWL, Amount: 50},
	} {
		_, err := f.conversions.Convert(ctx, req)
		require.NoError(t, err)
	}
	_, err := f.conversions.Convert(ctx, ConvertRequest{Key: other, FromCurrency: models.CurrencyWL, Amount: 60})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	mine, err := f.conversions.GetHistory(ctx, models.ConversionFilter{Key: &discordUser})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, models.CurrencyDL, mine[0].FromCurrency)

	wl, err := f.conversions.GetHistory(ctx, models.ConversionFilter{FromCurrency: models.CurrencyWL, Limit: 1})
	require.NoError(t, err)
	require.Len(t, wl, 1)
	assert.Equal(t, models.ConversionFailed, wl[0].Status)

	stats, err := f.conversions.Stats(ctx, since, time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, models.CurrencyDL, stats[0].FromCurrency)
	assert.Equal(t, int64(1_000_000), stats[0].TotalConverted)
	assert.Equal(t, models.CurrencyWL, stats[1].FromCurrency)
	assert.Equal(t, int64(2), stats[1].TotalConversions)
	assert.Equal(t, int64(150), stats[1].TotalAmount)
	assert.Equal(t, int64(750_000), stats[1].TotalConverted)
	assert.InDelta(t, 5000.0, stats[1].AverageRate, 0.001)

	_, err = f.conversions.Stats(ctx, time.Now().Add(time.Hour), time.Now())
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.conversions.GetHistory(ctx, models.ConversionFilter{FromCurrency: models.CurrencyRupiah})
	assert.ErrorIs(t, err, models.ErrValidation)

	empty, err := f.conversions.GetHistory(ctx, models.ConversionFilter{Key: &webUser})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
