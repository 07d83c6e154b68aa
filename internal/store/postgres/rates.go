package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/growshop/ledger/internal/models"
)

const rateColumns = `id, currency, rate, min_amount, max_amount, is_active, effective_at, set_by`

func scanRate(row scanner) (*models.ConversionRate, error) {
	var r models.ConversionRate
	err := row.Scan(&r.ID, &r.Currency, &r.Rate, &r.MinAmount, &r.MaxAmount, &r.IsActive, &r.EffectiveAt, &r.SetBy)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetActiveRate(ctx context.Context, currency models.Currency) (*models.ConversionRate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+rateColumns+`
		FROM conversion_rates
		WHERE currency = $1 AND is_active
		ORDER BY effective_at DESC
		LIMIT 1`, currency)

	r, err := scanRate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrNoActiveRate, currency)
	}
	if err != nil {
		return nil, models.NewStorageError("get active rate", err)
	}
	return r, nil
}

// SetRate appends rate and retires the currently active row in the same
// transaction, keeping at most one active row per currency.
func (s *Store) SetRate(ctx context.Context, rate *models.ConversionRate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.NewStorageError("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversion_rates SET is_active = FALSE
		WHERE currency = $1 AND is_active`, rate.Currency); err != nil {
		return models.NewStorageError("deactivate rate", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversion_rates (`+rateColumns+`)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7)`,
		rate.ID, rate.Currency, rate.Rate, rate.MinAmount, rate.MaxAmount, rate.EffectiveAt, rate.SetBy); err != nil {
		return models.NewStorageError("insert rate", err)
	}

	if err := tx.Commit(); err != nil {
		return models.NewStorageError("commit", err)
	}
	rate.IsActive = true
	return nil
}

func (s *Store) ListActiveRates(ctx context.Context) ([]*models.ConversionRate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rateColumns+`
		FROM conversion_rates
		WHERE is_active
		ORDER BY currency`)
	if err != nil {
		return nil, models.NewStorageError("list active rates", err)
	}
	defer rows.Close()

	var rates []*models.ConversionRate
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, models.NewStorageError("list active rates", err)
		}
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewStorageError("list active rates", err)
	}
	return rates, nil
}

func (s *Store) DeactivateRate(ctx context.Context, currency models.Currency) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversion_rates SET is_active = FALSE
		WHERE currency = $1 AND is_active`, currency)
	if err != nil {
		return models.NewStorageError("deactivate rate", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return models.NewStorageError("deactivate rate", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrNoActiveRate, currency)
	}
	return nil
}

// Conversion records

const conversionColumns = `id, user_id, platform, from_currency, to_currency, amount, converted_amount,
	rate_used, rate_id, status, debit_entry_id, credit_entry_id, created_at, metadata`

func (s *Store) insertConversion(ctx context.Context, ex execer, c *models.ConversionRecord) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO conversion_records (`+conversionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.Key.UserID, c.Key.Platform, c.FromCurrency, c.ToCurrency, c.Amount, c.ConvertedAmount,
		c.RateUsed, c.RateID, c.Status, c.DebitEntryID, c.CreditEntryID, c.CreatedAt, c.Metadata)
	return models.NewStorageError("insert conversion", err)
}

func (s *Store) InsertConversion(ctx context.Context, c *models.ConversionRecord) error {
	return s.insertConversion(ctx, s.db, c)
}

func (s *Store) ListConversions(ctx context.Context, filter models.ConversionFilter) ([]*models.ConversionRecord, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Key != nil {
		where = append(where, "user_id = "+arg(filter.Key.UserID), "platform = "+arg(filter.Key.Platform))
	}
	if filter.FromCurrency != "" {
		where = append(where, "from_currency = "+arg(filter.FromCurrency))
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "created_at < "+arg(filter.Until))
	}

	query := `SELECT ` + conversionColumns + ` FROM conversion_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.NewStorageError("list conversions", err)
	}
	defer rows.Close()

	var records []*models.ConversionRecord
	for rows.Next() {
		var c models.ConversionRecord
		if err := rows.Scan(
			&c.ID, &c.Key.UserID, &c.Key.Platform, &c.FromCurrency, &c.ToCurrency, &c.Amount, &c.ConvertedAmount,
			&c.RateUsed, &c.RateID, &c.Status, &c.DebitEntryID, &c.CreditEntryID, &c.CreatedAt, &c.Metadata,
		); err != nil {
			return nil, models.NewStorageError("list conversions", err)
		}
		records = append(records, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewStorageError("list conversions", err)
	}
	return records, nil
}

func (s *Store) ConversionStats(ctx context.Context, since, until time.Time) ([]*models.ConversionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_currency, COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(converted_amount), 0),
			COALESCE(AVG(rate_used), 0)::float8
		FROM conversion_records
		WHERE status = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY from_currency
		ORDER BY from_currency`, models.ConversionSuccess, since, until)
	if err != nil {
		return nil, models.NewStorageError("conversion stats", err)
	}
	defer rows.Close()

	var stats []*models.ConversionStats
	for rows.Next() {
		var st models.ConversionStats
		if err := rows.Scan(&st.FromCurrency, &st.TotalConversions, &st.TotalAmount, &st.TotalConverted, &st.AverageRate); err != nil {
			return nil, models.NewStorageError("conversion stats", err)
		}
		stats = append(stats, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewStorageError("conversion stats", err)
	}
	return stats, nil
}
