package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/growshop/ledger/internal/models"
	"github.com/lib/pq"
)

const entryColumns = `id, user_id, platform, currency, entry_type, direction, amount, status,
	created_at, updated_at, created_by, description, metadata,
	COALESCE(reverses_id, ''), COALESCE(conversion_id, '')`

// appliedStatuses are the states of entries whose delta reached the balance.
var appliedStatuses = []string{string(models.StatusSuccess), string(models.StatusReversed)}

func scanEntry(row scanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(
		&e.ID, &e.Key.UserID, &e.Key.Platform, &e.Currency, &e.Type, &e.Direction, &e.Amount, &e.Status,
		&e.CreatedAt, &e.UpdatedAt, &e.CreatedBy, &e.Description, &e.Metadata,
		&e.ReversesID, &e.ConversionID,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) insertEntry(ctx context.Context, ex execer, e *models.LedgerEntry) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, platform, currency, entry_type, direction, amount, status,
			created_at, updated_at, created_by, description, metadata, reverses_id, conversion_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), NULLIF($15, ''))`,
		e.ID, e.Key.UserID, e.Key.Platform, e.Currency, e.Type, e.Direction, e.Amount, e.Status,
		e.CreatedAt, e.UpdatedAt, e.CreatedBy, e.Description, e.Metadata,
		e.ReversesID, e.ConversionID)
	return models.NewStorageError("insert entry", err)
}

func (s *Store) InsertEntries(ctx context.Context, entries ...*models.LedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.NewStorageError("begin", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if err := s.insertEntry(ctx, tx, e); err != nil {
			return err
		}
	}
	return models.NewStorageError("commit", tx.Commit())
}

// transition moves one entry only if it is still in t.From.
func (s *Store) transition(ctx context.Context, tx *sql.Tx, t models.Transition, now time.Time) error {
	if err := models.CheckTransition(t.EntryID, t.From, t.To); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		t.To, now, t.EntryID, t.From)
	if err != nil {
		return models.NewStorageError("transition entry", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return models.NewStorageError("transition entry", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// guard missed: report what the entry actually is
	var current models.EntryStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM ledger_entries WHERE id = $1`, t.EntryID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", models.ErrEntryNotFound, t.EntryID)
	}
	if err != nil {
		return models.NewStorageError("transition entry", err)
	}
	return &models.TransitionError{EntryID: t.EntryID, From: current, To: t.To}
}

func (s *Store) TransitionEntries(ctx context.Context, transitions ...models.Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.NewStorageError("begin", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, t := range transitions {
		if err := s.transition(ctx, tx, t, now); err != nil {
			return err
		}
	}
	return models.NewStorageError("commit", tx.Commit())
}

func (s *Store) GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrEntryNotFound, id)
	}
	if err != nil {
		return nil, models.NewStorageError("get entry", err)
	}
	return e, nil
}

func (s *Store) queryEntries(ctx context.Context, op, query string, args ...any) ([]*models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.NewStorageError(op, err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, models.NewStorageError(op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewStorageError(op, err)
	}
	return entries, nil
}

func (s *Store) ListEntries(ctx context.Context, key models.AccountKey, offset, limit int) ([]*models.LedgerEntry, error) {
	return s.queryEntries(ctx, "list entries", `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE user_id = $1 AND platform = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`, key.UserID, key.Platform, limit, offset)
}

func (s *Store) CountEntries(ctx context.Context, key models.AccountKey) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM ledger_entries WHERE user_id = $1 AND platform = $2`,
		key.UserID, key.Platform).Scan(&count)
	if err != nil {
		return 0, models.NewStorageError("count entries", err)
	}
	return count, nil
}

func (s *Store) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.LedgerEntry, error) {
	return s.queryEntries(ctx, "list stale pending", `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`, models.StatusPending, before, limit)
}

func (s *Store) SumApplied(ctx context.Context, key models.AccountKey, currency models.Currency) (int64, int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT direction, COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE user_id = $1 AND platform = $2 AND currency = $3 AND status = ANY($4)
		GROUP BY direction`,
		key.UserID, key.Platform, currency, pq.Array(appliedStatuses))
	if err != nil {
		return 0, 0, models.NewStorageError("sum applied", err)
	}
	defer rows.Close()

	var credits, debits int64
	for rows.Next() {
		var dir models.Direction
		var sum int64
		if err := rows.Scan(&dir, &sum); err != nil {
			return 0, 0, models.NewStorageError("sum applied", err)
		}
		if dir == models.DirectionUp {
			credits = sum
		} else {
			debits = sum
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, models.NewStorageError("sum applied", err)
	}
	return credits, debits, nil
}
