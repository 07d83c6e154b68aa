// Package postgres implements store.Store on PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/growshop/ledger/internal/models"
	"github.com/growshop/ledger/internal/store"
	"github.com/lib/pq"
)

var _ store.Store = (*Store)(nil)

// pq error code for unique_violation
const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return models.NewStorageError("ping", s.db.PingContext(ctx))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Commit runs the whole mutation inside one transaction. The account row is
// locked first so concurrent commits for the same account serialize even
// when the distributed lock has expired.
func (s *Store) Commit(ctx context.Context, m *models.Mutation) (*models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.NewStorageError("begin", err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, m.Key)
	if err != nil {
		return nil, err
	}

	if len(m.Deltas) > 0 {
		next := account.Balances
		for _, d := range m.Deltas {
			if err := next.Apply(d.Currency, d.Amount); err != nil {
				return nil, err
			}
		}
		if err := s.updateBalances(ctx, tx, account, next, m.Actor); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	for _, t := range m.Transitions {
		if err := s.transition(ctx, tx, t, now); err != nil {
			return nil, err
		}
	}

	if m.Conversion != nil {
		if err := s.insertConversion(ctx, tx, m.Conversion); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, models.NewStorageError("commit", err)
	}
	return account, nil
}

func (s *Store) lockAccount(ctx context.Context, tx *sql.Tx, key models.AccountKey) (*models.Account, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM ledger_accounts
		WHERE user_id = $1 AND platform = $2
		FOR UPDATE`, key.UserID, key.Platform)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, models.NewStorageError("lock account", err)
	}
	return account, nil
}

func (s *Store) updateBalances(ctx context.Context, tx *sql.Tx, account *models.Account, next models.Balances, actor string) error {
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE ledger_accounts
		SET balance_wl = $1, balance_dl = $2, balance_bgl = $3, balance_idr = $4,
			version = version + 1, updated_at = $5, updated_by = $6
		WHERE user_id = $7 AND platform = $8 AND version = $9`,
		next.WL, next.DL, next.BGL, next.Rupiah, now, actor,
		account.Key.UserID, account.Key.Platform, account.Version)
	if err != nil {
		return models.NewStorageError("update balances", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return models.NewStorageError("update balances", err)
	}
	if rowsAffected == 0 {
		return models.NewStorageError("update balances", fmt.Errorf("optimistic lock failed for account %s", account.Key))
	}

	account.Balances = next
	account.Version++
	account.UpdatedAt = now
	account.UpdatedBy = actor
	return nil
}
