package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/growshop/ledger/internal/models"
)

const accountColumns = `user_id, platform, growid, balance_wl, balance_dl, balance_bgl, balance_idr,
	status, version, created_at, updated_at, updated_by`

func scanAccount(row scanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.Key.UserID, &a.Key.Platform, &a.GrowID,
		&a.Balances.WL, &a.Balances.DL, &a.Balances.BGL, &a.Balances.Rupiah,
		&a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt, &a.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_accounts (user_id, platform, growid, balance_wl, balance_dl, balance_bgl, balance_idr,
			status, version, created_at, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.Key.UserID, a.Key.Platform, a.GrowID,
		a.Balances.WL, a.Balances.DL, a.Balances.BGL, a.Balances.Rupiah,
		a.Status, a.Version, a.CreatedAt, a.UpdatedAt, a.UpdatedBy)
	if isUniqueViolation(err) {
		return models.ErrAccountExists
	}
	return models.NewStorageError("create account", err)
}

func (s *Store) GetAccount(ctx context.Context, key models.AccountKey) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM ledger_accounts
		WHERE user_id = $1 AND platform = $2`, key.UserID, key.Platform)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, models.NewStorageError("get account", err)
	}
	return a, nil
}

func (s *Store) SetAccountStatus(ctx context.Context, key models.AccountKey, status models.AccountStatus, actor string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ledger_accounts
		SET status = $1, version = version + 1, updated_at = $2, updated_by = $3
		WHERE user_id = $4 AND platform = $5`,
		status, time.Now().UTC(), actor, key.UserID, key.Platform)
	if err != nil {
		return models.NewStorageError("set account status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return models.NewStorageError("set account status", err)
	}
	if rowsAffected == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}
