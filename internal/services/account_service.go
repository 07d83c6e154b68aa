package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/growshop/ledger/internal/lock"
	"github.com/growshop/ledger/internal/models"
)

type RegisterRequest struct {
	Key    models.AccountKey `json:"key"`
	GrowID string            `json:"growid" validate:"max=64"`
	Actor  string            `json:"actor" validate:"max=64"`
}

// AccountService creates accounts and flags them; accounts are never deleted.
type AccountService struct {
	deps      Deps
	validator *ValidationHelper
	logger    *slog.Logger
}

func NewAccountService(deps Deps) *AccountService {
	deps = deps.withDefaults()
	return &AccountService{
		deps:      deps,
		validator: NewValidationHelper(),
		logger:    deps.Logger.With("component", "account_service"),
	}
}

// Register creates an active account with zero balances. Discord accounts
// must carry a GrowID.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (*models.Account, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	req.GrowID = strings.TrimSpace(req.GrowID)
	if req.Key.Platform == models.PlatformDiscord && req.GrowID == "" {
		return nil, models.NewValidationError("growid", "discord accounts need a growid")
	}

	now := time.Now().UTC()
	account := &models.Account{
		Key:       req.Key,
		GrowID:    req.GrowID,
		Status:    models.AccountActive,
		CreatedAt: now,
		UpdatedAt: now,
		UpdatedBy: s.deps.actor(req.Actor),
	}
	if err := s.deps.Store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account registered", "account", req.Key.String(), "growid", req.GrowID)
	return account, nil
}

// Disable blocks further mutations on the account.
func (s *AccountService) Disable(ctx context.Context, key models.AccountKey, actor string) error {
	return s.setStatus(ctx, key, models.AccountDisabled, actor)
}

// Enable lifts a previous Disable.
func (s *AccountService) Enable(ctx context.Context, key models.AccountKey, actor string) error {
	return s.setStatus(ctx, key, models.AccountActive, actor)
}

// setStatus runs under the account lock so no mutation is mid-flight while
// the flag flips.
func (s *AccountService) setStatus(ctx context.Context, key models.AccountKey, status models.AccountStatus, actor string) error {
	if err := s.validator.ValidateStruct(&key); err != nil {
		return err
	}
	return s.deps.Locks.WithLock(ctx, lock.AccountKey(key), func(ctx context.Context) error {
		ctx = context.WithoutCancel(ctx)
		if err := s.deps.Store.SetAccountStatus(ctx, key, status, s.deps.actor(actor)); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "account status changed", "account", key.String(), "status", status)
		return nil
	})
}
