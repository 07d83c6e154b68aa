package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/growshop/ledger/internal/audit"
	"github.com/growshop/ledger/internal/lock"
	"github.com/growshop/ledger/internal/models"
)

// UpdateRequest asks for one single-currency balance mutation.
type UpdateRequest struct {
	Key         models.AccountKey `json:"key"`
	Currency    models.Currency   `json:"currency" validate:"required,ledger_currency"`
	Amount      int64             `json:"amount" validate:"gt=0"`
	Type        models.EntryType  `json:"transaction_type" validate:"required,entry_type"`
	Direction   models.Direction  `json:"direction" validate:"omitempty,oneof=up down"` // adjustments only
	Actor       string            `json:"actor" validate:"max=64"`
	Description string            `json:"description" validate:"max=500"`
	Metadata    models.Metadata   `json:"metadata"`
}

type ReverseRequest struct {
	EntryID string `json:"entry_id" validate:"required"`
	Actor   string `json:"actor" validate:"max=64"`
	Reason  string `json:"reason" validate:"max=500"`
}

type CancelRequest struct {
	EntryID string `json:"entry_id" validate:"required"`
	Actor   string `json:"actor" validate:"max=64"`
}

// ReconcileReport compares a stored balance with the entries that built it.
type ReconcileReport struct {
	Key        models.AccountKey `json:"key"`
	Currency   models.Currency   `json:"currency"`
	Balance    int64             `json:"balance"`
	Credits    int64             `json:"credits"`
	Debits     int64             `json:"debits"`
	Consistent bool              `json:"consistent"`
}

// BalanceService orchestrates single-leg balance mutations.
type BalanceService struct {
	deps      Deps
	validator *ValidationHelper
	logger    *slog.Logger
}

func NewBalanceService(deps Deps) *BalanceService {
	deps = deps.withDefaults()
	return &BalanceService{
		deps:      deps,
		validator: NewValidationHelper(),
		logger:    deps.Logger.With("component", "balance_service"),
	}
}

func (s *BalanceService) validateUpdate(req *UpdateRequest) error {
	if err := s.validator.ValidateStruct(req); err != nil {
		return err
	}
	if req.Type == models.EntryConvert {
		return models.NewValidationError("transaction_type", "convert entries are only created by conversions")
	}
	if !req.Currency.AllowedFor(req.Key.Platform) {
		return models.NewValidationError("currency", "%s is not permitted for %s accounts", req.Currency, req.Key.Platform)
	}
	if req.Direction != "" && req.Type != models.EntryAdjustment {
		return models.NewValidationError("direction", "only adjustments carry a direction")
	}
	return nil
}

// UpdateBalance applies one signed delta to the account and records it as a
// ledger entry. Validation failures return before the lock is touched;
// insufficient funds leave a failed entry behind.
func (s *BalanceService) UpdateBalance(ctx context.Context, req UpdateRequest) (*models.BalanceSnapshot, error) {
	if err := s.validateUpdate(&req); err != nil {
		return nil, err
	}

	var snapshot *models.BalanceSnapshot
	err := s.deps.Locks.WithLock(ctx, lock.AccountKey(req.Key), func(ctx context.Context) error {
		// admitted past the lock: the caller can no longer abandon us midway
		ctx = context.WithoutCancel(ctx)

		if err := s.checkActive(ctx, req.Key); err != nil {
			return err
		}

		now := time.Now().UTC()
		entry := &models.LedgerEntry{
			ID:          newEntryID(),
			Key:         req.Key,
			Currency:    req.Currency,
			Type:        req.Type,
			Direction:   models.DirectionOf(req.Type, req.Direction),
			Amount:      req.Amount,
			Status:      models.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			CreatedBy:   s.deps.actor(req.Actor),
			Description: req.Description,
			Metadata:    req.Metadata,
		}
		if err := s.deps.Store.InsertEntries(ctx, entry); err != nil {
			return err
		}

		account, err := s.deps.Store.Commit(ctx, &models.Mutation{
			Key:         req.Key,
			Actor:       entry.CreatedBy,
			Deltas:      []models.Delta{{Currency: entry.Currency, Amount: entry.Delta()}},
			Transitions: []models.Transition{{EntryID: entry.ID, From: models.StatusPending, To: models.StatusSuccess}},
		})
		if err != nil {
			s.fail(ctx, err, entry)
			return err
		}

		entry.Status = models.StatusSuccess
		entry.UpdatedAt = account.UpdatedAt
		s.deps.Audit.Emit(audit.EntryEvent(entry))
		s.logger.InfoContext(ctx, "balance updated",
			"entry_id", entry.ID, "account", req.Key.String(), "currency", entry.Currency,
			"delta", entry.Delta(), "balance", account.Balances.Get(entry.Currency))

		snapshot = account.Snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (s *BalanceService) checkActive(ctx context.Context, key models.AccountKey) error {
	account, err := s.deps.Store.GetAccount(ctx, key)
	if err != nil {
		return err
	}
	if account.Status == models.AccountDisabled {
		return models.ErrAccountDisabled
	}
	return nil
}

// fail finalizes pending entries after a rejected commit. If that also
// fails the entries stay pending for the stale-entry sweep to report.
func (s *BalanceService) fail(ctx context.Context, cause error, entries ...*models.LedgerEntry) {
	logTransitionError(ctx, s.logger, cause)

	transitions := make([]models.Transition, len(entries))
	for i, e := range entries {
		transitions[i] = models.Transition{EntryID: e.ID, From: models.StatusPending, To: models.StatusFailed}
	}
	if err := s.deps.Store.TransitionEntries(ctx, transitions...); err != nil {
		logTransitionError(ctx, s.logger, err)
		s.logger.ErrorContext(ctx, "could not mark entries failed", "cause", cause, "error", err)
		return
	}

	for _, e := range entries {
		e.Status = models.StatusFailed
		s.deps.Audit.Emit(audit.EntryEvent(e))
	}
	level := slog.LevelWarn
	if errors.Is(cause, models.ErrInsufficientFunds) {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "balance update rejected", "entry_id", entries[0].ID, "error", cause)
}

// ReadBalance is an advisory point-in-time read.
func (s *BalanceService) ReadBalance(ctx context.Context, key models.AccountKey) (*models.BalanceSnapshot, error) {
	if err := s.validator.ValidateStruct(&key); err != nil {
		return nil, err
	}
	account, err := s.deps.Store.GetAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	return account.Snapshot(), nil
}

// GetHistory returns one page of the account's entries, newest first.
func (s *BalanceService) GetHistory(ctx context.Context, key models.AccountKey, page, limit int) (*models.HistoryPage, error) {
	if err := s.validator.ValidateStruct(&key); err != nil {
		return nil, err
	}
	account, err := s.deps.Store.GetAccount(ctx, key)
	if err != nil {
		return nil, err
	}

	page, limit, offset := pageBounds(page, limit, s.deps.MaxPageSize)
	entries, err := s.deps.Store.ListEntries(ctx, key, offset, limit)
	if err != nil {
		return nil, err
	}
	total, err := s.deps.Store.CountEntries(ctx, key)
	if err != nil {
		return nil, err
	}

	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	return &models.HistoryPage{
		Key:          key,
		GrowID:       account.GrowID,
		Entries:      entries,
		TotalRecords: total,
		Page:         page,
		PageSize:     limit,
	}, nil
}

// Reverse undoes a successful entry: it writes a linked entry with the
// opposite delta and moves the original to reversed in the same commit.
func (s *BalanceService) Reverse(ctx context.Context, req ReverseRequest) (*models.LedgerEntry, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	original, err := s.deps.Store.GetEntry(ctx, req.EntryID)
	if err != nil {
		return nil, err
	}

	var reversal *models.LedgerEntry
	err = s.deps.Locks.WithLock(ctx, lock.AccountKey(original.Key), func(ctx context.Context) error {
		ctx = context.WithoutCancel(ctx)

		if err := s.checkActive(ctx, original.Key); err != nil {
			return err
		}

		// re-read under the lock; the pre-lock copy only located the account
		original, err := s.deps.Store.GetEntry(ctx, req.EntryID)
		if err != nil {
			return err
		}
		if err := models.CheckTransition(original.ID, original.Status, models.StatusReversed); err != nil {
			logTransitionError(ctx, s.logger, err)
			return err
		}
		if original.Type == models.EntryConvert {
			return models.NewValidationError("entry_id", "conversion legs cannot be reversed individually")
		}
		if original.ReversesID != "" {
			return models.NewValidationError("entry_id", "entry %s is itself a reversal", original.ID)
		}

		now := time.Now().UTC()
		reversal = &models.LedgerEntry{
			ID:          newEntryID(),
			Key:         original.Key,
			Currency:    original.Currency,
			Type:        models.EntryAdjustment,
			Direction:   original.Direction.Opposite(),
			Amount:      original.Amount,
			Status:      models.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			CreatedBy:   s.deps.actor(req.Actor),
			Description: req.Reason,
			Metadata:    models.Metadata{"reversed_type": models.String(string(original.Type))},
			ReversesID:  original.ID,
		}
		if err := s.deps.Store.InsertEntries(ctx, reversal); err != nil {
			return err
		}

		_, err = s.deps.Store.Commit(ctx, &models.Mutation{
			Key:    original.Key,
			Actor:  reversal.CreatedBy,
			Deltas: []models.Delta{{Currency: reversal.Currency, Amount: reversal.Delta()}},
			Transitions: []models.Transition{
				{EntryID: original.ID, From: models.StatusSuccess, To: models.StatusReversed},
				{EntryID: reversal.ID, From: models.StatusPending, To: models.StatusSuccess},
			},
		})
		if err != nil {
			s.fail(ctx, err, reversal)
			return err
		}

		original.Status = models.StatusReversed
		reversal.Status = models.StatusSuccess
		s.deps.Audit.Emit(audit.EntryEvent(original))
		s.deps.Audit.Emit(audit.EntryEvent(reversal))
		s.logger.InfoContext(ctx, "entry reversed", "entry_id", original.ID, "reversal_id", reversal.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

// Cancel abandons a pending entry. It runs under the account lock so it can
// never race the mutation that owns the entry.
func (s *BalanceService) Cancel(ctx context.Context, req CancelRequest) (*models.LedgerEntry, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	entry, err := s.deps.Store.GetEntry(ctx, req.EntryID)
	if err != nil {
		return nil, err
	}

	err = s.deps.Locks.WithLock(ctx, lock.AccountKey(entry.Key), func(ctx context.Context) error {
		ctx = context.WithoutCancel(ctx)

		if err := s.checkActive(ctx, entry.Key); err != nil {
			return err
		}

		err := s.deps.Store.TransitionEntries(ctx, models.Transition{
			EntryID: entry.ID, From: models.StatusPending, To: models.StatusCancelled,
		})
		if err != nil {
			logTransitionError(ctx, s.logger, err)
			return err
		}

		entry.Status = models.StatusCancelled
		s.deps.Audit.Emit(audit.EntryEvent(entry))
		s.logger.InfoContext(ctx, "pending entry cancelled", "entry_id", entry.ID, "actor", s.deps.actor(req.Actor))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Reconcile checks that the stored balance equals applied credits minus
// applied debits. Accounts start at zero, so any gap means drift.
func (s *BalanceService) Reconcile(ctx context.Context, key models.AccountKey, currency models.Currency) (*ReconcileReport, error) {
	if err := s.validator.ValidateStruct(&key); err != nil {
		return nil, err
	}
	if !currency.Valid() {
		return nil, models.NewValidationError("currency", "unknown currency %q", currency)
	}

	account, err := s.deps.Store.GetAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	credits, debits, err := s.deps.Store.SumApplied(ctx, key, currency)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		Key:      key,
		Currency: currency,
		Balance:  account.Balances.Get(currency),
		Credits:  credits,
		Debits:   debits,
	}
	report.Consistent = report.Balance == credits-debits
	if !report.Consistent {
		s.logger.WarnContext(ctx, "ledger does not reconcile with balance",
			"account", key.String(), "currency", currency, "balance", report.Balance,
			"credits", credits, "debits", debits)
	}
	return report, nil
}
