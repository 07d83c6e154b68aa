package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/growshop/ledger/internal/audit"
	"github.com/growshop/ledger/internal/lock"
	"github.com/growshop/ledger/internal/models"
)

// ConvertRequest exchanges a game currency balance for rupiah.
type ConvertRequest struct {
	Key          models.AccountKey `json:"key"`
	FromCurrency models.Currency   `json:"from_currency" validate:"required,ledger_currency"`
	Amount       int64             `json:"amount" validate:"gt=0"`
	Actor        string            `json:"actor" validate:"max=64"`
	Metadata     models.Metadata   `json:"metadata"`
}

// ConversionService runs two-leg conversions under one account lock.
type ConversionService struct {
	deps      Deps
	balances  *BalanceService
	validator *ValidationHelper
	logger    *slog.Logger
}

func NewConversionService(deps Deps, balances *BalanceService) *ConversionService {
	deps = deps.withDefaults()
	return &ConversionService{
		deps:      deps,
		balances:  balances,
		validator: NewValidationHelper(),
		logger:    deps.Logger.With("component", "conversion_service"),
	}
}

func (s *ConversionService) validateConvert(req *ConvertRequest) error {
	if err := s.validator.ValidateStruct(req); err != nil {
		return err
	}
	if req.Key.Platform != models.PlatformDiscord {
		return models.NewValidationError("platform", "only discord accounts can convert")
	}
	if !req.FromCurrency.IsGame() {
		return models.NewValidationError("from_currency", "%s cannot be converted", req.FromCurrency)
	}
	return nil
}

// Convert debits amount of the game currency and credits amount × rate
// rupiah in one atomic commit. The rate is captured once, before the lock,
// and is the one recorded on the conversion whatever happens to the rate
// table meanwhile.
func (s *ConversionService) Convert(ctx context.Context, req ConvertRequest) (*models.ConversionRecord, error) {
	if err := s.validateConvert(&req); err != nil {
		return nil, err
	}

	rate, err := s.deps.Store.GetActiveRate(ctx, req.FromCurrency)
	if err != nil {
		return nil, err
	}
	if !rate.IsActive || rate.Rate <= 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrNoActiveRate, req.FromCurrency)
	}
	if req.Amount < rate.MinAmount || req.Amount > rate.MaxAmount {
		return nil, &models.RangeError{Amount: req.Amount, Min: rate.MinAmount, Max: rate.MaxAmount}
	}
	if req.Amount > math.MaxInt64/rate.Rate {
		return nil, &models.RangeError{Amount: req.Amount, Min: rate.MinAmount, Max: math.MaxInt64 / rate.Rate}
	}
	converted := req.Amount * rate.Rate

	var record *models.ConversionRecord
	err = s.deps.Locks.WithLock(ctx, lock.AccountKey(req.Key), func(ctx context.Context) error {
		ctx = context.WithoutCancel(ctx)

		if err := s.balances.checkActive(ctx, req.Key); err != nil {
			return err
		}

		now := time.Now().UTC()
		actor := s.deps.actor(req.Actor)
		record = &models.ConversionRecord{
			ID:              newConversionID(),
			Key:             req.Key,
			FromCurrency:    req.FromCurrency,
			ToCurrency:      models.CurrencyRupiah,
			Amount:          req.Amount,
			ConvertedAmount: converted,
			RateUsed:        rate.Rate,
			RateID:          rate.ID,
			Status:          models.ConversionSuccess,
			CreatedAt:       now,
			Metadata:        req.Metadata,
		}
		debit := s.leg(record, req.FromCurrency, models.DirectionDown, req.Amount, actor, now)
		credit := s.leg(record, models.CurrencyRupiah, models.DirectionUp, converted, actor, now)
		record.DebitEntryID = debit.ID
		record.CreditEntryID = credit.ID

		if err := s.deps.Store.InsertEntries(ctx, debit, credit); err != nil {
			return err
		}

		_, err := s.deps.Store.Commit(ctx, &models.Mutation{
			Key:   req.Key,
			Actor: actor,
			Deltas: []models.Delta{
				{Currency: debit.Currency, Amount: debit.Delta()},
				{Currency: credit.Currency, Amount: credit.Delta()},
			},
			Transitions: []models.Transition{
				{EntryID: debit.ID, From: models.StatusPending, To: models.StatusSuccess},
				{EntryID: credit.ID, From: models.StatusPending, To: models.StatusSuccess},
			},
			Conversion: record,
		})
		if err != nil {
			s.fail(ctx, err, record, debit, credit)
			return err
		}

		debit.Status = models.StatusSuccess
		credit.Status = models.StatusSuccess
		s.deps.Audit.Emit(audit.EntryEvent(debit))
		s.deps.Audit.Emit(audit.EntryEvent(credit))
		s.deps.Audit.Emit(audit.ConversionEvent(record))
		s.logger.InfoContext(ctx, "conversion completed",
			"conversion_id", record.ID, "account", req.Key.String(), "from_currency", req.FromCurrency,
			"amount", req.Amount, "converted_amount", converted, "rate", rate.Rate)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *ConversionService) leg(record *models.ConversionRecord, currency models.Currency, dir models.Direction, amount int64, actor string, now time.Time) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:           newEntryID(),
		Key:          record.Key,
		Currency:     currency,
		Type:         models.EntryConvert,
		Direction:    dir,
		Amount:       amount,
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    actor,
		Description:  "conversion " + string(record.FromCurrency) + " to " + string(record.ToCurrency),
		Metadata:     models.Metadata{"rate_used": models.Int(record.RateUsed)},
		ConversionID: record.ID,
	}
}

// fail marks both legs failed and persists the failed conversion record in
// one commit without balance deltas.
func (s *ConversionService) fail(ctx context.Context, cause error, record *models.ConversionRecord, debit, credit *models.LedgerEntry) {
	logTransitionError(ctx, s.logger, cause)

	failed := *record
	failed.Status = models.ConversionFailed
	failed.Metadata = record.Metadata.With("error", models.String(cause.Error()))

	_, err := s.deps.Store.Commit(ctx, &models.Mutation{
		Key:   record.Key,
		Actor: debit.CreatedBy,
		Transitions: []models.Transition{
			{EntryID: debit.ID, From: models.StatusPending, To: models.StatusFailed},
			{EntryID: credit.ID, From: models.StatusPending, To: models.StatusFailed},
		},
		Conversion: &failed,
	})
	if err != nil {
		logTransitionError(ctx, s.logger, err)
		s.logger.ErrorContext(ctx, "could not record failed conversion",
			"conversion_id", record.ID, "cause", cause, "error", err)
		return
	}

	*record = failed
	debit.Status = models.StatusFailed
	credit.Status = models.StatusFailed
	s.deps.Audit.Emit(audit.EntryEvent(debit))
	s.deps.Audit.Emit(audit.EntryEvent(credit))
	s.deps.Audit.Emit(audit.ConversionEvent(record))
	s.logger.WarnContext(ctx, "conversion failed", "conversion_id", record.ID, "error", cause)
}

// GetHistory lists conversion records, newest first.
func (s *ConversionService) GetHistory(ctx context.Context, filter models.ConversionFilter) ([]*models.ConversionRecord, error) {
	if filter.Key != nil {
		if err := s.validator.ValidateStruct(filter.Key); err != nil {
			return nil, err
		}
	}
	if filter.FromCurrency != "" && !filter.FromCurrency.IsGame() {
		return nil, models.NewValidationError("from_currency", "%s cannot be converted", filter.FromCurrency)
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && !filter.Since.Before(filter.Until) {
		return nil, models.NewValidationError("since", "must be before until")
	}
	if filter.Offset < 0 {
		return nil, models.NewValidationError("offset", "must not be negative")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > s.deps.MaxPageSize {
		filter.Limit = s.deps.MaxPageSize
	}

	records, err := s.deps.Store.ListConversions(ctx, filter)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*models.ConversionRecord{}
	}
	return records, nil
}

// Stats aggregates successful conversions per currency in [since, until).
// A zero until means now.
func (s *ConversionService) Stats(ctx context.Context, since, until time.Time) ([]*models.ConversionStats, error) {
	if until.IsZero() {
		until = time.Now().UTC()
	}
	if !since.Before(until) {
		return nil, models.NewValidationError("since", "must be before until")
	}
	return s.deps.Store.ConversionStats(ctx, since, until)
}
