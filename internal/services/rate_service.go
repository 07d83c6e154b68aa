package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/growshop/ledger/internal/models"
)

type SetRateRequest struct {
	Currency  models.Currency `json:"currency" validate:"required,ledger_currency"`
	Rate      int64           `json:"rate_rupiah" validate:"gt=0"`
	MinAmount int64           `json:"min_amount" validate:"gte=1"`
	MaxAmount int64           `json:"max_amount" validate:"gtfield=MinAmount"`
	Actor     string          `json:"actor" validate:"max=64"`
}

// RateService maintains the append-only conversion rate table.
type RateService struct {
	deps      Deps
	validator *ValidationHelper
	logger    *slog.Logger
}

func NewRateService(deps Deps) *RateService {
	deps = deps.withDefaults()
	return &RateService{
		deps:      deps,
		validator: NewValidationHelper(),
		logger:    deps.Logger.With("component", "rate_service"),
	}
}

// SetRate appends a new active rate and retires the previous one.
// Conversions already past their rate lookup keep the rate they captured.
func (s *RateService) SetRate(ctx context.Context, req SetRateRequest) (*models.ConversionRate, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	if !req.Currency.IsGame() {
		return nil, models.NewValidationError("currency", "no conversion rate applies to %s", req.Currency)
	}

	rate := &models.ConversionRate{
		ID:          newRateID(),
		Currency:    req.Currency,
		Rate:        req.Rate,
		MinAmount:   req.MinAmount,
		MaxAmount:   req.MaxAmount,
		EffectiveAt: time.Now().UTC(),
		SetBy:       s.deps.actor(req.Actor),
	}
	if err := s.deps.Store.SetRate(ctx, rate); err != nil {
		return nil, err
	}
	rate.IsActive = true

	s.logger.InfoContext(ctx, "conversion rate set",
		"rate_id", rate.ID, "currency", rate.Currency, "rate", rate.Rate,
		"min_amount", rate.MinAmount, "max_amount", rate.MaxAmount, "set_by", rate.SetBy)
	return rate, nil
}

func (s *RateService) GetActiveRate(ctx context.Context, currency models.Currency) (*models.ConversionRate, error) {
	if !currency.IsGame() {
		return nil, models.NewValidationError("currency", "no conversion rate applies to %s", currency)
	}
	return s.deps.Store.GetActiveRate(ctx, currency)
}

func (s *RateService) ListActiveRates(ctx context.Context) ([]*models.ConversionRate, error) {
	rates, err := s.deps.Store.ListActiveRates(ctx)
	if err != nil {
		return nil, err
	}
	if rates == nil {
		rates = []*models.ConversionRate{}
	}
	return rates, nil
}

// DeactivateRate suspends conversions from currency until a new rate is set.
func (s *RateService) DeactivateRate(ctx context.Context, currency models.Currency, actor string) error {
	if !currency.IsGame() {
		return models.NewValidationError("currency", "no conversion rate applies to %s", currency)
	}
	if err := s.deps.Store.DeactivateRate(ctx, currency); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "conversion rate deactivated", "currency", currency, "actor", s.deps.actor(actor))
	return nil
}
