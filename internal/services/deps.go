package services

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/growshop/ledger/internal/audit"
	"github.com/growshop/ledger/internal/lock"
	"github.com/growshop/ledger/internal/models"
	"github.com/growshop/ledger/internal/store"
)

const (
	defaultPageSize    = 10
	defaultMaxPageSize = 100
	defaultActor       = "system"
)

// Deps are the collaborators shared by the ledger services. They are built
// once at startup and passed to each constructor.
type Deps struct {
	Store        store.Store
	Locks        *lock.Controller
	Audit        audit.Emitter
	Logger       *slog.Logger
	DefaultActor string
	MaxPageSize  int
}

func (d Deps) withDefaults() Deps {
	if d.Audit == nil {
		d.Audit = audit.Discard
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.DefaultActor == "" {
		d.DefaultActor = defaultActor
	}
	if d.MaxPageSize <= 0 {
		d.MaxPageSize = defaultMaxPageSize
	}
	return d
}

func (d Deps) actor(actor string) string {
	if actor == "" {
		return d.DefaultActor
	}
	return actor
}

func newEntryID() string      { return "txn_" + uuid.NewString() }
func newConversionID() string { return "conv_" + uuid.NewString() }
func newRateID() string       { return "rate_" + uuid.NewString() }

// logTransitionError reports illegal lifecycle steps loudly; they are
// programming errors, never business outcomes.
func logTransitionError(ctx context.Context, logger *slog.Logger, err error) {
	var te *models.TransitionError
	if errors.As(err, &te) {
		logger.ErrorContext(ctx, "illegal entry transition",
			"entry_id", te.EntryID, "from", te.From, "to", te.To)
	}
}

// pageBounds normalizes a 1-based page request.
func pageBounds(page, limit, max int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > max {
		limit = max
	}
	// Offsets past MaxInt clamp to an empty page.
	if page-1 > math.MaxInt/limit {
		return page, limit, math.MaxInt
	}
	return page, limit, (page - 1) * limit
}

// Ledger bundles the services built over one set of Deps.
type Ledger struct {
	Accounts    *AccountService
	Balances    *BalanceService
	Conversions *ConversionService
	Rates       *RateService
}

func NewLedger(deps Deps) *Ledger {
	balances := NewBalanceService(deps)
	return &Ledger{
		Accounts:    NewAccountService(deps),
		Balances:    balances,
		Conversions: NewConversionService(deps, balances),
		Rates:       NewRateService(deps),
	}
}
