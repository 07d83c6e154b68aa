package models

import (
	"fmt"
	"math"
	"time"
)

// Platform identifies where an account was registered.
type Platform string

const (
	PlatformDiscord Platform = "discord"
	PlatformWeb     Platform = "web"
)

func (p Platform) Valid() bool {
	return p == PlatformDiscord || p == PlatformWeb
}

// Currency is one of the balances an account holds.
type Currency string

const (
	CurrencyWL     Currency = "wl"  // World Lock
	CurrencyDL     Currency = "dl"  // Diamond Lock
	CurrencyBGL    Currency = "bgl" // Blue Gem Lock
	CurrencyRupiah Currency = "idr" // real currency
)

// Currencies lists every supported currency in storage column order.
var Currencies = []Currency{CurrencyWL, CurrencyDL, CurrencyBGL, CurrencyRupiah}

func (c Currency) Valid() bool {
	switch c {
	case CurrencyWL, CurrencyDL, CurrencyBGL, CurrencyRupiah:
		return true
	}
	return false
}

// IsGame reports whether c is an in-game currency.
func (c Currency) IsGame() bool {
	return c == CurrencyWL || c == CurrencyDL || c == CurrencyBGL
}

// AllowedFor reports whether an account on platform p may mutate c directly.
// Web accounts only hold rupiah; discord accounts only hold game currency
// directly and receive rupiah through conversion.
func (c Currency) AllowedFor(p Platform) bool {
	switch p {
	case PlatformWeb:
		return c == CurrencyRupiah
	case PlatformDiscord:
		return c.IsGame()
	}
	return false
}

// AccountKey identifies an account.
type AccountKey struct {
	UserID   string   `json:"user_id" validate:"required,max=64"`
	Platform Platform `json:"platform" validate:"required,oneof=discord web"`
}

func (k AccountKey) String() string {
	return fmt.Sprintf("%s:%s", k.Platform, k.UserID)
}

// AccountStatus flags an account instead of deleting it.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountDisabled AccountStatus = "disabled"
)

// Balances holds one non-negative amount per currency.
type Balances struct {
	WL     int64 `json:"wl_balance" db:"balance_wl"`
	DL     int64 `json:"dl_balance" db:"balance_dl"`
	BGL    int64 `json:"bgl_balance" db:"balance_bgl"`
	Rupiah int64 `json:"rupiah_balance" db:"balance_idr"`
}

// Get returns the balance held in c.
func (b Balances) Get(c Currency) int64 {
	switch c {
	case CurrencyWL:
		return b.WL
	case CurrencyDL:
		return b.DL
	case CurrencyBGL:
		return b.BGL
	case CurrencyRupiah:
		return b.Rupiah
	}
	return 0
}

// Add applies delta to c and returns the new balance.
func (b *Balances) Add(c Currency, delta int64) int64 {
	switch c {
	case CurrencyWL:
		b.WL += delta
		return b.WL
	case CurrencyDL:
		b.DL += delta
		return b.DL
	case CurrencyBGL:
		b.BGL += delta
		return b.BGL
	case CurrencyRupiah:
		b.Rupiah += delta
		return b.Rupiah
	}
	return 0
}

// Apply adds delta to c. It refuses a result below zero with
// ErrInsufficientFunds and a credit past math.MaxInt64 with a *RangeError,
// leaving b untouched in both cases.
func (b *Balances) Apply(c Currency, delta int64) error {
	current := b.Get(c)
	if delta > 0 && current > math.MaxInt64-delta {
		return &RangeError{Amount: delta, Min: 1, Max: math.MaxInt64 - current}
	}
	if current+delta < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, c)
	}
	b.Add(c, delta)
	return nil
}

// Account is the per-user, per-platform balance holder.
type Account struct {
	Key       AccountKey    `json:"key"`
	GrowID    string        `json:"growid,omitempty" db:"growid"`
	Balances  Balances      `json:"balance"`
	Status    AccountStatus `json:"status" db:"status"`
	Version   int64         `json:"version" db:"version"` // for optimistic locking
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
	UpdatedBy string        `json:"updated_by" db:"updated_by"`
}

// Snapshot returns a point-in-time copy of the account balances.
func (a *Account) Snapshot() *BalanceSnapshot {
	return &BalanceSnapshot{
		Key:       a.Key,
		GrowID:    a.GrowID,
		Balances:  a.Balances,
		UpdatedAt: a.UpdatedAt,
		UpdatedBy: a.UpdatedBy,
	}
}

// BalanceSnapshot is what callers receive from reads and mutations.
type BalanceSnapshot struct {
	Key       AccountKey `json:"key"`
	GrowID    string     `json:"growid,omitempty"`
	Balances  Balances   `json:"balance"`
	UpdatedAt time.Time  `json:"last_updated"`
	UpdatedBy string     `json:"updated_by"`
}
