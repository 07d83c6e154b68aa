package models

import (
	"time"
)

// ConversionRate is one row of the append-only rate table. Rate is the
// number of rupiah paid per unit of the game currency.
type ConversionRate struct {
	ID          string    `json:"id" db:"id"`
	Currency    Currency  `json:"currency" db:"currency"`
	Rate        int64     `json:"rate_rupiah" db:"rate"`
	MinAmount   int64     `json:"min_amount" db:"min_amount"`
	MaxAmount   int64     `json:"max_amount" db:"max_amount"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	EffectiveAt time.Time `json:"effective_at" db:"effective_at"`
	SetBy       string    `json:"set_by" db:"set_by"`
}

// ConversionStatus is the overall outcome of a conversion.
type ConversionStatus string

const (
	ConversionSuccess ConversionStatus = "success"
	ConversionFailed  ConversionStatus = "failed"
)

// ConversionRecord is the audit record of one game -> rupiah conversion.
type ConversionRecord struct {
	ID              string           `json:"conversion_id" db:"id"`
	Key             AccountKey       `json:"key"`
	FromCurrency    Currency         `json:"from_currency" db:"from_currency"`
	ToCurrency      Currency         `json:"to_currency" db:"to_currency"`
	Amount          int64            `json:"amount" db:"amount"`
	ConvertedAmount int64            `json:"converted_amount" db:"converted_amount"`
	RateUsed        int64            `json:"rate_used" db:"rate_used"`
	RateID          string           `json:"rate_id" db:"rate_id"`
	Status          ConversionStatus `json:"status" db:"status"`
	DebitEntryID    string           `json:"debit_entry_id" db:"debit_entry_id"`
	CreditEntryID   string           `json:"credit_entry_id" db:"credit_entry_id"`
	CreatedAt       time.Time        `json:"timestamp" db:"created_at"`
	Metadata        Metadata         `json:"metadata" db:"metadata"`
}

// ConversionFilter narrows conversion history queries.
type ConversionFilter struct {
	Key          *AccountKey
	FromCurrency Currency
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

// ConversionStats aggregates successful conversions for one currency.
type ConversionStats struct {
	FromCurrency     Currency `json:"from_currency"`
	TotalConversions int64    `json:"total_conversions"`
	TotalAmount      int64    `json:"total_amount"`
	TotalConverted   int64    `json:"total_converted"`
	AverageRate      float64  `json:"avg_rate"`
}
