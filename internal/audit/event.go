// Package audit carries copies of finalized ledger records to compliance
// sinks. Delivery is fire-and-forget: a sink failure never reaches the
// ledger operation that produced the event.
package audit

import (
	"time"

	"github.com/growshop/ledger/internal/models"
)

type Kind string

const (
	KindLedgerEntry  Kind = "ledger_entry"
	KindConversion   Kind = "conversion"
	KindStalePending Kind = "stale_pending"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	Kind          Kind      `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	Account       string    `json:"account"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	Details       any       `json:"details"`
}

// EntryEvent copies a finalized ledger entry.
func EntryEvent(e *models.LedgerEntry) Event {
	cp := *e
	return Event{
		Timestamp:     time.Now().UTC(),
		Kind:          KindLedgerEntry,
		TransactionID: e.ID,
		Account:       e.Key.String(),
		Amount:        e.Amount,
		Status:        string(e.Status),
		Details:       &cp,
	}
}

// ConversionEvent copies a persisted conversion record.
func ConversionEvent(c *models.ConversionRecord) Event {
	cp := *c
	return Event{
		Timestamp:     time.Now().UTC(),
		Kind:          KindConversion,
		TransactionID: c.ID,
		Account:       c.Key.String(),
		Amount:        c.Amount,
		Status:        string(c.Status),
		Details:       &cp,
	}
}

// StalePendingEvent reports an entry that has stayed pending for age.
func StalePendingEvent(e *models.LedgerEntry, age time.Duration) Event {
	return Event{
		Timestamp:     time.Now().UTC(),
		Kind:          KindStalePending,
		TransactionID: e.ID,
		Account:       e.Key.String(),
		Amount:        e.Amount,
		Status:        string(e.Status),
		Details: map[string]string{
			"currency":   string(e.Currency),
			"entry_type": string(e.Type),
			"created_at": e.CreatedAt.Format(time.RFC3339),
			"age":        age.Round(time.Second).String(),
		},
	}
}
