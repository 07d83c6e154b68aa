package models

import (
	"time"
)

// EntryType is the kind of mutation a ledger entry records.
type EntryType string

const (
	EntryAdd        EntryType = "add"
	EntrySubtract   EntryType = "subtract"
	EntryConvert    EntryType = "convert"
	EntryDonation   EntryType = "donation"
	EntryPurchase   EntryType = "purchase"
	EntryRefund     EntryType = "refund"
	EntryAdjustment EntryType = "adjustment"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryAdd, EntrySubtract, EntryConvert, EntryDonation, EntryPurchase, EntryRefund, EntryAdjustment:
		return true
	}
	return false
}

// Direction says which way an entry moved the balance.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// DirectionOf returns the direction implied by an entry type. Adjustments
// carry their own direction and default to down.
func DirectionOf(t EntryType, adjustment Direction) Direction {
	switch t {
	case EntryAdd, EntryDonation, EntryRefund:
		return DirectionUp
	case EntryAdjustment:
		if adjustment == DirectionUp {
			return DirectionUp
		}
		return DirectionDown
	}
	return DirectionDown
}

// Signed applies the direction to a positive amount.
func (d Direction) Signed(amount int64) int64 {
	if d == DirectionUp {
		return amount
	}
	return -amount
}

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusSuccess   EntryStatus = "success"
	StatusFailed    EntryStatus = "failed"
	StatusReversed  EntryStatus = "reversed"
	StatusCancelled EntryStatus = "cancelled"
)

var entryTransitions = map[EntryStatus][]EntryStatus{
	StatusPending: {StatusSuccess, StatusFailed, StatusCancelled},
	StatusSuccess: {StatusReversed},
}

// CanTransition reports whether s -> to is a legal lifecycle step.
func (s EntryStatus) CanTransition(to EntryStatus) bool {
	for _, next := range entryTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s EntryStatus) Terminal() bool {
	return len(entryTransitions[s]) == 0
}

// CheckTransition returns a *TransitionError for illegal steps.
func CheckTransition(entryID string, from, to EntryStatus) error {
	if from.CanTransition(to) {
		return nil
	}
	return &TransitionError{EntryID: entryID, From: from, To: to}
}

// LedgerEntry records one attempted balance mutation.
type LedgerEntry struct {
	ID           string      `json:"id" db:"id"`
	Key          AccountKey  `json:"key"`
	Currency     Currency    `json:"currency_type" db:"currency"`
	Type         EntryType   `json:"transaction_type" db:"entry_type"`
	Direction    Direction   `json:"direction" db:"direction"`
	Amount       int64       `json:"amount" db:"amount"`
	Status       EntryStatus `json:"status" db:"status"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
	CreatedBy    string      `json:"created_by" db:"created_by"`
	Description  string      `json:"description,omitempty" db:"description"`
	Metadata     Metadata    `json:"metadata" db:"metadata"`
	ReversesID   string      `json:"reverses_id,omitempty" db:"reverses_id"`
	ConversionID string      `json:"conversion_id,omitempty" db:"conversion_id"`
}

// Delta is the signed balance change this entry stands for.
func (e *LedgerEntry) Delta() int64 {
	return e.Direction.Signed(e.Amount)
}

// Transition moves an entry from one status to another inside a commit.
type Transition struct {
	EntryID string
	From    EntryStatus
	To      EntryStatus
}

// Delta is a signed change to one currency balance.
type Delta struct {
	Currency Currency
	Amount   int64
}

// Mutation is everything that must commit together for one account.
type Mutation struct {
	Key         AccountKey
	Actor       string
	Deltas      []Delta
	Transitions []Transition
	Conversion  *ConversionRecord
}

// HistoryPage is one page of an account's ledger entries, newest first.
type HistoryPage struct {
	Key          AccountKey     `json:"key"`
	GrowID       string         `json:"growid,omitempty"`
	Entries      []*LedgerEntry `json:"transactions"`
	TotalRecords int64          `json:"total_records"`
	Page         int            `json:"page"`
	PageSize     int            `json:"page_size"`
}
