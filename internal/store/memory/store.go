// Package memory is an in-process store.Store for tests and single-node
// development. Commit is all-or-nothing: work happens on copies that are
// swapped in only when every step succeeded.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/growshop/ledger/internal/models"
	"github.com/growshop/ledger/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	accounts    map[models.AccountKey]*models.Account
	entries     map[string]*models.LedgerEntry
	entryOrder  map[string]int64
	seq         int64
	rates       []*models.ConversionRate
	conversions []*models.ConversionRecord

	// Fault, when set, is called between the steps of Commit with the step
	// name ("balances", "transition:<id>", "conversion").
	// Returning an error aborts the commit as a storage failure.
	Fault func(step string) error
}

func New() *Store {
	return &Store{
		accounts:   make(map[models.AccountKey]*models.Account),
		entries:    make(map[string]*models.LedgerEntry),
		entryOrder: make(map[string]int64),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

// Account storage

func (s *Store) CreateAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.Key]; exists {
		return models.ErrAccountExists
	}
	a := *account
	s.accounts[account.Key] = &a
	return nil
}

func (s *Store) GetAccount(_ context.Context, key models.AccountKey) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[key]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	out := *a
	return &out, nil
}

func (s *Store) SetAccountStatus(_ context.Context, key models.AccountKey, status models.AccountStatus, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[key]
	if !ok {
		return models.ErrAccountNotFound
	}
	a.Status = status
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	a.UpdatedBy = actor
	return nil
}

// Transaction log

func (s *Store) InsertEntries(_ context.Context, entries ...*models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if _, exists := s.entries[e.ID]; exists {
			return models.NewStorageError("insert entries", fmt.Errorf("duplicate entry id %s", e.ID))
		}
	}
	for _, e := range entries {
		s.putEntry(e)
	}
	return nil
}

func (s *Store) putEntry(e *models.LedgerEntry) {
	cp := *e
	s.seq++
	s.entries[e.ID] = &cp
	s.entryOrder[e.ID] = s.seq
}

func (s *Store) TransitionEntries(_ context.Context, transitions ...models.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if err := s.checkTransitions(transitions); err != nil {
		return err
	}
	for _, t := range transitions {
		e := s.entries[t.EntryID]
		e.Status = t.To
		e.UpdatedAt = now
	}
	return nil
}

func (s *Store) checkTransitions(transitions []models.Transition) error {
	for _, t := range transitions {
		if err := models.CheckTransition(t.EntryID, t.From, t.To); err != nil {
			return err
		}
		e, ok := s.entries[t.EntryID]
		if !ok {
			return fmt.Errorf("%w: %s", models.ErrEntryNotFound, t.EntryID)
		}
		if e.Status != t.From {
			return &models.TransitionError{EntryID: t.EntryID, From: e.Status, To: t.To}
		}
	}
	return nil
}

func (s *Store) GetEntry(_ context.Context, id string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrEntryNotFound, id)
	}
	out := *e
	return &out, nil
}

func (s *Store) ListEntries(_ context.Context, key models.AccountKey, offset, limit int) ([]*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.LedgerEntry
	for _, e := range s.entries {
		if e.Key == key {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return s.entryOrder[matched[i].ID] > s.entryOrder[matched[j].ID]
	})
	return copyEntries(page(matched, offset, limit)), nil
}

func (s *Store) CountEntries(_ context.Context, key models.AccountKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.entries {
		if e.Key == key {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListStalePending(_ context.Context, before time.Time, limit int) ([]*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*models.LedgerEntry
	for _, e := range s.entries {
		if e.Status == models.StatusPending && e.CreatedAt.Before(before) {
			stale = append(stale, e)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return s.entryOrder[stale[i].ID] < s.entryOrder[stale[j].ID]
	})
	return copyEntries(page(stale, 0, limit)), nil
}

func (s *Store) SumApplied(_ context.Context, key models.AccountKey, currency models.Currency) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var credits, debits int64
	for _, e := range s.entries {
		if e.Key != key || e.Currency != currency {
			continue
		}
		if e.Status != models.StatusSuccess && e.Status != models.StatusReversed {
			continue
		}
		if e.Direction == models.DirectionUp {
			credits += e.Amount
		} else {
			debits += e.Amount
		}
	}
	return credits, debits, nil
}

// Rate table

func (s *Store) GetActiveRate(_ context.Context, currency models.Currency) (*models.ConversionRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.rates) - 1; i >= 0; i-- {
		if r := s.rates[i]; r.Currency == currency && r.IsActive {
			out := *r
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", models.ErrNoActiveRate, currency)
}

func (s *Store) SetRate(_ context.Context, rate *models.ConversionRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rates {
		if r.Currency == rate.Currency {
			r.IsActive = false
		}
	}
	r := *rate
	r.IsActive = true
	s.rates = append(s.rates, &r)
	return nil
}

func (s *Store) ListActiveRates(_ context.Context) ([]*models.ConversionRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ConversionRate
	for _, r := range s.rates {
		if r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (s *Store) DeactivateRate(_ context.Context, currency models.Currency) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, r := range s.rates {
		if r.Currency == currency && r.IsActive {
			r.IsActive = false
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", models.ErrNoActiveRate, currency)
	}
	return nil
}

// Conversion records

func (s *Store) InsertConversion(_ context.Context, record *models.ConversionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *record
	s.conversions = append(s.conversions, &cp)
	return nil
}

func (s *Store) ListConversions(_ context.Context, filter models.ConversionFilter) ([]*models.ConversionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.ConversionRecord
	for i := len(s.conversions) - 1; i >= 0; i-- {
		c := s.conversions[i]
		if filter.Key != nil && c.Key != *filter.Key {
			continue
		}
		if filter.FromCurrency != "" && c.FromCurrency != filter.FromCurrency {
			continue
		}
		if !filter.Since.IsZero() && c.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !c.CreatedAt.Before(filter.Until) {
			continue
		}
		cp := *c
		matched = append(matched, &cp)
	}
	return page(matched, filter.Offset, filter.Limit), nil
}

func (s *Store) ConversionStats(_ context.Context, since, until time.Time) ([]*models.ConversionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byCurrency := make(map[models.Currency]*models.ConversionStats)
	rateSums := make(map[models.Currency]int64)
	for _, c := range s.conversions {
		if c.Status != models.ConversionSuccess {
			continue
		}
		if c.CreatedAt.Before(since) || !c.CreatedAt.Before(until) {
			continue
		}
		st, ok := byCurrency[c.FromCurrency]
		if !ok {
			st = &models.ConversionStats{FromCurrency: c.FromCurrency}
			byCurrency[c.FromCurrency] = st
		}
		st.TotalConversions++
		st.TotalAmount += c.Amount
		st.TotalConverted += c.ConvertedAmount
		rateSums[c.FromCurrency] += c.RateUsed
	}

	out := make([]*models.ConversionStats, 0, len(byCurrency))
	for cur, st := range byCurrency {
		st.AverageRate = float64(rateSums[cur]) / float64(st.TotalConversions)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FromCurrency < out[j].FromCurrency })
	return out, nil
}

// Commit

func (s *Store) Commit(_ context.Context, m *models.Mutation) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[m.Key]
	if !ok {
		return nil, models.ErrAccountNotFound
	}

	next := *current
	for _, d := range m.Deltas {
		if err := next.Balances.Apply(d.Currency, d.Amount); err != nil {
			return nil, err
		}
	}
	if err := s.fault("balances"); err != nil {
		return nil, err
	}

	if err := s.checkTransitions(m.Transitions); err != nil {
		return nil, err
	}
	for _, t := range m.Transitions {
		if err := s.fault("transition:" + t.EntryID); err != nil {
			return nil, err
		}
	}

	if m.Conversion != nil {
		if err := s.fault("conversion"); err != nil {
			return nil, err
		}
	}

	// every step passed; publish the changes
	now := time.Now().UTC()
	if len(m.Deltas) > 0 {
		next.Version++
		next.UpdatedAt = now
		next.UpdatedBy = m.Actor
		s.accounts[m.Key] = &next
	}
	for _, t := range m.Transitions {
		e := s.entries[t.EntryID]
		e.Status = t.To
		e.UpdatedAt = now
	}
	if m.Conversion != nil {
		cp := *m.Conversion
		s.conversions = append(s.conversions, &cp)
	}

	out := *s.accounts[m.Key]
	return &out, nil
}

func (s *Store) fault(step string) error {
	if s.Fault == nil {
		return nil
	}
	if err := s.Fault(step); err != nil {
		return models.NewStorageError(step, err)
	}
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 || offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func copyEntries(in []*models.LedgerEntry) []*models.LedgerEntry {
	out := make([]*models.LedgerEntry, len(in))
	for i, e := range in {
		cp := *e
		out[i] = &cp
	}
	return out
}
