// Package memory is an in-process store used by tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store"
)

type Store struct {
	mu        sync.Mutex
	users     map[string]models.User
	services  map[string]models.Service
	overrides map[[2]string]models.PriceOverride
	records   map[string]models.Record
	entries   []models.LedgerEntry
	payments  map[string]models.Payment
	admins    map[string]models.Admin
}

func New() *Store {
	return &Store{
		users:     make(map[string]models.User),
		services:  make(map[string]models.Service),
		overrides: make(map[[2]string]models.PriceOverride),
		records:   make(map[string]models.Record),
		entries:   make([]models.LedgerEntry, 0),
		payments:  make(map[string]models.Payment),
		admins:    make(map[string]models.Admin),
	}
}

var _ store.Store = (*Store)(nil)

func (m *Store) Ping(ctx context.Context) error  { return nil }
func (m *Store) Close(ctx context.Context) error { return nil }

func (m *Store) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Mobile == u.Mobile {
			return store.ErrDuplicate
		}
	}
	if _, ok := m.users[u.ID]; ok {
		return store.ErrDuplicate
	}
	m.users[u.ID] = *u
	return nil
}

func (m *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (m *Store) GetUserByMobile(ctx context.Context, mobile string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Mobile == mobile {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Store) SetUserBlocked(ctx context.Context, id string, blocked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Blocked = blocked
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

func (m *Store) AdjustBalance(ctx context.Context, id string, delta money.Amount) (money.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	next, err := u.Balance.Add(delta)
	if err != nil {
		return u.Balance, err
	}
	if next < 0 {
		return u.Balance, store.ErrInsufficientFunds
	}
	u.Balance = next
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return u.Balance, nil
}

func (m *Store) CreateService(ctx context.Context, s *models.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[s.ID]; ok {
		return store.ErrDuplicate
	}
	m.services[s.ID] = *s
	return nil
}

func (m *Store) GetService(ctx context.Context, id string) (*models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.services[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (m *Store) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Service, 0, len(m.services))
	for _, s := range m.services {
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Store) UpdateService(ctx context.Context, id string, upd store.ServiceUpdate) (*models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.services[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if upd.Name != nil {
		s.Name = *upd.Name
	}
	if upd.Description != nil {
		s.Description = *upd.Description
	}
	if upd.DefaultPrice != nil {
		s.DefaultPrice = *upd.DefaultPrice
	}
	if upd.Active != nil {
		s.Active = *upd.Active
	}
	if upd.Fields != nil {
		s.Fields = upd.Fields
	}
	s.UpdatedAt = time.Now().UTC()
	m.services[id] = s
	return &s, nil
}

func (m *Store) DeleteService(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.services, id)
	for k := range m.overrides {
		if k[1] == id {
			delete(m.overrides, k)
		}
	}
	return nil
}

func (m *Store) UpsertPriceOverride(ctx context.Context, o models.PriceOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.overrides[[2]string{o.UserID, o.ServiceID}] = o
	return nil
}

func (m *Store) GetPriceOverride(ctx context.Context, userID, serviceID string) (*models.PriceOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.overrides[[2]string{userID, serviceID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (m *Store) ListPriceOverrides(ctx context.Context, userID string) ([]models.PriceOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.PriceOverride
	for k, o := range m.overrides {
		if k[0] == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Store) CreateRecord(ctx context.Context, r *models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[r.ID]; ok {
		return store.ErrDuplicate
	}
	if r.Token != "" {
		for _, existing := range m.records {
			if existing.Token == r.Token {
				return store.ErrDuplicate
			}
		}
	}
	m.records[r.ID] = *r
	return nil
}

func (m *Store) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (m *Store) GetRecordByToken(ctx context.Context, token string) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		if token != "" && r.Token == token {
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Store) ListRecords(ctx context.Context, f store.RecordFilter) ([]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Record
	for _, r := range m.records {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.Kind != "" && r.Kind != f.Kind {
			continue
		}
		if len(f.Statuses) > 0 && !store.StatusIn(r.Status, f.Statuses) {
			continue
		}
		if !f.Since.IsZero() && r.UpdatedAt.Before(f.Since) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Store) TransitionRecord(ctx context.Context, id string, from []models.RecordStatus, upd store.RecordUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if !store.StatusIn(r.Status, from) {
		return false, nil
	}
	r.Status = upd.Status
	if upd.Payload != nil {
		r.Payload = *upd.Payload
	}
	if upd.AdminMessage != nil {
		r.AdminMessage = *upd.AdminMessage
	}
	if upd.LastCheckedAt != nil {
		r.LastCheckedAt = upd.LastCheckedAt
	}
	if upd.CompletedAt != nil {
		r.CompletedAt = upd.CompletedAt
	}
	r.UpdatedAt = time.Now().UTC()
	m.records[id] = r
	return true, nil
}

func (m *Store) TouchRecord(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return store.ErrNotFound
	}
	r.LastCheckedAt = &at
	m.records[id] = r
	return nil
}

func (m *Store) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, *e)
	return nil
}

func (m *Store) ListEntries(ctx context.Context, f store.EntryFilter) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.LedgerEntry
	// Walk backwards so the result is newest first.
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if !store.TypeIn(e.Type, f.Types) {
			continue
		}
		if f.Reference != "" && e.Reference != f.Reference {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !e.CreatedAt.Before(f.Until) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[p.TxnID]; ok {
		return store.ErrDuplicate
	}
	m.payments[p.TxnID] = *p
	return nil
}

func (m *Store) GetPaymentByTxn(ctx context.Context, txnID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[txnID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (m *Store) ListPayments(ctx context.Context, userID string, limit int) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Payment
	for _, p := range m.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) MarkPaymentSucceeded(ctx context.Context, txnID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[txnID]
	if !ok {
		return false, store.ErrNotFound
	}
	if p.Status == models.PaymentSuccess {
		return false, nil
	}
	p.Status = models.PaymentSuccess
	p.UpdatedAt = time.Now().UTC()
	m.payments[txnID] = p
	return true, nil
}

func (m *Store) CreateAdmin(ctx context.Context, a *models.Admin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.admins[a.Username]; ok {
		return store.ErrDuplicate
	}
	m.admins[a.Username] = *a
	return nil
}

func (m *Store) GetAdminByUsername(ctx context.Context, username string) (*models.Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.admins[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}
