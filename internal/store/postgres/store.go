// Package postgres implements store.Store on database/sql, so it runs on
// either lib/pq or the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close(ctx context.Context) error { return s.db.Close() }

// ==================== Users ====================

const userColumns = "id, name, mobile, password_hash, balance, blocked, created_at, updated_at"

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		u.ID, u.Name, u.Mobile, u.PasswordHash, int64(u.Balance), u.Blocked, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return wrap("create user", err)
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	return scanUser(row)
}

func (s *Store) GetUserByMobile(ctx context.Context, mobile string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE mobile = $1", mobile)
	return scanUser(row)
}

func (s *Store) SetUserBlocked(ctx context.Context, id string, blocked bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET blocked = $1, updated_at = $2 WHERE id = $3", blocked, s.now(), id)
	if err != nil {
		return wrap("set user blocked", err)
	}
	return requireAffected(res)
}

// AdjustBalance is a single conditional UPDATE; the row lock Postgres takes
// for it serialises concurrent adjustments of one user.
func (s *Store) AdjustBalance(ctx context.Context, id string, delta money.Amount) (money.Amount, error) {
	var bal int64
	err := s.db.QueryRowContext(ctx,
		"UPDATE users SET balance = balance + $1, updated_at = $2 WHERE id = $3 AND balance + $1 >= 0 RETURNING balance",
		int64(delta), s.now(), id).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		exists, xerr := s.exists(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", id)
		if xerr != nil {
			return 0, xerr
		}
		if exists {
			return 0, store.ErrInsufficientFunds
		}
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, wrap("adjust balance", err)
	}
	return money.Amount(bal), nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var bal int64
	err := row.Scan(&u.ID, &u.Name, &u.Mobile, &u.PasswordHash, &bal, &u.Blocked, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("scan user", err)
	}
	u.Balance = money.Amount(bal)
	return &u, nil
}

// ==================== Services ====================

const serviceColumns = "id, name, description, default_price, active, fields, created_at, updated_at"

func (s *Store) CreateService(ctx context.Context, svc *models.Service) error {
	fields, err := json.Marshal(nonNilFields(svc.Fields))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO services ("+serviceColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		svc.ID, svc.Name, svc.Description, int64(svc.DefaultPrice), svc.Active, string(fields), svc.CreatedAt, svc.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return wrap("create service", err)
}

func (s *Store) GetService(ctx context.Context, id string) (*models.Service, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+serviceColumns+" FROM services WHERE id = $1", id)
	return scanService(row)
}

func (s *Store) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	q := "SELECT " + serviceColumns + " FROM services"
	if activeOnly {
		q += " WHERE active = TRUE"
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, wrap("list services", err)
	}
	defer rows.Close()

	var out []models.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *svc)
	}
	return out, rows.Err()
}

func (s *Store) UpdateService(ctx context.Context, id string, upd store.ServiceUpdate) (*models.Service, error) {
	var b builder
	set := []string{b.bind("updated_at = ", s.now())}
	if upd.Name != nil {
		set = append(set, b.bind("name = ", *upd.Name))
	}
	if upd.Description != nil {
		set = append(set, b.bind("description = ", *upd.Description))
	}
	if upd.DefaultPrice != nil {
		set = append(set, b.bind("default_price = ", int64(*upd.DefaultPrice)))
	}
	if upd.Active != nil {
		set = append(set, b.bind("active = ", *upd.Active))
	}
	if upd.Fields != nil {
		fields, err := json.Marshal(upd.Fields)
		if err != nil {
			return nil, err
		}
		set = append(set, b.bind("fields = ", string(fields)))
	}
	where := b.bind("id = ", id)

	row := s.db.QueryRowContext(ctx,
		"UPDATE services SET "+strings.Join(set, ", ")+" WHERE "+where+" RETURNING "+serviceColumns,
		b.args...)
	return scanService(row)
}

func (s *Store) DeleteService(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM price_overrides WHERE service_id = $1", id); err != nil {
		return wrap("delete overrides", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM services WHERE id = $1", id)
	if err != nil {
		return wrap("delete service", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return wrap("commit", tx.Commit())
}

func scanService(row scanner) (*models.Service, error) {
	var svc models.Service
	var price int64
	var fields []byte
	err := row.Scan(&svc.ID, &svc.Name, &svc.Description, &price, &svc.Active, &fields, &svc.CreatedAt, &svc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("scan service", err)
	}
	svc.DefaultPrice = money.Amount(price)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &svc.Fields); err != nil {
			return nil, fmt.Errorf("postgres: decode service fields: %w", err)
		}
	}
	return &svc, nil
}

func nonNilFields(f []models.FieldSpec) []models.FieldSpec {
	if f == nil {
		return []models.FieldSpec{}
	}
	return f
}

// ==================== Price overrides ====================

func (s *Store) UpsertPriceOverride(ctx context.Context, o models.PriceOverride) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_overrides (user_id, service_id, price, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, service_id) DO UPDATE SET price = EXCLUDED.price, updated_at = EXCLUDED.updated_at`,
		o.UserID, o.ServiceID, int64(o.Price), o.UpdatedAt)
	return wrap("upsert price override", err)
}

func (s *Store) GetPriceOverride(ctx context.Context, userID, serviceID string) (*models.PriceOverride, error) {
	var o models.PriceOverride
	var price int64
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, service_id, price, updated_at FROM price_overrides WHERE user_id = $1 AND service_id = $2",
		userID, serviceID).Scan(&o.UserID, &o.ServiceID, &price, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get price override", err)
	}
	o.Price = money.Amount(price)
	return &o, nil
}

func (s *Store) ListPriceOverrides(ctx context.Context, userID string) ([]models.PriceOverride, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, service_id, price, updated_at FROM price_overrides WHERE user_id = $1", userID)
	if err != nil {
		return nil, wrap("list price overrides", err)
	}
	defer rows.Close()

	var out []models.PriceOverride
	for rows.Next() {
		var o models.PriceOverride
		var price int64
		if err := rows.Scan(&o.UserID, &o.ServiceID, &price, &o.UpdatedAt); err != nil {
			return nil, wrap("scan price override", err)
		}
		o.Price = money.Amount(price)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ==================== Records ====================

const recordColumns = "id, kind, user_id, user_name, user_mobile, service_id, service_name, price, status, token, admin_message, payload, created_at, updated_at, last_checked_at, completed_at"

func (s *Store) CreateRecord(ctx context.Context, r *models.Record) error {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO records ("+recordColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)",
		r.ID, string(r.Kind), r.UserID, r.UserName, r.UserMobile, r.ServiceID, r.ServiceName, int64(r.Price),
		string(r.Status), nullString(r.Token), r.AdminMessage, string(payload), r.CreatedAt, r.UpdatedAt,
		nullTime(r.LastCheckedAt), nullTime(r.CompletedAt))
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return wrap("create record", err)
}

func (s *Store) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = $1", id)
	return scanRecord(row)
}

func (s *Store) GetRecordByToken(ctx context.Context, token string) (*models.Record, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE token = $1", token)
	return scanRecord(row)
}

func (s *Store) ListRecords(ctx context.Context, f store.RecordFilter) ([]models.Record, error) {
	var b builder
	var where []string
	if f.UserID != "" {
		where = append(where, b.bind("user_id = ", f.UserID))
	}
	if f.Kind != "" {
		where = append(where, b.bind("kind = ", string(f.Kind)))
	}
	if len(f.Statuses) > 0 {
		vals := make([]any, len(f.Statuses))
		for i, st := range f.Statuses {
			vals[i] = string(st)
		}
		where = append(where, b.in("status", vals))
	}
	if !f.Since.IsZero() {
		where = append(where, b.bind("updated_at >= ", f.Since))
	}

	q := "SELECT " + recordColumns + " FROM records" + b.where(where) + " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " " + b.bind("LIMIT ", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, b.args...)
	if err != nil {
		return nil, wrap("list records", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) TransitionRecord(ctx context.Context, id string, from []models.RecordStatus, upd store.RecordUpdate) (bool, error) {
	var payload sql.NullString
	if upd.Payload != nil {
		raw, err := json.Marshal(upd.Payload)
		if err != nil {
			return false, err
		}
		payload = sql.NullString{String: string(raw), Valid: true}
	}
	var msg sql.NullString
	if upd.AdminMessage != nil {
		msg = sql.NullString{String: *upd.AdminMessage, Valid: true}
	}

	var b builder
	set := []string{
		b.bind("status = ", string(upd.Status)),
		b.bind("updated_at = ", s.now()),
		"payload = COALESCE(" + b.next(payload) + "::jsonb, payload)",
		"admin_message = COALESCE(" + b.next(msg) + ", admin_message)",
		"last_checked_at = COALESCE(" + b.next(nullTime(upd.LastCheckedAt)) + ", last_checked_at)",
		"completed_at = COALESCE(" + b.next(nullTime(upd.CompletedAt)) + ", completed_at)",
	}
	where := []string{b.bind("id = ", id)}
	vals := make([]any, len(from))
	for i, st := range from {
		vals[i] = string(st)
	}
	where = append(where, b.in("status", vals))

	res, err := s.db.ExecContext(ctx, "UPDATE records SET "+strings.Join(set, ", ")+b.where(where), b.args...)
	if err != nil {
		return false, wrap("transition record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("transition record", err)
	}
	if n > 0 {
		return true, nil
	}

	exists, err := s.exists(ctx, "SELECT EXISTS(SELECT 1 FROM records WHERE id = $1)", id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (s *Store) TouchRecord(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET last_checked_at = $1, updated_at = $2 WHERE id = $3", at, s.now(), id)
	if err != nil {
		return wrap("touch record", err)
	}
	return requireAffected(res)
}

func scanRecord(row scanner) (*models.Record, error) {
	var r models.Record
	var kind, status string
	var price int64
	var token sql.NullString
	var payload []byte
	var lastChecked, completed sql.NullTime
	err := row.Scan(&r.ID, &kind, &r.UserID, &r.UserName, &r.UserMobile, &r.ServiceID, &r.ServiceName, &price,
		&status, &token, &r.AdminMessage, &payload, &r.CreatedAt, &r.UpdatedAt, &lastChecked, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("scan record", err)
	}
	r.Kind = models.RecordKind(kind)
	r.Status = models.RecordStatus(status)
	r.Price = money.Amount(price)
	r.Token = token.String
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return nil, fmt.Errorf("postgres: decode record payload: %w", err)
		}
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		r.LastCheckedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

// ==================== Ledger ====================

const entryColumns = "id, user_id, type, amount, description, reference, balance_after, created_at"

func (s *Store) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO ledger_entries ("+entryColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		e.ID, e.UserID, string(e.Type), int64(e.Amount), e.Description, e.Reference, int64(e.BalanceAfter), e.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return wrap("append entry", err)
}

func (s *Store) ListEntries(ctx context.Context, f store.EntryFilter) ([]models.LedgerEntry, error) {
	var b builder
	var where []string
	if f.UserID != "" {
		where = append(where, b.bind("user_id = ", f.UserID))
	}
	if len(f.Types) > 0 {
		vals := make([]any, len(f.Types))
		for i, t := range f.Types {
			vals[i] = string(t)
		}
		where = append(where, b.in("type", vals))
	}
	if f.Reference != "" {
		where = append(where, b.bind("reference = ", f.Reference))
	}
	if !f.Since.IsZero() {
		where = append(where, b.bind("created_at >= ", f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, b.bind("created_at < ", f.Until))
	}

	q := "SELECT " + entryColumns + " FROM ledger_entries" + b.where(where) + " ORDER BY seq DESC"
	if f.Limit > 0 {
		q += " " + b.bind("LIMIT ", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, b.args...)
	if err != nil {
		return nil, wrap("list entries", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var typ string
		var amount, balance int64
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &amount, &e.Description, &e.Reference, &balance, &e.CreatedAt); err != nil {
			return nil, wrap("scan entry", err)
		}
		e.Type = models.EntryType(typ)
		e.Amount = money.Amount(amount)
		e.BalanceAfter = money.Amount(balance)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ==================== Payments ====================

const paymentColumns = "id, txn_id, user_id, amount, status, upi_id, upi_link, payment_link, created_at, updated_at"

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO payments ("+paymentColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		p.ID, p.TxnID, p.UserID, int64(p.Amount), string(p.Status), p.UPIID, p.UPILink, p.PaymentLink, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return wrap("create payment", err)
}

func (s *Store) GetPaymentByTxn(ctx context.Context, txnID string) (*models.Payment, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE txn_id = $1", txnID)
	return scanPayment(row)
}

func (s *Store) ListPayments(ctx context.Context, userID string, limit int) ([]models.Payment, error) {
	var b builder
	q := "SELECT " + paymentColumns + " FROM payments WHERE " + b.bind("user_id = ", userID) + " ORDER BY created_at DESC"
	if limit > 0 {
		q += " " + b.bind("LIMIT ", limit)
	}

	rows, err := s.db.QueryContext(ctx, q, b.args...)
	if err != nil {
		return nil, wrap("list payments", err)
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) MarkPaymentSucceeded(ctx context.Context, txnID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = $2 WHERE txn_id = $3 AND status <> $1",
		string(models.PaymentSuccess), s.now(), txnID)
	if err != nil {
		return false, wrap("mark payment succeeded", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("mark payment succeeded", err)
	}
	if n > 0 {
		return true, nil
	}

	exists, err := s.exists(ctx, "SELECT EXISTS(SELECT 1 FROM payments WHERE txn_id = $1)", txnID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

func scanPayment(row scanner) (*models.Payment, error) {
	var p models.Payment
	var amount int64
	var status string
	err := row.Scan(&p.ID, &p.TxnID, &p.UserID, &amount, &status, &p.UPIID, &p.UPILink, &p.PaymentLink, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("scan payment", err)
	}
	p.Amount = money.Amount(amount)
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

// ==================== Admins ====================

func (s *Store) CreateAdmin(ctx context.Context, a *models.Admin) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO admins (id, username, password_hash, created_at) VALUES ($1, $2, $3, $4)",
		a.ID, a.Username, a.PasswordHash, a.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return wrap("create admin", err)
}

func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*models.Admin, error) {
	var a models.Admin
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM admins WHERE username = $1", username).
		Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrap("get admin", err)
	}
	return &a, nil
}

// ==================== Helpers ====================

type scanner interface {
	Scan(dest ...any) error
}

// builder numbers placeholders as arguments are added.
type builder struct {
	args []any
}

func (b *builder) next(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) bind(prefix string, v any) string {
	return prefix + b.next(v)
}

func (b *builder) in(column string, vals []any) string {
	ph := make([]string, len(vals))
	for i, v := range vals {
		ph[i] = b.next(v)
	}
	return column + " IN (" + strings.Join(ph, ", ") + ")"
}

func (b *builder) where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func (s *Store) exists(ctx context.Context, q string, arg any) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, q, arg).Scan(&ok); err != nil {
		return false, wrap("exists", err)
	}
	return ok, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("rows affected", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// isUniqueViolation recognises SQLSTATE 23505 from either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
