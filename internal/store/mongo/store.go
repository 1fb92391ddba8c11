// Package mongo implements store.Store on MongoDB. Balance changes are a
// single conditional findOneAndUpdate, the document-store equivalent of the
// Postgres UPDATE ... WHERE balance + delta >= 0.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/money"
	"github.com/servicehub/backend/internal/store"
)

const (
	colUsers     = "users"
	colAdmins    = "admins"
	colServices  = "services"
	colOverrides = "price_overrides"
	colRecords   = "records"
	colEntries   = "ledger_entries"
	colPayments  = "payments"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

func New(client *mongo.Client, database string) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the indexes every query relies on.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

// ==================== Users ====================

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.Collection(colUsers).InsertOne(ctx, u)
	return insertErr("create user", err)
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.findOne(ctx, colUsers, bson.M{"_id": id}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByMobile(ctx context.Context, mobile string) (*models.User, error) {
	var u models.User
	if err := s.findOne(ctx, colUsers, bson.M{"mobile": mobile}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) SetUserBlocked(ctx context.Context, id string, blocked bool) error {
	res, err := s.db.Collection(colUsers).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"blocked": blocked, "updatedAt": s.now()}})
	if err != nil {
		return fmt.Errorf("mongo: set user blocked: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustBalance(ctx context.Context, id string, delta money.Amount) (money.Amount, error) {
	var u models.User
	err := s.db.Collection(colUsers).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "balance": bson.M{"$gte": int64(-delta)}},
		bson.M{"$inc": bson.M{"balance": int64(delta)}, "$set": bson.M{"updatedAt": s.now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := s.db.Collection(colUsers).CountDocuments(ctx, bson.M{"_id": id})
		if cerr != nil {
			return 0, fmt.Errorf("mongo: adjust balance: %w", cerr)
		}
		if n > 0 {
			return 0, store.ErrInsufficientFunds
		}
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("mongo: adjust balance: %w", err)
	}
	return u.Balance, nil
}

// ==================== Services ====================

func (s *Store) CreateService(ctx context.Context, svc *models.Service) error {
	_, err := s.db.Collection(colServices).InsertOne(ctx, svc)
	return insertErr("create service", err)
}

func (s *Store) GetService(ctx context.Context, id string) (*models.Service, error) {
	var svc models.Service
	if err := s.findOne(ctx, colServices, bson.M{"_id": id}, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *Store) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}
	var out []models.Service
	err := s.find(ctx, colServices, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}), &out)
	return out, err
}

func (s *Store) UpdateService(ctx context.Context, id string, upd store.ServiceUpdate) (*models.Service, error) {
	set := bson.M{"updatedAt": s.now()}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}
	if upd.DefaultPrice != nil {
		set["defaultPrice"] = int64(*upd.DefaultPrice)
	}
	if upd.Active != nil {
		set["active"] = *upd.Active
	}
	if upd.Fields != nil {
		set["fields"] = upd.Fields
	}

	var svc models.Service
	err := s.db.Collection(colServices).FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&svc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: update service: %w", err)
	}
	return &svc, nil
}

func (s *Store) DeleteService(ctx context.Context, id string) error {
	res, err := s.db.Collection(colServices).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo: delete service: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	if _, err := s.db.Collection(colOverrides).DeleteMany(ctx, bson.M{"serviceId": id}); err != nil {
		return fmt.Errorf("mongo: delete overrides: %w", err)
	}
	return nil
}

// ==================== Price overrides ====================

func (s *Store) UpsertPriceOverride(ctx context.Context, o models.PriceOverride) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = s.now()
	}
	_, err := s.db.Collection(colOverrides).UpdateOne(ctx,
		bson.M{"userId": o.UserID, "serviceId": o.ServiceID},
		bson.M{"$set": bson.M{"price": int64(o.Price), "updatedAt": o.UpdatedAt}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo: upsert price override: %w", err)
	}
	return nil
}

func (s *Store) GetPriceOverride(ctx context.Context, userID, serviceID string) (*models.PriceOverride, error) {
	var o models.PriceOverride
	if err := s.findOne(ctx, colOverrides, bson.M{"userId": userID, "serviceId": serviceID}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListPriceOverrides(ctx context.Context, userID string) ([]models.PriceOverride, error) {
	var out []models.PriceOverride
	err := s.find(ctx, colOverrides, bson.M{"userId": userID}, options.Find(), &out)
	return out, err
}

// ==================== Records ====================

func (s *Store) CreateRecord(ctx context.Context, r *models.Record) error {
	_, err := s.db.Collection(colRecords).InsertOne(ctx, r)
	return insertErr("create record", err)
}

func (s *Store) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	var r models.Record
	if err := s.findOne(ctx, colRecords, bson.M{"_id": id}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetRecordByToken(ctx context.Context, token string) (*models.Record, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	var r models.Record
	if err := s.findOne(ctx, colRecords, bson.M{"token": token}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRecords(ctx context.Context, f store.RecordFilter) ([]models.Record, error) {
	var out []models.Record
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	err := s.find(ctx, colRecords, recordFilter(f), opts, &out)
	return out, err
}

func recordFilter(f store.RecordFilter) bson.M {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.Kind != "" {
		filter["kind"] = f.Kind
	}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	if !f.Since.IsZero() {
		filter["updatedAt"] = bson.M{"$gte": f.Since}
	}
	return filter
}

func (s *Store) TransitionRecord(ctx context.Context, id string, from []models.RecordStatus, upd store.RecordUpdate) (bool, error) {
	set := bson.M{"status": upd.Status, "updatedAt": s.now()}
	if upd.Payload != nil {
		set["payload"] = upd.Payload
	}
	if upd.AdminMessage != nil {
		set["adminMessage"] = *upd.AdminMessage
	}
	if upd.LastCheckedAt != nil {
		set["lastCheckedAt"] = *upd.LastCheckedAt
	}
	if upd.CompletedAt != nil {
		set["completedAt"] = *upd.CompletedAt
	}

	res, err := s.db.Collection(colRecords).UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("mongo: transition record: %w", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	n, err := s.db.Collection(colRecords).CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("mongo: transition record: %w", err)
	}
	if n == 0 {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (s *Store) TouchRecord(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.Collection(colRecords).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"lastCheckedAt": at, "updatedAt": s.now()}})
	if err != nil {
		return fmt.Errorf("mongo: touch record: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ==================== Ledger ====================

func (s *Store) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	_, err := s.db.Collection(colEntries).InsertOne(ctx, e)
	return insertErr("append entry", err)
}

// ListEntries sorts on the ULID after the timestamp, which keeps entries
// written within the same millisecond in append order.
func (s *Store) ListEntries(ctx context.Context, f store.EntryFilter) ([]models.LedgerEntry, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if len(f.Types) > 0 {
		filter["type"] = bson.M{"$in": f.Types}
	}
	if f.Reference != "" {
		filter["reference"] = f.Reference
	}
	created := bson.M{}
	if !f.Since.IsZero() {
		created["$gte"] = f.Since
	}
	if !f.Until.IsZero() {
		created["$lt"] = f.Until
	}
	if len(created) > 0 {
		filter["createdAt"] = created
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	var out []models.LedgerEntry
	err := s.find(ctx, colEntries, filter, opts, &out)
	return out, err
}

// ==================== Payments ====================

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := s.db.Collection(colPayments).InsertOne(ctx, p)
	return insertErr("create payment", err)
}

func (s *Store) GetPaymentByTxn(ctx context.Context, txnID string) (*models.Payment, error) {
	var p models.Payment
	if err := s.findOne(ctx, colPayments, bson.M{"txnId": txnID}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPayments(ctx context.Context, userID string, limit int) ([]models.Payment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	var out []models.Payment
	err := s.find(ctx, colPayments, bson.M{"userId": userID}, opts, &out)
	return out, err
}

func (s *Store) MarkPaymentSucceeded(ctx context.Context, txnID string) (bool, error) {
	res, err := s.db.Collection(colPayments).UpdateOne(ctx,
		bson.M{"txnId": txnID, "status": bson.M{"$ne": models.PaymentSuccess}},
		bson.M{"$set": bson.M{"status": models.PaymentSuccess, "updatedAt": s.now()}})
	if err != nil {
		return false, fmt.Errorf("mongo: mark payment succeeded: %w", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	n, err := s.db.Collection(colPayments).CountDocuments(ctx, bson.M{"txnId": txnID})
	if err != nil {
		return false, fmt.Errorf("mongo: mark payment succeeded: %w", err)
	}
	if n == 0 {
		return false, store.ErrNotFound
	}
	return false, nil
}

// ==================== Admins ====================

func (s *Store) CreateAdmin(ctx context.Context, a *models.Admin) error {
	_, err := s.db.Collection(colAdmins).InsertOne(ctx, a)
	return insertErr("create admin", err)
}

func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*models.Admin, error) {
	var a models.Admin
	if err := s.findOne(ctx, colAdmins, bson.M{"username": username}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ==================== Helpers ====================

func (s *Store) findOne(ctx context.Context, col string, filter bson.M, out any) error {
	err := s.db.Collection(col).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mongo: find %s: %w", col, err)
	}
	return nil
}

func (s *Store) find(ctx context.Context, col string, filter bson.M, opts *options.FindOptionsBuilder, out any) error {
	cur, err := s.db.Collection(col).Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("mongo: find %s: %w", col, err)
	}
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("mongo: decode %s: %w", col, err)
	}
	return nil
}

func insertErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return fmt.Errorf("mongo: %s: %w", op, err)
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "mobile", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colAdmins: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colServices: {
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		colOverrides: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "serviceId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "serviceId", Value: 1}}},
		},
		colRecords: {
			{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}}},
		},
		colEntries: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
			{Keys: bson.D{{Key: "reference", Value: 1}}},
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		colPayments: {
			{Keys: bson.D{{Key: "txnId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
	}
}
