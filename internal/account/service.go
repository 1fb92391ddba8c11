// Package account serves a signed-in user's view of their own data.
package account

import (
	"context"
	"errors"

	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/store"
)

type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	GetRecordByToken(ctx context.Context, token string) (*models.Record, error)
	ListRecords(ctx context.Context, f store.RecordFilter) ([]models.Record, error)
}

type Pricer interface {
	ResolveAll(ctx context.Context, userID string, services []models.Service) ([]models.PricedService, error)
}

type History interface {
	History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
}

// Document is a stored PDF ready to hand back to its owner.
type Document struct {
	RecordID string `json:"recordId"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	PDFData  string `json:"pdfData"`
}

type Service struct {
	store   Store
	pricer  Pricer
	history History
}

func NewService(st Store, pricer Pricer, history History) *Service {
	return &Service{store: st, pricer: pricer, history: history}
}

// Profile returns the caller's account. Blocked accounts are refused so a
// stale session cannot keep using the app.
func (s *Service) Profile(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "User not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load user", err)
	}
	if u.Blocked {
		return nil, apperr.New(apperr.Forbidden, "Your account has been blocked. Please contact administrator.")
	}
	return u, nil
}

// Services lists active services at the caller's price.
func (s *Service) Services(ctx context.Context, userID string) ([]models.PricedService, error) {
	services, err := s.store.ListServices(ctx, true)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load services", err)
	}
	return s.pricer.ResolveAll(ctx, userID, services)
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	return s.history.History(ctx, userID, limit)
}

// Records lists the caller's records, newest first, without document bodies.
func (s *Service) Records(ctx context.Context, userID string, kind models.RecordKind, limit int) ([]models.Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	records, err := s.store.ListRecords(ctx, store.RecordFilter{UserID: userID, Kind: kind, Limit: limit})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load records", err)
	}
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		out = append(out, r.Summary())
	}
	return out, nil
}

func (s *Service) Download(ctx context.Context, userID, recordID string) (*Document, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "PDF not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load record", err)
	}
	return document(rec, userID)
}

func (s *Service) DownloadByToken(ctx context.Context, userID, token string) (*Document, error) {
	rec, err := s.store.GetRecordByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.UnknownToken, "Invalid token")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load record", err)
	}
	if rec.UserID != userID {
		return nil, apperr.New(apperr.UnknownToken, "Invalid token")
	}
	return document(rec, userID)
}

func document(rec *models.Record, userID string) (*Document, error) {
	if rec.UserID != userID {
		return nil, apperr.New(apperr.NotFound, "PDF not found")
	}
	if rec.Status != models.StatusCompleted {
		return nil, apperr.New(apperr.Validation, "PDF not available. Exam not completed yet.")
	}
	data, name, ok := rec.Document()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "PDF data not available")
	}
	return &Document{RecordID: rec.ID, Filename: name, MimeType: "application/pdf", PDFData: data}, nil
}
