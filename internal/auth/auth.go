// Package auth issues and checks the JWTs used by users and administrators.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/servicehub/backend/internal/apperr"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/store"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type Claims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

type Store interface {
	GetUserByMobile(ctx context.Context, mobile string) (*models.User, error)
	GetAdminByUsername(ctx context.Context, username string) (*models.Admin, error)
	CreateAdmin(ctx context.Context, a *models.Admin) error
}

type Config struct {
	SecretKey string
	Expiry    time.Duration
	Argon2    Argon2Params
}

// Session is returned on a successful login.
type Session struct {
	Token     string        `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	ExpiresAt time.Time     `json:"expiresAt"`
	Role      Role          `json:"role"`
	User      *models.User  `json:"user,omitempty"`
	Admin     *models.Admin `json:"admin,omitempty"`
}

type Service struct {
	*Hasher
	store  Store
	redis  *redis.Client
	secret []byte
	expiry time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewService accepts a nil redis client, in which case logout cannot revoke
// tokens before they expire.
func NewService(st Store, rdb *redis.Client, cfg Config, logger *zap.Logger) *Service {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Hasher: NewHasher(cfg.Argon2),
		store:  st,
		redis:  rdb,
		secret: []byte(cfg.SecretKey),
		expiry: cfg.Expiry,
		logger: logger.Named("auth"),
		now:    time.Now,
	}
}

func (s *Service) LoginUser(ctx context.Context, mobile, password string) (*Session, error) {
	user, err := s.store.GetUserByMobile(ctx, mobile)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("login failed, unknown mobile", zap.String("mobile", mobile))
		return nil, apperr.New(apperr.Unauthorized, "Invalid credentials")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load user", err)
	}
	if !s.VerifyPassword(password, user.PasswordHash) {
		s.logger.Info("login failed, wrong password", zap.String("user_id", user.ID))
		return nil, apperr.New(apperr.Unauthorized, "Invalid credentials")
	}
	if user.Blocked {
		return nil, apperr.New(apperr.Forbidden, "Your account has been blocked. Please contact administrator.")
	}

	token, exp, err := s.issue(user.ID, RoleUser)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to generate token", err)
	}
	s.logger.Info("user logged in", zap.String("user_id", user.ID))
	return &Session{Token: token, ExpiresAt: exp, Role: RoleUser, User: user}, nil
}

func (s *Service) LoginAdmin(ctx context.Context, username, password string) (*Session, error) {
	admin, err := s.store.GetAdminByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.Unauthorized, "Invalid credentials")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load admin", err)
	}
	if !s.VerifyPassword(password, admin.PasswordHash) {
		s.logger.Info("admin login failed", zap.String("username", username))
		return nil, apperr.New(apperr.Unauthorized, "Invalid credentials")
	}

	token, exp, err := s.issue(admin.ID, RoleAdmin)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to generate token", err)
	}
	s.logger.Info("admin logged in", zap.String("admin_id", admin.ID))
	return &Session{Token: token, ExpiresAt: exp, Role: RoleAdmin, Admin: admin}, nil
}

// Refresh issues a new token for the same subject. The old one stays valid
// until it expires or is logged out.
func (s *Service) Refresh(claims *Claims) (*Session, error) {
	token, exp, err := s.issue(claims.UserID, claims.Role)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to generate token", err)
	}
	return &Session{Token: token, ExpiresAt: exp, Role: claims.Role}, nil
}

// Authenticate verifies the signature, expiry and denylist of a bearer token.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	revoked, err := s.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Warn("token denylist unavailable", zap.Error(err))
	}
	if revoked {
		return nil, apperr.New(apperr.Unauthorized, "Token has been revoked")
	}
	return claims, nil
}

// Logout denylists the token's id until the token would have expired anyway.
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		return err
	}
	if s.redis == nil || claims.ExpiresAt == nil {
		return nil
	}

	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, denyKey(claims.ID), "1", ttl).Err(); err != nil {
		s.logger.Error("failed to blacklist token", zap.Error(err))
		return apperr.Wrap(apperr.Internal, "Failed to logout", err)
	}
	return nil
}

func (s *Service) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if s.redis == nil || tokenID == "" {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, denyKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EnsureDefaultAdmin creates the configured administrator when no account
// with that username exists yet.
func (s *Service) EnsureDefaultAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := s.store.GetAdminByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return err
	}
	err = s.store.CreateAdmin(ctx, &models.Admin{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("default admin created", zap.String("username", username))
	return nil
}

func (s *Service) issue(subject string, role Role) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.expiry)
	claims := Claims{
		UserID: subject,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

func (s *Service) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, apperr.Wrap(apperr.Unauthorized, "Invalid token", err)
	}
	if claims.UserID == "" {
		return nil, apperr.New(apperr.Unauthorized, "Invalid token")
	}
	return claims, nil
}

func denyKey(tokenID string) string {
	return fmt.Sprintf("blacklist:%s", tokenID)
}
