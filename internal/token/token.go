// Package token issues and verifies device session tokens and manages the
// one-time install tokens that authorize device registration.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// Kind discriminates session tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Default lifetimes.
const (
	DefaultAccessTTL         = 15 * time.Minute
	DefaultRefreshTTL        = 7 * 24 * time.Hour
	DefaultInstallTokenTTL   = 7 * 24 * time.Hour
	DefaultInstallCommandTTL = time.Hour
)

var (
	// ErrInvalidToken is matched by every session token verification failure.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidInstallToken is returned when an install token is unknown,
	// expired or already used.
	ErrInvalidInstallToken = errors.New("invalid or expired install token")
)

// Reason explains why a session token was rejected.
type Reason string

const (
	ReasonMalformed      Reason = "malformed"
	ReasonSignature      Reason = "signature"
	ReasonExpired        Reason = "expired"
	ReasonWrongKind      Reason = "wrong_kind"
	ReasonMissingSubject Reason = "missing_subject"
)

// Error is returned by Verify. errors.Is(err, ErrInvalidToken) holds for
// every Error.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid token (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid token (%s)", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrInvalidToken }

// IsReason reports whether err is a token Error with reason r.
func IsReason(err error, r Reason) bool {
	var te *Error
	return errors.As(err, &te) && te.Reason == r
}

// Claims is the payload of a session token.
type Claims struct {
	UniqueID string `json:"unique_id"`
	Type     Kind   `json:"type"`
	jwt.RegisteredClaims
}

// Config holds the signing key and token lifetimes.
type Config struct {
	SecretKey       string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	InstallTokenTTL time.Duration
}

// Service signs session tokens with HS256 and owns the install_tokens table.
// Session operations are pure and safe for concurrent use.
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	installTTL time.Duration
	tokens     services.InstallTokenRepository
	now        func() time.Time
	parser     *jwt.Parser
}

// NewService builds a Service. now may be nil, in which case time.Now is used.
func NewService(cfg Config, tokens services.InstallTokenRepository, now func() time.Time) (*Service, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("token: secret key is required")
	}
	if now == nil {
		now = time.Now
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.InstallTokenTTL <= 0 {
		cfg.InstallTokenTTL = DefaultInstallTokenTTL
	}
	return &Service{
		secret:     []byte(cfg.SecretKey),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		installTTL: cfg.InstallTokenTTL,
		tokens:     tokens,
		now:        now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(now),
		),
	}, nil
}

// WithDB returns a copy of s whose install token operations run on db,
// typically a transaction owned by the caller.
func (s *Service) WithDB(db services.DBTX) *Service {
	c := *s
	c.tokens = services.NewSQLiteInstallTokenRepository(db)
	return &c
}

// IssueSession signs an access and a refresh token for uniqueID.
func (s *Service) IssueSession(uniqueID string) (models.TokenPair, error) {
	access, err := s.sign(uniqueID, KindAccess, s.accessTTL)
	if err != nil {
		return models.TokenPair{}, err
	}
	refresh, err := s.sign(uniqueID, KindRefresh, s.refreshTTL)
	if err != nil {
		return models.TokenPair{}, err
	}
	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

func (s *Service) sign(uniqueID string, kind Kind, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		UniqueID: uniqueID,
		Type:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify checks the signature, expiry and kind of raw and returns the device
// unique ID it was issued for.
func (s *Service) Verify(raw string, want Kind) (string, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", &Error{Reason: classify(err), Err: err}
	}
	if claims.Type != want {
		return "", &Error{
			Reason: ReasonWrongKind,
			Err:    fmt.Errorf("got %q token, want %q", claims.Type, want),
		}
	}
	if claims.UniqueID == "" {
		return "", &Error{Reason: ReasonMissingSubject}
	}
	return claims.UniqueID, nil
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonSignature
	default:
		return ReasonMalformed
	}
}

// IssueInstallToken stores a fresh unused install token valid for ttl. A
// non-positive ttl selects the configured default.
func (s *Service) IssueInstallToken(ctx context.Context, ttl time.Duration) (*models.InstallToken, error) {
	if ttl <= 0 {
		ttl = s.installTTL
	}
	now := s.now().UTC()
	tok := &models.InstallToken{
		Token:     uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.tokens.Create(ctx, tok); err != nil {
		return nil, fmt.Errorf("issue install token: %w", err)
	}
	return tok, nil
}

// ConsumeInstallToken marks token used. Exactly one concurrent caller
// succeeds; the rest get ErrInvalidInstallToken.
func (s *Service) ConsumeInstallToken(ctx context.Context, token string) error {
	ok, err := s.tokens.Consume(ctx, token, s.now())
	if err != nil {
		return fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	if !ok {
		return ErrInvalidInstallToken
	}
	return nil
}

// InstallTokenStatus returns the stored token, or services.ErrNotFound.
func (s *Service) InstallTokenStatus(ctx context.Context, token string) (*models.InstallToken, error) {
	return s.tokens.Get(ctx, token)
}
