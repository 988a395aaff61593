// Package token issues and validates the HS256 access tokens carried by API callers.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"insureflow/internal/access"
	"insureflow/internal/account/revocation"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
)

// Claims represents the JWT claims for our access tokens.
type Claims struct {
	UserID     int64  `json:"user_id"`
	Role       string `json:"role"`
	Superuser  bool   `json:"superuser,omitempty"`
	HospitalID int64  `json:"hospital_id,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts validated claims into the principal passed to services.
func (c *Claims) Actor() access.Actor {
	return access.Actor{
		UserID:     id.UserID(c.UserID),
		Role:       access.Role(c.Role),
		Superuser:  c.Superuser,
		HospitalID: id.HospitalID(c.HospitalID),
	}
}

// Service handles JWT creation and validation.
type Service struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
	revoked    RevocationList
}

// RevocationList returns the cutoff before which a user's tokens no longer validate.
type RevocationList interface {
	RevokedAt(ctx context.Context, userID id.UserID) (time.Time, bool, error)
}

type Option func(*Service)

// WithClock sets the clock used to check expiry during validation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRevocations rejects tokens issued at or before the user's recorded cutoff.
func WithRevocations(list RevocationList) Option {
	return func(s *Service) {
		s.revoked = list
	}
}

func NewService(signingKey, issuer string, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs an access token for actor, valid from now for the configured TTL.
func (s *Service) Issue(actor access.Actor, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.ttl)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:     int64(actor.UserID),
		Role:       string(actor.Role),
		Superuser:  actor.Superuser,
		HospitalID: int64(actor.HospitalID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	signed, err := t.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID <= 0 {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if !access.Role(claims.Role).IsValid() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token role")
	}
	return claims, nil
}

// ValidateActor satisfies the auth middleware's validator contract. A failed revocation
// lookup rejects the token.
func (s *Service) ValidateActor(ctx context.Context, tokenString string) (access.Actor, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return access.Actor{}, err
	}
	if s.revoked != nil {
		cutoff, ok, err := s.revoked.RevokedAt(ctx, id.UserID(claims.UserID))
		if err != nil {
			return access.Actor{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "token revocation lookup failed")
		}
		if ok && (claims.IssuedAt == nil || revocation.Revoked(claims.IssuedAt.Time, cutoff)) {
			return access.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token has been revoked")
		}
	}
	return claims.Actor(), nil
}
