// Package token signs and verifies the credentials produced by the
// authorization core: fully scoped session tokens and the single-purpose
// tokens used during invitation exchange.
package token

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"opsboard.org/internal/authz"
)

const (
	defaultIssuer      = "opsboard"
	defaultSessionTTL  = 24 * time.Hour
	defaultExchangeTTL = 1 * time.Hour
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("token: invalid token")

// Claims carries the opsboard-specific claims next to the registered set.
// Purpose is empty on full session tokens and names the single allowed
// operation on restricted ones.
type Claims struct {
	RoleID      string   `json:"role_id,omitempty"`
	OrgID       string   `json:"org_id,omitempty"`
	MerchantID  string   `json:"merchant_id,omitempty"`
	ProfileID   string   `json:"profile_id,omitempty"`
	Purpose     string   `json:"purpose,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the core's principal value.
func (c *Claims) Principal() authz.Principal {
	return authz.Principal{
		UserID: c.Subject,
		RoleID: c.RoleID,
		Lineage: authz.Lineage{
			OrgID:      c.OrgID,
			MerchantID: c.MerchantID,
			ProfileID:  c.ProfileID,
		},
		Purpose: authz.TokenPurpose(c.Purpose),
		TokenID: c.ID,
	}
}

// Option configures Issuer behavior.
type Option func(*Issuer)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(i *Issuer) {
		if s := strings.TrimSpace(issuer); s != "" {
			i.issuer = s
		}
	}
}

// WithSessionTTL configures full session token lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.sessionTTL = ttl
		}
	}
}

// WithExchangeTTL configures single-purpose token lifetime.
func WithExchangeTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.exchangeTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// Issuer signs opsboard tokens with HS256.
type Issuer struct {
	secret      []byte
	issuer      string
	sessionTTL  time.Duration
	exchangeTTL time.Duration
	now         func() time.Time
}

var _ authz.TokenIssuer = (*Issuer)(nil)

// NewIssuer constructs an Issuer from the shared secret.
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token: signing secret is required")
	}
	i := &Issuer{
		secret:      []byte(secret),
		issuer:      defaultIssuer,
		sessionTTL:  defaultSessionTTL,
		exchangeTTL: defaultExchangeTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// IssueSession signs a fully scoped session token with purpose none.
func (i *Issuer) IssueSession(_ context.Context, desc authz.SessionDescriptor) (authz.SignedToken, error) {
	if strings.TrimSpace(desc.UserID) == "" {
		return authz.SignedToken{}, errors.New("token: user id is required")
	}
	perms := make([]string, 0, len(desc.Permissions))
	for _, p := range desc.Permissions {
		perms = append(perms, string(p))
	}
	claims := &Claims{
		RoleID:      desc.RoleID,
		OrgID:       desc.Lineage.OrgID,
		MerchantID:  desc.Lineage.MerchantID,
		ProfileID:   desc.Lineage.ProfileID,
		Permissions: perms,
	}
	return i.sign(claims, desc.UserID, i.sessionTTL)
}

// IssueSinglePurpose signs the intermediate exchange token. The candidate set
// is not embedded: selection is re-validated against storage, and the token id
// is consumed there on a successful exchange.
func (i *Issuer) IssueSinglePurpose(_ context.Context, desc authz.IntermediateTokenDescriptor) (authz.SignedToken, error) {
	if strings.TrimSpace(desc.UserID) == "" {
		return authz.SignedToken{}, errors.New("token: user id is required")
	}
	if desc.Purpose == authz.PurposeNone {
		return authz.SignedToken{}, errors.New("token: purpose is required")
	}
	claims := &Claims{Purpose: string(desc.Purpose)}
	return i.sign(claims, desc.UserID, i.exchangeTTL)
}

func (i *Issuer) sign(claims *Claims, subject string, ttl time.Duration) (authz.SignedToken, error) {
	now := i.now().UTC()
	expires := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return authz.SignedToken{}, err
	}
	return authz.SignedToken{Token: signed, ExpiresAt: expires}, nil
}

// ParseAndValidate verifies the token signature and required claims.
func (i *Issuer) ParseAndValidate(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithIssuer(i.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
