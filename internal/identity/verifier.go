package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier resolves a bearer token into an authenticated identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// issuer checks.
var ErrInvalidToken = errors.New("identity: invalid token")

// Claims are the custom claims expected in access tokens issued by the
// external credential service.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifierConfig bundles the options required to build a JWTVerifier.
type JWTVerifierConfig struct {
	Secret string
	Issuer string
	Clock  func() time.Time
}

// JWTVerifier validates HS256 access tokens. Token issuance lives with the
// external login service; this side only checks them.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTVerifier constructs a verifier from the provided configuration.
func NewJWTVerifier(cfg JWTVerifierConfig) (*JWTVerifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("identity: secret must be provided")
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTVerifier{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		now:    now,
	}, nil
}

// Verify parses and validates a token, returning the embedded identity.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		SubjectID: claims.Subject,
		Role:      ParseRole(claims.Role),
	}, nil
}
