package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CodeType says what an emailed or redirected link code grants.
type CodeType string

// Link code types
const (
	CodeSignup    CodeType = "signup"
	CodeMagicLink CodeType = "magiclink"
	CodeRecovery  CodeType = "recovery"
	CodeOAuth     CodeType = "oauth"
)

// Link code lifetimes
const (
	SignupCodeTTL = 24 * time.Hour
	LinkCodeTTL   = time.Hour
	OAuthCodeTTL  = 5 * time.Minute
)

const codeIssuer = "robolearn"

var errBadCode = errors.New("invalid link code")

// LinkClaims are the claims carried by a link code.
type LinkClaims struct {
	Email string   `json:"email"`
	Type  CodeType `json:"typ"`
	jwt.RegisteredClaims
}

// LinkCodes issues and parses HS256-signed link codes.
type LinkCodes struct {
	secret []byte
	now    func() time.Time
}

// NewLinkCodes creates a signer for link codes.
// PRE: secret is at least 32 bytes
// POST: Returns a signer using now for issue and expiry checks
func NewLinkCodes(secret []byte, now func() time.Time) *LinkCodes {
	if now == nil {
		now = time.Now
	}
	return &LinkCodes{secret: secret, now: now}
}

// TTL returns the lifetime of a code type.
func (t CodeType) TTL() time.Duration {
	switch t {
	case CodeSignup:
		return SignupCodeTTL
	case CodeOAuth:
		return OAuthCodeTTL
	}
	return LinkCodeTTL
}

// Issue signs a code for userID.
// PRE: jti is unique per code
// POST: Returns a compact JWT that expires after typ.TTL()
func (c *LinkCodes) Issue(userID, email string, typ CodeType, jti string) (string, error) {
	now := c.now()
	claims := LinkClaims{
		Email: email,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    codeIssuer,
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(typ.TTL())),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign link code: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, algorithm, issuer and expiry.
// PRE: none
// POST: Returns the claims or an error for any tampered, expired or malformed code
func (c *LinkCodes) Parse(code string) (LinkClaims, error) {
	var claims LinkClaims
	_, err := jwt.ParseWithClaims(code, &claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(codeIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return LinkClaims{}, fmt.Errorf("%w: %v", errBadCode, err)
	}
	switch claims.Type {
	case CodeSignup, CodeMagicLink, CodeRecovery, CodeOAuth:
	default:
		return LinkClaims{}, fmt.Errorf("%w: unknown type %q", errBadCode, claims.Type)
	}
	if claims.Subject == "" || claims.ID == "" {
		return LinkClaims{}, fmt.Errorf("%w: missing subject or id", errBadCode)
	}
	return claims, nil
}
