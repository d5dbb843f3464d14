package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestLinkCodes_RoundTrip(t *testing.T) {
	now := fixedNow
	codes := NewLinkCodes([]byte("0123456789abcdef0123456789abcdef"), func() time.Time { return now })

	code, err := codes.Issue("u1", "pat@example.com", CodeRecovery, "j1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := codes.Parse(code)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "pat@example.com" || claims.Type != CodeRecovery || claims.ID != "j1" {
		t.Errorf("claims = %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(now.Add(LinkCodeTTL)) {
		t.Errorf("expires = %v", claims.ExpiresAt)
	}
}

func TestLinkCodes_Rejects(t *testing.T) {
	now := fixedNow
	clock := func() time.Time { return now }
	codes := NewLinkCodes([]byte("0123456789abcdef0123456789abcdef"), clock)
	other := NewLinkCodes([]byte("ffffffffffffffffffffffffffffffff"), clock)

	signup, _ := codes.Issue("u1", "a@b.c", CodeSignup, "j1")
	forged, _ := other.Issue("u1", "a@b.c", CodeMagicLink, "j2")
	badType, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, LinkClaims{
		Type: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: codeIssuer, Subject: "u1", ID: "j3",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("0123456789abcdef0123456789abcdef"))
	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, LinkClaims{
		Type: CodeMagicLink,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: codeIssuer, Subject: "u1", ID: "j4",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		code    string
		advance time.Duration
	}{
		{"wrong key", forged, 0},
		{"unknown type", badType, 0},
		{"alg none", noneAlg, 0},
		{"malformed", "abc.def.ghi", 0},
		{"signup after 24h", signup, SignupCodeTTL + time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now = fixedNow.Add(tt.advance)
			if _, err := codes.Parse(tt.code); err == nil {
				t.Error("expected error")
			}
		})
	}

	now = fixedNow.Add(23 * time.Hour)
	if _, err := codes.Parse(signup); err != nil {
		t.Errorf("signup code within 24h rejected: %v", err)
	}
}
