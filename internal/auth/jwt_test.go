package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "jwt-test-secret"

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func fixedVerifier(secret string, now time.Time) *JWTVerifier {
	v := NewJWTVerifier(secret)
	v.now = func() time.Time { return now }
	return v
}

func TestJWTVerifier_Valid(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedVerifier(testSecret, now)

	tok := signHS256(t, testSecret, jwt.MapClaims{
		"sub": "session-1",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	if err := v.Verify(tok); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}

	sub, err := v.VerifyAndExtractSubject(tok)
	if err != nil || sub != "session-1" {
		t.Fatalf("subject: got %q, %v", sub, err)
	}
}

func TestJWTVerifier_Expired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedVerifier(testSecret, now)

	tok := signHS256(t, testSecret, jwt.MapClaims{
		"exp": now.Add(-time.Minute).Unix(),
	})
	if err := v.Verify(tok); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v, want ErrInvalidCredentials", err)
	}
}

func TestJWTVerifier_MissingExp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedVerifier(testSecret, now)

	tok := signHS256(t, testSecret, jwt.MapClaims{"sub": "x"})
	if err := v.Verify(tok); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("token without exp accepted")
	}
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedVerifier(testSecret, now)

	tok := signHS256(t, "other-secret", jwt.MapClaims{
		"exp": now.Add(time.Hour).Unix(),
	})
	if err := v.Verify(tok); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("forged token accepted")
	}
}

func TestJWTVerifier_AlgNoneRejected(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedVerifier(testSecret, now)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := v.Verify(tok); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("alg=none token accepted")
	}
}

func TestJWTVerifier_NotBefore(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := fixedVerifier(testSecret, now)

	tok := signHS256(t, testSecret, jwt.MapClaims{
		"nbf": now.Add(time.Minute).Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	if err := v.Verify(tok); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("not-yet-valid token accepted")
	}
}

func TestJWTVerifier_Garbage(t *testing.T) {
	v := fixedVerifier(testSecret, time.Unix(1700000000, 0))
	for _, tok := range []string{"", "x", "a.b", "a.b.c.d", "not a jwt at all"} {
		if err := v.Verify(tok); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("token %q accepted", tok)
		}
	}
}
