package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key")

func TestNewManager(t *testing.T) {
	t.Run("requires secret", func(t *testing.T) {
		if _, err := NewManager(nil); !errors.Is(err, ErrMissingSecret) {
			t.Errorf("expected ErrMissingSecret, got %v", err)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		if _, err := NewManager(testSecret); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestIssueAndVerify(t *testing.T) {
	m, err := NewManager(testSecret)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	tok, err := m.Issue("u-a", "a@x.com")
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	if tok == "" {
		t.Fatal("empty token")
	}

	claims, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("failed to verify: %v", err)
	}
	if claims.UserID != "u-a" {
		t.Errorf("user ID = %q, want u-a", claims.UserID)
	}
	if claims.Email != "a@x.com" {
		t.Errorf("email = %q, want a@x.com", claims.Email)
	}
	if claims.Subject != "u-a" {
		t.Errorf("subject = %q, want u-a", claims.Subject)
	}
	if claims.Issuer != DefaultIssuer {
		t.Errorf("issuer = %q, want %q", claims.Issuer, DefaultIssuer)
	}
}

func TestVerifyRejections(t *testing.T) {
	m, err := NewManager(testSecret)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	t.Run("garbage token", func(t *testing.T) {
		if _, err := m.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewManager([]byte("different-secret"))
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		tok, err := other.Issue("u-a", "a@x.com")
		if err != nil {
			t.Fatalf("failed to issue: %v", err)
		}
		if _, err := m.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			UserID: "u-a",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    DefaultIssuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})
		tok, err := expired.SignedString(testSecret)
		if err != nil {
			t.Fatalf("failed to sign: %v", err)
		}
		if _, err := m.Verify(tok); !errors.Is(err, ErrExpiredToken) {
			t.Errorf("expected ErrExpiredToken, got %v", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewManager(testSecret, WithIssuer("someone-else"))
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		tok, err := other.Issue("u-a", "a@x.com")
		if err != nil {
			t.Fatalf("failed to issue: %v", err)
		}
		if _, err := m.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("wrong signing algorithm", func(t *testing.T) {
		// A token signed with "none" must never pass, even with a valid
		// claim set.
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			UserID: "u-a",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    DefaultIssuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		tok, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("failed to sign: %v", err)
		}
		if _, err := m.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("missing user ID", func(t *testing.T) {
		signed := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    DefaultIssuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		tok, err := signed.SignedString(testSecret)
		if err != nil {
			t.Fatalf("failed to sign: %v", err)
		}
		if _, err := m.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})
}

func TestCustomTTL(t *testing.T) {
	m, err := NewManager(testSecret, WithTTL(2*time.Hour))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	tok, err := m.Issue("u-a", "a@x.com")
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	claims, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("failed to verify: %v", err)
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl < time.Hour || ttl > 2*time.Hour {
		t.Errorf("unexpected TTL: %v", ttl)
	}
}
