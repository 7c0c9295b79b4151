package tor

import (
	"crypto/ed25519"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func TestNewAuthCookie(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for range 32 {
		cookie, err := NewAuthCookie()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cookie) != AuthCookieLength {
			t.Fatalf("cookie %q has length %d", cookie, len(cookie))
		}
		if err := ValidateAuthCookie(cookie); err != nil {
			t.Fatalf("fresh cookie %q rejected: %v", cookie, err)
		}
		if seen[cookie] {
			t.Fatalf("cookie %q repeated", cookie)
		}
		seen[cookie] = true
	}
}

func TestValidateAuthCookie(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		cookie string
		valid  bool
	}{
		{"valid", "AAECAwQFBgcICQoLDA0ODw", true},
		{"empty", "", false},
		{"too short", "AAECAwQFBgcICQoLDA0OD", false},
		{"too long", "AAECAwQFBgcICQoLDA0ODwA", false},
		{"non base64", "AAECAwQFBgcICQoLDA0O*w", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateAuthCookie(tc.cookie)
			if tc.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tc.valid && !errors.Is(err, ErrInvalidAuthCookie) {
				t.Errorf("expected ErrInvalidAuthCookie, got %v", err)
			}
		})
	}
}

func TestClientAuthKeys(t *testing.T) {
	t.Parallel()

	const cookie = "AAECAwQFBgcICQoLDA0ODw"

	t.Run("public and private halves match", func(t *testing.T) {
		t.Parallel()

		public, err := ClientAuthPublicKey(cookie)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		private, err := ClientAuthPrivateKey(cookie)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		encoded, ok := strings.CutPrefix(private, "x25519:")
		if !ok {
			t.Fatalf("private key %q lacks the x25519 prefix", private)
		}
		scalar, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			t.Fatal(err)
		}
		point, err := curve25519.X25519(scalar, curve25519.Basepoint)
		if err != nil {
			t.Fatal(err)
		}
		if want := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(point); public != want {
			t.Errorf("public key %q does not match private key (want %q)", public, want)
		}
	})

	t.Run("derivation is deterministic per cookie", func(t *testing.T) {
		t.Parallel()

		first, _ := ClientAuthPublicKey(cookie)
		second, _ := ClientAuthPublicKey(cookie)
		other, _ := ClientAuthPublicKey("BAECAwQFBgcICQoLDA0ODw")
		if first != second {
			t.Error("same cookie produced different keys")
		}
		if first == other {
			t.Error("different cookies produced the same key")
		}
	})

	t.Run("invalid cookie is rejected", func(t *testing.T) {
		t.Parallel()

		if _, err := ClientAuthPublicKey("short"); !errors.Is(err, ErrInvalidAuthCookie) {
			t.Errorf("expected ErrInvalidAuthCookie, got %v", err)
		}
		if _, err := ClientAuthPrivateKey("short"); !errors.Is(err, ErrInvalidAuthCookie) {
			t.Errorf("expected ErrInvalidAuthCookie, got %v", err)
		}
	})
}

// newTestServiceKey returns a deterministic hidden-service key.
func newTestServiceKey(t *testing.T, b byte) ed25519.PrivateKey {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return ed25519.NewKeyFromSeed(seed)
}
