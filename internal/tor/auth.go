package tor

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// AuthCookieLength is the length of an encoded auth cookie.
const AuthCookieLength = 22

// authCookieBytes is the amount of randomness behind a cookie (128 bits).
const authCookieBytes = 16

// clientAuthLabel separates the key derivation from other uses of the cookie.
const clientAuthLabel = "peerlink hidden service client authorization v1"

// HiddenServiceAuth pairs a hidden service hostname with the cookie that
// authorizes a client to reach it.
type HiddenServiceAuth struct {
	Hostname string
	Cookie   string
}

// NewAuthCookie returns 128 random bits as 22 base64 characters (the
// padding-free prefix of the standard encoding).
func NewAuthCookie() (string, error) {
	raw := make([]byte, authCookieBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read randomness: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw)[:AuthCookieLength], nil
}

// ValidateAuthCookie checks the cookie's length and alphabet.
func ValidateAuthCookie(cookie string) error {
	if len(cookie) != AuthCookieLength {
		return ErrInvalidAuthCookie
	}
	if _, err := base64.StdEncoding.DecodeString(cookie + "=="); err != nil {
		return ErrInvalidAuthCookie
	}
	return nil
}

// clientAuthKeys derives the x25519 key pair Tor uses for v3 client
// authorization from a cookie. The service registers the public half, the
// client the private half, so two parties holding the same cookie agree.
func clientAuthKeys(cookie string) (private, public []byte, err error) {
	if err := ValidateAuthCookie(cookie); err != nil {
		return nil, nil, err
	}
	seed := sha256.Sum256([]byte(clientAuthLabel + "\x00" + cookie))
	private = seed[:]
	private[0] &= 248
	private[31] &= 127
	private[31] |= 64

	public, err = curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive client auth key: %w", err)
	}
	return private, public, nil
}

// ClientAuthPublicKey returns the base32 public key for ADD_ONION's
// ClientAuthV3 argument.
func ClientAuthPublicKey(cookie string) (string, error) {
	_, public, err := clientAuthKeys(cookie)
	if err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(public), nil
}

// ClientAuthPrivateKey returns the "x25519:<base64>" private key for
// ONION_CLIENT_AUTH_ADD.
func ClientAuthPrivateKey(cookie string) (string, error) {
	private, _, err := clientAuthKeys(cookie)
	if err != nil {
		return "", err
	}
	return "x25519:" + base64.StdEncoding.EncodeToString(private), nil
}
