package tor

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/base32"
	"encoding/base64"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Onion address constants.
const (
	// OnionV3Length is the length of a v3 onion address without the ".onion" suffix.
	OnionV3Length = 56

	// OnionV3Version is the version byte for v3 onion addresses.
	OnionV3Version = 0x03

	// OnionSuffix is the common suffix for all onion addresses.
	OnionSuffix = ".onion"

	// keyBlobPrefix introduces a v3 service key in ADD_ONION.
	keyBlobPrefix = "ED25519-V3:"
)

// onionV3Pattern matches v3 onion addresses (56 base32 characters + .onion).
var onionV3Pattern = regexp.MustCompile(`^[a-z2-7]{56}\.onion$`)

// onionV2Pattern matches the retired 16 character v2 format.
var onionV2Pattern = regexp.MustCompile(`^[a-z2-7]{16}\.onion$`)

// checksumPrefix is the prefix used in v3 onion address checksum calculation.
var checksumPrefix = []byte(".onion checksum")

// IsValidV3Address reports whether address is a well formed v3 onion address
// with a correct checksum. Case is ignored.
func IsValidV3Address(address string) bool {
	address = strings.ToLower(address)
	if !onionV3Pattern.MatchString(address) {
		return false
	}

	onionPart := strings.TrimSuffix(address, OnionSuffix)
	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(onionPart))
	if err != nil {
		return false
	}

	// pubkey (32) || checksum (2) || version (1)
	if len(decoded) != 35 {
		return false
	}
	pubkey := decoded[:32]
	checksum := decoded[32:34]
	version := decoded[34]
	if version != OnionV3Version {
		return false
	}

	expected := computeV3Checksum(pubkey, version)
	return checksum[0] == expected[0] && checksum[1] == expected[1]
}

// computeV3Checksum returns the first 2 bytes of
// SHA3-256(".onion checksum" || pubkey || version).
func computeV3Checksum(pubkey []byte, version byte) []byte {
	data := make([]byte, 0, len(checksumPrefix)+len(pubkey)+1)
	data = append(data, checksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)

	hash := sha3.Sum256(data)
	return hash[:2]
}

// AddressFromPublicKey derives the v3 onion hostname of a hidden service
// from its ed25519 public key.
func AddressFromPublicKey(pubkey ed25519.PublicKey) (string, error) {
	if len(pubkey) != ed25519.PublicKeySize {
		return "", ErrInvalidOnionAddress
	}

	addressData := make([]byte, 35)
	copy(addressData[:32], pubkey)
	copy(addressData[32:34], computeV3Checksum(pubkey, OnionV3Version))
	addressData[34] = OnionV3Version

	encoded := base32.StdEncoding.EncodeToString(addressData)
	return strings.ToLower(encoded) + OnionSuffix, nil
}

// PublicKeyFromAddress recovers the service's ed25519 public key from a v3
// hostname.
func PublicKeyFromAddress(address string) (ed25519.PublicKey, error) {
	address = strings.ToLower(address)
	if !IsValidV3Address(address) {
		return nil, ErrInvalidOnionAddress
	}
	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(strings.TrimSuffix(address, OnionSuffix)))
	if err != nil {
		return nil, ErrInvalidOnionAddress
	}
	return ed25519.PublicKey(decoded[:ed25519.PublicKeySize]), nil
}

// AddressFromServiceKey derives the onion hostname for a service key.
func AddressFromServiceKey(key ed25519.PrivateKey) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", ErrInvalidServiceKey
	}
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return "", ErrInvalidServiceKey
	}
	return AddressFromPublicKey(pub)
}

// ServiceID strips the ".onion" suffix; control-port commands address
// services by this form.
func ServiceID(address string) string {
	return strings.TrimSuffix(strings.ToLower(address), OnionSuffix)
}

// NormalizeAddress lowercases address, strips any scheme, path and port and
// appends ".onion" when missing. The result must be a valid v3 address.
func NormalizeAddress(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	address = strings.TrimPrefix(address, "https://")
	address = strings.TrimPrefix(address, "http://")

	if idx := strings.IndexAny(address, "/?#"); idx != -1 {
		address = address[:idx]
	}
	if idx := strings.LastIndexByte(address, ':'); idx != -1 {
		address = address[:idx]
	}
	if !strings.HasSuffix(address, OnionSuffix) {
		address += OnionSuffix
	}

	if !IsValidV3Address(address) {
		if onionV2Pattern.MatchString(address) {
			return "", ErrV2AddressDeprecated
		}
		return "", ErrInvalidOnionAddress
	}
	return address, nil
}

// ServiceKeyBlob renders key in the "ED25519-V3:<base64>" form ADD_ONION
// accepts. Tor wants the 64-byte expanded secret: SHA-512 of the seed,
// clamped as for X25519.
func ServiceKeyBlob(key ed25519.PrivateKey) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", ErrInvalidServiceKey
	}
	expanded := sha512.Sum512(key.Seed())
	expanded[0] &= 248
	expanded[31] &= 127
	expanded[31] |= 64
	return keyBlobPrefix + base64.StdEncoding.EncodeToString(expanded[:]), nil
}
