package identity

import (
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nao1215/peerlink/internal/tor"
)

func generate(t *testing.T, nickname string) *KeyMaterial {
	t.Helper()
	k, err := Generate(nickname)
	if err != nil {
		t.Fatalf("failed to generate identity: %v", err)
	}
	return k
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	k := generate(t, "self")

	if err := k.Validate(); err != nil {
		t.Fatalf("generated identity does not validate: %v", err)
	}
	if !tor.IsValidV3Address(k.Hostname) {
		t.Errorf("hostname %q is not a v3 onion address", k.Hostname)
	}
	if cn := k.Leaf().Subject.CommonName; cn != k.Hostname {
		t.Errorf("expected common name %q, got %q", k.Hostname, cn)
	}
	if len(k.ID()) != 64 {
		t.Errorf("expected 64 hex chars, got %q", k.ID())
	}

	other := generate(t, "friend")
	if other.ID() == k.ID() || other.Hostname == k.Hostname || other.AuthCookie == k.AuthCookie {
		t.Error("two identities share material")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(*testing.T, *KeyMaterial)
	}{
		{"wrong hostname", func(t *testing.T, k *KeyMaterial) { k.Hostname = generate(t, "x").Hostname }},
		{"bad cookie", func(t *testing.T, k *KeyMaterial) { k.AuthCookie = "short" }},
		{"missing service key", func(t *testing.T, k *KeyMaterial) { k.HiddenServiceKey = nil }},
		{"missing certificate", func(t *testing.T, k *KeyMaterial) {
			k.Certificate.Certificate = nil
			k.Certificate.Leaf = nil
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			k := generate(t, "self")
			tc.mutate(t, k)
			if err := k.Validate(); !errors.Is(err, ErrInvalidIdentity) {
				t.Errorf("expected ErrInvalidIdentity, got %v", err)
			}
		})
	}

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		var k *KeyMaterial
		if err := k.Validate(); !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("expected ErrInvalidIdentity, got %v", err)
		}
	})
}

func TestCredentials(t *testing.T) {
	t.Parallel()

	self := generate(t, "self")
	friend := generate(t, "friend")
	otherFriend := generate(t, "otherFriend")

	creds, err := self.Credentials(friend.Leaf(), otherFriend.Leaf())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.Peers.Len() != 2 {
		t.Errorf("expected 2 trusted peers, got %d", creds.Peers.Len())
	}
	if !creds.Peers.Contains(friend.Leaf().Raw) {
		t.Error("friend is not trusted")
	}
	if creds.Peers.Contains(self.Leaf().Raw) {
		t.Error("own certificate should not be trusted")
	}

	if _, err := self.Credentials(); err == nil {
		t.Error("expected error for empty trust set")
	}
}

func TestServiceAuth(t *testing.T) {
	t.Parallel()

	k := generate(t, "self")
	auth := k.ServiceAuth()
	if auth.Hostname != k.Hostname || auth.Cookie != k.AuthCookie {
		t.Errorf("unexpected auth %+v", auth)
	}
}

func TestPublicIdentity(t *testing.T) {
	t.Parallel()

	k := generate(t, "self")

	t.Run("verifies", func(t *testing.T) {
		t.Parallel()
		p, err := k.Public()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := p.Verify(); err != nil {
			t.Fatalf("expected valid signature, got %v", err)
		}
		cert, err := p.ParseCertificate()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cert.Equal(k.Leaf()) {
			t.Error("embedded certificate differs")
		}
	})

	tamper := []struct {
		name   string
		mutate func(*testing.T, *PublicIdentity)
	}{
		{"nickname", func(t *testing.T, p *PublicIdentity) { p.Nickname = "mallory" }},
		{"cookie", func(t *testing.T, p *PublicIdentity) { p.AuthCookie = "AAECAwQFBgcICQoLDA0ODw" }},
		{"certificate", func(t *testing.T, p *PublicIdentity) { p.Certificate = generate(t, "m").Leaf().Raw }},
		{"hostname", func(t *testing.T, p *PublicIdentity) { p.Hostname = generate(t, "m").Hostname }},
		{"signature", func(t *testing.T, p *PublicIdentity) { p.Signature[0] ^= 0xff }},
	}
	for _, tc := range tamper {
		t.Run("tampered "+tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := k.Public()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.mutate(t, p)
			if err := p.Verify(); !errors.Is(err, ErrBadSignature) {
				t.Errorf("expected ErrBadSignature, got %v", err)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	k := generate(t, "self")
	dir := filepath.Join(t.TempDir(), "identity")
	if err := k.Save(dir); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, HiddenServiceKeyFile))
	if err != nil {
		t.Fatalf("key file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600 key file, got %o", perm)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if loaded.Nickname != k.Nickname || loaded.Hostname != k.Hostname || loaded.AuthCookie != k.AuthCookie {
		t.Errorf("metadata differs: %+v", loaded)
	}
	if loaded.ID() != k.ID() {
		t.Errorf("certificate differs: %s vs %s", loaded.ID(), k.ID())
	}
	if !loaded.HiddenServiceKey.Equal(k.HiddenServiceKey) {
		t.Error("hidden service key differs")
	}
	if _, ok := loaded.Certificate.PrivateKey.(ed25519.PrivateKey); !ok {
		t.Errorf("unexpected TLS key type %T", loaded.Certificate.PrivateKey)
	}

	public, err := LoadPublic(filepath.Join(dir, PublicIdentityFile))
	if err != nil {
		t.Fatalf("failed to load public identity: %v", err)
	}
	if public.Hostname != k.Hostname {
		t.Errorf("unexpected public hostname %q", public.Hostname)
	}

	cert, err := LoadCertificate(filepath.Join(dir, CertificateFile))
	if err != nil {
		t.Fatalf("failed to load certificate: %v", err)
	}
	if !cert.Equal(k.Leaf()) {
		t.Error("loaded certificate differs")
	}
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()

	if _, err := Load(t.TempDir()); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("expected ErrNoIdentity, got %v", err)
	}
}

func TestLoadCertificateWithoutPEM(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "peer.pem")
	if err := os.WriteFile(path, []byte("not pem"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCertificate(path); err == nil {
		t.Error("expected error")
	}
}
