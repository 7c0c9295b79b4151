package identity

import (
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Files inside an identity directory.
const (
	CertificateFile      = "tls.crt"
	CertificateKeyFile   = "tls.key"
	HiddenServiceKeyFile = "hs_ed25519.key"
	MetadataFile         = "identity.yaml"
	PublicIdentityFile   = "public.yaml"
)

// ErrNoIdentity is returned by Load when the directory holds no identity.
var ErrNoIdentity = errors.New("no identity found")

// metadata is the non-key part of an identity on disk.
type metadata struct {
	Nickname   string `yaml:"nickname"`
	Hostname   string `yaml:"hostname"`
	AuthCookie string `yaml:"authCookie"`
}

// Save writes the key material to dir, creating it with owner-only
// permissions. Existing files are overwritten.
func (k *KeyMaterial) Save(dir string) error {
	if err := k.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	tlsKey, err := x509.MarshalPKCS8PrivateKey(k.Certificate.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to encode TLS key: %w", err)
	}
	serviceKey, err := x509.MarshalPKCS8PrivateKey(k.HiddenServiceKey)
	if err != nil {
		return fmt.Errorf("failed to encode hidden service key: %w", err)
	}
	meta, err := yaml.Marshal(metadata{Nickname: k.Nickname, Hostname: k.Hostname, AuthCookie: k.AuthCookie})
	if err != nil {
		return fmt.Errorf("failed to encode identity metadata: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{CertificateFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: k.Leaf().Raw})},
		{CertificateKeyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: tlsKey})},
		{HiddenServiceKeyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: serviceKey})},
		{MetadataFile, meta},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), f.data, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	public, err := k.Public()
	if err != nil {
		return err
	}
	return SavePublic(filepath.Join(dir, PublicIdentityFile), public)
}

// Load reads key material written by Save.
func Load(dir string) (*KeyMaterial, error) {
	metaBytes, err := os.ReadFile(filepath.Join(dir, MetadataFile)) //nolint:gosec // user-chosen identity dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoIdentity, dir)
		}
		return nil, err
	}
	var meta metadata
	if err := yaml.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", MetadataFile, err)
	}

	cert, err := tls.LoadX509KeyPair(filepath.Join(dir, CertificateFile), filepath.Join(dir, CertificateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}

	serviceKeyPEM, err := os.ReadFile(filepath.Join(dir, HiddenServiceKeyFile)) //nolint:gosec // user-chosen identity dir
	if err != nil {
		return nil, err
	}
	serviceKey, err := parseEd25519Key(serviceKeyPEM)
	if err != nil {
		return nil, err
	}

	k := &KeyMaterial{
		Nickname:         meta.Nickname,
		Certificate:      cert,
		HiddenServiceKey: serviceKey,
		Hostname:         meta.Hostname,
		AuthCookie:       meta.AuthCookie,
	}
	if err := k.Validate(); err != nil {
		return nil, err
	}
	return k, nil
}

func parseEd25519Key(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: hidden service key is not PEM", ErrInvalidIdentity)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: hidden service key is %T, not ed25519", ErrInvalidIdentity, key)
	}
	return edKey, nil
}

// SavePublic writes a public identity as YAML.
func SavePublic(path string, p *PublicIdentity) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode public identity: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadPublic reads a public identity and verifies its signature.
func LoadPublic(path string) (*PublicIdentity, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, err
	}
	var p PublicIdentity
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := p.Verify(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadCertificate reads the first PEM certificate in path.
func LoadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, err
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no certificate in %s", path)
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}
