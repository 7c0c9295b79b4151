package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default peers file name.
const DefaultConfigFile = ".peerlink"

// ErrConfigNotFound is returned when the peers file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// LoadConfigFile reads the peers file at path. Unknown fields are rejected so
// a misspelled key fails loudly instead of silently falling back to a
// default, and every peer must be reachable with a pinned certificate.
func LoadConfigFile(path string) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided config path is intentional
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	defer f.Close()

	var cf File
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cf.Peers == nil {
		cf.Peers = make(map[string]PeerConfig)
	}
	if err := cf.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cf, nil
}

// configCandidates lists where the peers file is looked for, in order.
func configCandidates() []string {
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	return append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))
}

// FindConfigFile returns configPath when it is set and exists. Without
// configPath it returns the first existing file among ./.peerlink,
// ~/.peerlink and config.yaml in the XDG config directory. It returns ""
// when nothing is found.
func FindConfigFile(configPath string) string {
	candidates := configCandidates()
	if configPath != "" {
		candidates = []string{configPath}
	}
	i := slices.IndexFunc(candidates, func(p string) bool {
		info, err := os.Stat(p)
		return err == nil && !info.IsDir()
	})
	if i == -1 {
		return ""
	}
	return candidates[i]
}
