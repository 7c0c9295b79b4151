package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nao1215/peerlink/internal/config"
	"github.com/nao1215/peerlink/internal/identity"
	"github.com/nao1215/peerlink/internal/peer"
	"github.com/nao1215/peerlink/internal/transport"
)

// friendFixture is a running friend listener plus a peers file that
// reaches it directly.
type friendFixture struct {
	own        *identity.KeyMaterial
	handler    *peer.MockHandler
	configPath string
}

// startFriend runs a listener for a friend. The friend trusts this node
// when trustOwn is set and a stranger otherwise; a trust set is never empty.
func startFriend(t *testing.T, trustOwn bool) *friendFixture {
	t.Helper()
	dir := t.TempDir()

	own, err := identity.Generate("self")
	if err != nil {
		t.Fatal(err)
	}
	friend, err := identity.Generate("friend")
	if err != nil {
		t.Fatal(err)
	}
	ownDir := filepath.Join(dir, "self")
	if err := own.Save(ownDir); err != nil {
		t.Fatal(err)
	}
	if err := friend.Save(filepath.Join(dir, "friend")); err != nil {
		t.Fatal(err)
	}

	trusted := own.Leaf()
	if !trustOwn {
		stranger, err := identity.Generate("stranger")
		if err != nil {
			t.Fatal(err)
		}
		trusted = stranger.Leaf()
	}
	friendCreds, err := friend.Credentials(trusted)
	if err != nil {
		t.Fatal(err)
	}
	handler := peer.NewMockHandler(peer.WithPoolSize(2), peer.WithResource("photo", []byte("0123456789")))
	server := peer.NewServer(friendCreds, handler)
	if err := server.Start(t.Context()); err != nil {
		t.Fatalf("failed to start friend listener: %v", err)
	}
	t.Cleanup(func() {
		_ = server.Stop()
		handler.Stop()
	})
	port, err := server.ListeningPort()
	if err != nil {
		t.Fatal(err)
	}

	configPath := filepath.Join(dir, config.DefaultConfigFile)
	content := fmt.Sprintf(`identity: '%s'
peers:
  friend:
    certificate: friend/%s
    hostname: %s
    address: 127.0.0.1:%d
  impostor:
    certificate: friend/%s
    hostname: %s
    address: 127.0.0.1:%d
`, ownDir, identity.PublicIdentityFile, friend.Hostname, port,
		identity.PublicIdentityFile, own.Hostname, port)
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	return &friendFixture{own: own, handler: handler, configPath: configPath}
}

// TestGetCmd tests one-shot GETs against a direct peer.
func TestGetCmd(t *testing.T) {
	t.Parallel()

	t.Run("pulls the friend's status", func(t *testing.T) {
		t.Parallel()

		f := startFriend(t, true)
		stdout, _, err := executeRoot(t, nil, "get", "friend", peer.PathStatus, "-c", f.configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want, err := f.handler.ExpectedStatusJSON()
		if err != nil {
			t.Fatal(err)
		}
		if stdout != string(want) {
			t.Errorf("got body %q, want %q", stdout, want)
		}
	})

	t.Run("downloads a range to a file", func(t *testing.T) {
		t.Parallel()

		f := startFriend(t, true)
		outputPath := filepath.Join(t.TempDir(), "part.bin")
		_, _, err := executeRoot(t, nil, "get", "friend", peer.PathDownload,
			"-c", f.configPath,
			"--param", peer.ParamResourceID+"=photo",
			"--range", "2-5",
			"-o", outputPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := os.ReadFile(outputPath)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "2345" {
			t.Errorf("got %q, want %q", got, "2345")
		}
	})

	t.Run("untrusted node is refused by TLS", func(t *testing.T) {
		t.Parallel()

		f := startFriend(t, false)
		_, _, err := executeRoot(t, nil, "get", "friend", peer.PathStatus, "-c", f.configPath)
		if transport.KindOf(err) != transport.KindTLSRejected {
			t.Fatalf("expected TLS rejection, got %v", err)
		}
		if !strings.Contains(err.Error(), "trust each other's certificate") {
			t.Errorf("expected a hint, got %v", err)
		}
	})

	t.Run("public identity must match the hostname", func(t *testing.T) {
		t.Parallel()

		f := startFriend(t, true)
		_, _, err := executeRoot(t, nil, "get", "impostor", peer.PathStatus, "-c", f.configPath)
		if err == nil || !strings.Contains(err.Error(), "public identity") {
			t.Errorf("expected hostname mismatch, got %v", err)
		}
	})

	t.Run("unknown peer", func(t *testing.T) {
		t.Parallel()

		f := startFriend(t, true)
		_, _, err := executeRoot(t, nil, "get", "nobody", peer.PathStatus, "-c", f.configPath)
		if !errors.Is(err, config.ErrPeerNotFound) {
			t.Errorf("expected ErrPeerNotFound, got %v", err)
		}
	})

	t.Run("missing explicit config", func(t *testing.T) {
		t.Parallel()

		_, _, err := executeRoot(t, nil, "get", "friend", peer.PathStatus,
			"-c", filepath.Join(t.TempDir(), "missing"))
		if err == nil || !strings.Contains(err.Error(), "configuration file not found") {
			t.Errorf("expected not found error, got %v", err)
		}
	})
}

// TestPostCmd tests one-shot POSTs against a direct peer.
func TestPostCmd(t *testing.T) {
	t.Parallel()

	f := startFriend(t, true)
	pushed := peer.NewMockHandler(peer.WithPoolSize(1))
	t.Cleanup(pushed.Stop)
	body, err := json.Marshal(pushed.Status())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("from stdin", func(t *testing.T) {
		_, _, err := executeRoot(t, bytes.NewReader(body), "post", "friend", peer.PathStatusPush, "-", "-c", f.configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, ok := f.handler.Pushed(f.own.ID())
		if !ok {
			t.Fatal("push not recorded under this node's certificate id")
		}
		if len(got.Messages) != len(pushed.Status().Messages) {
			t.Errorf("unexpected pushed status %+v", got)
		}
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "status.json")
		if err := os.WriteFile(path, body, 0o600); err != nil {
			t.Fatal(err)
		}
		if _, _, err := executeRoot(t, nil, "post", "friend", peer.PathStatusPush, path, "-c", f.configPath); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, pushes, _ := f.handler.Counts(); pushes != 2 {
			t.Errorf("expected 2 pushes, got %d", pushes)
		}
	})

	t.Run("rejected document", func(t *testing.T) {
		_, _, err := executeRoot(t, strings.NewReader("not json"), "post", "friend", peer.PathStatusPush, "-", "-c", f.configPath)
		var statusErr *transport.StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != 400 {
			t.Errorf("expected status 400, got %v", err)
		}
	})
}

func TestPeerTarget(t *testing.T) {
	t.Parallel()

	keys, err := identity.Generate("friend")
	if err != nil {
		t.Fatal(err)
	}
	hostname := keys.Hostname

	testCases := []struct {
		name         string
		peer         config.PeerConfig
		wantTunneled bool
		wantAddress  string
		wantErr      bool
	}{
		{
			name:        "direct address",
			peer:        config.PeerConfig{Address: "127.0.0.1:8443"},
			wantAddress: "127.0.0.1:8443",
		},
		{
			name:         "proxy port wins over address",
			peer:         config.PeerConfig{Address: "127.0.0.1:8443", Hostname: hostname, ProxyPort: 9150},
			wantTunneled: true,
			wantAddress:  hostname + ":443",
		},
		{
			name:         "defaults fill ports",
			peer:         config.PeerConfig{Hostname: hostname, VirtualPort: 8080},
			wantTunneled: true,
			wantAddress:  hostname + ":8080",
		},
		{
			name:    "nothing configured",
			peer:    config.PeerConfig{},
			wantErr: true,
		},
		{
			name:    "bad address",
			peer:    config.PeerConfig{Address: "no-port"},
			wantErr: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			target, err := peerTarget(tc.peer)
			if tc.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if target.Tunneled() != tc.wantTunneled {
				t.Errorf("tunneled = %v, want %v", target.Tunneled(), tc.wantTunneled)
			}
			if target.Address() != tc.wantAddress {
				t.Errorf("address = %q, want %q", target.Address(), tc.wantAddress)
			}
		})
	}
}

func TestParseParams(t *testing.T) {
	t.Parallel()

	params, err := parseParams([]string{"id=photo", "b=", "a=x=y"})
	if err != nil {
		t.Fatal(err)
	}
	want := []transport.Param{{Key: "id", Value: "photo"}, {Key: "b", Value: ""}, {Key: "a", Value: "x=y"}}
	if len(params) != len(want) {
		t.Fatalf("got %v, want %v", params, want)
	}
	for i := range want {
		if params[i] != want[i] {
			t.Errorf("param %d = %v, want %v", i, params[i], want[i])
		}
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseParams([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseRangeFlag(t *testing.T) {
	t.Parallel()

	rng, err := parseRangeFlag("")
	if err != nil || rng != nil {
		t.Errorf("empty flag: got %v, %v", rng, err)
	}

	rng, err = parseRangeFlag("10-")
	if err != nil {
		t.Fatal(err)
	}
	if rng.Start != 10 || rng.End != transport.OpenEnded {
		t.Errorf("unexpected range %+v", rng)
	}

	rng, err = parseRangeFlag("0-99")
	if err != nil {
		t.Fatal(err)
	}
	if rng.Start != 0 || rng.End != 99 {
		t.Errorf("unexpected range %+v", rng)
	}

	if _, err := parseRangeFlag("abc"); err == nil {
		t.Error("expected error for malformed range")
	}
}
