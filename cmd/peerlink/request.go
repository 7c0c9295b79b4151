package main

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/peerlink/internal/config"
	"github.com/nao1215/peerlink/internal/identity"
	"github.com/nao1215/peerlink/internal/tor"
	"github.com/nao1215/peerlink/internal/transport"
)

// ErrNoPeersFile is returned when get or post finds no peers file.
var ErrNoPeersFile = errors.New("no peers file found (create one with 'peerlink init' or pass --config)")

// NewGetCmd creates the get command.
func NewGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <peer> <path>",
		Short: "Fetch a path from a peer",
		Long: `Get performs one authenticated GET against a peer from the peers file and
writes the response body to stdout or --output.

The peer is reached directly when its entry has an address and no proxy
port, and through the SOCKS4a proxy on --proxy-port otherwise.

Examples:
  # Pull a friend's status
  peerlink get friend /status

  # Download the second kilobyte of an attachment
  peerlink get friend /download --param id=photo --range 1024-2047 -o part.bin`,
		Args: cobra.ExactArgs(2),
		RunE: runGetCmd,
	}
	addRequestFlags(cmd)
	cmd.Flags().String("range", "",
		"Byte range to request: START- or START-END (inclusive)")
	cmd.Flags().StringP("output", "o", "",
		"Write the response body to this file instead of stdout")
	return cmd
}

// NewPostCmd creates the post command.
func NewPostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <peer> <path> <file|->",
		Short: "Send a document to a peer",
		Long: `Post sends the contents of a file, or stdin for "-", to a peer from the
peers file and writes the response body to stdout.

Examples:
  # Push a status document
  peerlink post friend /status/push status.json

  # Read the body from stdin
  echo '{"messages":[]}' | peerlink post friend /status/push -`,
		Args: cobra.ExactArgs(3),
		RunE: runPostCmd,
	}
	addRequestFlags(cmd)
	cmd.Flags().String("content-type", transport.MIMETypeJSON,
		"Content-Type of the request body")
	return cmd
}

// addRequestFlags registers the flags get and post share.
func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().String("identity", "",
		"Directory of this node's identity (default: from peers file or XDG data directory)")
	cmd.Flags().Int("proxy-port", 0,
		"Local SOCKS4a proxy port, overriding the peers file")
	cmd.Flags().StringArray("param", nil,
		"Query parameter as key=value (repeatable, order preserved)")
	cmd.Flags().Duration("connect-timeout", config.DefaultConnectTimeout,
		"Timeout for dial, SOCKS4a and TLS handshakes")
	cmd.Flags().Duration("read-timeout", config.DefaultReadTimeout,
		"Timeout for each read from the connection")
}

// peerCall is everything needed for one call to a configured peer.
type peerCall struct {
	client *transport.Transport
	creds  transport.Credentials
	target transport.Target
	params []transport.Param
}

// resolvePeerCall loads the peers file, this node's identity and the peer's
// certificate, and picks a direct or tunneled target.
func resolvePeerCall(cmd *cobra.Command, peerName string, logger *slog.Logger) (*peerCall, error) {
	path := config.FindConfigFile(configFlag(cmd))
	if path == "" {
		if explicit := configFlag(cmd); explicit != "" {
			return nil, fmt.Errorf("configuration file not found: %s", explicit)
		}
		return nil, ErrNoPeersFile
	}
	file, err := config.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	peerCfg, err := file.GetPeerConfig(peerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, peerName)
	}

	identityDir, err := cmd.Flags().GetString("identity")
	if err != nil {
		return nil, err
	}
	if identityDir == "" {
		identityDir = file.Identity
	}
	if identityDir == "" {
		identityDir = config.NewConfig().IdentityDir
	}
	own, err := identity.Load(identityDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity from %s: %w", identityDir, err)
	}

	if peerCfg.Certificate == "" {
		return nil, fmt.Errorf("peer %s has no certificate", peerName)
	}
	peerCert, err := loadPeerCertificate(relativeTo(path, peerCfg.Certificate), peerCfg.Hostname)
	if err != nil {
		return nil, fmt.Errorf("peer %s: %w", peerName, err)
	}
	creds, err := own.Credentials(peerCert)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("proxy-port") {
		if peerCfg.ProxyPort, err = cmd.Flags().GetInt("proxy-port"); err != nil {
			return nil, err
		}
	}
	target, err := peerTarget(peerCfg)
	if err != nil {
		return nil, fmt.Errorf("peer %s: %w", peerName, err)
	}

	rawParams, err := cmd.Flags().GetStringArray("param")
	if err != nil {
		return nil, err
	}
	params, err := parseParams(rawParams)
	if err != nil {
		return nil, err
	}

	connectTimeout, err := cmd.Flags().GetDuration("connect-timeout")
	if err != nil {
		return nil, err
	}
	readTimeout, err := cmd.Flags().GetDuration("read-timeout")
	if err != nil {
		return nil, err
	}

	logger.Debug("resolved peer", "peer", peerName, "address", target.Address(), "tunneled", target.Tunneled())
	return &peerCall{
		client: transport.New(transport.WithTimeouts(connectTimeout, readTimeout), transport.WithLogger(logger)),
		creds:  creds,
		target: target,
		params: params,
	}, nil
}

// relativeTo resolves a path from the peers file against the file's directory.
func relativeTo(configPath, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// loadPeerCertificate reads a PEM certificate, or a signed public identity
// when the file is YAML. A public identity must belong to hostname when one
// is configured.
func loadPeerCertificate(path, hostname string) (*x509.Certificate, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		public, err := identity.LoadPublic(path)
		if err != nil {
			return nil, err
		}
		if hostname != "" {
			want, err := tor.NormalizeAddress(hostname)
			if err != nil {
				return nil, err
			}
			if public.Hostname != want {
				return nil, fmt.Errorf("public identity %s is for %s, not %s", path, public.Hostname, want)
			}
		}
		return public.ParseCertificate()
	default:
		return identity.LoadCertificate(path)
	}
}

// peerTarget picks how a peer is reached: tunneled when a proxy port is
// set, direct when only an address is.
func peerTarget(p config.PeerConfig) (transport.Target, error) {
	if p.ProxyPort == 0 && p.Address != "" {
		host, portText, err := net.SplitHostPort(p.Address)
		if err != nil {
			return transport.Target{}, fmt.Errorf("bad address %q: %w", p.Address, err)
		}
		port, err := strconv.Atoi(portText)
		if err != nil {
			return transport.Target{}, fmt.Errorf("bad port in %q: %w", p.Address, err)
		}
		return transport.DirectTarget(host, port), nil
	}

	if p.Hostname == "" {
		return transport.Target{}, errors.New("no hostname or address configured")
	}
	hostname, err := tor.NormalizeAddress(p.Hostname)
	if err != nil {
		return transport.Target{}, err
	}
	proxyPort := p.ProxyPort
	if proxyPort == 0 {
		proxyPort = config.DefaultProxyPort
	}
	virtualPort := p.VirtualPort
	if virtualPort == 0 {
		virtualPort = config.DefaultVirtualPort
	}
	return transport.TunneledTarget(hostname, virtualPort, proxyPort), nil
}

// parseParams turns key=value strings into ordered parameters.
func parseParams(raw []string) ([]transport.Param, error) {
	params := make([]transport.Param, 0, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed parameter %q: want key=value", kv)
		}
		params = append(params, transport.Param{Key: key, Value: value})
	}
	return params, nil
}

// parseRangeFlag parses "START-" or "START-END".
func parseRangeFlag(value string) (*transport.ByteRange, error) {
	if value == "" {
		return nil, nil
	}
	return transport.ParseRangeHeader("bytes=" + value)
}

// runGetCmd executes the get command.
func runGetCmd(cmd *cobra.Command, args []string) error {
	logger, closer, err := setupLogger(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	rangeFlag, err := cmd.Flags().GetString("range")
	if err != nil {
		return err
	}
	rng, err := parseRangeFlag(rangeFlag)
	if err != nil {
		return err
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	call, err := resolvePeerCall(cmd, args[0], logger)
	if err != nil {
		return err
	}

	sink := cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		sink = f
	}

	start := time.Now()
	err = call.client.Get(cmd.Context(), call.creds, call.target, args[1], call.params, rng, sink)
	logger.Info("get finished", "peer", args[0], "path", args[1], "elapsed", time.Since(start), "kind", transport.KindOf(err).String())
	return describeCallError(err)
}

// runPostCmd executes the post command.
func runPostCmd(cmd *cobra.Command, args []string) error {
	logger, closer, err := setupLogger(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	contentType, err := cmd.Flags().GetString("content-type")
	if err != nil {
		return err
	}
	body, cleanup, err := openBody(args[2], cmd.InOrStdin(), contentType)
	if err != nil {
		return err
	}
	defer cleanup()

	call, err := resolvePeerCall(cmd, args[0], logger)
	if err != nil {
		return err
	}

	err = call.client.Post(cmd.Context(), call.creds, call.target, args[1], call.params, body, cmd.OutOrStdout())
	logger.Info("post finished", "peer", args[0], "path", args[1], "bytes", body.Length, "kind", transport.KindOf(err).String())
	return describeCallError(err)
}

// openBody prepares a request body from a file, or from stdin for "-".
func openBody(source string, stdin io.Reader, contentType string) (transport.Body, func(), error) {
	if source == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return transport.Body{}, nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return transport.Body{Reader: bytes.NewReader(data), Length: int64(len(data)), MIMEType: contentType}, func() {}, nil
	}

	f, err := os.Open(source) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return transport.Body{}, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return transport.Body{}, nil, err
	}
	cleanup := func() { _ = f.Close() }
	return transport.Body{Reader: f, Length: info.Size(), MIMEType: contentType}, cleanup, nil
}

// describeCallError adds a hint for the failure kinds a user can act on.
func describeCallError(err error) error {
	switch transport.KindOf(err) {
	case 0:
		return err
	case transport.KindTLSRejected:
		return fmt.Errorf("%w (check that both sides trust each other's certificate)", err)
	case transport.KindTunnelRejected:
		return fmt.Errorf("%w (the proxy refused the hidden service: check it is published and the auth cookie is configured)", err)
	default:
		return err
	}
}
