package harness

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/peerlink/internal/simnet"
	"github.com/nao1215/peerlink/internal/tor"
)

// Network is one participant's anonymity-network process. It publishes the
// participant's hidden service and provides the SOCKS4a port its outbound
// tunneled calls go through.
type Network interface {
	// Start launches the process. It may return before the process is ready.
	Start(ctx context.Context) error

	// AwaitStarted blocks until the process is ready or ctx ends.
	AwaitStarted(ctx context.Context) error

	// Stop shuts the process down. It is idempotent.
	Stop() error

	// SocksProxyPort returns the local SOCKS4a port.
	SocksProxyPort() int
}

// NetworkSpec describes the process a NetworkFactory builds.
type NetworkSpec = tor.ServiceSpec

// NetworkFactory creates an unstarted Network for spec.
type NetworkFactory func(spec NetworkSpec) Network

var (
	_ Network = (*tor.Service)(nil)
	_ Network = (*simnet.Node)(nil)
)

// TorNetworks returns a factory of real Tor daemons.
func TorNetworks(startupTimeout time.Duration, logger *slog.Logger) NetworkFactory {
	logger = orDiscard(logger)
	return func(spec NetworkSpec) Network {
		return tor.NewService(spec, tor.WithStartupTimeout(startupTimeout), tor.WithLogger(logger))
	}
}

// SimNetworks returns a factory of nodes on one simulated network.
func SimNetworks(registry *simnet.Registry, logger *slog.Logger) NetworkFactory {
	logger = orDiscard(logger)
	return func(spec NetworkSpec) Network {
		return simnet.NewNode(registry, spec, simnet.WithLogger(logger))
	}
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
