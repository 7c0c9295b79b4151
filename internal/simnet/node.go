package simnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/peerlink/internal/tor"
	"github.com/nao1215/peerlink/internal/transport"
)

// handshakeTimeout bounds how long a client may take to send its CONNECT.
const handshakeTimeout = 10 * time.Second

// Node is one participant's process on a simulated network: it publishes the
// participant's service and runs a SOCKS4a proxy that reaches the services
// listed in the ServiceSpec's Auths.
//
// Node has the same lifecycle as tor.Service, so the two are interchangeable.
type Node struct {
	spec     tor.ServiceSpec
	registry *Registry
	logger   *slog.Logger

	mu       sync.Mutex
	launched bool
	stopped  bool
	hostname string
	listener net.Listener
	conns    map[net.Conn]struct{}
	cancel   context.CancelFunc
	group    *errgroup.Group
	startErr error
	ready    chan struct{}
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) NodeOption {
	return func(n *Node) {
		n.logger = logger
	}
}

// NewNode creates a node on registry. Nothing listens until Start.
func NewNode(registry *Registry, spec tor.ServiceSpec, opts ...NodeOption) *Node {
	n := &Node{
		spec:     spec,
		registry: registry,
		logger:   slog.New(slog.DiscardHandler),
		conns:    make(map[net.Conn]struct{}),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "simnet", "tag", spec.Tag)
	return n
}

// Start validates the ServiceSpec, opens the proxy port and publishes the service.
func (n *Node) Start(ctx context.Context) error {
	if err := n.spec.Validate(); err != nil {
		return err
	}
	hostname, err := n.spec.Hostname()
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.launched {
		return tor.ErrAlreadyStarted
	}
	if n.stopped {
		return tor.ErrStopped
	}
	n.launched = true
	defer close(n.ready)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		n.startErr = fmt.Errorf("failed to open proxy port: %w", err)
		return n.startErr
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	n.hostname = hostname
	n.listener = listener
	n.cancel = cancel
	n.group, runCtx = errgroup.WithContext(runCtx)
	n.group.Go(func() error {
		return n.acceptLoop(runCtx, listener)
	})

	n.registry.publish(hostname, n.spec.VirtualPort, n.spec.LocalPort, n.spec.ServiceAuthCookie)
	n.logger.Info("simulated node started", "socks", listener.Addr().String(), "hostname", hostname)
	return nil
}

// AwaitStarted returns once the proxy accepts connections. Publication of the
// node's own service may still be pending.
func (n *Node) AwaitStarted(ctx context.Context) error {
	n.mu.Lock()
	launched := n.launched
	n.mu.Unlock()
	if !launched {
		return tor.ErrNotStarted
	}

	select {
	case <-n.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.startErr != nil {
		return n.startErr
	}
	if n.stopped {
		return tor.ErrStopped
	}
	return nil
}

// Stop withdraws the service, closes the proxy and every relayed connection,
// and waits for the relay goroutines. It is idempotent.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	listener, cancel, group := n.listener, n.cancel, n.group
	n.listener = nil
	for conn := range n.conns {
		_ = conn.Close() //nolint:errcheck // shutting down
	}
	n.mu.Unlock()

	if listener == nil {
		return nil
	}
	n.registry.withdraw(n.hostname)
	cancel()
	_ = listener.Close() //nolint:errcheck // unblocks Accept
	err := group.Wait()
	n.logger.Info("simulated node stopped")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// SocksProxyPort returns the proxy port, or 0 before Start.
func (n *Node) SocksProxyPort() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return 0
	}
	return n.listener.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // tcp listener
}

// Hostname returns the published hostname, or "" before Start.
func (n *Node) Hostname() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hostname
}

func (n *Node) acceptLoop(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !n.track(conn) {
			_ = conn.Close() //nolint:errcheck // node is stopping
			continue
		}
		n.group.Go(func() error {
			defer n.untrack(conn)
			n.relay(ctx, conn)
			return nil
		})
	}
}

func (n *Node) track(conn net.Conn) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return false
	}
	n.conns[conn] = struct{}{}
	return true
}

func (n *Node) untrack(conn net.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns, conn)
	_ = conn.Close() //nolint:errcheck // done relaying
}

// cookieFor returns the cookie this node holds for hostname.
func (n *Node) cookieFor(hostname string) string {
	for _, auth := range n.spec.Auths {
		if normalized, err := tor.NormalizeAddress(auth.Hostname); err == nil && normalized == hostname {
			return auth.Cookie
		}
	}
	return ""
}

// relay answers one SOCKS4a CONNECT and splices the streams on success.
func (n *Node) relay(ctx context.Context, client net.Conn) {
	_ = client.SetDeadline(time.Now().Add(handshakeTimeout)) //nolint:errcheck // best effort bound
	host, port, err := transport.ReadConnect(client)
	if err != nil {
		n.logger.Debug("bad connect request", "error", err)
		return
	}

	hostname, err := tor.NormalizeAddress(host)
	if err != nil {
		n.logger.Debug("connect to non-onion host refused", "host", host)
		_ = transport.WriteReply(client, false) //nolint:errcheck // closing anyway
		return
	}
	address, err := n.registry.resolve(hostname, port, n.cookieFor(hostname))
	if err != nil {
		n.logger.Debug("connect refused", "hostname", hostname, "port", port, "error", err)
		_ = transport.WriteReply(client, false) //nolint:errcheck // closing anyway
		return
	}

	var d net.Dialer
	upstream, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		n.logger.Debug("service unreachable", "hostname", hostname, "error", err)
		_ = transport.WriteReply(client, false) //nolint:errcheck // closing anyway
		return
	}
	defer upstream.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = upstream.Close() //nolint:errcheck // node is stopping
	})
	defer stop()

	if err := transport.WriteReply(client, true); err != nil {
		return
	}
	_ = client.SetDeadline(time.Time{}) //nolint:errcheck // relayed streams are unbounded

	var g errgroup.Group
	g.Go(func() error { return pipe(upstream, client) })
	g.Go(func() error { return pipe(client, upstream) })
	if err := g.Wait(); err != nil {
		n.logger.Debug("relay ended", "hostname", hostname, "error", err)
	}
}

// pipe copies src to dst and half-closes dst when src is exhausted.
func pipe(dst, src net.Conn) error {
	_, err := io.Copy(dst, src)
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite() //nolint:errcheck // peer may be gone
	} else {
		_ = dst.Close() //nolint:errcheck // no half close
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
