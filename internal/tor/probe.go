package tor

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/nao1215/peerlink/internal/transport"
)

// checkProxyTimeout bounds the whole readiness probe.
const checkProxyTimeout = 2 * time.Second

// probeOnion is a syntactically valid but checksum-invalid v3 hostname. Tor
// refuses it immediately without touching the network, which is all the probe
// needs.
const probeOnion = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"

// CheckConnection sends a SOCKS4a CONNECT for probeOnion to the proxy at
// address and classifies the answer. Any well formed reply, granted or
// rejected, means the proxy is up.
func CheckConnection(ctx context.Context, address string) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return ProxyStatusCannotConnect
	}

	frame, err := transport.EncodeConnect(probeOnion, 80)
	if err != nil {
		return ProxyStatusWrongType
	}
	if _, err := conn.Write(frame); err != nil {
		return ProxyStatusCannotConnect
	}

	if _, err := transport.ReadReply(conn); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}
