package tor

import "errors"

// Tor connectivity errors.
var (
	// ErrProxyNotTor is returned when the proxy answers but not as a SOCKS4a
	// proxy would.
	ErrProxyNotTor = errors.New("proxy is not a Tor SOCKS proxy")

	// ErrProxyCannotConnect is returned when the proxy port refuses connections.
	ErrProxyCannotConnect = errors.New("cannot connect to Tor proxy")

	// ErrProxyTimeout is returned when the proxy does not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to Tor proxy")
)

// Service lifecycle errors.
var (
	// ErrAlreadyStarted is returned by Start on a second call.
	ErrAlreadyStarted = errors.New("tor service already started")

	// ErrNotStarted is returned by AwaitStarted before Start.
	ErrNotStarted = errors.New("tor service not started")

	// ErrStopped is returned when Stop won the race against startup.
	ErrStopped = errors.New("tor service stopped")

	// ErrControlCommand is returned when the control port refuses a command.
	ErrControlCommand = errors.New("tor control command failed")
)

// Identity material errors.
var (
	// ErrInvalidOnionAddress is returned when an address is not a valid v3 onion address.
	ErrInvalidOnionAddress = errors.New("invalid onion address")

	// ErrV2AddressDeprecated is returned for 16 character v2 addresses.
	ErrV2AddressDeprecated = errors.New("v2 onion addresses are deprecated and no longer functional")

	// ErrInvalidServiceKey is returned when a hidden-service key is not an
	// ed25519 private key.
	ErrInvalidServiceKey = errors.New("invalid hidden service key")

	// ErrInvalidAuthCookie is returned for cookies that are not 22 base64 characters.
	ErrInvalidAuthCookie = errors.New("invalid auth cookie")

	// ErrInvalidServiceSpec is returned when a ServiceSpec is incomplete.
	ErrInvalidServiceSpec = errors.New("invalid service spec")
)

// ProxyStatus is the outcome of CheckConnection.
type ProxyStatus int

const (
	// ProxyStatusOK indicates the proxy answered a SOCKS4a CONNECT.
	ProxyStatusOK ProxyStatus = iota

	// ProxyStatusWrongType indicates the peer is not a SOCKS4a proxy.
	ProxyStatusWrongType

	// ProxyStatusCannotConnect indicates we could not establish a connection.
	ProxyStatusCannotConnect

	// ProxyStatusTimeout indicates the connection attempt timed out.
	ProxyStatusTimeout
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not Tor)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error returns the appropriate error for this status, or nil if OK.
func (s ProxyStatus) Error() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyNotTor
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}
