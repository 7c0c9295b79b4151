package transport

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// NoTunnel is the ProxyPort value of a Target reached without a tunnel.
const NoTunnel = -1

// Target is where a request goes.
//
// For a tunneled target Host is a hidden-service hostname, Port is the
// virtual port the service is published on, and ProxyPort is the local
// SOCKS4a port of the anonymity-network process. For a direct target Host and
// Port are a physical address and ProxyPort is NoTunnel.
type Target struct {
	Host      string
	Port      int
	ProxyPort int
}

// DirectTarget returns a Target reached without a tunnel.
func DirectTarget(host string, port int) Target {
	return Target{Host: host, Port: port, ProxyPort: NoTunnel}
}

// TunneledTarget returns a Target reached through the SOCKS4a proxy listening
// on 127.0.0.1:proxyPort.
func TunneledTarget(hostname string, virtualPort, proxyPort int) Target {
	return Target{Host: hostname, Port: virtualPort, ProxyPort: proxyPort}
}

// Tunneled reports whether the target is reached through a SOCKS4a proxy.
func (t Target) Tunneled() bool {
	return t.ProxyPort != NoTunnel
}

// Address returns "host:port".
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Validate checks host and port ranges.
func (t Target) Validate() error {
	if t.Host == "" {
		return argumentError("empty host")
	}
	if t.Port < 1 || t.Port > 65535 {
		return argumentError("port %d out of range", t.Port)
	}
	if t.Tunneled() && (t.ProxyPort < 1 || t.ProxyPort > 65535) {
		return argumentError("proxy port %d out of range", t.ProxyPort)
	}
	return nil
}

// URL builds the https URL for path and params. Parameter order is preserved.
func (t Target) URL(path string, params []Param) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{
		Scheme: "https",
		Host:   t.Address(),
		Path:   path,
	}
	if len(params) > 0 {
		var b strings.Builder
		for i, p := range params {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(p.Key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(p.Value))
		}
		u.RawQuery = b.String()
	}
	return u.String()
}
