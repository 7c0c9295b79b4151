package simnet

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultPublishDelay is how long a new service stays invisible.
const DefaultPublishDelay = 500 * time.Millisecond

// Resolution errors. The relay answers all of them with a rejected reply.
var (
	// ErrNotPublished is returned for hostnames that are unknown or not yet
	// visible.
	ErrNotPublished = errors.New("hidden service is not published")

	// ErrWrongPort is returned when the requested port is not the virtual port
	// the service was published on.
	ErrWrongPort = errors.New("hidden service is not published on that port")

	// ErrUnauthorized is returned when the client's cookie does not match the
	// one the service was published with.
	ErrUnauthorized = errors.New("client is not authorized for hidden service")
)

// publication is one published service.
type publication struct {
	virtualPort int
	localPort   int
	cookie      string
	visibleAt   time.Time
}

// Registry is the shared directory of a simulated network. Nodes publish
// their service into it and resolve peer services through it.
type Registry struct {
	delay time.Duration
	now   func() time.Time

	mu       sync.Mutex
	services map[string]publication
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPublishDelay sets how long a published service stays unreachable, the
// way a real descriptor takes time to propagate.
func WithPublishDelay(delay time.Duration) RegistryOption {
	return func(r *Registry) {
		r.delay = delay
	}
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		delay:    DefaultPublishDelay,
		now:      time.Now,
		services: make(map[string]publication),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// publish makes hostname reachable after the publish delay. Publishing an
// existing hostname replaces it and restarts the delay.
func (r *Registry) publish(hostname string, virtualPort, localPort int, cookie string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[hostname] = publication{
		virtualPort: virtualPort,
		localPort:   localPort,
		cookie:      cookie,
		visibleAt:   r.now().Add(r.delay),
	}
}

// withdraw removes hostname.
func (r *Registry) withdraw(hostname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, hostname)
}

// Published reports whether hostname is currently reachable.
func (r *Registry) Published(hostname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.services[hostname]
	return ok && !r.now().Before(p.visibleAt)
}

// resolve returns the local address behind hostname:port for a client
// holding cookie.
func (r *Registry) resolve(hostname string, port uint16, cookie string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.services[hostname]
	if !ok || r.now().Before(p.visibleAt) {
		return "", ErrNotPublished
	}
	if int(port) != p.virtualPort {
		return "", ErrWrongPort
	}
	if cookie == "" || cookie != p.cookie {
		return "", ErrUnauthorized
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(p.localPort)), nil
}
