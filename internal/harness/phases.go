package harness

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/peerlink/internal/identity"
	"github.com/nao1215/peerlink/internal/model"
	"github.com/nao1215/peerlink/internal/peer"
	"github.com/nao1215/peerlink/internal/pipeline"
	"github.com/nao1215/peerlink/internal/tor"
	"github.com/nao1215/peerlink/internal/transport"
)

// Phase names as they appear in run reports.
const (
	PhaseIdentities   = "identities"
	PhaseListeners    = "listeners"
	PhaseDirect       = "direct"
	PhaseTunnels      = "tunnels"
	PhasePublish      = "await-publish"
	PhaseTunneled     = "tunneled"
	PhaseNegativeCert = "negative-cert"
	PhaseReconfigure  = "reconfigure"
	PhaseNegativeAuth = "negative-auth"
)

// Participant names.
const (
	Self        = "self"
	Friend      = "friend"
	OtherFriend = "otherFriend"
	Unfriendly  = "unfriendly"
)

// participant is one identity and, for the trusting pair, what serves it.
type participant struct {
	name    string
	key     *identity.KeyMaterial
	handler *peer.MockHandler
	server  *peer.Server
	network Network
	port    int

	// expected is the exact body this participant's listener serves.
	expected []byte
}

// run holds the state of one Harness.Run.
type run struct {
	settings Settings
	networks NetworkFactory
	logger   *slog.Logger
	ledger   *ledger
	client   *transport.Transport

	self, friend, otherFriend, unfriendly *participant
}

func (r *run) steps() []pipeline.Step {
	return []pipeline.Step{
		pipeline.Func(PhaseIdentities, model.StateIdentitiesCreated, r.createIdentities),
		pipeline.Func(PhaseListeners, model.StateListenersStarted, r.startListeners),
		pipeline.Func(PhaseDirect, model.StateDirectTestsRun, r.directTests),
		pipeline.Func(PhaseTunnels, model.StateTunnelsStarted, r.startTunnels),
		pipeline.Func(PhasePublish, model.StateAwaitPublish, r.awaitPublish),
		pipeline.Func(PhaseTunneled, model.StateTunneledPositiveTests, r.tunneledTests),
		pipeline.Func(PhaseNegativeCert, model.StateNegativeCertTest, r.negativeCertTest),
		pipeline.Func(PhaseReconfigure, model.StateTunnelReconfigured, r.reconfigureTunnel),
		pipeline.Func(PhaseNegativeAuth, model.StateNegativeAuthTest, r.negativeAuthTest),
	}
}

func (r *run) createIdentities(_ context.Context, _ *pipeline.Phase) error {
	for _, dst := range []struct {
		p    **participant
		name string
	}{
		{&r.self, Self},
		{&r.friend, Friend},
		{&r.otherFriend, OtherFriend},
		{&r.unfriendly, Unfriendly},
	} {
		key, err := identity.Generate(dst.name)
		if err != nil {
			return fmt.Errorf("%s: %w", dst.name, err)
		}
		*dst.p = &participant{name: dst.name, key: key}
		r.logger.Debug("identity created", "participant", dst.name, "peer_id", key.ID(), "hostname", key.Hostname)
	}
	return nil
}

// startListeners starts a mock handler and listener for self and friend.
// Each listener accepts the other trusting participant and otherFriend.
func (r *run) startListeners(ctx context.Context, _ *pipeline.Phase) error {
	for _, pair := range [][2]*participant{{r.self, r.friend}, {r.friend, r.self}} {
		p, other := pair[0], pair[1]

		p.handler = peer.NewMockHandler(
			peer.WithName(p.name),
			peer.WithPoolSize(r.settings.WorkerPoolSize),
			peer.WithMockLogger(r.logger),
		)
		r.ledger.register(model.ResourcePool, p.name, func() error {
			p.handler.Stop()
			return nil
		})

		creds, err := p.key.Credentials(other.key.Leaf(), r.otherFriend.key.Leaf())
		if err != nil {
			return err
		}
		p.server = peer.NewServer(creds, p.handler, peer.WithServerLogger(r.logger.With("participant", p.name)))
		if err := p.server.Start(ctx); err != nil {
			return fmt.Errorf("%s listener: %w", p.name, err)
		}
		r.ledger.register(model.ResourceListener, p.name, p.server.Stop)

		if p.port, err = p.server.ListeningPort(); err != nil {
			return err
		}
		if p.expected, err = p.handler.ExpectedStatusJSON(); err != nil {
			return err
		}
		r.logger.Info("listener started", "participant", p.name, "port", p.port)
	}
	return nil
}

// credentials returns from's credentials trusting the given participants.
func (r *run) credentials(from *participant, trusted ...*participant) (transport.Credentials, error) {
	certs := make([]*x509.Certificate, 0, len(trusted))
	for _, t := range trusted {
		certs = append(certs, t.key.Leaf())
	}
	return from.key.Credentials(certs...)
}

// getStatus pulls to's status and checks it against the expected body.
func (r *run) getStatus(ctx context.Context, phase *pipeline.Phase, from, to *participant, target transport.Target) error {
	creds, err := r.credentials(from, to)
	if err != nil {
		return err
	}
	phase.CountCall()
	body, err := r.client.GetString(ctx, creds, target, peer.PathStatus, nil)
	if err != nil {
		return fmt.Errorf("%s -> %s: %w", from.name, to.name, err)
	}
	return checkStatus(body, to.expected)
}

// checkStatus compares a pulled body byte for byte and validates it.
func checkStatus(body string, expected []byte) error {
	if !bytes.Equal([]byte(body), expected) {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedResponse, body, expected)
	}
	var status model.Status
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	return model.ValidateStatus(&status)
}

// pushStatus pushes from's status to to and checks it was recorded.
func (r *run) pushStatus(ctx context.Context, phase *pipeline.Phase, from, to *participant) error {
	creds, err := r.credentials(from, to)
	if err != nil {
		return err
	}
	phase.CountCall()
	target := transport.DirectTarget("127.0.0.1", to.port)
	if err := r.client.PostJSON(ctx, creds, target, peer.PathStatusPush, nil, from.expected); err != nil {
		return fmt.Errorf("%s -> %s push: %w", from.name, to.name, err)
	}
	pushed, ok := to.handler.Pushed(from.key.ID())
	if !ok {
		return fmt.Errorf("%w: push from %s not recorded", ErrUnexpectedResponse, from.name)
	}
	got, err := json.Marshal(pushed)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, from.expected) {
		return fmt.Errorf("%w: pushed %s, recorded %s", ErrUnexpectedResponse, from.expected, got)
	}
	return nil
}

// directTests repeats untunneled GETs and POSTs in both directions over
// loopback, then has otherFriend pull from both listeners.
func (r *run) directTests(ctx context.Context, phase *pipeline.Phase) error {
	for i := range r.settings.DirectRepeat {
		for _, pair := range [][2]*participant{{r.friend, r.self}, {r.self, r.friend}} {
			from, to := pair[0], pair[1]
			if err := r.getStatus(ctx, phase, from, to, transport.DirectTarget("127.0.0.1", to.port)); err != nil {
				return fmt.Errorf("direct GET %d: %w", i+1, err)
			}
			if err := r.pushStatus(ctx, phase, from, to); err != nil {
				return fmt.Errorf("direct POST %d: %w", i+1, err)
			}
		}
	}

	for _, to := range []*participant{r.self, r.friend} {
		if err := r.getStatus(ctx, phase, r.otherFriend, to, transport.DirectTarget("127.0.0.1", to.port)); err != nil {
			return fmt.Errorf("direct GET from %s: %w", OtherFriend, err)
		}
	}
	return nil
}

// networkSpec is the process configuration for p: its own service and the
// auth for the peer services it reaches.
func (r *run) networkSpec(p *participant, auths ...tor.HiddenServiceAuth) NetworkSpec {
	return NetworkSpec{
		Mode:              tor.ModeRunServices,
		Tag:               p.name,
		Auths:             auths,
		ServiceKey:        p.key.HiddenServiceKey,
		ServiceAuthCookie: p.key.AuthCookie,
		VirtualPort:       r.settings.VirtualPort,
		LocalPort:         p.port,
	}
}

// startNetwork starts a network for p and registers it under name.
func (r *run) startNetwork(ctx context.Context, p *participant, name string, spec NetworkSpec) error {
	network := r.networks(spec)
	if err := network.Start(ctx); err != nil {
		return fmt.Errorf("%s network: %w", name, err)
	}
	r.ledger.register(model.ResourceTunnel, name, network.Stop)
	p.network = network
	return nil
}

func (r *run) awaitNetwork(ctx context.Context, p *participant) error {
	if err := p.network.AwaitStarted(ctx); err != nil {
		return fmt.Errorf("%s network: %w", p.name, err)
	}
	r.logger.Info("network started", "participant", p.name, "socks_port", p.network.SocksProxyPort())
	return nil
}

// startTunnels starts both networks first so they bootstrap in parallel.
func (r *run) startTunnels(ctx context.Context, _ *pipeline.Phase) error {
	for _, pair := range [][2]*participant{{r.self, r.friend}, {r.friend, r.self}} {
		p, other := pair[0], pair[1]
		if err := r.startNetwork(ctx, p, p.name, r.networkSpec(p, other.key.ServiceAuth())); err != nil {
			return err
		}
	}
	for _, p := range []*participant{r.self, r.friend} {
		if err := r.awaitNetwork(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// tunneledTarget addresses to's hidden service through from's proxy.
func (r *run) tunneledTarget(from, to *participant) transport.Target {
	return transport.TunneledTarget(to.key.Hostname, r.settings.VirtualPort, from.network.SocksProxyPort())
}

// awaitPublish polls until each trusting participant reaches the other's
// hidden service.
func (r *run) awaitPublish(ctx context.Context, phase *pipeline.Phase) error {
	return PollUntil(ctx, r.settings.PublishTimeout, r.settings.PublishPollInterval, func(ctx context.Context) error {
		for _, pair := range [][2]*participant{{r.friend, r.self}, {r.self, r.friend}} {
			from, to := pair[0], pair[1]
			if err := r.getStatus(ctx, phase, from, to, r.tunneledTarget(from, to)); err != nil {
				r.logger.Debug("not published yet", "from", from.name, "to", to.name, "error", err)
				return err
			}
		}
		return nil
	})
}

// tunneledTests repeats the tunneled GET; bodies must equal the direct
// baseline.
func (r *run) tunneledTests(ctx context.Context, phase *pipeline.Phase) error {
	for i := range r.settings.TunneledRepeat {
		for _, pair := range [][2]*participant{{r.friend, r.self}, {r.self, r.friend}} {
			from, to := pair[0], pair[1]
			if err := r.getStatus(ctx, phase, from, to, r.tunneledTarget(from, to)); err != nil {
				return fmt.Errorf("tunneled GET %d: %w", i+1, err)
			}
		}
	}
	return nil
}

// expectFailure checks that err is a failure of the wanted kind.
func expectFailure(err, want error) error {
	if err == nil {
		return fmt.Errorf("%w: wanted %v", ErrUnexpectedSuccess, want)
	}
	if !errors.Is(err, want) {
		return fmt.Errorf("%w: wanted %v, got %w", ErrWrongFailure, want, err)
	}
	return nil
}

// negativeCertTest makes the tunneled GET with the unfriendly identity. The
// tunnel admits it, so the refusal must come from self's listener.
func (r *run) negativeCertTest(ctx context.Context, phase *pipeline.Phase) error {
	creds, err := r.credentials(r.unfriendly, r.self)
	if err != nil {
		return err
	}
	phase.CountCall()
	_, err = r.client.GetString(ctx, creds, r.tunneledTarget(r.friend, r.self), peer.PathStatus, nil)
	if err := expectFailure(err, transport.ErrTLSRejected); err != nil {
		return err
	}
	r.logger.Info("untrusted certificate refused", "error", err)
	return nil
}

// reconfigureTunnel restarts friend's network holding a random cookie for
// self's hidden service.
func (r *run) reconfigureTunnel(ctx context.Context, _ *pipeline.Phase) error {
	if err := r.ledger.stopNow(model.ResourceTunnel, r.friend.name); err != nil {
		return fmt.Errorf("stopping %s network: %w", r.friend.name, err)
	}

	badCookie, err := tor.NewAuthCookie()
	if err != nil {
		return err
	}
	badAuth := tor.HiddenServiceAuth{Hostname: r.self.key.Hostname, Cookie: badCookie}
	name := r.friend.name + "-reconfigured"
	if err := r.startNetwork(ctx, r.friend, name, r.networkSpec(r.friend, badAuth)); err != nil {
		return err
	}
	return r.awaitNetwork(ctx, r.friend)
}

// negativeAuthTest repeats friend's tunneled GET; the tunnel must refuse it.
func (r *run) negativeAuthTest(ctx context.Context, phase *pipeline.Phase) error {
	creds, err := r.credentials(r.friend, r.self)
	if err != nil {
		return err
	}
	phase.CountCall()
	_, err = r.client.GetString(ctx, creds, r.tunneledTarget(r.friend, r.self), peer.PathStatus, nil)
	if err := expectFailure(err, transport.ErrTunnelRejected); err != nil {
		return err
	}
	r.logger.Info("wrong auth cookie refused", "error", err)
	return nil
}
