package client

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"peerrpc/discovery"
	"peerrpc/loadbalance"
)

// Pool caches at most one Client per remote endpoint, created lazily and
// shared by every caller in the process. Callers sharing a Client share its
// connection and pending-call table; the pool itself holds no per-call
// state.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*Client

	dialTimeout time.Duration
	callTimeout time.Duration
	logger      zerolog.Logger
	clientOpts  []Option

	disc     discovery.Registry
	balancer loadbalance.Balancer
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithDialTimeout bounds connection establishment in Get.
func WithDialTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.dialTimeout = d }
}

// WithPoolCallTimeout sets the default per-call deadline of pooled Clients.
func WithPoolCallTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.callTimeout = d }
}

// WithPoolLogger sets the logger inherited by pooled Clients.
func WithPoolLogger(logger zerolog.Logger) PoolOption {
	return func(p *Pool) { p.logger = logger }
}

// WithClientOptions appends extra options applied to every pooled Client.
func WithClientOptions(opts ...Option) PoolOption {
	return func(p *Pool) { p.clientOpts = append(p.clientOpts, opts...) }
}

// WithDiscovery enables GetService name resolution through the given
// registry and balancer.
func WithDiscovery(disc discovery.Registry, balancer loadbalance.Balancer) PoolOption {
	return func(p *Pool) {
		p.disc = disc
		p.balancer = balancer
		if p.balancer == nil {
			p.balancer = &loadbalance.RoundRobin{}
		}
	}
}

// NewPool returns an empty pool. Clients are created on first Get.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		clients: make(map[string]*Client),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns the shared Client for endpoint, dialing eagerly the first
// time so a returned Client is always connected; a failed dial caches
// nothing. A cached Client that has since closed is replaced by a fresh
// one. Concurrent Gets are serialized, so exactly one Client is ever
// created per endpoint.
func (p *Pool) Get(endpoint string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[endpoint]; ok && !c.Closed() {
		return c, nil
	}

	conn, err := net.DialTimeout("tcp", endpoint, p.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	opts := append([]Option{
		WithLogger(p.logger.With().Str("endpoint", endpoint).Logger()),
		WithCallTimeout(p.callTimeout),
	}, p.clientOpts...)
	c := NewClient(conn, opts...)
	p.clients[endpoint] = c
	p.logger.Info().Str("endpoint", endpoint).Msg("client created")
	return c, nil
}

// GetService resolves a logical peer name through discovery, picks one
// instance with the configured balancer, and returns that endpoint's
// shared Client.
func (p *Pool) GetService(name string) (*Client, error) {
	if p.disc == nil {
		return nil, fmt.Errorf("pool has no discovery registry configured")
	}
	instances, err := p.disc.Discover(name)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", name, err)
	}
	inst, err := p.balancer.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("pick instance for %s: %w", name, err)
	}
	return p.Get(inst.Addr)
}

// Remove closes and forgets the endpoint's Client, if any.
func (p *Pool) Remove(endpoint string) {
	p.mu.Lock()
	c := p.clients[endpoint]
	delete(p.clients, endpoint)
	p.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// Close closes every pooled Client.
func (p *Pool) Close() {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*Client)
	p.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
