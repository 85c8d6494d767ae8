package server

import (
	"peerrpc/client"
	"peerrpc/config"
	"peerrpc/discovery"
	"peerrpc/middleware"
	"peerrpc/registry"
)

// NewFromConfig assembles a Server from environment-driven configuration:
// logging, read buffer, etcd discovery when endpoints are configured, and
// the optional rate and concurrency limits as middlewares.
func NewFromConfig(cfg *config.Config, reg *registry.Registry, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger()

	base := []Option{
		WithLogger(logger),
		WithReadBufferSize(cfg.ReadBufferSize),
	}
	var disc discovery.Registry
	if len(cfg.EtcdEndpoints) > 0 {
		etcd, err := discovery.NewEtcdRegistry(cfg.EtcdEndpoints)
		if err != nil {
			return nil, err
		}
		disc = etcd
		base = append(base, WithDiscovery(disc, cfg.ServiceName, cfg.AdvertiseAddr))
	}

	// The application's outbound pool shares the server's settings (and
	// discovery client, if any).
	poolOpts := []client.PoolOption{
		client.WithPoolLogger(logger),
		client.WithDialTimeout(cfg.DialTimeout),
		client.WithPoolCallTimeout(cfg.CallTimeout),
		client.WithClientOptions(client.WithReadBufferSize(cfg.ReadBufferSize)),
	}
	if disc != nil {
		poolOpts = append(poolOpts, client.WithDiscovery(disc, nil))
	}
	base = append(base, WithClientPool(client.NewPool(poolOpts...)))

	s := New(reg, append(base, opts...)...)
	if s.disc != nil {
		s.registerTTL = cfg.RegisterTTL
	}
	if cfg.RateLimit > 0 {
		s.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.MaxInFlight > 0 {
		s.Use(middleware.MaxInFlight(cfg.MaxInFlight))
	}
	return s, nil
}
