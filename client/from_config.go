package client

import (
	"peerrpc/config"
	"peerrpc/discovery"
)

// NewPoolFromConfig assembles a Pool from environment-driven configuration,
// including etcd-backed GetService resolution when endpoints are
// configured.
func NewPoolFromConfig(cfg *config.Config, opts ...PoolOption) (*Pool, error) {
	base := []PoolOption{
		WithPoolLogger(cfg.Logger()),
		WithDialTimeout(cfg.DialTimeout),
		WithPoolCallTimeout(cfg.CallTimeout),
		WithClientOptions(WithReadBufferSize(cfg.ReadBufferSize)),
	}
	if len(cfg.EtcdEndpoints) > 0 {
		disc, err := discovery.NewEtcdRegistry(cfg.EtcdEndpoints)
		if err != nil {
			return nil, err
		}
		base = append(base, WithDiscovery(disc, nil))
	}
	return NewPool(append(base, opts...)...), nil
}
