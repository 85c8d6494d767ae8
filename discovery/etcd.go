package discovery

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/peerrpc/"

// EtcdRegistry implements Registry on etcd v3. Instances live under
// /peerrpc/{name}/{addr} with a TTL lease, so a crashed peer disappears once
// its lease expires instead of lingering as a ghost endpoint.
type EtcdRegistry struct {
	client *clientv3.Client // safe for concurrent use
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register writes the instance under a TTL lease and starts background
// KeepAlive renewal. If renewal ever stops, the entry auto-expires.
func (r *EtcdRegistry) Register(name string, instance Instance, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix+name+"/"+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	// Drain KeepAlive responses so the channel never fills.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes one instance, typically during graceful shutdown.
func (r *EtcdRegistry) Deregister(name string, addr string) error {
	_, err := r.client.Delete(context.TODO(), keyPrefix+name+"/"+addr)
	return err
}

// Watch re-reads the full instance list on every change under the name's
// prefix, which is simpler than folding individual watch events.
func (r *EtcdRegistry) Watch(name string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	go func() {
		watchChan := r.client.Watch(context.TODO(), keyPrefix+name+"/", clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(name)
			if err != nil {
				continue
			}
			ch <- instances
		}
	}()
	return ch
}

// Discover lists the instances currently registered under name.
func (r *EtcdRegistry) Discover(name string) ([]Instance, error) {
	resp, err := r.client.Get(context.TODO(), keyPrefix+name+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}
