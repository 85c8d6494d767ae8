// Package discovery maps logical peer names to the endpoints currently
// serving them. The client pool uses it to resolve a name before dialing;
// a server can register its own advertised address under a name at startup.
package discovery

// Instance is one reachable endpoint of a named peer.
type Instance struct {
	Addr    string
	Weight  int // relative capacity, consumed by load balancing
	Version string
}

// Registry is the discovery backend interface.
type Registry interface {
	// Register announces an instance under name with a TTL in seconds; the
	// entry is kept alive until Deregister or process death.
	Register(name string, instance Instance, ttl int64) error
	// Deregister removes one instance of name.
	Deregister(name string, addr string) error
	// Discover returns the instances currently registered under name.
	Discover(name string) ([]Instance, error)
	// Watch emits the full instance list for name whenever it changes.
	Watch(name string) <-chan []Instance
}
