package discovery

import (
	"net"
	"testing"
	"time"
)

// Requires a local etcd at localhost:2379; skipped otherwise.
func etcdRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "localhost:2379", 500*time.Millisecond)
	if err != nil {
		t.Skip("etcd not reachable at localhost:2379")
	}
	conn.Close()
	reg, err := NewEtcdRegistry([]string{"localhost:2379"})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := etcdRegistry(t)

	inst1 := Instance{Addr: "127.0.0.1:9301", Weight: 10, Version: "1.0"}
	inst2 := Instance{Addr: "127.0.0.1:9302", Weight: 5, Version: "1.0"}

	if err := reg.Register("echo", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("echo", inst2, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister("echo", inst1.Addr)
	defer reg.Deregister("echo", inst2.Addr)

	instances, err := reg.Discover("echo")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister("echo", inst1.Addr); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover("echo")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
	if instances[0].Addr != inst2.Addr {
		t.Fatalf("expect %s, got %s", inst2.Addr, instances[0].Addr)
	}
}

func TestWatchSeesChanges(t *testing.T) {
	reg := etcdRegistry(t)

	watch := reg.Watch("watched")
	inst := Instance{Addr: "127.0.0.1:9303", Weight: 1, Version: "1.0"}
	if err := reg.Register("watched", inst, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister("watched", inst.Addr)

	select {
	case instances := <-watch:
		if len(instances) != 1 || instances[0].Addr != inst.Addr {
			t.Fatalf("watch delivered %v", instances)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not observe the registration")
	}
}
