package registry

import (
	"context"
	"errors"
)

// ServiceInstance is one server reachable at a base URL.
type ServiceInstance struct {
	Addr    string `json:"addr"` // base URL, e.g. "https://api.example.com/rpc"
	Weight  int    `json:"weight,omitempty"`
	Version string `json:"version,omitempty"`
}

// Resolver lists the instances currently serving a named service.
type Resolver interface {
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
}

// Registry is a Resolver that servers can also announce themselves to.
type Registry interface {
	Resolver
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}

var ErrNoInstances = errors.New("registry: no instances")

// Static resolves every service name to a fixed list of instances. A client
// constructed from a single base URL uses Static with one entry.
type Static []ServiceInstance

// StaticURL is shorthand for a one-instance Static resolver.
func StaticURL(baseURL string) Static {
	return Static{{Addr: baseURL, Weight: 1}}
}

func (s Static) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	if len(s) == 0 {
		return nil, ErrNoInstances
	}
	out := make([]ServiceInstance, len(s))
	copy(out, s)
	return out, nil
}
