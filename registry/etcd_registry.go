// Package registry provides endpoint discovery for clients and, optionally,
// self-registration for servers.
//
// The etcd layout mirrors a phone book keyed by service:
//
//	Key:   /formrpc/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Registrations hold a TTL lease that is renewed in the background; a server
// that dies disappears once its lease expires.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/formrpc/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // safe for concurrent use
	logger *zap.Logger
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	return &EtcdRegistry{client: c, logger: logger}, nil
}

func serviceKey(serviceName string) string {
	return keyPrefix + serviceName + "/"
}

// Register stores instance under a lease of ttl seconds and keeps the lease
// alive for as long as the registry's client stays open. The lease ID stays
// local so one registry can serve several registrations.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, serviceKey(serviceName)+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return fmt.Errorf("registry: put %s: %w", serviceName, err)
	}

	// The keep-alive stream must outlive the caller's ctx.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("registry: keep lease alive: %w", err)
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keep-alive ended",
			zap.String("service", serviceName),
			zap.String("addr", instance.Addr))
	}()
	return nil
}

// Deregister removes an instance immediately instead of waiting for its
// lease to expire.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	if _, err := r.client.Delete(ctx, serviceKey(serviceName)+addr); err != nil {
		return fmt.Errorf("registry: delete %s: %w", serviceName, err)
	}
	return nil
}

// Watch emits the full instance list after every change under the service
// prefix. The channel closes when ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, serviceKey(serviceName), clientv3.WithPrefix())
		for range watchChan {
			// Re-read the prefix instead of applying individual events.
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				r.logger.Warn("watch refresh failed", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all registered instances of serviceName.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, serviceKey(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: discover %s: %w", serviceName, err)
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoInstances, serviceName)
	}
	return instances, nil
}

// Close releases the etcd connection, which also ends lease renewal.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
