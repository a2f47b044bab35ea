// Package registry announces bridges in etcd so other hosts on the robot can
// find the HTTP gateway of whichever process currently owns the serial link.
//
//	Key:   /hdcomm/{name}/{addr}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: if the bridge crashes, the lease expires
// and the entry is automatically removed.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mdp2021s129-bot/hdcomm/logx"
)

const keyPrefix = "/hdcomm/"

func key(name, addr string) string {
	return keyPrefix + name + "/" + addr
}

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register puts the instance under a lease of ttl seconds and keeps the lease
// alive until ctx is done.
//
// Flow:
//  1. Create a lease with the given TTL
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
func (r *EtcdRegistry) Register(ctx context.Context, name string, inst Instance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry grant: %w", err)
	}

	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	if _, err := r.client.Put(ctx, key(name, inst.Addr), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry put: %w", err)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("registry keepalive: %w", err)
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		logx.Log.Debug().Str("name", name).Str("addr", inst.Addr).Msg("registry lease keepalive stopped")
	}()
	return nil
}

// Deregister removes an instance. Called during graceful shutdown.
func (r *EtcdRegistry) Deregister(ctx context.Context, name string, addr string) error {
	_, err := r.client.Delete(ctx, key(name, addr))
	return err
}

// Discover returns all currently registered bridges for name.
func (r *EtcdRegistry) Discover(ctx context.Context, name string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, keyPrefix+name+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
