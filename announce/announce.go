package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Presence describes one plugin held by a PLM manager instance.
type Presence struct {
	// Name is the plugin's registry key.
	Name string `json:"name"`

	// Version is the plugin's declared version.
	Version string `json:"version,omitempty"`

	// State is the plugin's current lifecycle state.
	State string `json:"state"`

	// InstanceID identifies the manager instance making the announcement,
	// allowing multiple hosts to announce into the same namespace.
	InstanceID string `json:"instance_id"`

	// UpdatedAt is the timestamp of the last state change.
	UpdatedAt time.Time `json:"updated_at"`
}

// Announcer is the interface the manager publishes plugin presence through.
//
// Implementations must be safe for concurrent use. Callers treat failures as
// non-fatal and only log them.
type Announcer interface {
	// Announce publishes or refreshes the presence entry for a plugin.
	Announce(ctx context.Context, p Presence) error

	// Withdraw removes the presence entry for a plugin.
	// Withdrawing an unannounced plugin is a no-op, not an error.
	Withdraw(ctx context.Context, name string) error

	// Close releases resources and stops all background goroutines.
	Close() error
}

// Config holds etcd connection configuration for the announcer.
type Config struct {
	// Endpoints is the list of etcd endpoints, e.g. ["localhost:2379"].
	Endpoints []string `json:"endpoints"`

	// Namespace is the etcd key prefix for presence entries.
	// Entries are stored under /{namespace}/plugins/{name}.
	// Default: "plm".
	Namespace string `json:"namespace"`

	// TTL is the lease time-to-live in seconds. Presence entries disappear
	// automatically if the lease is not renewed within this interval.
	// Default: 30.
	TTL int `json:"ttl"`

	// TLS holds optional TLS configuration for secure etcd communication.
	TLS *TLSConfig `json:"tls"`
}

// Client implements Announcer backed by an etcd cluster.
//
// Thread-safety: all methods are safe for concurrent use.
type Client struct {
	client    *clientv3.Client
	namespace string
	ttl       int

	mu         sync.Mutex
	leases     map[string]clientv3.LeaseID // key: plugin name
	cancelFns  map[string]context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	closedChan chan struct{}
}

// NewClient creates an announcer connected to the configured etcd cluster
// and verifies connectivity with a quick health check.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("announcer endpoints cannot be empty")
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "plm"
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: 5 * time.Second,
	}

	tlsConfig, err := clientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}
	clientCfg.TLS = tlsConfig

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err = cli.Get(ctx, "health-check"); err != nil && err != context.DeadlineExceeded {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return &Client{
		client:     cli,
		namespace:  namespace,
		ttl:        ttl,
		leases:     make(map[string]clientv3.LeaseID),
		cancelFns:  make(map[string]context.CancelFunc),
		closedChan: make(chan struct{}),
	}, nil
}

// Announce publishes or refreshes the presence entry for a plugin.
//
// The first announcement for a name creates a lease and starts a keepalive
// goroutine renewing it every TTL/3 seconds. Subsequent announcements for
// the same name reuse the existing lease and simply overwrite the value, so
// state changes are cheap.
func (c *Client) Announce(ctx context.Context, p Presence) error {
	if p.Name == "" {
		return fmt.Errorf("presence name cannot be empty")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("announcer is closed")
	}

	leaseID, haveLease := c.leases[p.Name]
	if !haveLease {
		leaseResp, err := c.client.Grant(ctx, int64(c.ttl))
		if err != nil {
			return fmt.Errorf("failed to create lease: %w", err)
		}
		leaseID = leaseResp.ID
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	key := c.buildKey(p.Name)
	if _, err := c.client.Put(ctx, key, string(data), clientv3.WithLease(leaseID)); err != nil {
		return fmt.Errorf("failed to announce plugin: %w", err)
	}

	if !haveLease {
		c.leases[p.Name] = leaseID

		keepaliveCtx, cancel := context.WithCancel(context.Background())
		c.cancelFns[p.Name] = cancel

		c.wg.Add(1)
		go c.keepalive(keepaliveCtx, leaseID, p.Name)
	}

	return nil
}

// Withdraw removes the presence entry for a plugin by revoking its lease.
func (c *Client) Withdraw(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("announcer is closed")
	}

	if cancelFn, exists := c.cancelFns[name]; exists {
		cancelFn()
		delete(c.cancelFns, name)
	}

	leaseID, exists := c.leases[name]
	if !exists {
		// Not announced, this is a no-op
		return nil
	}

	if _, err := c.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}

	delete(c.leases, name)
	return nil
}

// Snapshot returns the presence entries currently visible in the namespace,
// including entries announced by other manager instances.
func (c *Client) Snapshot(ctx context.Context) ([]Presence, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("announcer is closed")
	}

	prefix := fmt.Sprintf("/%s/plugins/", c.namespace)
	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to read presence entries: %w", err)
	}

	entries := make([]Presence, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var p Presence
		if err := json.Unmarshal(kv.Value, &p); err != nil {
			// Skip invalid entries
			continue
		}
		entries = append(entries, p)
	}

	return entries, nil
}

// Close releases all resources and stops background keepalive goroutines.
// After Close() is called, all other methods will return errors.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	for _, cancel := range c.cancelFns {
		cancel()
	}
	c.cancelFns = make(map[string]context.CancelFunc)

	close(c.closedChan)
	c.mu.Unlock()

	c.wg.Wait()

	return c.client.Close()
}

// keepalive renews the lease every TTL/3 seconds to maintain presence.
// It stops when the context is cancelled (via Withdraw or Close) or the
// lease becomes invalid.
func (c *Client) keepalive(ctx context.Context, leaseID clientv3.LeaseID, name string) {
	defer c.wg.Done()

	interval := time.Duration(c.ttl) * time.Second / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closedChan:
			return
		case <-ticker.C:
			if _, err := c.client.KeepAliveOnce(context.Background(), leaseID); err != nil {
				// Lease is invalid, stop keepalive
				c.mu.Lock()
				delete(c.leases, name)
				delete(c.cancelFns, name)
				c.mu.Unlock()
				return
			}
		}
	}
}

// buildKey constructs the etcd key for a plugin presence entry.
//
// Format: /namespace/plugins/name
func (c *Client) buildKey(name string) string {
	return fmt.Sprintf("/%s/plugins/%s", c.namespace, name)
}
