package topology

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"

	"github.com/dreamware/shardtopo/internal/cluster"
	"github.com/dreamware/shardtopo/internal/rpc"
)

// DefaultParallelism is the number of traversal workers used by AllLinks.
const DefaultParallelism = 10

// Config describes the fleet a Client talks to.
type Config struct {
	// Hosts lists the shard manager endpoints. The first one is the primary:
	// every read and single-host mutation goes there. A host without a port
	// uses rpc.DefaultPort.
	Hosts         []string
	Retries       int
	RetryInterval time.Duration
	Parallelism   int
	DryRun        bool

	// DialOptions are appended to the defaults of rpc.Dial.
	DialOptions []grpc.DialOption
}

// DefaultConfig returns the configuration for a single local shard manager.
func DefaultConfig() Config {
	return Config{
		Hosts:         []string{"localhost"},
		Retries:       rpc.DefaultRetries,
		RetryInterval: rpc.DefaultRetryInterval,
		Parallelism:   DefaultParallelism,
	}
}

// Client is the operator's view of a shard fleet. It embeds the primary
// host's retrying manager, so every rpc.ShardManager operation is available
// directly, and adds fleet-wide operations on top: broadcast reloads,
// inventory, parallel link discovery and manifests.
type Client struct {
	rpc.ShardManager

	hosts       []string
	all         []rpc.ShardManager
	direct      []rpc.ShardManager // unwrapped, for health probes
	closers     []io.Closer
	parallelism int
	dryRun      bool
}

var _ rpc.ShardManager = (*Client)(nil)

// New dials every host in cfg. Connections are lazy, so an unreachable host
// only shows up as a transient failure on first use.
func New(cfg Config) (*Client, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("topology: no hosts configured")
	}
	managers := make([]rpc.ShardManager, 0, len(cfg.Hosts))
	closers := make([]io.Closer, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		c, err := rpc.Dial(rpc.HostAddr(h), cfg.DialOptions...)
		if err != nil {
			for _, done := range closers {
				_ = done.Close()
			}
			return nil, err
		}
		managers = append(managers, c)
		closers = append(closers, c)
	}
	client, err := NewWithManagers(cfg, managers...)
	if err != nil {
		return nil, err
	}
	client.closers = closers
	return client, nil
}

// NewWithManagers builds a Client over already connected managers, primary
// first. Each manager is wrapped for retries and, with cfg.DryRun, for dry
// runs. cfg.Hosts names the managers in errors and logs; when it does not
// match their number, positional names are used.
func NewWithManagers(cfg Config, managers ...rpc.ShardManager) (*Client, error) {
	if len(managers) == 0 {
		return nil, errors.New("topology: no shard managers")
	}
	hosts := cfg.Hosts
	if len(hosts) != len(managers) {
		hosts = make([]string, len(managers))
		for i := range managers {
			hosts[i] = fmt.Sprintf("manager-%d", i)
		}
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}

	all := make([]rpc.ShardManager, len(managers))
	for i, m := range managers {
		var wrapped rpc.ShardManager = rpc.NewRetryingClient(m, cfg.Retries, cfg.RetryInterval)
		if cfg.DryRun {
			wrapped = rpc.DryRun(wrapped)
		}
		all[i] = wrapped
	}

	return &Client{
		ShardManager: all[0],
		hosts:        append([]string(nil), hosts...),
		all:          all,
		direct:       append([]rpc.ShardManager(nil), managers...),
		parallelism:  cfg.Parallelism,
		dryRun:       cfg.DryRun,
	}, nil
}

// Hosts returns the configured host names, primary first.
func (c *Client) Hosts() []string {
	return append([]string(nil), c.hosts...)
}

// DryRun reports whether mutations are being suppressed.
func (c *Client) DryRun() bool {
	return c.dryRun
}

// Close releases connections opened by New.
func (c *Client) Close() error {
	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReloadForwardings asks every configured host, not only the primary, to
// reload its forwarding table. Hosts are called in order and each call is
// retried on its own; the first failure stops the broadcast.
func (c *Client) ReloadForwardings(ctx context.Context) error {
	return c.broadcast(ctx, "reload forwardings", rpc.ShardManager.ReloadForwardings)
}

// ReloadConfig is the broadcast counterpart of ReloadForwardings for the full
// configuration.
func (c *Client) ReloadConfig(ctx context.Context) error {
	return c.broadcast(ctx, "reload config", rpc.ShardManager.ReloadConfig)
}

func (c *Client) broadcast(ctx context.Context, what string, call func(rpc.ShardManager, context.Context) error) error {
	for i, m := range c.all {
		if err := call(m, ctx); err != nil {
			return fmt.Errorf("%s on %s: %w", what, c.hosts[i], err)
		}
	}
	return nil
}

// AllShards returns the fleet-wide inventory: every shard of every hostname
// the primary knows about.
func (c *Client) AllShards(ctx context.Context) ([]cluster.ShardInfo, error) {
	hostnames, err := c.ListHostnames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hostnames: %w", err)
	}
	var out []cluster.ShardInfo
	for _, h := range hostnames {
		shards, err := c.ShardsForHostname(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("shards for %s: %w", h, err)
		}
		out = append(out, shards...)
	}
	return out, nil
}
