package rpc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/dreamware/shardtopo/internal/cluster"
)

// Client talks to one shard manager over a single gRPC connection.
// It performs no retries; wrap it in a RetryingClient for that.
type Client struct {
	conn *grpc.ClientConn
	addr string
}

var _ ShardManager = (*Client)(nil)

// HostAddr returns host with DefaultPort appended when it carries no port.
func HostAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(DefaultPort))
}

// Dial creates a client for the shard manager at addr. The connection is
// established lazily on the first call. Extra options are appended to the
// defaults, so tests can swap the dialer.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                20 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial shard manager %s: %w", addr, err)
	}
	return &Client{conn: conn, addr: addr}, nil
}

// Addr returns the address the client was dialed with.
func (c *Client) Addr() string {
	return c.addr
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return fromStatus(err)
	}
	return nil
}

// fromStatus turns application status codes back into the cluster sentinel
// errors. Transport and protocol failures stay gRPC statuses so IsTransient
// can classify them.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return sentinel(cluster.ErrNotFound, st.Message())
	case codes.AlreadyExists:
		return sentinel(cluster.ErrAlreadyExists, st.Message())
	case codes.InvalidArgument:
		return sentinel(cluster.ErrInvalidArgument, st.Message())
	}
	return err
}

// sentinel rewraps msg around target without repeating target's own text,
// which the server already put in front of the message.
func sentinel(target error, msg string) error {
	return fmt.Errorf("%w: %s", target, strings.TrimPrefix(msg, target.Error()+": "))
}

// GetForwardings returns every forwarding.
func (c *Client) GetForwardings(ctx context.Context) ([]cluster.Forwarding, error) {
	var out forwardingsResponse
	if err := c.invoke(ctx, "GetForwardings", &empty{}, &out); err != nil {
		return nil, err
	}
	return out.Forwardings, nil
}

// SetForwarding adds or replaces a forwarding.
func (c *Client) SetForwarding(ctx context.Context, f cluster.Forwarding) error {
	return c.invoke(ctx, "SetForwarding", &f, &empty{})
}

// ReplaceForwarding points every forwarding of oldID at newID.
func (c *Client) ReplaceForwarding(ctx context.Context, oldID, newID cluster.ShardID) error {
	return c.invoke(ctx, "ReplaceForwarding", &replaceForwardingRequest{Old: oldID, New: newID}, &empty{})
}

// FindCurrentForwarding returns the root shard serving baseID in tableID.
func (c *Client) FindCurrentForwarding(ctx context.Context, tableID int32, baseID int64) (cluster.ShardInfo, error) {
	var out shardResponse
	if err := c.invoke(ctx, "FindCurrentForwarding", &findForwardingRequest{TableID: tableID, BaseID: baseID}, &out); err != nil {
		return cluster.ShardInfo{}, err
	}
	if out.Shard == nil {
		return cluster.ShardInfo{}, fmt.Errorf("%w: FindCurrentForwarding(%d, %d) returned no shard", cluster.ErrMalformedResponse, tableID, baseID)
	}
	return *out.Shard, nil
}

// ListDownwardLinks returns the links below id.
func (c *Client) ListDownwardLinks(ctx context.Context, id cluster.ShardID) ([]cluster.LinkInfo, error) {
	var out linksResponse
	if err := c.invoke(ctx, "ListDownwardLinks", &shardIDRequest{ID: id}, &out); err != nil {
		return nil, err
	}
	return out.Links, nil
}

// ListUpwardLinks returns the links above id.
func (c *Client) ListUpwardLinks(ctx context.Context, id cluster.ShardID) ([]cluster.LinkInfo, error) {
	var out linksResponse
	if err := c.invoke(ctx, "ListUpwardLinks", &shardIDRequest{ID: id}, &out); err != nil {
		return nil, err
	}
	return out.Links, nil
}

// AddLink links up to down with weight.
func (c *Client) AddLink(ctx context.Context, up, down cluster.ShardID, weight int32) error {
	return c.invoke(ctx, "AddLink", &linkRequest{Up: up, Down: down, Weight: weight}, &empty{})
}

// RemoveLink removes the link from up to down.
func (c *Client) RemoveLink(ctx context.Context, up, down cluster.ShardID) error {
	return c.invoke(ctx, "RemoveLink", &linkRequest{Up: up, Down: down}, &empty{})
}

// ListHostnames returns every hostname with shards.
func (c *Client) ListHostnames(ctx context.Context) ([]string, error) {
	var out hostnamesResponse
	if err := c.invoke(ctx, "ListHostnames", &empty{}, &out); err != nil {
		return nil, err
	}
	return out.Hostnames, nil
}

// ShardsForHostname returns the shards on hostname.
func (c *Client) ShardsForHostname(ctx context.Context, hostname string) ([]cluster.ShardInfo, error) {
	var out shardsResponse
	if err := c.invoke(ctx, "ShardsForHostname", &hostnameRequest{Hostname: hostname}, &out); err != nil {
		return nil, err
	}
	return out.Shards, nil
}

// GetShard returns the info of id.
func (c *Client) GetShard(ctx context.Context, id cluster.ShardID) (cluster.ShardInfo, error) {
	var out shardResponse
	if err := c.invoke(ctx, "GetShard", &shardIDRequest{ID: id}, &out); err != nil {
		return cluster.ShardInfo{}, err
	}
	if out.Shard == nil || out.Shard.ID != id {
		return cluster.ShardInfo{}, fmt.Errorf("%w: GetShard(%s) returned a different shard", cluster.ErrMalformedResponse, id)
	}
	return *out.Shard, nil
}

// CreateShard creates a shard.
func (c *Client) CreateShard(ctx context.Context, info cluster.ShardInfo) error {
	return c.invoke(ctx, "CreateShard", &info, &empty{})
}

// DeleteShard deletes a shard.
func (c *Client) DeleteShard(ctx context.Context, id cluster.ShardID) error {
	return c.invoke(ctx, "DeleteShard", &shardIDRequest{ID: id}, &empty{})
}

// GetBusyShards returns the shards with a copy running.
func (c *Client) GetBusyShards(ctx context.Context) ([]cluster.ShardInfo, error) {
	var out shardsResponse
	if err := c.invoke(ctx, "GetBusyShards", &empty{}, &out); err != nil {
		return nil, err
	}
	return out.Shards, nil
}

// CopyShard starts copying from into to.
func (c *Client) CopyShard(ctx context.Context, from, to cluster.ShardID) error {
	return c.invoke(ctx, "CopyShard", &copyRequest{From: from, To: to}, &empty{})
}

// ReloadForwardings makes the service reload its forwardings.
func (c *Client) ReloadForwardings(ctx context.Context) error {
	return c.invoke(ctx, "ReloadForwardings", &empty{}, &empty{})
}

// ReloadConfig makes the service reload its configuration.
func (c *Client) ReloadConfig(ctx context.Context) error {
	return c.invoke(ctx, "ReloadConfig", &empty{}, &empty{})
}
