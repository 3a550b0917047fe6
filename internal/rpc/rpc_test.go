package rpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dreamware/shardtopo/internal/cluster"
	"github.com/dreamware/shardtopo/internal/storage"
)

const bufSize = 1024 * 1024

// startServer serves impl on an in-process listener and returns a client for it.
func startServer(t *testing.T, impl ShardManager) *Client {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer()
	RegisterServer(s, impl)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sid(host, prefix string) cluster.ShardID {
	return cluster.ShardID{Hostname: host, TablePrefix: prefix}
}

// TestClientRoundTrip exercises every RPC through the JSON codec
func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	c := startServer(t, store)

	root := sid("localhost", "shard_0001_replicating")
	leaf := sid("db1", "shard_0001")

	require.NoError(t, c.CreateShard(ctx, cluster.ShardInfo{ID: root, ClassName: "ReplicatingShard"}))
	require.NoError(t, c.CreateShard(ctx, cluster.ShardInfo{ID: leaf, ClassName: "SqlShard", SourceType: "int"}))
	require.NoError(t, c.AddLink(ctx, root, leaf, 3))
	require.NoError(t, c.SetForwarding(ctx, cluster.Forwarding{TableID: -1, BaseID: 7, ShardID: root}))

	info, err := c.GetShard(ctx, leaf)
	require.NoError(t, err)
	assert.Equal(t, "SqlShard", info.ClassName)
	assert.Equal(t, "int", info.SourceType)

	down, err := c.ListDownwardLinks(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []cluster.LinkInfo{{UpID: root, DownID: leaf, Weight: 3}}, down)

	up, err := c.ListUpwardLinks(ctx, leaf)
	require.NoError(t, err)
	assert.Equal(t, down, up)

	fs, err := c.GetForwardings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []cluster.Forwarding{{TableID: -1, BaseID: 7, ShardID: root}}, fs)

	current, err := c.FindCurrentForwarding(ctx, -1, 100)
	require.NoError(t, err)
	assert.Equal(t, root, current.ID)

	hosts, err := c.ListHostnames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"db1", "localhost"}, hosts)

	shards, err := c.ShardsForHostname(ctx, "db1")
	require.NoError(t, err)
	require.Len(t, shards, 1)

	require.NoError(t, store.SetBusy(leaf, true))
	busy, err := c.GetBusyShards(ctx)
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.True(t, busy[0].Busy)

	require.NoError(t, c.CopyShard(ctx, root, leaf))
	require.NoError(t, c.ReplaceForwarding(ctx, root, leaf))
	require.NoError(t, c.RemoveLink(ctx, root, leaf))
	require.NoError(t, c.DeleteShard(ctx, root))
	require.NoError(t, c.ReloadForwardings(ctx))
	require.NoError(t, c.ReloadConfig(ctx))

	stats := store.Stats()
	assert.Equal(t, 1, stats.Shards)
	assert.Equal(t, 0, stats.Links)
	assert.Equal(t, 1, stats.ForwardingReloads)
	assert.Equal(t, 1, stats.ConfigReloads)
}

// TestClientErrorMapping verifies application errors survive the wire as
// sentinels and are not treated as transient
func TestClientErrorMapping(t *testing.T) {
	ctx := context.Background()
	c := startServer(t, storage.NewMemoryStore())

	_, err := c.GetShard(ctx, sid("db1", "missing"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, cluster.ErrNotFound))
	assert.Contains(t, err.Error(), "db1/missing")
	assert.False(t, IsTransient(err))

	info := cluster.ShardInfo{ID: sid("db1", "a"), ClassName: "SqlShard"}
	require.NoError(t, c.CreateShard(ctx, info))
	err = c.CreateShard(ctx, info)
	assert.True(t, errors.Is(err, cluster.ErrAlreadyExists))

	err = c.CreateShard(ctx, cluster.ShardInfo{ID: sid("db1", "")})
	assert.True(t, errors.Is(err, cluster.ErrInvalidArgument))
}

// TestUnreachableServerIsTransient verifies transport failures are retryable
func TestUnreachableServerIsTransient(t *testing.T) {
	lis := bufconn.Listen(bufSize)
	require.NoError(t, lis.Close())

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.GetForwardings(ctx)
	require.Error(t, err)
	assert.True(t, IsTransient(err), "got %v", err)
}

// TestIsTransient checks the failure classification
func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"internal", status.Error(codes.Internal, "bad frame"), true},
		{"aborted", status.Error(codes.Aborted, "conflict"), true},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "busy"), true},
		{"malformed", errors.New("x"), false},
		{"wrapped malformed", errors.Join(cluster.ErrMalformedResponse, errors.New("x")), true},
		{"not found", status.Error(codes.NotFound, "gone"), false},
		{"unknown", status.Error(codes.Unknown, "boom"), false},
		{"sentinel", cluster.ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestHostAddr(t *testing.T) {
	assert.Equal(t, "db1:7917", HostAddr("db1"))
	assert.Equal(t, "db1:9000", HostAddr("db1:9000"))
	assert.Equal(t, "[::1]:7917", HostAddr("::1"))
}

// flaky fails GetForwardings with the queued errors before delegating.
type flaky struct {
	ShardManager
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *flaky) GetForwardings(ctx context.Context) ([]cluster.Forwarding, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.ShardManager.GetForwardings(ctx)
}

func (f *flaky) ReloadConfig(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return status.Error(codes.Unavailable, "still down")
}

// TestRetryingClient tests retry, permanent failure and exhaustion
func TestRetryingClient(t *testing.T) {
	ctx := context.Background()
	unavailable := status.Error(codes.Unavailable, "connection refused")

	t.Run("recovers from transient failures", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.SetForwarding(ctx, cluster.Forwarding{TableID: 1, ShardID: sid("h", "p")}))
		f := &flaky{ShardManager: store, errs: []error{unavailable, unavailable}}
		r := NewRetryingClient(f, 5, time.Millisecond)

		fs, err := r.GetForwardings(ctx)
		require.NoError(t, err)
		assert.Len(t, fs, 1)
		assert.Equal(t, 3, f.calls)
	})

	t.Run("permanent failure is not retried", func(t *testing.T) {
		permanent := status.Error(codes.NotFound, "nope")
		f := &flaky{ShardManager: storage.NewMemoryStore(), errs: []error{permanent}}
		r := NewRetryingClient(f, 5, time.Millisecond)

		_, err := r.GetForwardings(ctx)
		assert.Equal(t, permanent, err)
		assert.Equal(t, 1, f.calls)
	})

	t.Run("exhaustion returns the last failure unmodified", func(t *testing.T) {
		f := &flaky{ShardManager: storage.NewMemoryStore()}
		r := NewRetryingClient(f, 3, time.Millisecond)

		err := r.ReloadConfig(ctx)
		require.Error(t, err)
		st, ok := status.FromError(err)
		require.True(t, ok)
		assert.Equal(t, codes.Unavailable, st.Code())
		assert.Equal(t, 4, f.calls, "first attempt plus three retries")
	})

	t.Run("zero retries means a single attempt", func(t *testing.T) {
		f := &flaky{ShardManager: storage.NewMemoryStore()}
		r := NewRetryingClient(f, 0, time.Millisecond)

		assert.Error(t, r.ReloadConfig(ctx))
		assert.Equal(t, 1, f.calls)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		f := &flaky{ShardManager: storage.NewMemoryStore()}
		r := NewRetryingClient(f, 1000, 20*time.Millisecond)

		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		assert.Error(t, r.ReloadConfig(cctx))
		assert.Less(t, f.calls, 1000)
	})
}

// TestDryRun verifies mutations are swallowed while reads pass through
func TestDryRun(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	leaf := sid("db1", "a")
	require.NoError(t, store.CreateShard(ctx, cluster.ShardInfo{ID: leaf, ClassName: "SqlShard"}))
	require.NoError(t, store.SetBusy(leaf, true))

	d := DryRun(store)
	assert.True(t, IsDryRun(d))
	assert.False(t, IsDryRun(store))

	require.NoError(t, d.CreateShard(ctx, cluster.ShardInfo{ID: sid("db1", "b"), ClassName: "SqlShard"}))
	require.NoError(t, d.DeleteShard(ctx, leaf))
	require.NoError(t, d.AddLink(ctx, leaf, sid("db1", "b"), 1))
	require.NoError(t, d.RemoveLink(ctx, leaf, sid("db1", "b")))
	require.NoError(t, d.SetForwarding(ctx, cluster.Forwarding{ShardID: leaf}))
	require.NoError(t, d.ReplaceForwarding(ctx, leaf, sid("db1", "b")))
	require.NoError(t, d.CopyShard(ctx, leaf, sid("db1", "b")))
	require.NoError(t, d.ReloadForwardings(ctx))
	require.NoError(t, d.ReloadConfig(ctx))

	info, err := d.GetShard(ctx, leaf)
	require.NoError(t, err)
	assert.Equal(t, leaf, info.ID)

	busy, err := d.GetBusyShards(ctx)
	require.NoError(t, err)
	assert.Empty(t, busy)

	stats := store.Stats()
	assert.Equal(t, 1, stats.Shards)
	assert.Equal(t, 0, stats.Links)
	assert.Equal(t, 0, stats.Forwardings)
	assert.Equal(t, 0, stats.ConfigReloads)
}
