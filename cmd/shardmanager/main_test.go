package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dreamware/shardtopo/internal/cluster"
	"github.com/dreamware/shardtopo/internal/rpc"
)

const seed = `
shards:
  - id: localhost/shard_0001_replicating
    class_name: ReplicatingShard
  - id: db1/shard_0001
    class_name: SqlShard
links:
  - up_id: localhost/shard_0001_replicating
    down_id: db1/shard_0001
    weight: 1
forwardings:
  - table_id: 0
    base_id: 0
    shard_id: localhost/shard_0001_replicating
`

func TestLoadOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		opts, err := loadOptions()
		require.NoError(t, err)
		assert.Equal(t, ":7917", opts.listen)
		assert.Empty(t, opts.seed)
		assert.Zero(t, opts.copyDelay)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("SHARDMANAGER_LISTEN", "127.0.0.1:0")
		t.Setenv("SHARDMANAGER_SEED", "fleet.yaml")
		t.Setenv("SHARDMANAGER_COPY_DELAY", "150ms")
		opts, err := loadOptions()
		require.NoError(t, err)
		assert.Equal(t, options{listen: "127.0.0.1:0", seed: "fleet.yaml", copyDelay: 150 * time.Millisecond}, opts)
	})

	t.Run("bad delay", func(t *testing.T) {
		t.Setenv("SHARDMANAGER_COPY_DELAY", "later")
		_, err := loadOptions()
		assert.ErrorContains(t, err, "SHARDMANAGER_COPY_DELAY")
	})
}

func TestNewStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	store, err := newStore(options{seed: path})
	require.NoError(t, err)
	st := store.Stats()
	assert.Equal(t, 2, st.Shards)
	assert.Equal(t, 1, st.Links)
	assert.Equal(t, 1, st.Forwardings)

	_, err = newStore(options{seed: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	empty, err := newStore(options{})
	require.NoError(t, err)
	assert.Zero(t, empty.Stats().Shards)
}

func TestServe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))
	store, err := newStore(options{seed: path})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, lis, store) }()

	c, err := rpc.Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	defer c.Close()

	info, err := c.FindCurrentForwarding(context.Background(), 0, 42)
	require.NoError(t, err)
	assert.Equal(t, cluster.ShardID{Hostname: "localhost", TablePrefix: "shard_0001_replicating"}, info.ID)

	_, err = c.GetShard(context.Background(), cluster.ShardID{Hostname: "db9", TablePrefix: "x"})
	assert.True(t, errors.Is(err, cluster.ErrNotFound))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
