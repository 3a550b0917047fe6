package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardtopo/internal/cluster"
)

func TestSubtree(t *testing.T) {
	ctx := context.Background()
	store := buildFleet(t, 1, 2, 2)
	c := newClient(t, 1, store)
	root := sid("localhost", "shard_0000_replicating")

	entries, err := c.Subtree(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []SubtreeEntry{
		{ID: root, Depth: 0},
		{ID: sid("db0", "shard_0000_replicating_0"), Depth: 1},
		{ID: sid("db0", "shard_0000_replicating_0_0"), Depth: 2},
		{ID: sid("db1", "shard_0000_replicating_0_1"), Depth: 2},
		{ID: sid("db1", "shard_0000_replicating_1"), Depth: 1},
		{ID: sid("db0", "shard_0000_replicating_1_0"), Depth: 2},
		{ID: sid("db1", "shard_0000_replicating_1_1"), Depth: 2},
	}, entries)

	leaf := sid("db1", "shard_0000_replicating_1_1")
	entries, err = c.Subtree(ctx, leaf)
	require.NoError(t, err)
	assert.Equal(t, []SubtreeEntry{{ID: leaf}}, entries)
}

func TestRoots(t *testing.T) {
	ctx := context.Background()
	store := buildFleet(t, 1, 2, 2)
	root := sid("localhost", "shard_0000_replicating")
	other := sid("localhost", "shard_0009_replicating")
	mid := sid("db0", "shard_0000_replicating_0")
	require.NoError(t, store.CreateShard(ctx, cluster.ShardInfo{ID: other, ClassName: "ReplicatingShard"}))
	require.NoError(t, store.AddLink(ctx, other, mid, 1))
	c := newClient(t, 1, store)

	roots, err := c.Roots(ctx,
		sid("db0", "shard_0000_replicating_0_0"),
		sid("db1", "shard_0000_replicating_1_1"),
		root,
	)
	require.NoError(t, err)
	assert.Equal(t, []cluster.ShardID{root, other}, roots)

	roots, err = c.Roots(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, []cluster.ShardID{other}, roots)
}

func TestSubtreeDetectsCycles(t *testing.T) {
	ctx := context.Background()
	store := buildFleet(t, 1, 2, 1)
	root := sid("localhost", "shard_0000_replicating")
	leaf := sid("db0", "shard_0000_replicating_0_0")
	require.NoError(t, store.AddLink(ctx, leaf, root, 1))
	c := newClient(t, 1, store)

	_, err := c.Subtree(ctx, root)
	assert.True(t, errors.Is(err, ErrCycle), "got %v", err)
	_, err = c.Roots(ctx, leaf)
	assert.True(t, errors.Is(err, ErrCycle), "got %v", err)
}
