package transform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardtopo/internal/cluster"
	"github.com/dreamware/shardtopo/internal/rpc"
	"github.com/dreamware/shardtopo/internal/scheduler"
	"github.com/dreamware/shardtopo/internal/storage"
	"github.com/dreamware/shardtopo/internal/topology"
)

var (
	root = cluster.ShardID{Hostname: "localhost", TablePrefix: "shard_0001_replicating"}
	db1  = cluster.ShardID{Hostname: "db1", TablePrefix: "shard_0001"}
	db2  = cluster.ShardID{Hostname: "db2", TablePrefix: "shard_0001"}
	db3  = cluster.ShardID{Hostname: "db3", TablePrefix: "shard_0001"}
)

func fleet(t *testing.T) *storage.MemoryStore {
	t.Helper()
	m := storage.NewMemoryStore()
	require.NoError(t, m.Seed(storage.Fleet{
		Shards: []cluster.ShardInfo{
			{ID: root, ClassName: "ReplicatingShard"},
			{ID: db1, ClassName: "SqlShard"},
			{ID: db2, ClassName: "SqlShard"},
			{ID: db3, ClassName: "SqlShard"},
		},
		Links: []cluster.LinkInfo{
			{UpID: root, DownID: db1, Weight: 1},
			{UpID: root, DownID: db2, Weight: 1},
		},
		Forwardings: []cluster.Forwarding{{TableID: 1, BaseID: 0, ShardID: root}},
	}))
	return m
}

func downlinks(t *testing.T, m rpc.ShardManager, id cluster.ShardID) []cluster.LinkInfo {
	t.Helper()
	links, err := m.ListDownwardLinks(context.Background(), id)
	require.NoError(t, err)
	return links
}

// TestMigrateRoundTrip tests the scaffolding set up and torn down around a copy
func TestMigrateRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := fleet(t)
	writeOnly, replica := MigrationShards(db3)

	got, err := SetupMigrate(ctx, m, db1, db3)
	require.NoError(t, err)
	assert.Equal(t, replica, got)

	assert.Equal(t, []cluster.LinkInfo{
		{UpID: root, DownID: db2, Weight: 1},
		{UpID: root, DownID: replica, Weight: 1},
	}, downlinks(t, m, root))
	assert.Equal(t, []cluster.LinkInfo{
		{UpID: replica, DownID: db1, Weight: 1},
		{UpID: replica, DownID: writeOnly, Weight: 0},
	}, downlinks(t, m, replica))
	assert.Equal(t, []cluster.LinkInfo{{UpID: writeOnly, DownID: db3, Weight: 1}}, downlinks(t, m, writeOnly))

	info, err := m.GetShard(ctx, writeOnly)
	require.NoError(t, err)
	assert.Equal(t, "com.twitter.gizzard.shards.WriteOnlyShard", info.ClassName)

	require.NoError(t, FinishMigrate(ctx, m, db1, db3, false))

	assert.Equal(t, []cluster.LinkInfo{
		{UpID: root, DownID: db2, Weight: 1},
		{UpID: root, DownID: db3, Weight: 1},
	}, downlinks(t, m, root))
	_, err = m.GetShard(ctx, replica)
	assert.True(t, errors.Is(err, cluster.ErrNotFound))
	_, err = m.GetShard(ctx, writeOnly)
	assert.True(t, errors.Is(err, cluster.ErrNotFound))

	fs, err := m.GetForwardings(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, fs[0].ShardID)
}

// TestMigrateForwardedRoot verifies the forwarding follows a migrated root
func TestMigrateForwardedRoot(t *testing.T) {
	ctx := context.Background()
	m := fleet(t)
	dest := cluster.ShardID{Hostname: "localhost", TablePrefix: "shard_0002_replicating"}
	require.NoError(t, m.CreateShard(ctx, cluster.ShardInfo{ID: dest, ClassName: "ReplicatingShard"}))
	_, replica := MigrationShards(dest)

	_, err := SetupMigrate(ctx, m, root, dest)
	require.NoError(t, err)
	info, err := m.FindCurrentForwarding(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, replica, info.ID)

	require.NoError(t, FinishMigrate(ctx, m, root, dest, false))
	info, err = m.FindCurrentForwarding(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, dest, info.ID)
}

// TestMigratePreconditions tests the uplink checks and the force override
func TestMigratePreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("destination already linked", func(t *testing.T) {
		m := fleet(t)
		_, err := SetupMigrate(ctx, m, db1, db2)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPrecondition))

		var ue *UplinkError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, db2, ue.Shard)
		assert.Equal(t, []cluster.ShardID{root}, ue.Got)
		assert.Equal(t, 4, m.Stats().Shards, "nothing created")
	})

	t.Run("finish without setup", func(t *testing.T) {
		m := fleet(t)
		err := FinishMigrate(ctx, m, db1, db3, false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPrecondition))
		assert.Contains(t, err.Error(), db1.String())
		assert.Len(t, downlinks(t, m, root), 2, "topology untouched")
	})

	t.Run("tampered scaffolding", func(t *testing.T) {
		m := fleet(t)
		_, err := SetupMigrate(ctx, m, db1, db3)
		require.NoError(t, err)
		writeOnly, _ := MigrationShards(db3)
		require.NoError(t, m.AddLink(ctx, root, writeOnly, 1))

		err = FinishMigrate(ctx, m, db1, db3, false)
		var ue *UplinkError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, writeOnly, ue.Shard)

		require.NoError(t, FinishMigrate(ctx, m, db1, db3, true))
		assert.Equal(t, 4, m.Stats().Shards)
	})
}

func TestMigrationJob(t *testing.T) {
	j := Migration{Source: db1, Destination: db3}
	assert.Equal(t, []string{"db1", "db3"}, j.InvolvedHosts())
	assert.Equal(t, []cluster.ShardID{db1, db3}, j.InvolvedShards())
	assert.True(t, j.CopyRequired())
	assert.Equal(t, "setup migrate db1/shard_0001 -> db3/shard_0001", j.Describe(scheduler.PhasePrepare))
	assert.Equal(t, "copy db1/shard_0001 -> db3/shard_0001", j.Describe(scheduler.PhaseCopy))

	same := Migration{Source: db1, Destination: cluster.ShardID{Hostname: "db1", TablePrefix: "shard_0009"}}
	assert.Equal(t, []string{"db1"}, same.InvolvedHosts())
}

// TestScheduledMigrations runs two migrations through the scheduler against a
// store whose copies take time
func TestScheduledMigrations(t *testing.T) {
	ctx := context.Background()
	m := fleet(t)
	db4 := cluster.ShardID{Hostname: "db4", TablePrefix: "shard_0001"}
	require.NoError(t, m.CreateShard(ctx, cluster.ShardInfo{ID: db4, ClassName: "SqlShard"}))
	m.SetCopyDelay(30 * time.Millisecond)

	client, err := topology.NewWithManagers(topology.Config{Hosts: []string{"ns1"}}, m)
	require.NoError(t, err)

	jobs := []scheduler.Job{
		Migration{Source: db1, Destination: db3},
		Migration{Source: db2, Destination: db4},
	}
	s := scheduler.New(client, jobs, scheduler.Options{MaxCopies: 1, PollInterval: 12 * time.Millisecond})
	require.NoError(t, s.Run(ctx))
	assert.Len(t, s.Finished(), 2)

	assert.Equal(t, []cluster.LinkInfo{
		{UpID: root, DownID: db3, Weight: 1},
		{UpID: root, DownID: db4, Weight: 1},
	}, downlinks(t, m, root))
	assert.Equal(t, 0, m.Stats().Busy)
	assert.Equal(t, 3, m.Stats().ConfigReloads)

	man, err := client.Manifest(ctx)
	require.NoError(t, err)
	require.Len(t, man.Templates, 1)
}

// TestDryRunMigration verifies a dry run leaves the fleet untouched
func TestDryRunMigration(t *testing.T) {
	ctx := context.Background()
	m := fleet(t)
	client, err := topology.NewWithManagers(topology.Config{DryRun: true}, m)
	require.NoError(t, err)

	s := scheduler.New(client, []scheduler.Job{Migration{Source: db1, Destination: db3}}, scheduler.Options{})
	require.NoError(t, s.Run(ctx))

	assert.Len(t, s.Finished(), 1)
	assert.Equal(t, 4, m.Stats().Shards)
	assert.Equal(t, 2, m.Stats().Links)
	assert.Equal(t, 0, m.Stats().ConfigReloads)
}

// TestWrapUnwrap tests inserting and removing a wrapper shard
func TestWrapUnwrap(t *testing.T) {
	ctx := context.Background()
	m := fleet(t)
	wrapper := cluster.ShardID{Hostname: "localhost", TablePrefix: "readonly_shard_0001"}
	assert.Equal(t, wrapper, WrapperID(db1, "com.twitter.gizzard.shards.ReadOnlyShard"))

	got, err := Wrap(ctx, m, "ReadOnlyShard", db1)
	require.NoError(t, err)
	assert.Equal(t, wrapper, got)
	assert.Equal(t, []cluster.LinkInfo{
		{UpID: root, DownID: db2, Weight: 1},
		{UpID: root, DownID: wrapper, Weight: 1},
	}, downlinks(t, m, root))
	assert.Equal(t, []cluster.LinkInfo{{UpID: wrapper, DownID: db1, Weight: 1}}, downlinks(t, m, wrapper))

	links := m.Stats().Links
	_, err = Wrap(ctx, m, "ReadOnlyShard", db1)
	require.NoError(t, err)
	assert.Equal(t, links, m.Stats().Links, "wrapping twice is a no-op")

	created, err := Unwrap(ctx, m, wrapper)
	require.NoError(t, err)
	assert.Equal(t, []cluster.LinkInfo{{UpID: root, DownID: db1, Weight: 1}}, created)
	_, err = m.GetShard(ctx, wrapper)
	assert.True(t, errors.Is(err, cluster.ErrNotFound))

	_, err = Wrap(ctx, m, "ReadOnlyShard", cluster.ShardID{Hostname: "db9", TablePrefix: "none"})
	assert.True(t, errors.Is(err, cluster.ErrNotFound))
}

// TestWrapRoot verifies wrapping a forwarded root moves the forwarding
func TestWrapRoot(t *testing.T) {
	ctx := context.Background()
	m := fleet(t)

	wrapper, err := Wrap(ctx, m, "BlockedShard", root)
	require.NoError(t, err)
	assert.Equal(t, "blocked_shard_0001_replicating", wrapper.TablePrefix)

	info, err := m.FindCurrentForwarding(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, wrapper, info.ID)

	created, err := Unwrap(ctx, m, wrapper)
	require.NoError(t, err)
	assert.Empty(t, created)
	info, err = m.FindCurrentForwarding(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, root, info.ID)
}
