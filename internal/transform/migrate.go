package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dreamware/shardtopo/internal/cluster"
	"github.com/dreamware/shardtopo/internal/rpc"
	"github.com/dreamware/shardtopo/internal/scheduler"
	"github.com/dreamware/shardtopo/internal/shard"
)

// ShardPackage qualifies the wrapper class names created by migrations.
const ShardPackage = "com.twitter.gizzard.shards."

// ErrPrecondition matches every UplinkError.
var ErrPrecondition = errors.New("topology precondition failed")

// UplinkError reports a shard whose parents are not the ones a migration
// step expects. Passing Force skips these checks.
type UplinkError struct {
	Shard cluster.ShardID
	Want  []cluster.ShardID
	Got   []cluster.ShardID
}

// Error names the shard and both uplink sets.
func (e *UplinkError) Error() string {
	return fmt.Sprintf("uplinks of %s are %s, want %s", e.Shard, idList(e.Got), idList(e.Want))
}

// Is reports whether target is ErrPrecondition.
func (e *UplinkError) Is(target error) bool {
	return target == ErrPrecondition
}

func idList(ids []cluster.ShardID) string {
	if len(ids) == 0 {
		return "[]"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// MigrationShards returns the write-only barrier and the replica a migration
// to dest puts in place.
func MigrationShards(dest cluster.ShardID) (writeOnly, replica cluster.ShardID) {
	writeOnly = cluster.ShardID{Hostname: "localhost", TablePrefix: dest.TablePrefix + "_migrate_write_only"}
	replica = cluster.ShardID{Hostname: "localhost", TablePrefix: dest.TablePrefix + "_migrate_replica"}
	return writeOnly, replica
}

// SetupMigrate puts from behind a replicating shard that also writes to to
// through a write-only barrier:
//
//	parents ──► replica ─┬─(1)─► from
//	                     └─(0)─► write_only ─(1)─► to
//
// The forwarding that pointed at from now points at the replica, which is
// returned. to must not have any parents yet.
func SetupMigrate(ctx context.Context, m rpc.ShardManager, from, to cluster.ShardID) (cluster.ShardID, error) {
	up, err := m.ListUpwardLinks(ctx, to)
	if err != nil {
		return cluster.ShardID{}, err
	}
	if len(up) > 0 {
		return cluster.ShardID{}, &UplinkError{Shard: to, Got: upIDs(up)}
	}

	writeOnly, replica := MigrationShards(to)
	if err := m.CreateShard(ctx, cluster.ShardInfo{ID: writeOnly, ClassName: ShardPackage + shard.WriteOnlyShard}); err != nil {
		return cluster.ShardID{}, fmt.Errorf("create %s: %w", writeOnly, err)
	}
	if err := m.CreateShard(ctx, cluster.ShardInfo{ID: replica, ClassName: ShardPackage + shard.ReplicatingShard}); err != nil {
		return cluster.ShardID{}, fmt.Errorf("create %s: %w", replica, err)
	}
	if err := m.AddLink(ctx, writeOnly, to, 1); err != nil {
		return cluster.ShardID{}, err
	}

	parents, err := m.ListUpwardLinks(ctx, from)
	if err != nil {
		return cluster.ShardID{}, err
	}
	for _, l := range parents {
		if err := m.RemoveLink(ctx, l.UpID, l.DownID); err != nil {
			return cluster.ShardID{}, err
		}
		if err := m.AddLink(ctx, l.UpID, replica, l.Weight); err != nil {
			return cluster.ShardID{}, err
		}
	}

	if err := m.AddLink(ctx, replica, from, 1); err != nil {
		return cluster.ShardID{}, err
	}
	if err := m.AddLink(ctx, replica, writeOnly, 0); err != nil {
		return cluster.ShardID{}, err
	}
	if err := replaceForwarding(ctx, m, from, replica); err != nil {
		return cluster.ShardID{}, err
	}
	return replica, nil
}

// FinishMigrate removes the scaffolding of SetupMigrate once the copy is
// done, leaving to in from's place. Unless force is set it first checks
// that the scaffolding is intact and returns an UplinkError otherwise.
func FinishMigrate(ctx context.Context, m rpc.ShardManager, from, to cluster.ShardID, force bool) error {
	writeOnly, replica := MigrationShards(to)

	if !force {
		checks := []struct {
			shard, parent cluster.ShardID
		}{
			{from, replica},
			{to, writeOnly},
			{writeOnly, replica},
		}
		for _, c := range checks {
			if err := expectSingleParent(ctx, m, c.shard, c.parent); err != nil {
				return err
			}
		}
	}

	if err := m.RemoveLink(ctx, writeOnly, to); err != nil {
		return err
	}
	parents, err := m.ListUpwardLinks(ctx, replica)
	if err != nil {
		return err
	}
	for _, l := range parents {
		if err := m.RemoveLink(ctx, l.UpID, l.DownID); err != nil {
			return err
		}
		if err := m.AddLink(ctx, l.UpID, to, l.Weight); err != nil {
			return err
		}
	}
	if err := replaceForwarding(ctx, m, replica, to); err != nil {
		return err
	}
	if err := m.DeleteShard(ctx, replica); err != nil {
		return fmt.Errorf("delete %s: %w", replica, err)
	}
	if err := m.DeleteShard(ctx, writeOnly); err != nil {
		return fmt.Errorf("delete %s: %w", writeOnly, err)
	}
	return nil
}

// replaceForwarding repoints forwardings from oldID to newID. A shard that
// is not a forwarding root has nothing to repoint.
func replaceForwarding(ctx context.Context, m rpc.ShardManager, oldID, newID cluster.ShardID) error {
	err := m.ReplaceForwarding(ctx, oldID, newID)
	if err != nil && !errors.Is(err, cluster.ErrNotFound) {
		return fmt.Errorf("replace forwarding %s -> %s: %w", oldID, newID, err)
	}
	return nil
}

func expectSingleParent(ctx context.Context, m rpc.ShardManager, id, parent cluster.ShardID) error {
	up, err := m.ListUpwardLinks(ctx, id)
	if err != nil {
		return err
	}
	got := upIDs(up)
	if len(got) != 1 || got[0] != parent {
		return &UplinkError{Shard: id, Want: []cluster.ShardID{parent}, Got: got}
	}
	return nil
}

func upIDs(links []cluster.LinkInfo) []cluster.ShardID {
	out := make([]cluster.ShardID, len(links))
	for i, l := range links {
		out[i] = l.UpID
	}
	return out
}

// Migration moves the data of Source onto Destination as a scheduler job:
// SetupMigrate on prepare, a copy, FinishMigrate on cleanup.
type Migration struct {
	Source      cluster.ShardID
	Destination cluster.ShardID
	// Force skips the scaffolding checks on cleanup.
	Force bool
}

var _ scheduler.Job = Migration{}

// InvolvedHosts returns the source and destination hostnames.
func (j Migration) InvolvedHosts() []string {
	if j.Source.Hostname == j.Destination.Hostname {
		return []string{j.Source.Hostname}
	}
	return []string{j.Source.Hostname, j.Destination.Hostname}
}

// InvolvedShards returns the source and destination.
func (j Migration) InvolvedShards() []cluster.ShardID {
	return []cluster.ShardID{j.Source, j.Destination}
}

// CopyRequired is always true; a migration copies the source.
func (j Migration) CopyRequired() bool { return true }

// Prepare runs SetupMigrate.
func (j Migration) Prepare(ctx context.Context, m rpc.ShardManager) error {
	_, err := SetupMigrate(ctx, m, j.Source, j.Destination)
	return err
}

// Copy starts copying the source into the destination.
func (j Migration) Copy(ctx context.Context, m rpc.ShardManager) error {
	return m.CopyShard(ctx, j.Source, j.Destination)
}

// Cleanup runs FinishMigrate. In a dry run SetupMigrate changed nothing, so
// the scaffolding checks are skipped.
func (j Migration) Cleanup(ctx context.Context, m rpc.ShardManager) error {
	return FinishMigrate(ctx, m, j.Source, j.Destination, j.Force || dryRun(m))
}

func dryRun(m rpc.ShardManager) bool {
	if f, ok := m.(interface{ DryRun() bool }); ok {
		return f.DryRun()
	}
	return rpc.IsDryRun(m)
}

// Describe names the step run in phase p.
func (j Migration) Describe(p scheduler.Phase) string {
	switch p {
	case scheduler.PhasePrepare:
		return fmt.Sprintf("setup migrate %s -> %s", j.Source, j.Destination)
	case scheduler.PhaseCopy:
		return fmt.Sprintf("copy %s -> %s", j.Source, j.Destination)
	case scheduler.PhaseCleanup:
		return fmt.Sprintf("finish migrate %s -> %s", j.Source, j.Destination)
	}
	return fmt.Sprintf("migrate %s -> %s", j.Source, j.Destination)
}
