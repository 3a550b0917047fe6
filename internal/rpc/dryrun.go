package rpc

import (
	"context"
	"log"

	"github.com/dreamware/shardtopo/internal/cluster"
)

// DryRun wraps a manager so that reads reach it and mutations are only
// logged. Busy-shard queries are answered with an empty list: in a dry run
// nothing is ever copying.
func DryRun(next ShardManager) ShardManager {
	return dryRun{ShardManager: next}
}

// IsDryRun reports whether m was produced by DryRun.
func IsDryRun(m ShardManager) bool {
	_, ok := m.(dryRun)
	return ok
}

type dryRun struct {
	ShardManager
}

func (d dryRun) SetForwarding(_ context.Context, f cluster.Forwarding) error {
	log.Printf("dry-run: set_forwarding(%s)", f)
	return nil
}

func (d dryRun) ReplaceForwarding(_ context.Context, oldID, newID cluster.ShardID) error {
	log.Printf("dry-run: replace_forwarding(%s, %s)", oldID, newID)
	return nil
}

func (d dryRun) AddLink(_ context.Context, up, down cluster.ShardID, weight int32) error {
	log.Printf("dry-run: add_link(%s, %s, %d)", up, down, weight)
	return nil
}

func (d dryRun) RemoveLink(_ context.Context, up, down cluster.ShardID) error {
	log.Printf("dry-run: remove_link(%s, %s)", up, down)
	return nil
}

func (d dryRun) CreateShard(_ context.Context, info cluster.ShardInfo) error {
	log.Printf("dry-run: create_shard(%s, %s)", info.ID, info.ClassName)
	return nil
}

func (d dryRun) DeleteShard(_ context.Context, id cluster.ShardID) error {
	log.Printf("dry-run: delete_shard(%s)", id)
	return nil
}

func (d dryRun) CopyShard(_ context.Context, from, to cluster.ShardID) error {
	log.Printf("dry-run: copy_shard(%s, %s)", from, to)
	return nil
}

func (d dryRun) GetBusyShards(context.Context) ([]cluster.ShardInfo, error) {
	return nil, nil
}

func (d dryRun) ReloadForwardings(context.Context) error {
	log.Printf("dry-run: reload_forwardings()")
	return nil
}

func (d dryRun) ReloadConfig(context.Context) error {
	log.Printf("dry-run: reload_config()")
	return nil
}
