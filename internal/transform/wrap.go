package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dreamware/shardtopo/internal/cluster"
	"github.com/dreamware/shardtopo/internal/rpc"
	"github.com/dreamware/shardtopo/internal/shard"
)

// WrapperID names the wrapper of class className placed above id, e.g. a
// ReadOnlyShard above db1/shard_0001 is localhost/readonly_shard_0001.
func WrapperID(id cluster.ShardID, className string) cluster.ShardID {
	kind := strings.ReplaceAll(strings.ToLower(shard.BaseClassName(className)), "shard", "")
	return cluster.ShardID{Hostname: "localhost", TablePrefix: kind + "_" + id.TablePrefix}
}

// Wrap inserts a className shard between id and its parents. Running it
// again for the same shard and class is a no-op.
func Wrap(ctx context.Context, m rpc.ShardManager, className string, id cluster.ShardID) (cluster.ShardID, error) {
	if _, err := m.GetShard(ctx, id); err != nil {
		return cluster.ShardID{}, fmt.Errorf("get %s: %w", id, err)
	}
	wrapper := WrapperID(id, className)
	err := m.CreateShard(ctx, cluster.ShardInfo{ID: wrapper, ClassName: className})
	if err != nil && !errors.Is(err, cluster.ErrAlreadyExists) {
		return cluster.ShardID{}, fmt.Errorf("create %s: %w", wrapper, err)
	}

	parents, err := m.ListUpwardLinks(ctx, id)
	if err != nil {
		return cluster.ShardID{}, err
	}
	for _, l := range parents {
		if l.UpID == wrapper {
			return wrapper, nil
		}
	}

	if err := m.AddLink(ctx, wrapper, id, 1); err != nil {
		return cluster.ShardID{}, err
	}
	for _, l := range parents {
		if err := m.AddLink(ctx, l.UpID, wrapper, l.Weight); err != nil {
			return cluster.ShardID{}, err
		}
		if err := m.RemoveLink(ctx, l.UpID, l.DownID); err != nil {
			return cluster.ShardID{}, err
		}
	}
	if err := replaceForwarding(ctx, m, id, wrapper); err != nil {
		return cluster.ShardID{}, err
	}
	return wrapper, nil
}

// Unwrap removes id from the graph, linking each of its parents straight to
// each of its children with the parent link's weight, and deletes it. It
// returns the links it created.
func Unwrap(ctx context.Context, m rpc.ShardManager, id cluster.ShardID) ([]cluster.LinkInfo, error) {
	parents, err := m.ListUpwardLinks(ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := m.ListDownwardLinks(ctx, id)
	if err != nil {
		return nil, err
	}

	var created []cluster.LinkInfo
	for _, up := range parents {
		for _, down := range children {
			link := cluster.LinkInfo{UpID: up.UpID, DownID: down.DownID, Weight: up.Weight}
			if err := m.AddLink(ctx, link.UpID, link.DownID, link.Weight); err != nil {
				return created, err
			}
			created = append(created, link)
		}
	}
	for _, up := range parents {
		if err := m.RemoveLink(ctx, up.UpID, id); err != nil {
			return created, err
		}
	}
	for _, down := range children {
		if err := m.RemoveLink(ctx, id, down.DownID); err != nil {
			return created, err
		}
	}
	if len(parents) == 0 && len(children) == 1 {
		if err := replaceForwarding(ctx, m, id, children[0].DownID); err != nil {
			return created, err
		}
	}
	if err := m.DeleteShard(ctx, id); err != nil {
		return created, fmt.Errorf("delete %s: %w", id, err)
	}
	return created, nil
}
