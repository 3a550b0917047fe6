package topology

import (
	"context"
	"fmt"

	"github.com/dreamware/shardtopo/internal/cluster"
)

// SubtreeEntry is one line of a subtree listing.
type SubtreeEntry struct {
	ID    cluster.ShardID
	Depth int
}

// Roots returns the shards without parents reached by following upward links
// from each of ids, in discovery order and without duplicates. A shard with
// no parents is its own root.
func (c *Client) Roots(ctx context.Context, ids ...cluster.ShardID) ([]cluster.ShardID, error) {
	var roots []cluster.ShardID
	found := make(map[cluster.ShardID]bool)

	var climb func(id cluster.ShardID, path map[cluster.ShardID]bool) error
	climb = func(id cluster.ShardID, path map[cluster.ShardID]bool) error {
		if path[id] {
			return fmt.Errorf("%w: %s is its own ancestor", ErrCycle, id)
		}
		links, err := c.ListUpwardLinks(ctx, id)
		if err != nil {
			return fmt.Errorf("list upward links of %s: %w", id, err)
		}
		if len(links) == 0 {
			if !found[id] {
				found[id] = true
				roots = append(roots, id)
			}
			return nil
		}
		path[id] = true
		defer delete(path, id)
		for _, l := range links {
			if err := climb(l.UpID, path); err != nil {
				return err
			}
		}
		return nil
	}

	for _, id := range ids {
		if err := climb(id, make(map[cluster.ShardID]bool)); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

// Subtree lists root and everything below it in pre-order. The root has
// depth 0. A shard reachable along several paths is listed once per path.
func (c *Client) Subtree(ctx context.Context, root cluster.ShardID) ([]SubtreeEntry, error) {
	out := []SubtreeEntry{{ID: root}}
	path := map[cluster.ShardID]bool{root: true}

	var down func(id cluster.ShardID, depth int) error
	down = func(id cluster.ShardID, depth int) error {
		links, err := c.ListDownwardLinks(ctx, id)
		if err != nil {
			return fmt.Errorf("list downward links of %s: %w", id, err)
		}
		for _, l := range links {
			if path[l.DownID] {
				return fmt.Errorf("%w: %s is its own descendant", ErrCycle, l.DownID)
			}
			out = append(out, SubtreeEntry{ID: l.DownID, Depth: depth})
			path[l.DownID] = true
			err := down(l.DownID, depth+1)
			delete(path, l.DownID)
			if err != nil {
				return err
			}
		}
		return nil
	}

	if err := down(root, 1); err != nil {
		return nil, err
	}
	return out, nil
}
