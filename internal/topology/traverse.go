package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dreamware/shardtopo/internal/cluster"
)

// ErrCycle is returned when the link graph below a forwarding loops back on itself.
var ErrCycle = errors.New("cycle in shard link graph")

// AllLinks discovers every downward link reachable from the root shards of
// forwardings. With a nil slice the forwardings are fetched from the primary
// first; an empty, non-nil slice yields no links.
//
// Implementation:
//  1. Root ids go into a shared queue
//  2. A fixed pool of workers pops roots and expands each one depth first
//  3. Every worker keeps its own visited set, so a node picked up by two
//     workers at once is fetched twice; the shared result set absorbs that
//  4. Links are deduplicated on (up, down, weight), so a weight changing
//     mid-traversal yields two entries
//
// The result lists each node's links in the order the service returned them.
// The first failure, after retries, stops all workers and no partial result
// is returned.
func (c *Client) AllLinks(ctx context.Context, forwardings []cluster.Forwarding) ([]cluster.LinkInfo, error) {
	if forwardings == nil {
		var err error
		forwardings, err = c.GetForwardings(ctx)
		if err != nil {
			return nil, fmt.Errorf("get forwardings: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := &traversal{
		queue: make([]cluster.ShardID, 0, len(forwardings)),
		seen:  make(map[cluster.LinkInfo]struct{}),
	}
	for _, f := range forwardings {
		t.queue = append(t.queue, f.ShardID)
	}

	workers := c.parallelism
	if workers > len(t.queue) {
		workers = len(t.queue)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := &walker{
				client: c,
				t:      t,
				done:   make(map[cluster.ShardID]bool),
				onPath: make(map[cluster.ShardID]bool),
			}
			for {
				root, ok := t.pop()
				if !ok {
					return
				}
				if err := w.expand(ctx, root); err != nil {
					t.fail(err)
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()

	if t.err != nil {
		return nil, t.err
	}
	return t.links, nil
}

// traversal is the state shared by all workers of one AllLinks call.
type traversal struct {
	mu    sync.Mutex
	queue []cluster.ShardID
	links []cluster.LinkInfo
	seen  map[cluster.LinkInfo]struct{}
	err   error
}

func (t *traversal) pop() (cluster.ShardID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil || len(t.queue) == 0 {
		return cluster.ShardID{}, false
	}
	id := t.queue[len(t.queue)-1]
	t.queue = t.queue[:len(t.queue)-1]
	return id, true
}

func (t *traversal) record(links []cluster.LinkInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range links {
		if _, ok := t.seen[l]; ok {
			continue
		}
		t.seen[l] = struct{}{}
		t.links = append(t.links, l)
	}
}

func (t *traversal) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

// walker is one traversal worker. done holds fully expanded nodes and onPath
// the nodes of the current descent.
type walker struct {
	client *Client
	t      *traversal
	done   map[cluster.ShardID]bool
	onPath map[cluster.ShardID]bool
}

func (w *walker) expand(ctx context.Context, id cluster.ShardID) error {
	if w.onPath[id] {
		return fmt.Errorf("%w: %s is its own descendant", ErrCycle, id)
	}
	if w.done[id] {
		return nil
	}

	links, err := w.client.ListDownwardLinks(ctx, id)
	if err != nil {
		return fmt.Errorf("list downward links of %s: %w", id, err)
	}
	w.t.record(links)

	w.onPath[id] = true
	for _, l := range links {
		if err := w.expand(ctx, l.DownID); err != nil {
			return err
		}
	}
	delete(w.onPath, id)
	w.done[id] = true
	return nil
}
