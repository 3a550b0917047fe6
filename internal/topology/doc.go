// Package topology is the fleet-level client: it talks to one or more shard
// managers and reconstructs a consistent picture of the fleet from several
// independent calls.
//
// # Client
//
// A Client wraps one rpc.RetryingClient per configured host. The first host
// is the primary and serves every single-host call; ReloadForwardings and
// ReloadConfig are broadcast to all hosts so every serving replica picks up
// a topology change.
//
//	client, err := topology.New(topology.Config{Hosts: []string{"ns1", "ns2"}})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// # Traversal
//
// AllLinks walks the link graph from every forwarding root with a fixed pool
// of workers (DefaultParallelism). Results do not depend on the pool size.
// A cycle fails the traversal with ErrCycle instead of looping.
//
// # Manifests
//
// A Manifest joins forwardings, links and the shard inventory into one tree
// per forwarding, and groups the forwardings by tree template:
//
//	forwarding (1, 0) ──► localhost/shard_0001_replicating
//	                        ├── db1/shard_0001
//	                        └── db2/shard_0001
//
// Links and inventory are fetched separately. A link pointing at a shard the
// inventory does not know fails the build with ErrShardInfoNotFound; no
// partial manifest is returned.
//
// # Subtrees and health
//
// Roots climbs upward links to the parentless shards above a set of ids, and
// Subtree lists everything below one root. HealthMonitor probes each host
// directly, without retries, and reports hosts that keep failing.
package topology
