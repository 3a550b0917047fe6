// Package storage provides MemoryStore, an in-memory shard manager.
//
// MemoryStore keeps the same metadata a production shard-management service
// keeps (shard infos, weighted links, forwardings and busy flags) and
// implements the full rpc.ShardManager operation set. It never holds
// partition data.
//
// It is used in two places:
//   - cmd/shardmanager serves it over gRPC as a development fleet, optionally
//     seeded from a YAML file (see LoadFleet).
//   - Tests of rpc, topology, scheduler and transform use it as the remote
//     service, either directly or behind an in-process gRPC server.
//
// # Semantics
//
// Links are listed in insertion order, which is the child order seen by tree
// builders. Adding an existing (up, down) pair updates its weight. Removing a
// link that does not exist is not an error. Deleting a shard removes every
// link that touches it.
//
// CopyShard marks the destination busy for the configured copy delay and
// then clears the flag, mimicking a remote copy that runs on its own. With a
// zero delay copies finish immediately; tests drive the flag with SetBusy.
//
// # Thread Safety
//
// All methods are safe for concurrent use. A single RWMutex guards the maps
// and slices; returned slices are copies.
package storage
