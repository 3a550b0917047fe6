// Package shard models shard trees and their structural signatures, and
// implements the canonical naming scheme for table prefixes.
//
// # Trees
//
// A Shard is one node of the tree hanging off a forwarding's root shard.
// Nodes carry the remote ShardInfo, their children in link discovery order,
// and the weight of the link that leads into them:
//
//	localhost/shard_0001_replicating   (ReplicatingShard, weight 1)
//	├── db1/shard_0001                 (SqlShard, weight 1)
//	└── db2/shard_0001                 (SqlShard, weight 1)
//
// Trees are built by the topology package from a snapshot; this package
// never talks to the network.
//
// # Templates
//
// A Template strips the table prefixes from a tree and keeps everything
// else. Forwardings whose trees share a template can be migrated in one
// batch. Templates are not comparable with ==; use Equal, or Key when a map
// key is needed.
//
// # Canonical Naming
//
// Table prefixes follow the convention base_[table_]NNNN[_suffix], where NNNN
// is a zero padded generation number, table is the table id (n<abs> when
// negative) and suffix names the wrapper type:
//
//	ReplicatingShard, FailingOverShard  replicating
//	ReadOnlyShard                       read_only
//	WriteOnlyShard                      write_only
//	BlockedShard                        blocked
//
// Physical shard types carry no suffix. Enumeration, CanonicalPrefix and
// CanonicalShardIDMap read and write this convention.
package shard
