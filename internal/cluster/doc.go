// Package cluster defines the identities and metadata records shared by every
// part of shardtopo: shard ids, shard infos, links and forwardings.
//
// # Overview
//
// A fleet is a forest of shards. Each shard lives on a host and is named by a
// table prefix; together they form a ShardID whose textual form is
// "hostname/table_prefix". Shards are connected by weighted directed links
// (replication and fan-out), and forwardings map a (table id, base id) range
// key to the root shard of one tree:
//
//	Forwarding(table=1, base=0)
//	        │
//	        ▼
//	┌──────────────────────────┐
//	│ localhost/shard_0001_rep │  ReplicatingShard
//	└──────┬────────────┬──────┘
//	   w=1 │            │ w=1
//	       ▼            ▼
//	┌────────────┐ ┌────────────┐
//	│ db1/s_0001 │ │ db2/s_0001 │  SqlShard
//	└────────────┘ └────────────┘
//
// # Records
//
// ShardID: immutable identity, comparable, usable as a map key.
//
// ShardInfo: class name (an opaque implementation tag), source and
// destination types, and the busy flag the remote service sets while a copy
// into the shard is running.
//
// LinkInfo: (up, down, weight). The full triple is the identity; the same
// endpoint pair observed with two weights yields two distinct links.
//
// Forwarding: (table id, base id, shard id). Comparable, usable as a map key.
//
// # Errors
//
// The sentinel errors declared here (ErrNotFound, ErrAlreadyExists,
// ErrInvalidArgument, ErrMalformedResponse) are shared by the in-memory
// reference store, the gRPC server which maps them to status codes, and the
// gRPC client which maps the codes back. Callers match them with errors.Is.
//
// # Serialization
//
// All records carry json tags (the gRPC codec is JSON) and yaml tags (fleet
// seed files and manifest dumps).
package cluster
