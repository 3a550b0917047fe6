// Package transform holds the topology edits an operator applies to a live
// fleet: wrapping and unwrapping shards, and migrating a shard's data to a
// new one.
//
// Migration is a scheduler.Job. SetupMigrate and FinishMigrate are its
// prepare and cleanup steps and can also be run one at a time from the
// command line. Every function issues plain rpc.ShardManager calls; pass a
// dry-run manager to preview them.
package transform
