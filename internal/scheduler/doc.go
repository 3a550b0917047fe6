// Package scheduler applies a batch of topology-changing jobs to a live
// fleet under admission control.
//
// # Loop
//
// Each iteration of Run:
//
//  1. reloads the fleet's busy shards
//  2. cleans up in-progress jobs none of whose shards is busy
//  3. admits pending jobs, up to MaxCopies minus the busy count, skipping
//     jobs on hosts that reached CopiesPerHost
//  4. prepares the admitted jobs, reloads the fleet config, starts copies
//  5. sleeps PollInterval in twelve ticks, calling the Observer on each
//
// The loop ends when nothing is pending or in progress, and a last config
// reload is broadcast. Jobs run one RPC at a time from this process; only
// the copies they start run concurrently, on the fleet.
//
// # Dry Run
//
// When the Fleet reports DryRun, nothing is ever busy and Run does not
// sleep, so every admitted job is cleaned up on the next iteration. Jobs
// still run their steps; a dry-run fleet turns the mutations into log lines.
package scheduler
