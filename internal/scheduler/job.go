package scheduler

import (
	"context"

	"github.com/dreamware/shardtopo/internal/cluster"
	"github.com/dreamware/shardtopo/internal/rpc"
)

// Phase names a step of a job's lifecycle.
type Phase int

const (
	PhasePrepare Phase = iota
	PhaseCopy
	PhaseCleanup
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhasePrepare:
		return "prepare"
	case PhaseCopy:
		return "copy"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// Job is one unit of topology change driven by the Scheduler.
//
// Lifecycle:
//  1. Prepare rewires the topology so the copy can run safely
//  2. Copy starts a copy on the fleet when CopyRequired; it returns once the
//     copy has been started, and the fleet reports the involved shards busy
//     until it completes
//  3. Cleanup removes the scaffolding once none of InvolvedShards is busy
//
// Each step may issue any number of calls through the manager it is given.
type Job interface {
	InvolvedHosts() []string
	InvolvedShards() []cluster.ShardID
	CopyRequired() bool
	Prepare(ctx context.Context, m rpc.ShardManager) error
	Copy(ctx context.Context, m rpc.ShardManager) error
	Cleanup(ctx context.Context, m rpc.ShardManager) error
	// Describe returns a one-line description of what the phase does.
	Describe(p Phase) string
}

// Fleet is what the scheduler drives jobs against. topology.Client
// implements it.
type Fleet interface {
	rpc.ShardManager
	DryRun() bool
}
