// Package rpc carries the shard-management service over gRPC.
//
// The service is described by the ShardManager interface. The same interface
// is implemented by the gRPC client (Client), by the retry wrapper
// (RetryingClient), by the dry-run wrapper (DryRun) and by the in-memory
// reference store in internal/storage, so every layer can be stacked on any
// other. Messages travel as JSON through a codec registered under the "json"
// content-subtype; no generated stubs are involved.
package rpc

import (
	"context"

	"github.com/dreamware/shardtopo/internal/cluster"
)

// DefaultPort is the port a shard manager listens on when a host is given
// without one.
const DefaultPort = 7917

// ShardManager is the full operation set of a remote shard-management service.
type ShardManager interface {
	GetForwardings(ctx context.Context) ([]cluster.Forwarding, error)
	SetForwarding(ctx context.Context, f cluster.Forwarding) error
	ReplaceForwarding(ctx context.Context, oldID, newID cluster.ShardID) error
	FindCurrentForwarding(ctx context.Context, tableID int32, baseID int64) (cluster.ShardInfo, error)

	ListDownwardLinks(ctx context.Context, id cluster.ShardID) ([]cluster.LinkInfo, error)
	ListUpwardLinks(ctx context.Context, id cluster.ShardID) ([]cluster.LinkInfo, error)
	AddLink(ctx context.Context, up, down cluster.ShardID, weight int32) error
	RemoveLink(ctx context.Context, up, down cluster.ShardID) error

	ListHostnames(ctx context.Context) ([]string, error)
	ShardsForHostname(ctx context.Context, hostname string) ([]cluster.ShardInfo, error)
	GetShard(ctx context.Context, id cluster.ShardID) (cluster.ShardInfo, error)
	CreateShard(ctx context.Context, info cluster.ShardInfo) error
	DeleteShard(ctx context.Context, id cluster.ShardID) error

	GetBusyShards(ctx context.Context) ([]cluster.ShardInfo, error)
	CopyShard(ctx context.Context, from, to cluster.ShardID) error

	ReloadForwardings(ctx context.Context) error
	ReloadConfig(ctx context.Context) error
}

const serviceName = "shardtopo.ShardManager"

// Request and response messages. Every RPC has its own pair so the wire
// format can grow without touching the interface.

type empty struct{}

type shardIDRequest struct {
	ID cluster.ShardID `json:"id"`
}

type linkRequest struct {
	Up     cluster.ShardID `json:"up"`
	Down   cluster.ShardID `json:"down"`
	Weight int32           `json:"weight,omitempty"`
}

type replaceForwardingRequest struct {
	Old cluster.ShardID `json:"old"`
	New cluster.ShardID `json:"new"`
}

type findForwardingRequest struct {
	TableID int32 `json:"table_id"`
	BaseID  int64 `json:"base_id"`
}

type hostnameRequest struct {
	Hostname string `json:"hostname"`
}

type copyRequest struct {
	From cluster.ShardID `json:"from"`
	To   cluster.ShardID `json:"to"`
}

type forwardingsResponse struct {
	Forwardings []cluster.Forwarding `json:"forwardings"`
}

type linksResponse struct {
	Links []cluster.LinkInfo `json:"links"`
}

type hostnamesResponse struct {
	Hostnames []string `json:"hostnames"`
}

type shardsResponse struct {
	Shards []cluster.ShardInfo `json:"shards"`
}

type shardResponse struct {
	Shard *cluster.ShardInfo `json:"shard"`
}
