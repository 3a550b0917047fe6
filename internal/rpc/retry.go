package rpc

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenk/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dreamware/shardtopo/internal/cluster"
)

const (
	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 20
	// DefaultRetryInterval is the fixed pause between attempts.
	DefaultRetryInterval = 2 * time.Second
)

// IsTransient reports whether err is a transport or protocol failure, or a
// malformed response, and so worth retrying. Application errors (not found,
// invalid argument, ...) and anything that is not a gRPC status are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, cluster.ErrMalformedResponse) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted, codes.Internal:
		return true
	}
	return false
}

// RetryingClient wraps a ShardManager and retries transient failures with a
// constant backoff. When the retry budget runs out the last failure is
// returned as is. It is the only place in shardtopo that retries RPCs.
type RetryingClient struct {
	next     ShardManager
	retries  int
	interval time.Duration
}

var _ ShardManager = (*RetryingClient)(nil)

// NewRetryingClient wraps next. A negative retries value means no retries.
func NewRetryingClient(next ShardManager, retries int, interval time.Duration) *RetryingClient {
	if retries < 0 {
		retries = 0
	}
	return &RetryingClient{next: next, retries: retries, interval: interval}
}

// Unwrap returns the wrapped manager.
func (r *RetryingClient) Unwrap() ShardManager {
	return r.next
}

// Do runs op until it succeeds, fails permanently, the budget is exhausted or
// ctx is done.
func (r *RetryingClient) Do(ctx context.Context, op func(context.Context) error) error {
	if r.retries == 0 {
		return op(ctx)
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.interval), uint64(r.retries)),
		ctx,
	)

	var permanent error
	err := backoff.RetryNotify(func() error {
		err := op(ctx)
		if err != nil && !IsTransient(err) {
			permanent = err
			return nil
		}
		return err
	}, b, func(err error, wait time.Duration) {
		log.Printf("rpc: transient failure, retrying in %v: %v", wait, err)
	})
	if permanent != nil {
		return permanent
	}
	return err
}

func retryValue[T any](ctx context.Context, r *RetryingClient, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// GetForwardings returns every forwarding, retrying transient failures.
func (r *RetryingClient) GetForwardings(ctx context.Context) ([]cluster.Forwarding, error) {
	return retryValue(ctx, r, r.next.GetForwardings)
}

// SetForwarding adds or replaces a forwarding, retrying transient failures.
func (r *RetryingClient) SetForwarding(ctx context.Context, f cluster.Forwarding) error {
	return r.Do(ctx, func(ctx context.Context) error { return r.next.SetForwarding(ctx, f) })
}

// ReplaceForwarding points every forwarding of oldID at newID, retrying transient failures.
func (r *RetryingClient) ReplaceForwarding(ctx context.Context, oldID, newID cluster.ShardID) error {
	return r.Do(ctx, func(ctx context.Context) error { return r.next.ReplaceForwarding(ctx, oldID, newID) })
}

// FindCurrentForwarding returns the root shard serving baseID in tableID, retrying transient failures.
func (r *RetryingClient) FindCurrentForwarding(ctx context.Context, tableID int32, baseID int64) (cluster.ShardInfo, error) {
	return retryValue(ctx, r, func(ctx context.Context) (cluster.ShardInfo, error) {
		return r.next.FindCurrentForwarding(ctx, tableID, baseID)
	})
}

// ListDownwardLinks returns the links below id, retrying transient failures.
func (r *RetryingClient) ListDownwardLinks(ctx context.Context, id cluster.ShardID) ([]cluster.LinkInfo, error) {
	return retryValue(ctx, r, func(ctx context.Context) ([]cluster.LinkInfo, error) {
		return r.next.ListDownwardLinks(ctx, id)
	})
}

// ListUpwardLinks returns the links above id, retrying transient failures.
func (r *RetryingClient) ListUpwardLinks(ctx context.Context, id cluster.ShardID) ([]cluster.LinkInfo, error) {
	return retryValue(ctx, r, func(ctx context.Context) ([]cluster.LinkInfo, error) {
		return r.next.ListUpwardLinks(ctx, id)
	})
}

// AddLink links up to down with weight, retrying transient failures.
func (r *RetryingClient) AddLink(ctx context.Context, up, down cluster.ShardID, weight int32) error {
	return r.Do(ctx, func(ctx context.Context) error { return r.next.AddLink(ctx, up, down, weight) })
}

// RemoveLink removes the link from up to down, retrying transient failures.
func (r *RetryingClient) RemoveLink(ctx context.Context, up, down cluster.ShardID) error {
	return r.Do(ctx, func(ctx context.Context) error { return r.next.RemoveLink(ctx, up, down) })
}

// ListHostnames returns every hostname with shards, retrying transient failures.
func (r *RetryingClient) ListHostnames(ctx context.Context) ([]string, error) {
	return retryValue(ctx, r, r.next.ListHostnames)
}

// ShardsForHostname returns the shards on hostname, retrying transient failures.
func (r *RetryingClient) ShardsForHostname(ctx context.Context, hostname string) ([]cluster.ShardInfo, error) {
	return retryValue(ctx, r, func(ctx context.Context) ([]cluster.ShardInfo, error) {
		return r.next.ShardsForHostname(ctx, hostname)
	})
}

// GetShard returns the info of id, retrying transient failures.
func (r *RetryingClient) GetShard(ctx context.Context, id cluster.ShardID) (cluster.ShardInfo, error) {
	return retryValue(ctx, r, func(ctx context.Context) (cluster.ShardInfo, error) {
		return r.next.GetShard(ctx, id)
	})
}

// CreateShard creates a shard, retrying transient failures.
func (r *RetryingClient) CreateShard(ctx context.Context, info cluster.ShardInfo) error {
	return r.Do(ctx, func(ctx context.Context) error { return r.next.CreateShard(ctx, info) })
}

// DeleteShard deletes a shard, retrying transient failures.
func (r *RetryingClient) DeleteShard(ctx context.Context, id cluster.ShardID) error {
	return r.Do(ctx, func(ctx context.Context) error { return r.next.DeleteShard(ctx, id) })
}

// GetBusyShards returns the shards with a copy running, retrying transient failures.
func (r *RetryingClient) GetBusyShards(ctx context.Context) ([]cluster.ShardInfo, error) {
	return retryValue(ctx, r, r.next.GetBusyShards)
}

// CopyShard starts copying from into to, retrying transient failures.
func (r *RetryingClient) CopyShard(ctx context.Context, from, to cluster.ShardID) error {
	return r.Do(ctx, func(ctx context.Context) error { return r.next.CopyShard(ctx, from, to) })
}

// ReloadForwardings makes the service reload its forwardings, retrying transient failures.
func (r *RetryingClient) ReloadForwardings(ctx context.Context) error {
	return r.Do(ctx, r.next.ReloadForwardings)
}

// ReloadConfig makes the service reload its configuration, retrying transient failures.
func (r *RetryingClient) ReloadConfig(ctx context.Context) error {
	return r.Do(ctx, r.next.ReloadConfig)
}
