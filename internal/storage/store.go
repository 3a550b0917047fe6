package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/shardtopo/internal/cluster"
)

// Fleet is a complete topology: the shape of a seed file and of Snapshot.
type Fleet struct {
	Shards      []cluster.ShardInfo  `yaml:"shards"`
	Links       []cluster.LinkInfo   `yaml:"links"`
	Forwardings []cluster.Forwarding `yaml:"forwardings"`
}

// LoadFleet decodes a YAML fleet description.
func LoadFleet(r io.Reader) (Fleet, error) {
	var f Fleet
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return Fleet{}, fmt.Errorf("decode fleet: %w", err)
	}
	return f, nil
}

// StoreStats contains counters about the store
type StoreStats struct {
	Shards            int // Number of shards
	Links             int // Number of links
	Forwardings       int // Number of forwardings
	Busy              int // Shards currently busy
	ForwardingReloads int // ReloadForwardings calls served
	ConfigReloads     int // ReloadConfig calls served
}

// MemoryStore is an in-memory shard manager. It implements the same
// operation set as the remote service and backs both cmd/shardmanager and
// the tests of every package above it.
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu          sync.RWMutex
	shards      map[cluster.ShardID]cluster.ShardInfo
	links       []cluster.LinkInfo // insertion order is listing order
	forwardings []cluster.Forwarding
	copyDelay   time.Duration
	fwdReloads  int
	cfgReloads  int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shards: make(map[cluster.ShardID]cluster.ShardInfo),
	}
}

// SetCopyDelay sets how long a destination stays busy after CopyShard.
// Zero (the default) completes copies immediately.
func (m *MemoryStore) SetCopyDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copyDelay = d
}

// Seed loads a fleet into the store. Shards are created first so links and
// forwardings can refer to them in any order.
func (m *MemoryStore) Seed(f Fleet) error {
	ctx := context.Background()
	for _, s := range f.Shards {
		if err := m.CreateShard(ctx, s); err != nil {
			return err
		}
		if s.Busy {
			if err := m.SetBusy(s.ID, true); err != nil {
				return err
			}
		}
	}
	for _, l := range f.Links {
		if err := m.AddLink(ctx, l.UpID, l.DownID, l.Weight); err != nil {
			return err
		}
	}
	for _, fw := range f.Forwardings {
		if err := m.SetForwarding(ctx, fw); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns a copy of the whole topology.
func (m *MemoryStore) Snapshot() Fleet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f := Fleet{
		Shards:      make([]cluster.ShardInfo, 0, len(m.shards)),
		Links:       slices.Clone(m.links),
		Forwardings: slices.Clone(m.forwardings),
	}
	for _, s := range m.shards {
		f.Shards = append(f.Shards, s)
	}
	sort.Slice(f.Shards, func(i, j int) bool { return f.Shards[i].ID.String() < f.Shards[j].ID.String() })
	return f
}

// SetBusy flips the busy flag of a shard, standing in for a copy that the
// remote service starts or finishes on its own.
func (m *MemoryStore) SetBusy(id cluster.ShardID, busy bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.shards[id]
	if !ok {
		return fmt.Errorf("%w: shard %s", cluster.ErrNotFound, id)
	}
	info.Busy = busy
	m.shards[id] = info
	return nil
}

// Stats returns store counters
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	busy := 0
	for _, s := range m.shards {
		if s.Busy {
			busy++
		}
	}
	return StoreStats{
		Shards:            len(m.shards),
		Links:             len(m.links),
		Forwardings:       len(m.forwardings),
		Busy:              busy,
		ForwardingReloads: m.fwdReloads,
		ConfigReloads:     m.cfgReloads,
	}
}

// GetForwardings returns a copy of all forwardings
func (m *MemoryStore) GetForwardings(context.Context) ([]cluster.Forwarding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.forwardings), nil
}

// SetForwarding adds a forwarding or repoints the one with the same range key
func (m *MemoryStore) SetForwarding(_ context.Context, f cluster.Forwarding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := slices.IndexFunc(m.forwardings, func(x cluster.Forwarding) bool {
		return x.TableID == f.TableID && x.BaseID == f.BaseID
	})
	if idx >= 0 {
		m.forwardings[idx] = f
	} else {
		m.forwardings = append(m.forwardings, f)
	}
	return nil
}

// ReplaceForwarding repoints every forwarding from oldID to newID
func (m *MemoryStore) ReplaceForwarding(_ context.Context, oldID, newID cluster.ShardID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for i := range m.forwardings {
		if m.forwardings[i].ShardID == oldID {
			m.forwardings[i].ShardID = newID
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: no forwarding to %s", cluster.ErrNotFound, oldID)
	}
	return nil
}

// FindCurrentForwarding resolves (tableID, baseID) to the shard of the
// forwarding with the greatest base id not above baseID
func (m *MemoryStore) FindCurrentForwarding(_ context.Context, tableID int32, baseID int64) (cluster.ShardInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *cluster.Forwarding
	for i := range m.forwardings {
		f := &m.forwardings[i]
		if f.TableID != tableID || f.BaseID > baseID {
			continue
		}
		if best == nil || f.BaseID > best.BaseID {
			best = f
		}
	}
	if best == nil {
		return cluster.ShardInfo{}, fmt.Errorf("%w: no forwarding for table %d base %d", cluster.ErrNotFound, tableID, baseID)
	}
	info, ok := m.shards[best.ShardID]
	if !ok {
		return cluster.ShardInfo{}, fmt.Errorf("%w: shard %s", cluster.ErrNotFound, best.ShardID)
	}
	return info, nil
}

// ListDownwardLinks returns links whose up id is id, in insertion order
func (m *MemoryStore) ListDownwardLinks(_ context.Context, id cluster.ShardID) ([]cluster.LinkInfo, error) {
	return m.filterLinks(func(l cluster.LinkInfo) bool { return l.UpID == id }), nil
}

// ListUpwardLinks returns links whose down id is id, in insertion order
func (m *MemoryStore) ListUpwardLinks(_ context.Context, id cluster.ShardID) ([]cluster.LinkInfo, error) {
	return m.filterLinks(func(l cluster.LinkInfo) bool { return l.DownID == id }), nil
}

func (m *MemoryStore) filterLinks(keep func(cluster.LinkInfo) bool) []cluster.LinkInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []cluster.LinkInfo
	for _, l := range m.links {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}

// AddLink links up to down. Re-adding an existing link updates its weight
func (m *MemoryStore) AddLink(_ context.Context, up, down cluster.ShardID, weight int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range []cluster.ShardID{up, down} {
		if _, ok := m.shards[id]; !ok {
			return fmt.Errorf("%w: shard %s", cluster.ErrNotFound, id)
		}
	}
	if up == down {
		return fmt.Errorf("%w: cannot link %s to itself", cluster.ErrInvalidArgument, up)
	}

	for i, l := range m.links {
		if l.UpID == up && l.DownID == down {
			m.links[i].Weight = weight
			return nil
		}
	}
	m.links = append(m.links, cluster.LinkInfo{UpID: up, DownID: down, Weight: weight})
	return nil
}

// RemoveLink removes the link between up and down
// No error if the link doesn't exist (idempotent)
func (m *MemoryStore) RemoveLink(_ context.Context, up, down cluster.ShardID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.links = slices.DeleteFunc(m.links, func(l cluster.LinkInfo) bool {
		return l.UpID == up && l.DownID == down
	})
	return nil
}

// ListHostnames returns the sorted set of hosts that own a shard
func (m *MemoryStore) ListHostnames(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	hosts := []string{}
	for id := range m.shards {
		if !seen[id.Hostname] {
			seen[id.Hostname] = true
			hosts = append(hosts, id.Hostname)
		}
	}
	sort.Strings(hosts)
	return hosts, nil
}

// ShardsForHostname returns the shards on hostname sorted by table prefix
func (m *MemoryStore) ShardsForHostname(_ context.Context, hostname string) ([]cluster.ShardInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []cluster.ShardInfo
	for id, info := range m.shards {
		if id.Hostname == hostname {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.TablePrefix < out[j].ID.TablePrefix })
	return out, nil
}

// GetShard returns the info of one shard
func (m *MemoryStore) GetShard(_ context.Context, id cluster.ShardID) (cluster.ShardInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.shards[id]
	if !ok {
		return cluster.ShardInfo{}, fmt.Errorf("%w: shard %s", cluster.ErrNotFound, id)
	}
	return info, nil
}

// CreateShard registers a new shard. New shards are never busy
func (m *MemoryStore) CreateShard(_ context.Context, info cluster.ShardInfo) error {
	if info.ID.Hostname == "" || info.ID.TablePrefix == "" {
		return fmt.Errorf("%w: shard id %q is incomplete", cluster.ErrInvalidArgument, info.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.shards[info.ID]; ok {
		return fmt.Errorf("%w: shard %s", cluster.ErrAlreadyExists, info.ID)
	}
	info.Busy = false
	m.shards[info.ID] = info
	return nil
}

// DeleteShard removes a shard together with every link touching it
func (m *MemoryStore) DeleteShard(_ context.Context, id cluster.ShardID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.shards[id]; !ok {
		return fmt.Errorf("%w: shard %s", cluster.ErrNotFound, id)
	}
	delete(m.shards, id)
	m.links = slices.DeleteFunc(m.links, func(l cluster.LinkInfo) bool {
		return l.UpID == id || l.DownID == id
	})
	return nil
}

// GetBusyShards returns every shard with a copy in flight
func (m *MemoryStore) GetBusyShards(context.Context) ([]cluster.ShardInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []cluster.ShardInfo
	for _, info := range m.shards {
		if info.Busy {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// CopyShard starts a copy from one shard into another. The destination is
// busy for the configured copy delay.
func (m *MemoryStore) CopyShard(_ context.Context, from, to cluster.ShardID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range []cluster.ShardID{from, to} {
		if _, ok := m.shards[id]; !ok {
			return fmt.Errorf("%w: shard %s", cluster.ErrNotFound, id)
		}
	}
	if m.copyDelay <= 0 {
		return nil
	}

	info := m.shards[to]
	info.Busy = true
	m.shards[to] = info
	time.AfterFunc(m.copyDelay, func() {
		// The shard may have been deleted meanwhile.
		_ = m.SetBusy(to, false)
	})
	return nil
}

// ReloadForwardings counts the reload; the store has nothing to refresh
func (m *MemoryStore) ReloadForwardings(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fwdReloads++
	return nil
}

// ReloadConfig counts the reload; the store has nothing to refresh
func (m *MemoryStore) ReloadConfig(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfgReloads++
	return nil
}
