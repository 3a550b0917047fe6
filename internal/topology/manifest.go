package topology

import (
	"context"
	"errors"
	"fmt"

	"github.com/dreamware/shardtopo/internal/cluster"
	"github.com/dreamware/shardtopo/internal/shard"
)

// ErrShardInfoNotFound means a link points at a shard missing from the
// inventory. The two were fetched by separate calls and are not atomic, so
// this is an inconsistent snapshot rather than a transient failure.
var ErrShardInfoNotFound = errors.New("shard info not found")

// Edge is one entry of a manifest's link index.
type Edge struct {
	DownID cluster.ShardID `yaml:"down_id"`
	Weight int32           `yaml:"weight"`
}

// TemplateGroup is a set of forwardings whose trees share one template.
type TemplateGroup struct {
	Template    shard.Template       `yaml:"template"`
	Forwardings []cluster.Forwarding `yaml:"forwardings"`
}

// Manifest is a point-in-time snapshot of the fleet topology. It is built
// once and never modified; call Client.Manifest again for fresh data.
type Manifest struct {
	Forwardings []cluster.Forwarding
	Links       map[cluster.ShardID][]Edge
	ShardInfos  map[cluster.ShardID]cluster.ShardInfo
	Trees       map[cluster.Forwarding]*shard.Shard
	// Templates lists the groups in the order their first forwarding appears.
	Templates []TemplateGroup

	byKey map[string]int
}

// ForwardingsFor returns the forwardings whose tree matches t.
func (m *Manifest) ForwardingsFor(t shard.Template) []cluster.Forwarding {
	if i, ok := m.byKey[t.Key()]; ok {
		return m.Templates[i].Forwardings
	}
	return nil
}

// TemplateOf returns the template of f's tree.
func (m *Manifest) TemplateOf(f cluster.Forwarding) (shard.Template, bool) {
	tree, ok := m.Trees[f]
	if !ok {
		return shard.Template{}, false
	}
	return shard.NewTemplate(tree), true
}

// Manifest builds a snapshot of the whole fleet.
func (c *Client) Manifest(ctx context.Context) (*Manifest, error) {
	return c.manifest(ctx, nil)
}

// TableManifest builds a snapshot restricted to the forwardings of one table.
func (c *Client) TableManifest(ctx context.Context, tableID int32) (*Manifest, error) {
	return c.manifest(ctx, &tableID)
}

func (c *Client) manifest(ctx context.Context, tableID *int32) (*Manifest, error) {
	all, err := c.GetForwardings(ctx)
	if err != nil {
		return nil, fmt.Errorf("get forwardings: %w", err)
	}
	forwardings := make([]cluster.Forwarding, 0, len(all))
	for _, f := range all {
		if tableID == nil || f.TableID == *tableID {
			forwardings = append(forwardings, f)
		}
	}

	links, err := c.AllLinks(ctx, forwardings)
	if err != nil {
		return nil, err
	}
	shards, err := c.AllShards(ctx)
	if err != nil {
		return nil, err
	}
	return BuildManifest(forwardings, links, shards)
}

// BuildManifest assembles a manifest from already fetched data. It fails
// when a linked shard is missing from shards or when the links loop.
func BuildManifest(forwardings []cluster.Forwarding, links []cluster.LinkInfo, shards []cluster.ShardInfo) (*Manifest, error) {
	m := &Manifest{
		Forwardings: forwardings,
		Links:       make(map[cluster.ShardID][]Edge),
		ShardInfos:  make(map[cluster.ShardID]cluster.ShardInfo, len(shards)),
		Trees:       make(map[cluster.Forwarding]*shard.Shard, len(forwardings)),
		byKey:       make(map[string]int),
	}
	for _, l := range links {
		m.Links[l.UpID] = append(m.Links[l.UpID], Edge{DownID: l.DownID, Weight: l.Weight})
	}
	for _, s := range shards {
		m.ShardInfos[s.ID] = s
	}

	for _, f := range forwardings {
		tree, err := m.buildTree(f.ShardID, shard.DefaultWeight, map[cluster.ShardID]bool{})
		if err != nil {
			return nil, fmt.Errorf("forwarding %d/%d: %w", f.TableID, f.BaseID, err)
		}
		m.Trees[f] = tree

		t := shard.NewTemplate(tree)
		key := t.Key()
		i, ok := m.byKey[key]
		if !ok {
			i = len(m.Templates)
			m.byKey[key] = i
			m.Templates = append(m.Templates, TemplateGroup{Template: t})
		}
		m.Templates[i].Forwardings = append(m.Templates[i].Forwardings, f)
	}
	return m, nil
}

func (m *Manifest) buildTree(id cluster.ShardID, weight int32, onPath map[cluster.ShardID]bool) (*shard.Shard, error) {
	if onPath[id] {
		return nil, fmt.Errorf("%w: %s is its own descendant", ErrCycle, id)
	}
	onPath[id] = true
	defer delete(onPath, id)

	edges := m.Links[id]
	children := make([]*shard.Shard, 0, len(edges))
	for _, e := range edges {
		child, err := m.buildTree(e.DownID, e.Weight, onPath)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	info, ok := m.ShardInfos[id]
	if !ok {
		return nil, fmt.Errorf("%w for: %s", ErrShardInfoNotFound, id)
	}
	return shard.New(info, weight, children...), nil
}
