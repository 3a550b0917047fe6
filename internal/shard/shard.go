package shard

import (
	"strings"

	"github.com/dreamware/shardtopo/internal/cluster"
)

// DefaultWeight is the weight given to tree roots, which have no inbound link.
const DefaultWeight int32 = 1

// Shard is a node of a shard tree built from a topology snapshot.
// Children keep the order in which their links were discovered.
type Shard struct {
	Info     cluster.ShardInfo
	Children []*Shard
	Weight   int32 // weight of the inbound link, DefaultWeight for roots
}

// New returns a tree node for info.
func New(info cluster.ShardInfo, weight int32, children ...*Shard) *Shard {
	return &Shard{Info: info, Children: children, Weight: weight}
}

// ID returns the shard id.
func (s *Shard) ID() cluster.ShardID { return s.Info.ID }

// Hostname returns the host holding the shard.
func (s *Shard) Hostname() string { return s.Info.ID.Hostname }

// TablePrefix returns the table prefix of the shard id.
func (s *Shard) TablePrefix() string { return s.Info.ID.TablePrefix }

// ClassName returns the shard implementation class.
func (s *Shard) ClassName() string { return s.Info.ClassName }

// SourceType returns the source type of the shard.
func (s *Shard) SourceType() string { return s.Info.SourceType }

// DestinationType returns the destination type of the shard.
func (s *Shard) DestinationType() string { return s.Info.DestinationType }

// Busy reports whether a copy was running when the info was read.
func (s *Shard) Busy() bool { return s.Info.Busy }

// Enumeration returns the generation number carried by the shard's table prefix.
func (s *Shard) Enumeration() (int, error) {
	return Enumeration(s.TablePrefix())
}

// Walk calls fn for s and every descendant in depth-first pre-order,
// passing the depth below s.
func (s *Shard) Walk(fn func(n *Shard, depth int)) {
	s.walk(fn, 0)
}

func (s *Shard) walk(fn func(*Shard, int), depth int) {
	fn(s, depth)
	for _, c := range s.Children {
		c.walk(fn, depth+1)
	}
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (s *Shard) Depth() int {
	d := 0
	for _, c := range s.Children {
		if cd := c.Depth() + 1; cd > d {
			d = cd
		}
	}
	return d
}

// Shard implementation class names. Remote services report them either bare
// or fully qualified (com.twitter.gizzard.shards.ReplicatingShard); only the
// last dot-separated component is significant.
const (
	FailingOverShard = "FailingOverShard"
	ReplicatingShard = "ReplicatingShard"
	ReadOnlyShard    = "ReadOnlyShard"
	WriteOnlyShard   = "WriteOnlyShard"
	BlockedShard     = "BlockedShard"
)

var suffixes = map[string]string{
	FailingOverShard: "replicating",
	ReplicatingShard: "replicating",
	ReadOnlyShard:    "read_only",
	WriteOnlyShard:   "write_only",
	BlockedShard:     "blocked",
}

// BaseClassName strips any package qualification from className.
func BaseClassName(className string) string {
	if i := strings.LastIndexByte(className, '.'); i >= 0 {
		return className[i+1:]
	}
	return className
}

// IsVirtual reports whether className is a routing wrapper rather than a
// shard that holds data.
func IsVirtual(className string) bool {
	_, ok := suffixes[BaseClassName(className)]
	return ok
}

// IsReplicating reports whether className fans writes out to all children.
func IsReplicating(className string) bool {
	switch BaseClassName(className) {
	case ReplicatingShard, FailingOverShard:
		return true
	}
	return false
}

// IsInvalidCopyType reports whether a shard of className cannot take part in a copy.
func IsInvalidCopyType(className string) bool {
	switch BaseClassName(className) {
	case ReadOnlyShard, WriteOnlyShard, BlockedShard:
		return true
	}
	return false
}

// Suffix returns the canonical name suffix for className, or "" for
// physical shard types.
func Suffix(className string) string {
	return suffixes[BaseClassName(className)]
}
