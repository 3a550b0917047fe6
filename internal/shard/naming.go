package shard

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dreamware/shardtopo/internal/cluster"
)

// DefaultBasePrefix is the leading component of canonical table prefixes.
const DefaultBasePrefix = "shard"

// ErrNoEnumeration is returned when a table prefix carries no generation number.
var ErrNoEnumeration = errors.New("cannot derive enumeration")

// ErrCanonicalCollision is returned when two shards of a subtree would get
// the same canonical id.
var ErrCanonicalCollision = errors.New("canonical id collision")

var (
	digitRun    = regexp.MustCompile(`\d{3,}`)
	tableIDTail = regexp.MustCompile(`^_(?:n?\d+_)*\d{4,}(?:_\D.*)?$`)
)

// Enumeration extracts the generation number from a table prefix: the first
// run of three or more digits. A run followed only by numeric components and
// then a final run of four or more digits (optionally ending in a type
// suffix) belongs to the base or table id of a canonical prefix
// (shard_123_0004, db_2020_n7_0004_replicating) and is skipped.
func Enumeration(tablePrefix string) (int, error) {
	for _, m := range digitRun.FindAllStringIndex(tablePrefix, -1) {
		if tableIDTail.MatchString(tablePrefix[m[1]:]) {
			continue
		}
		n, err := strconv.Atoi(tablePrefix[m[0]:m[1]])
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrNoEnumeration, tablePrefix, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrNoEnumeration, tablePrefix)
}

// CanonicalPrefix builds base_[table_]NNNN. A negative table id is written
// as n<abs>; a nil table id or an empty base is left out.
func CanonicalPrefix(enum int, tableID *int32, base string) string {
	parts := make([]string, 0, 3)
	if base != "" {
		parts = append(parts, base)
	}
	if tableID != nil {
		t := int64(*tableID)
		if t < 0 {
			parts = append(parts, "n"+strconv.FormatInt(-t, 10))
		} else {
			parts = append(parts, strconv.FormatInt(t, 10))
		}
	}
	parts = append(parts, fmt.Sprintf("%04d", enum))
	return strings.Join(parts, "_")
}

// NamingOptions tunes CanonicalShardIDMap. The zero value uses
// DefaultBasePrefix, no table id and the root's own enumeration.
type NamingOptions struct {
	BasePrefix  string
	TableID     *int32
	Enumeration *int
}

// CanonicalShardIDMap maps the canonical id of every node under s (s
// included) to the node's real id. Canonical ids keep the hostname and
// replace the table prefix with CanonicalPrefix plus the type suffix, so a
// replicating root of generation 3 becomes localhost/shard_0003_replicating.
func CanonicalShardIDMap(s *Shard, opts NamingOptions) (map[cluster.ShardID]cluster.ShardID, error) {
	if opts.BasePrefix == "" {
		opts.BasePrefix = DefaultBasePrefix
	}
	if opts.Enumeration == nil {
		enum, err := s.Enumeration()
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", s.ID(), err)
		}
		opts.Enumeration = &enum
	}

	out := make(map[cluster.ShardID]cluster.ShardID)
	base := CanonicalPrefix(*opts.Enumeration, opts.TableID, opts.BasePrefix)
	var collision error
	s.Walk(func(n *Shard, _ int) {
		name := base
		if suffix := Suffix(n.ClassName()); suffix != "" {
			name += "_" + suffix
		}
		canon := cluster.ShardID{Hostname: n.Hostname(), TablePrefix: name}
		if prev, ok := out[canon]; ok && prev != n.ID() {
			if collision == nil {
				collision = fmt.Errorf("%w: %s and %s both map to %s", ErrCanonicalCollision, prev, n.ID(), canon)
			}
			return
		}
		out[canon] = n.ID()
	})
	if collision != nil {
		return nil, collision
	}
	return out, nil
}
