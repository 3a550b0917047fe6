package cluster

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when a shard, link or forwarding does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating something that is already present.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidArgument is returned for requests the service refuses to interpret.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrMalformedResponse is returned when a response decodes but violates the
	// shape the caller expects. It is treated as a transient RPC failure.
	ErrMalformedResponse = errors.New("malformed response")
)

// ShardID identifies a shard by the host it lives on and its table prefix.
// The textual form is "hostname/tablePrefix".
type ShardID struct {
	Hostname    string `json:"hostname"`
	TablePrefix string `json:"table_prefix"`
}

// ParseShardID parses the "hostname/tablePrefix" form.
func ParseShardID(s string) (ShardID, error) {
	host, prefix, ok := strings.Cut(s, "/")
	if !ok || host == "" || prefix == "" {
		return ShardID{}, fmt.Errorf("%w: shard id %q must be hostname/table_prefix", ErrInvalidArgument, s)
	}
	return ShardID{Hostname: host, TablePrefix: prefix}, nil
}

// String returns the hostname/table_prefix form.
func (id ShardID) String() string {
	return id.Hostname + "/" + id.TablePrefix
}

// MarshalYAML writes the id in its textual form.
func (id ShardID) MarshalYAML() (interface{}, error) {
	return id.String(), nil
}

// UnmarshalYAML reads the "hostname/tablePrefix" form.
func (id *ShardID) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseShardID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IsZero reports whether the id has neither hostname nor prefix.
func (id ShardID) IsZero() bool {
	return id.Hostname == "" && id.TablePrefix == ""
}

// ShardInfo is the metadata the remote service keeps for one shard.
// ClassName is opaque to this module apart from canonical naming.
type ShardInfo struct {
	ID              ShardID `json:"id" yaml:"id"`
	ClassName       string  `json:"class_name" yaml:"class_name"`
	SourceType      string  `json:"source_type,omitempty" yaml:"source_type,omitempty"`
	DestinationType string  `json:"destination_type,omitempty" yaml:"destination_type,omitempty"`
	Busy            bool    `json:"busy,omitempty" yaml:"busy,omitempty"`
}

// String renders the info as one tab separated line.
func (i ShardInfo) String() string {
	busy := 0
	if i.Busy {
		busy = 1
	}
	return strings.Join([]string{i.ID.String(), i.ClassName, i.SourceType, i.DestinationType, fmt.Sprint(busy)}, "\t")
}

// LinkInfo is a directed, weighted edge from an upstream shard to a
// downstream one. Two links with the same endpoints but different weights are
// distinct values.
type LinkInfo struct {
	UpID   ShardID `json:"up_id" yaml:"up_id"`
	DownID ShardID `json:"down_id" yaml:"down_id"`
	Weight int32   `json:"weight" yaml:"weight"`
}

// String renders the link as one tab separated line.
func (l LinkInfo) String() string {
	return fmt.Sprintf("%s\t%s\t%d", l.UpID, l.DownID, l.Weight)
}

// Forwarding routes the range key (TableID, BaseID) to a root shard.
type Forwarding struct {
	TableID int32   `json:"table_id" yaml:"table_id"`
	BaseID  int64   `json:"base_id" yaml:"base_id"`
	ShardID ShardID `json:"shard_id" yaml:"shard_id"`
}

// String renders the forwarding as one tab separated line.
func (f Forwarding) String() string {
	return fmt.Sprintf("%d\t%d\t%s", f.TableID, f.BaseID, f.ShardID)
}

// ForwardingOrder orders forwardings by table id (non-negative before negative
// of the same magnitude), then by base id.
func ForwardingOrder(a, b Forwarding) int {
	ka, kb := tableSortKey(a.TableID), tableSortKey(b.TableID)
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	case a.BaseID < b.BaseID:
		return -1
	case a.BaseID > b.BaseID:
		return 1
	}
	return 0
}

func tableSortKey(t int32) int64 {
	k := int64(t)
	if k < 0 {
		return -k<<1 + 1
	}
	return k << 1
}
