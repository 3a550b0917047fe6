package shard

import (
	"fmt"
	"strconv"
	"strings"
)

// Template is the structural signature of a shard subtree: class names,
// hostnames, inbound weights and types, recursively, in child order. Two
// trees share a template exactly when they have the same shape and types,
// whatever their table prefixes are.
type Template struct {
	ClassName       string     `yaml:"class_name"`
	Hostname        string     `yaml:"hostname"`
	Weight          int32      `yaml:"weight"`
	SourceType      string     `yaml:"source_type,omitempty"`
	DestinationType string     `yaml:"destination_type,omitempty"`
	Children        []Template `yaml:"children,omitempty"`
}

// NewTemplate derives the template of the tree rooted at s.
func NewTemplate(s *Shard) Template {
	t := Template{
		ClassName:       s.ClassName(),
		Hostname:        s.Hostname(),
		Weight:          s.Weight,
		SourceType:      s.SourceType(),
		DestinationType: s.DestinationType(),
	}
	if len(s.Children) > 0 {
		t.Children = make([]Template, len(s.Children))
		for i, c := range s.Children {
			t.Children[i] = NewTemplate(c)
		}
	}
	return t
}

// Equal reports deep structural equality.
func (t Template) Equal(o Template) bool {
	if t.ClassName != o.ClassName ||
		t.Hostname != o.Hostname ||
		t.Weight != o.Weight ||
		t.SourceType != o.SourceType ||
		t.DestinationType != o.DestinationType ||
		len(t.Children) != len(o.Children) {
		return false
	}
	for i := range t.Children {
		if !t.Children[i].Equal(o.Children[i]) {
			return false
		}
	}
	return true
}

// Key returns a string that is equal for two templates iff they are Equal.
// It is used to group forwardings by template in maps.
func (t Template) Key() string {
	var b strings.Builder
	t.writeKey(&b)
	return b.String()
}

func (t Template) writeKey(b *strings.Builder) {
	b.WriteByte('(')
	b.WriteString(strconv.Quote(t.ClassName))
	b.WriteByte(' ')
	b.WriteString(strconv.Quote(t.Hostname))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(int64(t.Weight), 10))
	b.WriteByte(' ')
	b.WriteString(strconv.Quote(t.SourceType))
	b.WriteByte(' ')
	b.WriteString(strconv.Quote(t.DestinationType))
	for _, c := range t.Children {
		b.WriteByte(' ')
		c.writeKey(b)
	}
	b.WriteByte(')')
}

// String renders the template on one line, e.g.
// ReplicatingShard(localhost,1) -> [SqlShard(db1,1), SqlShard(db2,1)].
func (t Template) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s,%d", BaseClassName(t.ClassName), t.Hostname, t.Weight)
	if t.SourceType != "" || t.DestinationType != "" {
		fmt.Fprintf(&b, ",%s,%s", t.SourceType, t.DestinationType)
	}
	b.WriteByte(')')
	if len(t.Children) > 0 {
		b.WriteString(" -> [")
		for i, c := range t.Children {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.String())
		}
		b.WriteByte(']')
	}
	return b.String()
}
