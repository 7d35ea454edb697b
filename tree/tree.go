// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package tree implements the in-memory hierarchical configuration
// document shared by every other component (spec.md §3, §4.1 — C1).
//
// A cyclic parent<->child structure is unavoidable for a tree that
// needs efficient upward navigation (Find, path reconstruction for
// diagnostics); per spec.md §9 we avoid an owning cycle by treating
// Parent as a borrowed back-pointer that is never itself responsible
// for freeing anything (Go's GC handles the cycle; the discipline is
// just "don't treat Parent as an owning reference").
package tree

// Kind classifies a node the way its schema does.
type Kind int

const (
	KindUnknown Kind = iota
	KindContainer
	KindList
	KindLeaf
	KindLeafList
)

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindList:
		return "list"
	case KindLeaf:
		return "leaf"
	case KindLeafList:
		return "leaf-list"
	default:
		return "unknown"
	}
}

// SchemaNode is the minimal view of a schema node that the tree
// package itself needs (key leaf names for list identity, declared
// child order for stable diff output). The full schema.Node interface
// (package schema, C3) is a superset of this and is assigned via
// BindSchema without tree ever importing schema — schema is external
// per spec.md §1 and the dependency must run one way.
type SchemaNode interface {
	Kind() Kind
	Keys() []string
	ChildOrder() []string
}

// Operation is the RFC 6241 §7.2 edit-config operation attribute.
type Operation string

const (
	OpNone    Operation = ""
	OpCreate  Operation = "create"
	OpMerge   Operation = "merge"
	OpReplace Operation = "replace"
	OpDelete  Operation = "delete"
	OpRemove  Operation = "remove"
)

// Node is one element of the config tree: a local name, namespace,
// ordered children, an optional scalar body, an attribute map, a
// borrowed parent back-pointer and a borrowed (possibly nil) schema
// back-reference.
type Node struct {
	Name      string
	Namespace string
	Value     string
	HasValue  bool
	Attrs     map[string]string
	Children  []*Node
	Parent    *Node
	Schema    SchemaNode
	Operation Operation
}

// New creates an empty element with the given name. The empty tree
// (spec.md §4.1 new_empty) is New("config").
func New(name string) *Node {
	return &Node{Name: name, Attrs: map[string]string{}}
}

// NewLeaf creates a leaf element carrying a scalar value.
func NewLeaf(name, value string) *Node {
	return &Node{Name: name, Value: value, HasValue: true, Attrs: map[string]string{}}
}

// AddChild appends c as a child of n, wiring the back-pointer.
func (n *Node) AddChild(c *Node) {
	c.Parent = n
	n.Children = append(n.Children, c)
}

// RemoveChild removes c from n's children if present.
func (n *Node) RemoveChild(c *Node) {
	for i, ch := range n.Children {
		if ch == c {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			c.Parent = nil
			return
		}
	}
}

// Path reconstructs the path from the root to n as a slice of segments,
// using key predicates for list entries, e.g. ["interfaces", "interface[eth0]", "mtu"].
func (n *Node) Path() []string {
	if n == nil {
		return nil
	}
	var segs []string
	for cur := n; cur != nil && cur.Parent != nil; cur = cur.Parent {
		segs = append([]string{cur.segment()}, segs...)
	}
	return segs
}

func (n *Node) segment() string {
	if n.Schema != nil && n.Schema.Kind() == KindList {
		keys := n.Schema.Keys()
		vals := make([]string, 0, len(keys))
		for _, k := range keys {
			if c := childNamed(n, k); c != nil {
				vals = append(vals, c.Value)
			}
		}
		if len(vals) > 0 {
			return n.Name + "[" + joinComma(vals) + "]"
		}
	}
	return n.Name
}

func joinComma(vals []string) string {
	out := vals[0]
	for _, v := range vals[1:] {
		out += "," + v
	}
	return out
}

func childNamed(n *Node, name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Clone deep-copies n (and its children), leaving it unattached to any
// parent. Schema back-references are copied as-is (borrowed, not
// cloned — they outlive every tree per spec.md §9).
func Clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		Name:      n.Name,
		Namespace: n.Namespace,
		Value:     n.Value,
		HasValue:  n.HasValue,
		Schema:    n.Schema,
		Operation: n.Operation,
		Attrs:     make(map[string]string, len(n.Attrs)),
	}
	for k, v := range n.Attrs {
		c.Attrs[k] = v
	}
	for _, ch := range n.Children {
		c.AddChild(Clone(ch))
	}
	return c
}

// Find resolves a path given as a slice of plain names (no key
// predicates) to a descendant of root, or nil.
func Find(root *Node, path []string) *Node {
	cur := root
	for _, seg := range path {
		if cur == nil {
			return nil
		}
		cur = childNamed(cur, seg)
	}
	return cur
}

// FindList finds a specific list entry under parent by key values, in
// the order parent's schema declares keys.
func FindList(parent *Node, listName string, keyValues ...string) *Node {
	for _, c := range parent.Children {
		if c.Name != listName {
			continue
		}
		if matchesKeys(c, keyValues) {
			return c
		}
	}
	return nil
}

func matchesKeys(entry *Node, keyValues []string) bool {
	if entry.Schema == nil {
		return false
	}
	keys := entry.Schema.Keys()
	if len(keys) != len(keyValues) {
		return false
	}
	for i, k := range keys {
		c := childNamed(entry, k)
		if c == nil || c.Value != keyValues[i] {
			return false
		}
	}
	return true
}

// keyTuple returns the ordered key values of a list entry, used as an
// identity tuple during merge/diff (spec.md §4.1 merge semantics).
func keyTuple(entry *Node) (string, bool) {
	if entry.Schema == nil || entry.Schema.Kind() != KindList {
		return "", false
	}
	keys := entry.Schema.Keys()
	tuple := ""
	for _, k := range keys {
		c := childNamed(entry, k)
		if c == nil {
			return "", false
		}
		tuple += "\x00" + c.Value
	}
	return tuple, true
}
