// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package tree

// ChangeKind classifies one entry of a Changeset (spec.md §3
// Transaction record: per-element {added, removed, changed}).
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
	Changed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	}
	return "unknown"
}

// Change is one diff entry, anchored at Path (from the compared
// roots).
type Change struct {
	Path []string
	Kind ChangeKind
	Old  *Node
	New  *Node
}

// Changeset is the decomposition produced by Diff.
type Changeset struct {
	Changes []Change
}

func (cs *Changeset) Empty() bool { return cs == nil || len(cs.Changes) == 0 }

// TouchesNamespace reports whether any change falls under a node whose
// (or whose ancestor's) namespace matches ns — used by plugins to skip
// work when their subtree is untouched (spec.md §4.5).
func (cs *Changeset) TouchesNamespace(ns string) bool {
	if cs == nil {
		return false
	}
	for _, c := range cs.Changes {
		n := c.New
		if n == nil {
			n = c.Old
		}
		for cur := n; cur != nil; cur = cur.Parent {
			if cur.Namespace == ns {
				return true
			}
		}
	}
	return false
}

// Equal reports whether a and b are structurally identical: Diff(a,b)
// is empty (spec.md §4.1).
func Equal(a, b *Node) bool {
	return Diff(a, b).Empty()
}

// Diff decomposes the differences between a (old) and b (new) into a
// stably ordered Changeset: depth-first, in b's schema-declared child
// order when a schema is bound, otherwise in b's encounter order
// followed by any old-only entries in a's encounter order.
func Diff(a, b *Node) *Changeset {
	cs := &Changeset{}
	diffChildren(nil, a, b, cs)
	return cs
}

func identity(n *Node) string {
	if n.Schema != nil && n.Schema.Kind() == KindLeafList {
		return n.Name + "\x00" + n.Value
	}
	if tuple, ok := keyTuple(n); ok {
		return n.Name + tuple
	}
	return n.Name
}

func diffChildren(path []string, oldParent, newParent *Node, cs *Changeset) {
	oldByID := make(map[string]*Node, len(oldParent.Children))
	for _, c := range oldParent.Children {
		oldByID[identity(c)] = c
	}

	var order []string
	newByID := make(map[string]*Node, len(newParent.Children))
	for _, c := range newParent.Children {
		id := identity(c)
		newByID[id] = c
		order = append(order, id)
	}
	if newParent.Schema != nil {
		order = sortByDeclaredOrder(order, newByID, newParent.Schema.ChildOrder())
	}

	seen := make(map[string]bool, len(order))
	for _, id := range order {
		seen[id] = true
		nn := newByID[id]
		p := appendPath(path, nn.segment())
		on, existed := oldByID[id]
		if !existed {
			cs.Changes = append(cs.Changes, Change{Path: p, Kind: Added, New: nn})
			continue
		}
		if isLeafLike(on, nn) {
			if on.Value != nn.Value || on.HasValue != nn.HasValue {
				cs.Changes = append(cs.Changes, Change{Path: p, Kind: Changed, Old: on, New: nn})
			}
			continue
		}
		diffChildren(p, on, nn, cs)
	}

	for _, c := range oldParent.Children {
		id := identity(c)
		if seen[id] {
			continue
		}
		p := appendPath(path, c.segment())
		cs.Changes = append(cs.Changes, Change{Path: p, Kind: Removed, Old: c})
	}
}

func isLeafLike(a, b *Node) bool {
	if a.Schema != nil {
		return a.Schema.Kind() == KindLeaf || a.Schema.Kind() == KindLeafList
	}
	if b.Schema != nil {
		return b.Schema.Kind() == KindLeaf || b.Schema.Kind() == KindLeafList
	}
	return len(a.Children) == 0 && len(b.Children) == 0
}

func appendPath(path []string, seg string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = seg
	return out
}

// sortByDeclaredOrder stable-sorts ids so that names appearing in
// declared come first in declared's order, followed by any remaining
// ids in their original relative order (multiple list entries with the
// same name keep their relative order from `order`).
func sortByDeclaredOrder(order []string, byID map[string]*Node, declared []string) []string {
	if len(declared) == 0 {
		return order
	}
	rank := make(map[string]int, len(declared))
	for i, name := range declared {
		rank[name] = i
	}
	out := make([]string, len(order))
	copy(out, order)
	// stable insertion sort on (rank[name], original index)
	type item struct {
		id  string
		key int
		idx int
	}
	items := make([]item, len(out))
	for i, id := range out {
		name := byID[id].Name
		r, ok := rank[name]
		if !ok {
			r = len(declared) + i
		}
		items[i] = item{id: id, key: r, idx: i}
	}
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 && (items[j].key < items[j-1].key ||
			(items[j].key == items[j-1].key && items[j].idx < items[j-1].idx)) {
			items[j], items[j-1] = items[j-1], items[j]
			j--
		}
	}
	for i, it := range items {
		out[i] = it.id
	}
	return out
}
