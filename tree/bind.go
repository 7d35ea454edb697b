// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package tree

// Resolver looks up the schema node for a child called name under the
// schema bound to parent (nil parent schema means "root"). Concrete
// schema oracles (package schema, C3) implement this to drive
// BindSchema without tree importing schema.
type Resolver func(parentSchema SchemaNode, name string) SchemaNode

// BindSchema walks root assigning each element's Schema back-reference
// via resolve (spec.md §4.1 bind_schema). Nodes the resolver cannot
// place keep a nil Schema ("may be unresolved", spec.md §3) rather
// than failing the whole walk, so a tree can be partially bound against
// a schema that is still loading additional modules.
func BindSchema(root *Node, resolve Resolver) {
	for _, c := range root.Children {
		bindNode(c, nil, resolve)
	}
}

func bindNode(n *Node, parentSchema SchemaNode, resolve Resolver) {
	n.Schema = resolve(parentSchema, n.Name)
	for _, c := range n.Children {
		bindNode(c, n.Schema, resolve)
	}
}
