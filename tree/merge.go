// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package tree

import "fmt"

// MergeError reports a merge-time conflict, e.g. `create` against an
// existing node or `delete` of an absent one.
type MergeError struct {
	Path []string
	Msg  string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge error at %v: %s", e.Path, e.Msg)
}

// Merge combines src into dst per the RFC 6241 §7.2 operation
// semantics (spec.md §4.1): containers and leaves have src override or
// add; list entries are identified by their key tuple and merged
// element-wise; leaf-lists are a set union unless an `operation`
// attribute says otherwise. dst is not mutated; the merged result is
// returned.
func Merge(dst, src *Node) (*Node, error) {
	result := Clone(dst)
	if err := mergeInto(nil, result, src); err != nil {
		return nil, err
	}
	return result, nil
}

func mergeInto(path []string, dstParent, srcParent *Node) error {
	for _, srcChild := range srcParent.Children {
		op := srcChild.Operation
		if op == OpNone {
			op = OpMerge
		}
		id := identity(srcChild)
		p := appendPath(path, srcChild.segment())
		existing := findChildByID(dstParent, id)

		switch op {
		case OpDelete:
			if existing == nil {
				return &MergeError{Path: p, Msg: "delete of a node that does not exist"}
			}
			dstParent.RemoveChild(existing)

		case OpRemove:
			if existing != nil {
				dstParent.RemoveChild(existing)
			}

		case OpCreate:
			if existing != nil {
				return &MergeError{Path: p, Msg: "create of a node that already exists"}
			}
			dstParent.AddChild(Clone(srcChild))

		case OpReplace:
			if existing != nil {
				dstParent.RemoveChild(existing)
			}
			dstParent.AddChild(Clone(srcChild))

		case OpMerge:
			if existing == nil {
				dstParent.AddChild(Clone(srcChild))
				continue
			}
			if isLeafLike(existing, srcChild) {
				existing.Value = srcChild.Value
				existing.HasValue = true
				continue
			}
			if existing.Schema != nil && existing.Schema.Kind() == KindLeafList {
				// identity already included the value, so an
				// "existing" match means this leaf-list value is
				// already present: union, no-op.
				continue
			}
			if err := mergeInto(p, existing, srcChild); err != nil {
				return err
			}

		default:
			return &MergeError{Path: p, Msg: "unknown operation " + string(op)}
		}
	}
	return nil
}

func findChildByID(parent *Node, id string) *Node {
	for _, c := range parent.Children {
		if identity(c) == id {
			return c
		}
	}
	return nil
}
