// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package schema declares the schema oracle the core consumes
// (spec.md §1, §4.4 — C3): "we assume a schema provider that can (a)
// load modules, (b) resolve a path to a schema node, (c) validate an
// in-memory configuration tree against the loaded schema, and (d)
// report per-module revision state." The YANG language itself, its
// parser and its XPath engine are out of scope; StaticOracle (from
// NewStatic) is a hand-built reference oracle, used by the tests and as
// the daemon's oracle in cmd/ncconfd, not a YANG implementation.
package schema

import (
	"regexp"

	"github.com/coreconf/ncconfd/tree"
)

// Node is the full schema view; it is a superset of tree.SchemaNode so
// a *Node can be assigned directly as a tree.Node.Schema.
type Node interface {
	tree.SchemaNode
	Name() string
	Namespace() string
	Mandatory() bool
	MinElements() int
	MaxElements() int
	Pattern() *regexp.Regexp
	Child(name string) Node
	LeafrefTarget() []string // path of the leafref target, empty if not a leafref
	Must() []string          // XPath must expressions
	When() string            // XPath when expression, empty if none
}

// ModuleState is one entry of the per-module revision report (C3 (d)).
type ModuleState struct {
	Name     string
	Revision string
}

// Diagnostic is a single schema-level validation failure, convertible
// 1:1 into an ncerror.Error by the validator (C5).
type Diagnostic struct {
	Severity string // "error" | "warning"
	Tag      string // RFC 6241 Appendix A error-tag
	Path     string
	Message  string
	AppTag   string
}

// Oracle is the schema provider contract of spec.md §4.4 (a)-(d).
type Oracle interface {
	// LoadModules loads YANG modules from dirs (repeatable
	// yang-dir option, spec.md §6), optionally overriding the main
	// module file.
	LoadModules(dirs []string, mainFile string) error

	// Resolve returns the schema node for name under parent (nil
	// parent means "look up a top-level node"), or nil if name does
	// not resolve — matching tree.Resolver's "may be unresolved"
	// contract (spec.md §3).
	Resolve(parent Node, name string) Node

	// ResolveRoot is Resolve with an implicit nil parent, convenient
	// for BindSchema's root call.
	ResolveRoot(name string) Node

	// ValidateStructure performs the structural/reference/XPath checks
	// of spec.md §4.4 steps 1-2 (mandatory/range/pattern/unique/
	// min-max, leafref targets, when/must) against t.
	ValidateStructure(t *tree.Node) []Diagnostic

	// Modules reports the currently loaded modules and revisions (C3 (d)).
	Modules() []ModuleState
}

// Resolver adapts an Oracle into a tree.Resolver for BindSchema,
// translating between tree.SchemaNode and schema.Node.
func Resolver(o Oracle) tree.Resolver {
	return func(parentSchema tree.SchemaNode, name string) tree.SchemaNode {
		var parent Node
		if parentSchema != nil {
			parent, _ = parentSchema.(Node)
		}
		n := o.Resolve(parent, name)
		if n == nil {
			return nil
		}
		return n
	}
}
