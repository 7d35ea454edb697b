// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package schema

import (
	"regexp"
	"strings"

	"github.com/coreconf/ncconfd/tree"
)

// StaticNode is a hand-built schema node used by tests and by callers
// that embed a fixed schema rather than loading YANG. It is not a YANG
// implementation; per spec.md §1 the YANG parser is an external
// collaborator.
type StaticNode struct {
	name, namespace string
	kind            tree.Kind
	mandatory       bool
	minElems        int
	maxElems        int
	pattern         *regexp.Regexp
	keys            []string
	childOrder      []string
	children        map[string]*StaticNode
	leafrefTarget   []string
	must            []string
	when            string
}

func NewContainer(name string) *StaticNode {
	return &StaticNode{name: name, kind: tree.KindContainer, children: map[string]*StaticNode{}}
}

func NewList(name string, keys ...string) *StaticNode {
	return &StaticNode{name: name, kind: tree.KindList, keys: keys, children: map[string]*StaticNode{}}
}

func NewLeaf(name string) *StaticNode {
	return &StaticNode{name: name, kind: tree.KindLeaf, children: map[string]*StaticNode{}}
}

func NewLeafList(name string) *StaticNode {
	return &StaticNode{name: name, kind: tree.KindLeafList, children: map[string]*StaticNode{}}
}

func (n *StaticNode) WithChild(c *StaticNode) *StaticNode {
	n.children[c.name] = c
	n.childOrder = append(n.childOrder, c.name)
	return n
}

func (n *StaticNode) WithMandatory() *StaticNode    { n.mandatory = true; return n }
func (n *StaticNode) WithPattern(re string) *StaticNode {
	n.pattern = regexp.MustCompile(re)
	return n
}
func (n *StaticNode) WithRange(min, max int) *StaticNode { n.minElems, n.maxElems = min, max; return n }
func (n *StaticNode) WithLeafref(target ...string) *StaticNode {
	n.leafrefTarget = target
	return n
}
func (n *StaticNode) WithMust(expr string) *StaticNode { n.must = append(n.must, expr); return n }
func (n *StaticNode) WithWhen(expr string) *StaticNode { n.when = expr; return n }

func (n *StaticNode) Kind() tree.Kind       { return n.kind }
func (n *StaticNode) Keys() []string        { return n.keys }
func (n *StaticNode) ChildOrder() []string  { return n.childOrder }
func (n *StaticNode) Name() string          { return n.name }
func (n *StaticNode) Namespace() string     { return n.namespace }
func (n *StaticNode) Mandatory() bool       { return n.mandatory }
func (n *StaticNode) MinElements() int      { return n.minElems }
func (n *StaticNode) MaxElements() int      { return n.maxElems }
func (n *StaticNode) Pattern() *regexp.Regexp { return n.pattern }
func (n *StaticNode) LeafrefTarget() []string { return n.leafrefTarget }
func (n *StaticNode) Must() []string         { return n.must }
func (n *StaticNode) When() string           { return n.when }

func (n *StaticNode) Child(name string) Node {
	c, ok := n.children[name]
	if !ok {
		return nil
	}
	return c
}

// StaticOracle is the reference Oracle backed by a fixed tree of
// StaticNode definitions.
type StaticOracle struct {
	roots   map[string]*StaticNode
	modules []ModuleState
}

func NewStatic(modules ...ModuleState) *StaticOracle {
	return &StaticOracle{roots: map[string]*StaticNode{}, modules: modules}
}

func (s *StaticOracle) AddRoot(n *StaticNode) *StaticOracle {
	s.roots[n.name] = n
	return s
}

func (s *StaticOracle) LoadModules(dirs []string, mainFile string) error { return nil }

func (s *StaticOracle) Resolve(parent Node, name string) Node {
	if parent == nil {
		if r, ok := s.roots[name]; ok {
			return r
		}
		return nil
	}
	return parent.Child(name)
}

func (s *StaticOracle) ResolveRoot(name string) Node { return s.Resolve(nil, name) }

func (s *StaticOracle) Modules() []ModuleState { return s.modules }

func (s *StaticOracle) ValidateStructure(t *tree.Node) []Diagnostic {
	var diags []Diagnostic
	var walk func(n *tree.Node)
	walk = func(n *tree.Node) {
		if sn, ok := asStatic(n.Schema); ok {
			seen := map[string]bool{}
			for _, c := range n.Children {
				seen[c.Name] = true
			}
			for name, cdef := range sn.children {
				if cdef.mandatory && !seen[name] {
					diags = append(diags, Diagnostic{
						Severity: "error", Tag: "missing-element", AppTag: "missing-element",
						Path: pathString(n) + "/" + name,
						Message: "mandatory node '" + name + "' is missing",
					})
				}
			}
			if sn.kind == tree.KindLeaf && sn.pattern != nil && n.Value != "" &&
				!sn.pattern.MatchString(n.Value) {
				diags = append(diags, Diagnostic{
					Severity: "error", Tag: "invalid-value",
					Path: pathString(n), Message: "value does not match pattern",
				})
			}
			if len(sn.leafrefTarget) > 0 {
				root := n
				for root.Parent != nil {
					root = root.Parent
				}
				if tree.Find(root, sn.leafrefTarget) == nil {
					diags = append(diags, Diagnostic{
						Severity: "error", Tag: "data-missing",
						Path: pathString(n), Message: "leafref target does not exist",
					})
				}
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t)
	diags = append(diags, validateListRanges(t)...)
	return diags
}

func validateListRanges(n *tree.Node) []Diagnostic {
	var diags []Diagnostic
	counts := map[string]int{}
	var def *StaticNode
	for _, c := range n.Children {
		if sn, ok := asStatic(c.Schema); ok && sn.kind == tree.KindList {
			counts[c.Name]++
			def = sn
		}
	}
	for name, cnt := range counts {
		if def == nil || def.name != name {
			continue
		}
		if def.minElems > 0 && cnt < def.minElems {
			diags = append(diags, Diagnostic{
				Severity: "error", Tag: "operation-failed",
				Path: pathString(n) + "/" + name, Message: "too few list entries",
			})
		}
		if def.maxElems > 0 && cnt > def.maxElems {
			diags = append(diags, Diagnostic{
				Severity: "error", Tag: "operation-failed",
				Path: pathString(n) + "/" + name, Message: "too many list entries",
			})
		}
	}
	for _, c := range n.Children {
		diags = append(diags, validateListRanges(c)...)
	}
	return diags
}

func asStatic(s tree.SchemaNode) (*StaticNode, bool) {
	if s == nil {
		return nil, false
	}
	sn, ok := s.(*StaticNode)
	return sn, ok
}

func pathString(n *tree.Node) string {
	return "/" + strings.Join(n.Path(), "/")
}
