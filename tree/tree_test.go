// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package tree_test

import (
	"testing"

	"github.com/coreconf/ncconfd/tree"
	"github.com/stretchr/testify/assert"
)

func TestParseSerializeRoundTrip(t *testing.T) {
	src := `<cfg><x>1</x></cfg>`
	n, err := tree.Parse([]byte(src))
	assert.NoError(t, err)

	out := tree.Serialize(n, false)
	n2, err := tree.Parse(out)
	assert.NoError(t, err)

	assert.True(t, tree.Equal(n, n2))
}

func TestParseInvalidXML(t *testing.T) {
	_, err := tree.Parse([]byte(`<cfg><x>1</cfg>`))
	assert.Error(t, err)
}

func TestDiffEmptyForEqualTrees(t *testing.T) {
	a, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	b, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	assert.True(t, tree.Diff(a, b).Empty())
}

func TestDiffDetectsChangedAddedRemoved(t *testing.T) {
	a, _ := tree.Parse([]byte(`<cfg><x>1</x><y>keep</y></cfg>`))
	b, _ := tree.Parse([]byte(`<cfg><x>2</x><z>new</z></cfg>`))

	cs := tree.Diff(a, b)
	assert.False(t, cs.Empty())

	var sawChanged, sawAdded, sawRemoved bool
	for _, c := range cs.Changes {
		switch c.Kind {
		case tree.Changed:
			sawChanged = true
		case tree.Added:
			sawAdded = true
		case tree.Removed:
			sawRemoved = true
		}
	}
	assert.True(t, sawChanged, "expected a changed leaf")
	assert.True(t, sawAdded, "expected an added leaf")
	assert.True(t, sawRemoved, "expected a removed leaf")
}

func TestMergeOverlayAddsAndOverrides(t *testing.T) {
	dst, _ := tree.Parse([]byte(`<cfg><x>1</x><keep>yes</keep></cfg>`))
	src, _ := tree.Parse([]byte(`<cfg><x>2</x><new>added</new></cfg>`))

	merged, err := tree.Merge(dst, src)
	assert.NoError(t, err)

	want, _ := tree.Parse([]byte(`<cfg><x>2</x><keep>yes</keep><new>added</new></cfg>`))
	assert.True(t, tree.Equal(merged, want))
}

func TestMergeIsIdempotent(t *testing.T) {
	dst, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	src, _ := tree.Parse([]byte(`<cfg><x>2</x></cfg>`))

	once, err := tree.Merge(dst, src)
	assert.NoError(t, err)
	twice, err := tree.Merge(once, src)
	assert.NoError(t, err)

	assert.True(t, tree.Equal(once, twice))
}

func TestMergeDeleteOfMissingNodeErrors(t *testing.T) {
	dst, _ := tree.Parse([]byte(`<cfg></cfg>`))
	src := tree.New("config")
	del := tree.NewLeaf("x", "1")
	del.Operation = tree.OpDelete
	src.AddChild(del)

	_, err := tree.Merge(dst, src)
	assert.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	orig, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	clone := tree.Clone(orig)
	clone.Children[0].Children[0].Value = "2"

	assert.Equal(t, "1", orig.Children[0].Children[0].Value)
	assert.Equal(t, "2", clone.Children[0].Children[0].Value)
}

func TestFind(t *testing.T) {
	n, _ := tree.Parse([]byte(`<cfg><a><b>v</b></a></cfg>`))
	found := tree.Find(n, []string{"cfg", "a", "b"})
	assert.NotNil(t, found)
	assert.Equal(t, "v", found.Value)

	assert.Nil(t, tree.Find(n, []string{"missing"}))
}
