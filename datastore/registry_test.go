// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package datastore_test

import (
	"testing"

	"github.com/coreconf/ncconfd"
	"github.com/coreconf/ncconfd/datastore"
	"github.com/coreconf/ncconfd/rpc"
	"github.com/coreconf/ncconfd/storage"
	"github.com/coreconf/ncconfd/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *datastore.Registry {
	t.Helper()
	backend, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	r := datastore.New(backend, nil)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestPutThenGetRoundTrips(t *testing.T) {
	r := newRegistry(t)
	n, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))

	gen, err := r.Put(rpc.Candidate, "", n)
	require.NoError(t, err)
	assert.Equal(t, datastore.Generation(1), gen)

	got, gen2, err := r.Get(rpc.Candidate, "")
	require.NoError(t, err)
	assert.Equal(t, gen, gen2)
	assert.True(t, tree.Equal(n, got))
}

func TestGetReturnsIndependentClone(t *testing.T) {
	r := newRegistry(t)
	n, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	_, err := r.Put(rpc.Candidate, "", n)
	require.NoError(t, err)

	got, _, err := r.Get(rpc.Candidate, "")
	require.NoError(t, err)
	got.Children[0].Children[0].Value = "mutated"

	got2, _, err := r.Get(rpc.Candidate, "")
	require.NoError(t, err)
	assert.Equal(t, "1", got2.Children[0].Children[0].Value)
}

func TestCopyConfigReplacesDestination(t *testing.T) {
	r := newRegistry(t)
	n, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	_, err := r.Put(rpc.Candidate, "", n)
	require.NoError(t, err)

	require.NoError(t, r.CopyConfig(rpc.Running, "", rpc.Candidate, ""))

	got, _, err := r.Get(rpc.Running, "")
	require.NoError(t, err)
	assert.True(t, tree.Equal(n, got))
}

func TestDeleteConfigRejectsRunningAndCandidate(t *testing.T) {
	r := newRegistry(t)
	assert.Error(t, r.DeleteConfig(rpc.Running))
	assert.Error(t, r.DeleteConfig(rpc.Candidate))
	assert.NoError(t, r.DeleteConfig(rpc.Tmp))
}

func TestLockDeniedNamesHolder(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Lock(rpc.Candidate, ncconfd.LockId(7), "sess-7"))

	err := r.Lock(rpc.Candidate, ncconfd.LockId(9), "sess-9")
	assert.Error(t, err)

	holder, session, locked := r.LockHolder(rpc.Candidate)
	assert.True(t, locked)
	assert.Equal(t, ncconfd.LockId(7), holder)
	assert.Equal(t, "sess-7", session)
}

func TestUnlockByNonHolderFails(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Lock(rpc.Candidate, ncconfd.LockId(7), "sess-7"))
	assert.Error(t, r.Unlock(rpc.Candidate, ncconfd.LockId(9)))
	assert.NoError(t, r.Unlock(rpc.Candidate, ncconfd.LockId(7)))
}

func TestOpenSessionClonesSharedCandidate(t *testing.T) {
	r := newRegistry(t)
	n, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	_, err := r.Put(rpc.Candidate, "", n)
	require.NoError(t, err)

	require.NoError(t, r.OpenSession("sess-1"))
	got, _, err := r.Get(rpc.Candidate, "sess-1")
	require.NoError(t, err)
	assert.True(t, tree.Equal(n, got))

	r.CloseSession("sess-1")
	assert.Equal(t, 0, r.SessionCount())
}
