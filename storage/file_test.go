// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package storage_test

import (
	"testing"

	"github.com/coreconf/ncconfd/rpc"
	"github.com/coreconf/ncconfd/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackendLoadMissingReturnsNil(t *testing.T) {
	b, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	data, err := b.Load(rpc.Candidate)
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestFileBackendSaveThenLoadRoundTrips(t *testing.T) {
	b, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.Save(rpc.Running, []byte("<config/>")))
	data, err := b.Load(rpc.Running)
	require.NoError(t, err)
	assert.Equal(t, "<config/>", string(data))
}

func TestFileBackendSaveOverwrites(t *testing.T) {
	b, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.Save(rpc.Running, []byte("one")))
	require.NoError(t, b.Save(rpc.Running, []byte("two")))
	data, err := b.Load(rpc.Running)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestFileBackendDeleteMissingIsNotError(t *testing.T) {
	b, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, b.Delete(rpc.Startup))
}

func TestFileBackendDeleteThenLoadIsNil(t *testing.T) {
	b, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.Save(rpc.Candidate, []byte("x")))
	require.NoError(t, b.Delete(rpc.Candidate))

	data, err := b.Load(rpc.Candidate)
	require.NoError(t, err)
	assert.Nil(t, data)
}
