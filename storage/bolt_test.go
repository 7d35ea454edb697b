// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/coreconf/ncconfd/rpc"
	"github.com/coreconf/ncconfd/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltBackendSaveThenLoadRoundTrips(t *testing.T) {
	b, err := storage.NewBoltBackend(filepath.Join(t.TempDir(), "ncconfd.bolt"))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Save(rpc.Running, []byte("<config/>")))
	data, err := b.Load(rpc.Running)
	require.NoError(t, err)
	assert.Equal(t, "<config/>", string(data))
}

func TestBoltBackendLoadMissingReturnsNil(t *testing.T) {
	b, err := storage.NewBoltBackend(filepath.Join(t.TempDir(), "ncconfd.bolt"))
	require.NoError(t, err)
	defer b.Close()

	data, err := b.Load(rpc.Candidate)
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestBoltBackendDeleteThenLoadIsNil(t *testing.T) {
	b, err := storage.NewBoltBackend(filepath.Join(t.TempDir(), "ncconfd.bolt"))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Save(rpc.Startup, []byte("x")))
	require.NoError(t, b.Delete(rpc.Startup))

	data, err := b.Load(rpc.Startup)
	require.NoError(t, err)
	assert.Nil(t, data)
}
