// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package commit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/coreconf/ncconfd/commit"
	"github.com/coreconf/ncconfd/datastore"
	"github.com/coreconf/ncconfd/plugin"
	"github.com/coreconf/ncconfd/rpc"
	"github.com/coreconf/ncconfd/schema"
	"github.com/coreconf/ncconfd/storage"
	"github.com/coreconf/ncconfd/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, bus *plugin.Bus) (*commit.Engine, *datastore.Registry) {
	t.Helper()
	backend, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	reg := datastore.New(backend, nil)
	t.Cleanup(func() { reg.Close() })
	return commit.New(reg, bus, schema.NewStatic()), reg
}

func TestCommitNoOpWhenCandidateMatchesRunning(t *testing.T) {
	eng, reg := newEngine(t, plugin.NewBus())
	n, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	_, err := reg.Put(rpc.Running, "", n)
	require.NoError(t, err)
	_, err = reg.Put(rpc.Candidate, "", n)
	require.NoError(t, err)

	res, err := eng.Commit(context.Background(), commit.ModeCandidate, "")
	require.NoError(t, err)
	assert.True(t, res.Changes.Empty())
}

func TestCommitPublishesCandidateToRunning(t *testing.T) {
	eng, reg := newEngine(t, plugin.NewBus())
	running, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	candidate, _ := tree.Parse([]byte(`<cfg><x>2</x></cfg>`))
	_, err := reg.Put(rpc.Running, "", running)
	require.NoError(t, err)
	_, err = reg.Put(rpc.Candidate, "", candidate)
	require.NoError(t, err)

	res, err := eng.Commit(context.Background(), commit.ModeCandidate, "")
	require.NoError(t, err)
	assert.False(t, res.Changes.Empty())

	got, _, err := reg.Get(rpc.Running, "")
	require.NoError(t, err)
	assert.True(t, tree.Equal(candidate, got))
}

func TestCommitRollsBackOnPluginCommitFailure(t *testing.T) {
	bus := plugin.NewBus()
	var phases []plugin.Phase
	bus.RegisterTxn("flaky", 0, func(ctx context.Context, phase plugin.Phase, old, new *tree.Node, cs *tree.Changeset) error {
		phases = append(phases, phase)
		if phase == plugin.PhaseCommit {
			return errors.New("apply failed")
		}
		return nil
	})

	eng, reg := newEngine(t, bus)
	running, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	candidate, _ := tree.Parse([]byte(`<cfg><x>2</x></cfg>`))
	require.NoError(t, must2(reg.Put(rpc.Running, "", running)))
	require.NoError(t, must2(reg.Put(rpc.Candidate, "", candidate)))

	_, err := eng.Commit(context.Background(), commit.ModeCandidate, "")
	assert.Error(t, err)

	got, _, err := reg.Get(rpc.Running, "")
	require.NoError(t, err)
	assert.True(t, tree.Equal(running, got), "running must be unchanged after rollback")

	assert.Contains(t, phases, plugin.PhaseRevert)
}

func must2(_ datastore.Generation, err error) error { return err }
