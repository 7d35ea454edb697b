// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package startup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/coreconf/ncconfd/commit"
	"github.com/coreconf/ncconfd/datastore"
	"github.com/coreconf/ncconfd/plugin"
	"github.com/coreconf/ncconfd/rpc"
	"github.com/coreconf/ncconfd/schema"
	"github.com/coreconf/ncconfd/startup"
	"github.com/coreconf/ncconfd/storage"
	"github.com/coreconf/ncconfd/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(t *testing.T, extraXMLPath string) (*startup.Controller, *datastore.Registry) {
	t.Helper()
	backend, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	reg := datastore.New(backend, nil)
	t.Cleanup(func() { reg.Close() })

	oracle := schema.NewStatic()
	bus := plugin.NewBus()
	eng := commit.New(reg, bus, oracle)
	c := startup.New(reg, eng, oracle, bus, extraXMLPath, "")
	return c, reg
}

func TestRunNoneModeLeavesRunningAlone(t *testing.T) {
	c, reg := newController(t, "")
	n, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	_, err := reg.Put(rpc.Running, "", n)
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "none")
	require.NoError(t, err)
	assert.Equal(t, startup.StartupOK, res.Outcome)

	got, _, err := reg.Get(rpc.Running, "")
	require.NoError(t, err)
	assert.True(t, tree.Equal(n, got))
}

func TestRunInitModeResetsRunning(t *testing.T) {
	c, reg := newController(t, "")
	n, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	_, err := reg.Put(rpc.Running, "", n)
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "init")
	require.NoError(t, err)
	assert.Equal(t, startup.StartupOK, res.Outcome)
	assert.False(t, reg.Exists(rpc.Running, ""))
}

func TestRunStartupModeWithMissingStartupFallsBackToFailsafe(t *testing.T) {
	c, reg := newController(t, "")
	failsafe, _ := tree.Parse([]byte(`<cfg><safe>1</safe></cfg>`))
	_, err := reg.Put(rpc.Failsafe, "", failsafe)
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "startup")
	require.NoError(t, err)
	assert.Equal(t, startup.StartupErr, res.Outcome)
	assert.True(t, res.UsedFailsafe)

	got, _, err := reg.Get(rpc.Running, "")
	require.NoError(t, err)
	assert.True(t, tree.Equal(failsafe, got))
}

func TestRunSeedsCandidateFromRunning(t *testing.T) {
	c, reg := newController(t, "")
	n, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	_, err := reg.Put(rpc.Running, "", n)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), "none")
	require.NoError(t, err)

	got, _, err := reg.Get(rpc.Candidate, "")
	require.NoError(t, err)
	assert.True(t, tree.Equal(n, got))
}

func TestRunOverlaysExtraXMLOntoCandidateOnlyNotRunning(t *testing.T) {
	dir := t.TempDir()
	extraPath := filepath.Join(dir, "extra.xml")
	require.NoError(t, os.WriteFile(extraPath, []byte(`<cfg><extra>yes</extra></cfg>`), 0644))

	c, reg := newController(t, extraPath)
	n, _ := tree.Parse([]byte(`<cfg><x>1</x></cfg>`))
	_, err := reg.Put(rpc.Running, "", n)
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "running")
	require.NoError(t, err)
	assert.Equal(t, startup.StartupOK, res.Outcome)

	runningAfter, _, err := reg.Get(rpc.Running, "")
	require.NoError(t, err)
	assert.Nil(t, tree.Find(runningAfter, []string{"cfg", "extra"}))

	candidateAfter, _, err := reg.Get(rpc.Candidate, "")
	require.NoError(t, err)
	assert.NotNil(t, tree.Find(candidateAfter, []string{"cfg", "extra"}))
}
