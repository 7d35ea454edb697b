// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package client_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/coreconf/ncconfd/client"
	"github.com/coreconf/ncconfd/commit"
	"github.com/coreconf/ncconfd/confirm"
	"github.com/coreconf/ncconfd/datastore"
	"github.com/coreconf/ncconfd/plugin"
	"github.com/coreconf/ncconfd/schema"
	"github.com/coreconf/ncconfd/server"
	"github.com/coreconf/ncconfd/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) string {
	t.Helper()
	backend, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	reg := datastore.New(backend, nil)
	t.Cleanup(func() { reg.Close() })

	bus := plugin.NewBus()
	oracle := schema.NewStatic()
	eng := commit.New(reg, bus, oracle)
	confirmCtl := confirm.New(filepath.Join(t.TempDir(), "confirmed_commit.job"), func(snap []byte) error { return nil })

	addr := filepath.Join(t.TempDir(), "ncconfd.sock")
	l, err := server.Listen("unix", addr)
	require.NoError(t, err)

	srv := server.NewSrv(l, server.Deps{
		Registry: reg,
		Bus:      bus,
		Engine:   eng,
		Confirm:  confirmCtl,
		Oracle:   oracle,
	})
	go srv.Serve()
	t.Cleanup(func() { srv.Shutdown() })
	return addr
}

func TestEditConfigCommitGetConfigRoundTrip(t *testing.T) {
	addr := newTestServer(t)
	c, err := client.Dial("unix", addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	res, err := c.EditConfig("candidate", `<cfg><x>1</x></cfg>`, "merge")
	require.NoError(t, err)
	assert.Equal(t, "ok", res)

	res, err = c.Commit(false, 0, "", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", res)

	got, err := c.GetConfig("running")
	require.NoError(t, err)
	assert.Contains(t, got, "<x>1</x>")
}

func TestUnknownTargetReturnsError(t *testing.T) {
	addr := newTestServer(t)
	c, err := client.Dial("unix", addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, err = c.GetConfig("bogus-datastore")
	assert.Error(t, err)
}

func TestNotificationsArriveAfterSubscribe(t *testing.T) {
	addr := newTestServer(t)
	watcher, err := client.Dial("unix", addr)
	require.NoError(t, err)
	t.Cleanup(func() { watcher.Close() })
	editor, err := client.Dial("unix", addr)
	require.NoError(t, err)
	t.Cleanup(func() { editor.Close() })

	_, err = watcher.CreateSubscription()
	require.NoError(t, err)

	_, err = editor.EditConfig("candidate", `<cfg><x>1</x></cfg>`, "merge")
	require.NoError(t, err)
	_, err = editor.Commit(false, 0, "", "")
	require.NoError(t, err)

	select {
	case n, ok := <-watcher.Notifications():
		require.True(t, ok)
		payload, ok := n.Result.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "commit", payload["notificationType"])
	case <-time.After(2 * time.Second):
		t.Fatal("subscribed client did not receive a commit notification")
	}
}

func TestCloseStopsPendingCalls(t *testing.T) {
	addr := newTestServer(t)
	c, err := client.Dial("unix", addr)
	require.NoError(t, err)

	require.NoError(t, c.Close())

	_, err = c.Get()
	assert.Error(t, err)
}
