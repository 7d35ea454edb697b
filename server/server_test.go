// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package server_test

import (
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/coreconf/ncconfd/commit"
	"github.com/coreconf/ncconfd/confirm"
	"github.com/coreconf/ncconfd/datastore"
	"github.com/coreconf/ncconfd/plugin"
	"github.com/coreconf/ncconfd/rpc"
	"github.com/coreconf/ncconfd/schema"
	"github.com/coreconf/ncconfd/server"
	"github.com/coreconf/ncconfd/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient is a minimal JSON-RPC-over-UNIX-socket client used only to
// drive the server loop from the test side; the real client package
// wraps this same framing.
type testClient struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
	id   int
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("unix", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}
}

func (c *testClient) call(t *testing.T, method string, args ...interface{}) (interface{}, interface{}) {
	t.Helper()
	c.id++
	require.NoError(t, c.enc.Encode(&rpc.Request{Method: method, Args: args, Id: c.id}))
	var resp rpc.Response
	require.NoError(t, c.dec.Decode(&resp))
	return resp.Result, resp.Error
}

func (c *testClient) notification(t *testing.T) rpc.Response {
	t.Helper()
	var resp rpc.Response
	require.NoError(t, c.dec.Decode(&resp))
	return resp
}

func newTestServer(t *testing.T) (addr string, srv *server.Srv) {
	return newTestServerWithOracle(t, schema.NewStatic())
}

func newTestServerWithOracle(t *testing.T, oracle schema.Oracle) (addr string, srv *server.Srv) {
	t.Helper()
	backend, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	reg := datastore.New(backend, nil)
	t.Cleanup(func() { reg.Close() })

	bus := plugin.NewBus()
	eng := commit.New(reg, bus, oracle)
	confirmCtl := confirm.New(filepath.Join(t.TempDir(), "confirmed_commit.job"), func(snap []byte) error { return nil })

	addr = filepath.Join(t.TempDir(), "ncconfd.sock")
	l, err := server.Listen("unix", addr)
	require.NoError(t, err)

	srv = server.NewSrv(l, server.Deps{
		Registry: reg,
		Bus:      bus,
		Engine:   eng,
		Confirm:  confirmCtl,
		Oracle:   oracle,
	})
	go srv.Serve()
	t.Cleanup(func() { srv.Shutdown() })
	return addr, srv
}

func TestGetConfigRoundTripsAfterEditAndCommit(t *testing.T) {
	addr, _ := newTestServer(t)
	c := dial(t, addr)

	res, errv := c.call(t, "EditConfig", "candidate", `<cfg><x>1</x></cfg>`, "merge")
	require.Nil(t, errv)
	assert.Equal(t, "ok", res)

	res, errv = c.call(t, "Commit", false, 0, "", "")
	require.Nil(t, errv)
	assert.Equal(t, "ok", res)

	res, errv = c.call(t, "GetConfig", "running")
	require.Nil(t, errv)
	assert.Contains(t, res.(string), "<x>1</x>")
}

func TestLockIsExclusivePerDatastore(t *testing.T) {
	addr, _ := newTestServer(t)
	a := dial(t, addr)
	b := dial(t, addr)

	res, errv := a.call(t, "Lock", "running")
	require.Nil(t, errv)
	assert.Equal(t, "ok", res)

	_, errv = b.call(t, "Lock", "running")
	assert.NotNil(t, errv, "a second session must not acquire a lock already held")

	res, errv = a.call(t, "Unlock", "running")
	require.Nil(t, errv)
	assert.Equal(t, "ok", res)

	res, errv = b.call(t, "Lock", "running")
	require.Nil(t, errv)
	assert.Equal(t, "ok", res)
}

func TestValidateRejectsMissingMandatoryLeaf(t *testing.T) {
	root := schema.NewContainer("config").WithChild(schema.NewLeaf("name").WithMandatory())
	oracle := schema.NewStatic().AddRoot(root)
	addr, _ := newTestServerWithOracle(t, oracle)
	c := dial(t, addr)

	res, errv := c.call(t, "EditConfig", "candidate", `<config></config>`, "merge")
	require.Nil(t, errv)
	assert.Equal(t, "ok", res)

	_, errv = c.call(t, "Validate", "candidate")
	assert.NotNil(t, errv, "validate must reject a candidate missing a mandatory leaf")
}

func TestCommitRejectsMissingMandatoryLeaf(t *testing.T) {
	root := schema.NewContainer("config").WithChild(schema.NewLeaf("name").WithMandatory())
	oracle := schema.NewStatic().AddRoot(root)
	addr, _ := newTestServerWithOracle(t, oracle)
	c := dial(t, addr)

	res, errv := c.call(t, "EditConfig", "candidate", `<config></config>`, "merge")
	require.Nil(t, errv)
	assert.Equal(t, "ok", res)

	_, errv = c.call(t, "Commit", false, 0, "", "")
	assert.NotNil(t, errv, "commit must reject a candidate missing a mandatory leaf")
}

func TestCreateSubscriptionReceivesCommitNotification(t *testing.T) {
	addr, _ := newTestServer(t)
	watcher := dial(t, addr)
	editor := dial(t, addr)

	res, errv := watcher.call(t, "CreateSubscription")
	require.Nil(t, errv)
	assert.Equal(t, "ok", res)

	res, errv = editor.call(t, "EditConfig", "candidate", `<cfg><x>1</x></cfg>`, "merge")
	require.Nil(t, errv)
	assert.Equal(t, "ok", res)
	res, errv = editor.call(t, "Commit", false, 0, "", "")
	require.Nil(t, errv)
	assert.Equal(t, "ok", res)

	done := make(chan rpc.Response, 1)
	go func() { done <- watcher.notification(t) }()

	select {
	case n := <-done:
		assert.Equal(t, 0, n.Id)
		payload, ok := n.Result.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "commit", payload["notificationType"])
	case <-time.After(2 * time.Second):
		t.Fatal("subscribed session did not receive a commit notification")
	}
}

func TestCloseSessionReleasesLocksForOtherSessions(t *testing.T) {
	addr, _ := newTestServer(t)
	a := dial(t, addr)
	b := dial(t, addr)

	_, errv := a.call(t, "Lock", "running")
	require.Nil(t, errv)

	res, errv := a.call(t, "CloseSession")
	require.Nil(t, errv)
	assert.Equal(t, "ok", res)

	time.Sleep(50 * time.Millisecond)

	res, errv = b.call(t, "Lock", "running")
	require.Nil(t, errv)
	assert.Equal(t, "ok", res)
}
