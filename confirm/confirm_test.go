// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package confirm_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/coreconf/ncconfd/confirm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmCancelsTimerAndClearsState(t *testing.T) {
	var restored []byte
	c := confirm.New(filepath.Join(t.TempDir(), "confirmed_commit.job"),
		func(snap []byte) error { restored = snap; return nil })

	require.NoError(t, c.Begin("sess-1", "", "", time.Hour, false, []byte("old-running")))
	assert.Equal(t, confirm.Persistent, c.State())

	require.NoError(t, c.Confirm("sess-1", ""))
	assert.Equal(t, confirm.Inactive, c.State())
	assert.Nil(t, restored, "confirm must not trigger a rollback")
}

func TestCancelRestoresSnapshot(t *testing.T) {
	var restored []byte
	c := confirm.New(filepath.Join(t.TempDir(), "confirmed_commit.job"),
		func(snap []byte) error { restored = snap; return nil })

	require.NoError(t, c.Begin("sess-1", "", "", time.Hour, false, []byte("old-running")))
	require.NoError(t, c.Cancel("sess-1", ""))

	assert.Equal(t, confirm.Inactive, c.State())
	assert.Equal(t, []byte("old-running"), restored)
}

func TestTimeoutTriggersAutomaticRollback(t *testing.T) {
	done := make(chan []byte, 1)
	c := confirm.New(filepath.Join(t.TempDir(), "confirmed_commit.job"),
		func(snap []byte) error { done <- snap; return nil })

	require.NoError(t, c.Begin("sess-1", "", "", 20*time.Millisecond, false, []byte("old-running")))

	select {
	case snap := <-done:
		assert.Equal(t, []byte("old-running"), snap)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout did not trigger rollback")
	}
	assert.Equal(t, confirm.Inactive, c.State())
}

func TestEphemeralSessionCloseTriggersSynchronousRollback(t *testing.T) {
	done := make(chan []byte, 1)
	c := confirm.New(filepath.Join(t.TempDir(), "confirmed_commit.job"),
		func(snap []byte) error { done <- snap; return nil })

	require.NoError(t, c.Begin("sess-1", "", "", time.Hour, true, []byte("old-running")))
	assert.Equal(t, confirm.Ephemeral, c.State())

	c.OnSessionClose("sess-1")

	select {
	case snap := <-done:
		assert.Equal(t, []byte("old-running"), snap)
	case <-time.After(time.Second):
		t.Fatal("session close did not trigger rollback")
	}
	assert.Equal(t, confirm.Inactive, c.State())
}

func TestCancelFromNonOwningSessionOnEphemeralIsRejected(t *testing.T) {
	c := confirm.New(filepath.Join(t.TempDir(), "confirmed_commit.job"),
		func(snap []byte) error { return nil })

	require.NoError(t, c.Begin("sess-1", "", "", time.Hour, true, []byte("old-running")))
	err := c.Cancel("sess-2", "")
	assert.Error(t, err)
	assert.Equal(t, confirm.Ephemeral, c.State())
}

func TestConfirmWithMismatchedPersistIdIsRejected(t *testing.T) {
	c := confirm.New(filepath.Join(t.TempDir(), "confirmed_commit.job"),
		func(snap []byte) error { return nil })

	require.NoError(t, c.Begin("sess-1", "abc", "", time.Hour, false, []byte("old-running")))
	err := c.Confirm("sess-2", "wrong")
	assert.Error(t, err)
	assert.Equal(t, confirm.Persistent, c.State())
}

func TestBeginAgainFromSameSessionReArmsTimer(t *testing.T) {
	c := confirm.New(filepath.Join(t.TempDir(), "confirmed_commit.job"),
		func(snap []byte) error { return nil })

	require.NoError(t, c.Begin("sess-1", "", "", 30*time.Millisecond, false, []byte("v1")))
	require.NoError(t, c.Begin("sess-1", "", "", time.Hour, false, []byte("v2")))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, confirm.Persistent, c.State(), "re-armed timer must supersede the first, shorter one")
}

func TestNotifyHookFiresWithReasonOnTimeout(t *testing.T) {
	reasons := make(chan string, 1)
	c := confirm.New(filepath.Join(t.TempDir(), "confirmed_commit.job"),
		func(snap []byte) error { return nil })
	c.SetNotifyHook(func(reason string) { reasons <- reason })

	require.NoError(t, c.Begin("sess-1", "", "", 20*time.Millisecond, false, []byte("v1")))

	select {
	case r := <-reasons:
		assert.Equal(t, "timeout", r)
	case <-time.After(2 * time.Second):
		t.Fatal("notify hook did not fire")
	}
}

func TestLoadRecordMissingFileIsNotError(t *testing.T) {
	info, err := confirm.LoadRecord(filepath.Join(t.TempDir(), "does-not-exist.job"))
	require.NoError(t, err)
	assert.Empty(t, info.Session)
}
