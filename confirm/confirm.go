// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package confirm implements the confirmed-commit controller of
// spec.md §4.6's confirmed-commit extension (RFC 6241 §8.4) — C7: a
// commit that auto-reverts unless confirmed within a timeout.
//
// Grounded on server/confirmed_commit.go: the ConfirmedCommitInfo
// {Session, PersistId} JSON shape is kept as the restart-recovery
// record, and isCommitAllowed's session/persist-id matching rules
// become Controller's Confirm/Cancel authorization checks. The
// teacher's timer is an external script armed against a JSON sentinel
// file; per spec.md §5's single-event-loop model that becomes an
// in-process time.AfterFunc owned by Controller (SPEC_FULL.md §4.6
// REDESIGN).
package confirm

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coreconf/ncconfd/ncerror"
)

// State is one of the four confirmed-commit states of spec.md §4.6.
type State int

const (
	Inactive State = iota
	Persistent
	Ephemeral
	Rollback
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Persistent:
		return "persistent"
	case Ephemeral:
		return "ephemeral"
	case Rollback:
		return "rollback"
	}
	return "unknown"
}

// DefaultTimeout matches the teacher's DefaultTimeout (confirmed
// commit default is 10 minutes per RFC 6241 §8.4's <confirm-timeout>).
const DefaultTimeout = 600 * time.Second

// Info is the restart-recovery record, persisted in the teacher's
// on-disk shape so an operator inspecting it post-restart sees the
// same two fields.
type Info struct {
	Session   string `json:"session"`
	PersistId string `json:"persist-id"`
}

// Controller is the C7 confirmed-commit state machine. Zero value is
// not usable; use New.
type Controller struct {
	restartPath  string
	mu           sync.Mutex
	state        State
	session      string
	persistId    string
	persist      string
	timer        *time.Timer
	savedRunning []byte // serialized running snapshot to restore on rollback
	restoreFn    func([]byte) error
	notify       func(reason string)
}

// SetNotifyHook installs fn to be called whenever a rollback completes,
// with reason one of "timeout", "cancel" or "session-close" — the
// server wires this to its notification broadcaster (spec.md §8
// Scenario S2's confirm-event).
func (c *Controller) SetNotifyHook(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
}

// New creates a Controller that persists its restart-recovery record
// at restartPath (spec.md §6's persisted-state layout). restoreFn
// writes a serialized running snapshot back into the running
// datastore during rollback; the server wires this to the commit
// engine's registry.
func New(restartPath string, restoreFn func([]byte) error) *Controller {
	return &Controller{restartPath: restartPath, restoreFn: restoreFn, state: Inactive}
}

// State reports the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin arms a confirmed commit that has already been applied to
// running: snapshot holds running's serialized content immediately
// before the commit, so Rollback can restore it. ephemeral selects
// whether a session close should trigger a synchronous rollback
// (spec.md §4.6), and so selects EPHEMERAL over PERSISTENT. A non-empty
// persist becomes the persist-id that later calls must present.
func (c *Controller) Begin(session, persistId, persist string, timeout time.Duration, ephemeral bool, snapshot []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timeout <= 0 {
		e := ncerror.NewInvalidValueProtocolError()
		e.Message = "timeout value out of range, 0 is not permitted"
		return e
	}

	if c.state != Inactive {
		// re-arm: PERSISTENT/EPHEMERAL + matching commit(confirmed, ...)
		// re-arms the timer and may update the persist-id, per spec.md
		// §4.6's transition table rows 2-3.
		if err := c.isAllowedLocked(session, persistId, false); err != nil {
			return err
		}
		if persistId != "" {
			c.persistId = persistId
		}
		if persist != "" {
			c.persist = persist
			c.persistId = persist
		}
		c.armTimerLocked(timeout)
		c.persistRecordLocked()
		return nil
	}

	c.session = session
	c.persistId = persistId
	if persist != "" {
		c.persistId = persist
	}
	c.persist = persist
	c.savedRunning = snapshot
	if ephemeral {
		c.state = Ephemeral
	} else {
		c.state = Persistent
	}
	c.armTimerLocked(timeout)
	c.persistRecordLocked()
	return nil
}

// isAllowedLocked mirrors the teacher's isCommitAllowed: a follow-up
// commit against an outstanding confirmed commit is only accepted if
// the persist-id matches, or (when no persist-id was used) the same
// session issued it.
func (c *Controller) isAllowedLocked(session, persistId string, revert bool) error {
	if c.state == Inactive {
		return nil
	}
	switch {
	case revert:
		return nil
	case persistId == "" && c.persistId != "":
		e := ncerror.NewAccessDeniedApplicationError()
		e.Message = "operation blocked by outstanding confirmed commit"
		return e
	case c.persistId != "" && persistId != c.persistId:
		e := ncerror.NewInvalidValueProtocolError()
		e.Message = "persist-id does not match outstanding confirmed commit"
		return e
	case c.persistId == "" && c.session != session:
		e := ncerror.NewAccessDeniedApplicationError()
		e.Message = "operation blocked by outstanding confirmed commit"
		return e
	}
	return nil
}

// Confirm finalizes an outstanding confirmed commit: the timer is
// cancelled and the commit becomes permanent. spec.md §9's Open
// Question resolution: a confirming commit against an EPHEMERAL
// commit from any session other than the one that started it is
// rejected with invalid-value, the same as a persist-id mismatch,
// since an ephemeral commit has no persist-id to check against.
func (c *Controller) Confirm(session, persistId string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Inactive {
		return nil
	}
	if c.persistId == "" && c.state == Ephemeral && session != c.session {
		e := ncerror.NewInvalidValueProtocolError()
		e.Message = "confirming commit must come from the session that started it"
		return e
	}
	if err := c.isAllowedLocked(session, persistId, false); err != nil {
		return err
	}
	c.clearLocked()
	return nil
}

// Cancel immediately rolls back an outstanding confirmed commit
// (RFC 6241 §8.4.4.1's <cancel-commit>), restoring the snapshot taken
// at Begin.
func (c *Controller) Cancel(session, persistId string) error {
	c.mu.Lock()
	if c.state == Inactive {
		c.mu.Unlock()
		return nil
	}
	if c.persistId == "" && c.state == Ephemeral && session != c.session {
		c.mu.Unlock()
		e := ncerror.NewInvalidValueProtocolError()
		e.Message = "cancel-commit must come from the session that started it"
		return e
	}
	if err := c.isAllowedLocked(session, persistId, false); err != nil {
		c.mu.Unlock()
		return err
	}
	snapshot := c.savedRunning
	c.mu.Unlock()
	return c.rollback(snapshot, "cancel")
}

// OnSessionClose triggers a synchronous rollback if session owned an
// outstanding EPHEMERAL confirmed commit (spec.md §4.6).
func (c *Controller) OnSessionClose(session string) {
	c.mu.Lock()
	if c.state != Ephemeral || c.session != session {
		c.mu.Unlock()
		return
	}
	snapshot := c.savedRunning
	c.mu.Unlock()
	c.rollback(snapshot, "session-close")
}

func (c *Controller) armTimerLocked(timeout time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		snapshot := c.savedRunning
		c.mu.Unlock()
		c.rollback(snapshot, "timeout")
	})
}

func (c *Controller) rollback(snapshot []byte, reason string) error {
	c.mu.Lock()
	if c.state == Inactive {
		c.mu.Unlock()
		return nil
	}
	c.state = Rollback
	notify := c.notify
	c.mu.Unlock()

	var err error
	if c.restoreFn != nil {
		err = c.restoreFn(snapshot)
	}

	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()

	if notify != nil {
		notify(reason)
	}

	if err != nil {
		e := ncerror.NewRollbackFailedApplicationError()
		e.Message = fmt.Sprintf("confirmed-commit rollback failed: %v", err)
		return e
	}
	return nil
}

func (c *Controller) clearLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state = Inactive
	c.session = ""
	c.persistId = ""
	c.persist = ""
	c.savedRunning = nil
	c.persistRecordLocked()
}

func (c *Controller) persistRecordLocked() {
	if c.restartPath == "" {
		return
	}
	info := Info{}
	if c.state != Inactive {
		info.Session = c.session
		info.PersistId = c.persistId
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	os.WriteFile(c.restartPath, data, 0600)
}

// LoadRecord reads a persisted Info left behind by a prior process, the
// way getConfirmedCommitInfo does; a missing file means no pending
// confirmed commit and is not an error.
func LoadRecord(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Info{}, nil
	}
	if err != nil {
		return nil, err
	}
	info := &Info{}
	if err := json.Unmarshal(data, info); err != nil {
		return nil, err
	}
	return info, nil
}
