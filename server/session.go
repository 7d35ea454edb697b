// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package server

import (
	"strconv"
	"sync"

	"github.com/coreconf/ncconfd/rpc"
)

// notifyQueueSize is generous enough that a slow-but-alive subscriber
// does not lose a commit notification under normal load; push() drops
// rather than blocks once it is full.
const notifyQueueSize = 32

// session is the dispatcher's per-connection record: identity,
// authorization inputs and an optional notification subscription.
// Grounded on server/session.go's session struct in the teacher
// (Uid/Groups/Superuser carried alongside the session id) and
// server/conn.go's one-SrvConn-per-connection model.
type session struct {
	id        string
	uid       uint32
	user      string
	groups    []string
	superuser bool

	mu          sync.Mutex
	subscribed  bool
	notifyCh    chan *rpc.Response
	closeOnce   sync.Once
	closeConnFn func()
}

func newSession(id string, uid uint32, user string, groups []string, superuser bool) *session {
	return &session{
		id:        id,
		uid:       uid,
		user:      user,
		groups:    groups,
		superuser: superuser,
		notifyCh:  make(chan *rpc.Response, notifyQueueSize),
	}
}

func (s *session) subscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = true
}

// closeNotify is idempotent: both the owning connection's teardown and
// a concurrent kill-session from another connection may race to close
// the notification channel.
func (s *session) closeNotify() {
	s.closeOnce.Do(func() { close(s.notifyCh) })
}

// push enqueues a notification for delivery on this session's
// connection, dropping it (rather than blocking the commit path) if the
// client is not draining fast enough.
func (s *session) push(n *rpc.Response) bool {
	s.mu.Lock()
	subscribed, ch := s.subscribed, s.notifyCh
	s.mu.Unlock()
	if !subscribed {
		return false
	}
	select {
	case ch <- n:
		return true
	default:
		return false
	}
}

// sessionManager tracks every live connection's session record, handing
// out sequential session ids the way RFC 6241 session-ids are small
// integers. Grounded on session/sessionmgr.go's SessionMgr map keyed by
// sid, simplified to one ncconfd session per transport connection.
type sessionManager struct {
	mu      sync.Mutex
	next    int64
	byID    map[string]*session
}

func newSessionManager() *sessionManager {
	return &sessionManager{byID: make(map[string]*session)}
}

func (m *sessionManager) create(uid uint32, user string, groups []string, superuser bool) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	s := newSession(strconv.FormatInt(m.next, 10), uid, user, groups, superuser)
	m.byID[s.id] = s
	return s
}

func (m *sessionManager) get(id string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	return s, ok
}

func (m *sessionManager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

func (m *sessionManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// broadcast pushes n to every subscribed session.
func (m *sessionManager) broadcast(n *rpc.Response) {
	m.mu.Lock()
	targets := make([]*session, 0, len(m.byID))
	for _, s := range m.byID {
		targets = append(targets, s)
	}
	m.mu.Unlock()
	for _, s := range targets {
		s.push(n)
	}
}
