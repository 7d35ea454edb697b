// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// server.go assembles the listening daemon: socket acquisition (UNIX,
// IPv4, IPv6, or an inherited systemd-activated socket), the dispatch
// table, and the accept loop. Grounded on server/server.go's NewSrv
// (reflect dispatch-table construction, RUNNING/EFFECTIVE bootstrap
// sessions) and Serve (AcceptUnix loop with a backoff on transient
// errors), generalized to a net.Listener so the same loop serves any
// configured socket family.
package server

import (
	"fmt"
	"log"
	"net"
	"os"
	"reflect"
	"time"

	"github.com/coreconf/ncconfd/auth"
	"github.com/coreconf/ncconfd/commit"
	"github.com/coreconf/ncconfd/confirm"
	"github.com/coreconf/ncconfd/datastore"
	"github.com/coreconf/ncconfd"
	"github.com/coreconf/ncconfd/plugin"
	"github.com/coreconf/ncconfd/schema"
	"github.com/coreos/go-systemd/v22/activation"
)

// Srv is the assembled daemon: every core component plus the
// connection/session bookkeeping the RPC dispatcher needs.
type Srv struct {
	listener net.Listener

	reg        *datastore.Registry
	bus        *plugin.Bus
	eng        *commit.Engine
	confirm    *confirm.Controller
	oracle     schema.Oracle
	authOracle auth.Oracle
	metrics    *Metrics

	sessions *sessionManager
	dispatch map[string]reflect.Method

	config *ncconfd.Config
	uid    uint32 // uid the daemon itself runs as (implicitly trusted, as in the teacher)

	dlog, elog, wlog *log.Logger
}

// Deps bundles the already-constructed core components NewSrv wires
// together; every one of them is built and unit-tested independently
// (datastore, plugin, commit, confirm, schema packages).
type Deps struct {
	Registry   *datastore.Registry
	Bus        *plugin.Bus
	Engine     *commit.Engine
	Confirm    *confirm.Controller
	Oracle     schema.Oracle
	AuthOracle auth.Oracle
	Metrics    *Metrics
	Config     *ncconfd.Config
	RunningUID uint32
	Dlog, Elog, Wlog *log.Logger
}

func NewSrv(l net.Listener, d Deps) *Srv {
	if d.AuthOracle == nil {
		d.AuthOracle = auth.AllowAll{}
	}
	if d.Dlog == nil {
		d.Dlog = log.New(os.Stderr, "ncconfd[debug] ", log.LstdFlags)
	}
	if d.Elog == nil {
		d.Elog = log.New(os.Stderr, "ncconfd[error] ", log.LstdFlags)
	}
	if d.Wlog == nil {
		d.Wlog = log.New(os.Stderr, "ncconfd[warn] ", log.LstdFlags)
	}
	s := &Srv{
		listener:   l,
		reg:        d.Registry,
		bus:        d.Bus,
		eng:        d.Engine,
		confirm:    d.Confirm,
		oracle:     d.Oracle,
		authOracle: d.AuthOracle,
		metrics:    d.Metrics,
		sessions:   newSessionManager(),
		dispatch:   buildDispatchTable(),
		config:     d.Config,
		uid:        d.RunningUID,
		dlog:       d.Dlog,
		elog:       d.Elog,
		wlog:       d.Wlog,
	}
	if s.confirm != nil {
		s.confirm.SetNotifyHook(s.broadcastConfirmedCommit)
	}
	return s
}

// Listen opens the configured socket: an inherited systemd-activated
// listener whenever one is present (family and address are then
// ignored), otherwise a UNIX socket path or an IPv4/IPv6 address —
// grounded directly on the teacher's cmd/configd/main.go import of
// go-systemd's activation package.
func Listen(family, address string) (net.Listener, error) {
	if ls, err := activation.Listeners(); err == nil && len(ls) > 0 && ls[0] != nil {
		return ls[0], nil
	}
	switch family {
	case "", "unix":
		os.Remove(address)
		return net.Listen("unix", address)
	case "ipv4":
		return net.Listen("tcp4", address)
	case "ipv6":
		return net.Listen("tcp6", address)
	default:
		return nil, fmt.Errorf("server: unknown socket family %q", family)
	}
}

// Serve is the daemon's accept loop: one goroutine per connection,
// exactly the teacher's Serve/NewConn/Handle shape.
func (s *Srv) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}
		sc := newSrvConn(s, conn)
		go sc.handle()
	}
}

// Shutdown stops accepting new connections; in-flight connections run
// to completion (spec.md §6's SIGTERM/SIGINT graceful-shutdown path is
// driven by cmd/ncconfd, which calls this, removes the socket file and
// waits for Serve to return; datastores are already persisted on every
// Put).
func (s *Srv) Shutdown() error {
	return s.listener.Close()
}

// teardownSession runs the full session-close sequence of spec.md §5:
// ephemeral confirmed-commit rollback (synchronous, before anything
// else), lock release, datastore-session destruction, and removal from
// the session table.
func (s *Srv) teardownSession(sid string) {
	if s.confirm != nil {
		s.confirm.OnSessionClose(sid)
	}
	s.reg.UnlockAll(sid)
	s.reg.CloseSession(sid)
	if sess, ok := s.sessions.get(sid); ok {
		sess.closeNotify()
	}
	s.sessions.remove(sid)
	if s.metrics != nil {
		s.metrics.SetActiveSessions(s.sessions.count())
	}
}

func (s *Srv) logError(err error) {
	if err != nil {
		s.elog.Printf("%s", err)
	}
}
