// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package ncconfd declares the process-wide Context threaded through
// every core operation (spec.md §4.9): no operation reaches for
// ambient global state except through an explicit *Context.
package ncconfd

import (
	"log"

	"github.com/coreconf/ncconfd/auth"
)

// LockId identifies the holder of a datastore lock. Positive values
// are session ids; the two sentinels below are reserved for the
// commit engine itself and for privileged system operations (startup,
// confirmed-commit rollback).
type LockId int32

const (
	Commit LockId = -1
	System LockId = -2
)

func (l LockId) String() string {
	switch l {
	case Commit:
		return "commit"
	case System:
		return "system"
	}
	return "session"
}

// Context carries per-call identity, authorization, configuration and
// logging handles. It is never stored in a struct field that outlives
// the call it was passed to, other than the long-lived server-owned
// copies used for internal (system) operations.
type Context struct {
	System    bool // true for internally-originated operations (startup, rollback)
	Auth      auth.Oracle
	Session   string
	Uid       uint32
	User      string
	Groups    []string
	Superuser bool
	Config    *Config
	Dlog      *log.Logger // debug
	Elog      *log.Logger // error
	Wlog      *log.Logger // warning/audit
}

// RaisePrivileges should be used sparingly: it bypasses NACM checks
// for internally-originated operations such as startup recovery and
// confirmed-commit rollback.
func (c *Context) RaisePrivileges() { c.System = true }
func (c *Context) DropPrivileges()  { c.System = false }

// Config is the daemon's static configuration, assembled from the CLI
// surface of spec.md §6.
type Config struct {
	DatastoreDir   string
	PidFile        string
	YangDirs       []string
	YangMainFile   string
	PluginDir      string
	SocketFamily   string // unix | ipv4 | ipv6
	SocketAddress  string
	SocketGroup    string
	StorageBackend string // file | bbolt
	StartupMode    string // none | init | running | startup
	ExtraXMLFile   string
	Foreground     bool
	RunOnce        bool
	DebugLevel     int
	LogDestination string
}

// InGroup reports whether ctx's caller belongs to group g, or is an
// internally-originated system call (which bypasses group checks the
// same way RaisePrivileges bypasses NACM).
func InGroup(ctx *Context, g string) bool {
	if ctx.System {
		return true
	}
	for _, have := range ctx.Groups {
		if have == g {
			return true
		}
	}
	return false
}
