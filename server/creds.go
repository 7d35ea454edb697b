// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// creds.go resolves the identity of a connecting client. Grounded on
// server/conn.go's getCreds (SO_PEERCRED over the unix socket file
// descriptor); group membership and the NACM evaluator itself remain
// external per spec.md §1, so peerCredentials only resolves the uid,
// user name and unix group names; it does not map them to NACM groups.
package server

import (
	"net"
	"os/user"
	"strconv"
	"syscall"
)

type peerCreds struct {
	uid       uint32
	user      string
	groups    []string
	superuser bool
}

// peerCredentials resolves the identity of conn's remote peer.
// UNIX-domain sockets carry real kernel credentials (SO_PEERCRED); IP
// sockets have none, so spec.md §6's "IP ACL" applies upstream of this
// call and the connection is treated as the unprivileged nobody
// identity here.
func peerCredentials(conn net.Conn, configdUid uint32) peerCreds {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return peerCreds{}
	}
	f, err := uc.File()
	if err != nil {
		return peerCreds{}
	}
	defer f.Close()

	cred, err := syscall.GetsockoptUcred(int(f.Fd()), syscall.SOL_SOCKET, syscall.SO_PEERCRED)
	if err != nil {
		return peerCreds{}
	}

	pc := peerCreds{uid: cred.Uid, superuser: cred.Uid == 0 || cred.Uid == configdUid}
	u, err := user.LookupId(strconv.Itoa(int(cred.Uid)))
	if err != nil {
		return pc
	}
	pc.user = u.Username
	if ids, err := u.GroupIds(); err == nil {
		for _, gid := range ids {
			if g, err := user.LookupGroupId(gid); err == nil {
				pc.groups = append(pc.groups, g.Name)
			}
		}
	}
	return pc
}
