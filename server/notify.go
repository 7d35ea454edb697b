// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package server

import "github.com/coreconf/ncconfd/rpc"

// notificationId is reserved on the wire: real requests are numbered
// from 1 by the client, so a Response with Id 0 is unambiguously an
// unsolicited notification riding the same connection as RPC replies
// (spec.md §4.8's create-subscription supplement).
const notificationId = 0

func newNotification(notificationType string, fields map[string]interface{}) *rpc.Response {
	payload := map[string]interface{}{"notificationType": notificationType}
	for k, v := range fields {
		payload[k] = v
	}
	return &rpc.Response{Result: payload, Id: notificationId}
}

// broadcastCommit notifies every subscriber that a commit completed,
// matching spec.md §5's ordering rule: emitted after commit, before the
// rpc-reply reaches the originating client (the caller fires this
// before sending its own reply).
func (s *Srv) broadcastCommit(txnId string) {
	s.sessions.broadcast(newNotification("commit", map[string]interface{}{
		"txn-id": txnId,
	}))
}

// broadcastConfirmedCommit matches Scenario S2 literally:
// notificationType=confirmed-commit, confirm-event={timeout|cancel|session-close}.
func (s *Srv) broadcastConfirmedCommit(reason string) {
	s.sessions.broadcast(newNotification("confirmed-commit", map[string]interface{}{
		"confirm-event": reason,
	}))
}
