// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// conn.go is the per-connection request/response loop. Grounded on
// server/conn.go's SrvConn: JSON-encoded rpc.Request/rpc.Response
// framing, a sending mutex shared between the reply path and (here,
// new) the notification-push path, and a deferred session teardown on
// disconnect.
package server

import (
	"encoding/json"
	"io"
	"net"
	"reflect"
	"sync"

	"github.com/coreconf/ncconfd"
	"github.com/coreconf/ncconfd/rpc"
)

type srvConn struct {
	conn    net.Conn
	srv     *Srv
	sess    *session
	enc     *json.Encoder
	dec     *json.Decoder
	sending sync.Mutex
}

func newSrvConn(srv *Srv, conn net.Conn) *srvConn {
	return &srvConn{
		conn: conn,
		srv:  srv,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}
}

func (c *srvConn) sendResponse(resp *rpc.Response) error {
	c.sending.Lock()
	defer c.sending.Unlock()
	return c.enc.Encode(resp)
}

func (c *srvConn) readRequest() (*rpc.Request, error) {
	req := new(rpc.Request)
	if err := c.dec.Decode(req); err != nil {
		return nil, err
	}
	return req, nil
}

// handle is the connection's main loop: it creates a session, pumps
// notifications in a side goroutine, then reads requests until EOF or a
// close-session/kill-session teardown, mirroring server/conn.go:Handle.
func (c *srvConn) handle() {
	creds := peerCredentials(c.conn, c.srv.uid)

	sess := c.srv.sessions.create(creds.uid, creds.user, creds.groups, creds.superuser)
	c.sess = sess
	sess.mu.Lock()
	sess.closeConnFn = func() { c.conn.Close() }
	sess.mu.Unlock()

	if err := c.srv.reg.OpenSession(sess.id); err != nil {
		c.srv.logError(err)
		c.conn.Close()
		return
	}

	ctx := &ncconfd.Context{
		Auth:      c.srv.authOracle,
		Session:   sess.id,
		Uid:       creds.uid,
		User:      creds.user,
		Groups:    creds.groups,
		Superuser: creds.superuser,
		Config:    c.srv.config,
		Dlog:      c.srv.dlog,
		Elog:      c.srv.elog,
		Wlog:      c.srv.wlog,
	}
	disp := &Disp{srv: c.srv, sess: sess, ctx: ctx}

	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		for n := range sess.notifyCh {
			if err := c.sendResponse(n); err != nil {
				return
			}
		}
	}()

	for {
		req, err := c.readRequest()
		if err != nil {
			if err != io.EOF {
				c.srv.logError(err)
			}
			break
		}
		result, callErr := c.call(disp, req.Method, req.Args)
		if err := c.sendResponse(newResponse(result, callErr, req.Id)); err != nil {
			break
		}
		if req.Method == "CloseSession" && callErr == nil {
			break
		}
	}

	c.srv.teardownSession(sess.id)
	c.conn.Close()
	<-notifyDone
}

func (c *srvConn) call(disp *Disp, method string, args []interface{}) (interface{}, error) {
	m, ok := c.srv.dispatch[method]
	if !ok {
		if h, ok := c.srv.bus.RPC(method); ok {
			if err := disp.authorize(method); err != nil {
				return nil, err
			}
			return h(disp.ctx, args)
		}
		return nil, &rpc.MethErr{Name: method}
	}

	typ := m.Func.Type()
	want := typ.NumIn() - 1
	if len(args) != want {
		return nil, &rpc.ArgNErr{Method: method, Got: len(args), Want: want}
	}

	vals := make([]reflect.Value, len(args)+1)
	vals[0] = reflect.ValueOf(disp)
	for i, a := range args {
		paramType := typ.In(i + 1)
		v := reflect.ValueOf(a)
		switch {
		case !v.IsValid():
			v = reflect.Zero(paramType)
		case v.Type() == paramType:
			// exact match, use as-is
		case v.Type().ConvertibleTo(paramType):
			v = v.Convert(paramType)
		default:
			return nil, &rpc.ArgErr{Method: method, Index: i, Got: v.Type().String(), Want: paramType.String()}
		}
		vals[i+1] = v
	}

	rets := m.Func.Call(vals)
	var retErr error
	if e, ok := rets[1].Interface().(error); ok {
		retErr = e
	}
	return rets[0].Interface(), retErr
}

func newResponse(result interface{}, err error, id int) *rpc.Response {
	if err != nil {
		return &rpc.Response{Error: err, Id: id}
	}
	return &rpc.Response{Result: result, Id: id}
}
