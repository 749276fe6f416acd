// Copyright 2015 The Skiff Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/conn"
	"github.com/skiffserv/skiff/dispatch"
	"github.com/skiffserv/skiff/metrics"
	"github.com/skiffserv/skiff/response"
	"github.com/skiffserv/skiff/socket"
)

// acceptLoop drains a ready listening socket, admitting each connection
// until accept would block.
func (s *Server) acceptLoop(listenFD int, port uint16) {
	for {
		fd, ip, err := socket.Accept(listenFD)
		if err != nil {
			skiff.Log().Error("accept failed",
				zap.Uint16("port", port), zap.Error(err))
			return
		}
		if fd == -1 {
			return // queue drained
		}

		if s.ps.Len() >= skiff.MaxConnections {
			skiff.Log().Warn("connection cap reached, refusing client",
				zap.String("ip", ip))
			metrics.ConnectionsRejected.Inc()
			refuse(fd, 503)
			continue
		}

		if err := socket.SetTimeouts(fd, skiff.RequestTimeout, skiff.ResponseTimeout); err != nil {
			skiff.Log().Error("arming socket timeouts failed",
				zap.Int("fd", fd), zap.Error(err))
			refuse(fd, 500)
			continue
		}

		s.nextID++
		c := conn.New(s.nextID, fd, ip)
		s.conns[c.ID] = c
		s.ps.Add(fd, unix.POLLIN, c.ID)
		metrics.ConnectionsAccepted.Inc()
		skiff.Log().Debug("accepted connection",
			zap.Uint64("id", c.ID), zap.Int("fd", fd),
			zap.String("ip", ip), zap.Uint16("port", port))
	}
}

// refuse sends a minimal inline error and closes the socket; the connection
// never enters the map.
func refuse(fd int, status int) {
	unix.SendmsgN(fd, response.Critical(status), nil, nil, unix.MSG_NOSIGNAL)
	unix.Close(fd)
}

// serveRequest hands the readable connection to the URL matcher.
func (s *Server) serveRequest(c *conn.Conn) {
	dispatch.Serve(c, s.ps, s.cfg)
}

// completeUpload stages the 201 for a finished upload.
func (s *Server) completeUpload(c *conn.Conn) {
	dispatch.CompleteUpload(c, s.ps)
}

// cgiError answers a failed CGI exchange and closes afterwards.
func (s *Server) cgiError(c *conn.Conn, status int) {
	dispatch.ErrorFor(c, s.ps, status)
	c.CloseAfterResponse = true
	s.afterEvent(c)
}
