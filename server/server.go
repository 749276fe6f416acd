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

// Package server runs the event loop: one readiness wait over every
// listening socket, client socket, and CGI pipe, with a per-connection
// state machine driven by whichever descriptor becomes ready.
package server

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/cgi"
	"github.com/skiffserv/skiff/config"
	"github.com/skiffserv/skiff/conn"
	"github.com/skiffserv/skiff/socket"
)

// Server owns every descriptor of the process: listeners, client sockets,
// and the pipes of CGI children. All of it is driven by one thread.
type Server struct {
	cfg *config.Config
	ps  *socket.PollSet

	// conns is keyed by connection id; the poll set's owner index maps
	// descriptors back to these ids.
	conns  map[uint64]*conn.Conn
	nextID uint64

	// listeners maps listening descriptors to their port.
	listeners map[int32]uint16

	sig *sigState
}

// New prepares a server for the loaded configuration.
func New(cfg *config.Config) *Server {
	return &Server{
		cfg:       cfg,
		ps:        socket.NewPollSet(),
		conns:     make(map[uint64]*conn.Conn),
		listeners: make(map[int32]uint16),
	}
}

// Run opens every listening socket and drives the event loop until a
// termination signal arrives. It only returns early on a startup failure.
func (s *Server) Run() error {
	cgi.InstallReaper()
	s.sig = trapSignals()

	for _, port := range s.cfg.Ports() {
		fd, err := socket.Listen(port)
		if err != nil {
			s.closeListeners()
			return err
		}
		s.listeners[int32(fd)] = port
		s.ps.Add(fd, unix.POLLIN, 0)
		skiff.Log().Info("listening", zap.Uint16("port", port), zap.Int("fd", fd))
	}

	for {
		if s.sig.terminated() {
			s.shutdown()
			return nil
		}
		cgi.Sweep()

		n, err := s.ps.Wait(s.pollTimeout())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			s.shutdown()
			return fmt.Errorf("poll failed: %w", err)
		}
		if n == 0 {
			s.sweepTimeouts()
			s.purge()
			continue
		}

		s.sweepTimeouts()
		for _, pfd := range s.ps.Ready() {
			s.handleEvent(pfd)
		}
		s.purge()
	}
}

// pollTimeout picks the readiness-wait wake-up: the moderate default, or
// the CGI deadline when a child exchange is in flight so a stalled child is
// noticed within its timeout even on an otherwise quiet descriptor set.
func (s *Server) pollTimeout() int {
	timeout := skiff.PollInterval
	for _, c := range s.conns {
		if c.State == conn.CgiIncoming || c.State == conn.CgiSending {
			timeout = skiff.CGITimeout
			break
		}
	}
	return int(timeout.Milliseconds())
}

// handleEvent drives whatever the readiness of one descriptor allows.
func (s *Server) handleEvent(pfd unix.PollFd) {
	fd := pfd.Fd
	revents := pfd.Revents

	if port, ok := s.listeners[fd]; ok {
		if revents&unix.POLLIN != 0 {
			s.acceptLoop(int(fd), port)
		}
		return
	}

	id, ok := s.ps.Owner(fd)
	if !ok {
		// unregistered between Wait and now; nothing to drive
		return
	}
	c, ok := s.conns[id]
	if !ok {
		s.ps.Remove(int(fd))
		unix.Close(int(fd))
		return
	}
	if c.Closed() {
		// already torn down this iteration; the descriptor was closed by
		// its owner, never close it again (the number may be reused)
		s.ps.Remove(int(fd))
		return
	}

	if revents&(unix.POLLERR|unix.POLLNVAL|unix.POLLHUP) != 0 {
		s.handleErrorCondition(c, int(fd), revents)
		if c.Closed() || c.State != conn.CgiFinished && revents&(unix.POLLIN|unix.POLLOUT) == 0 {
			s.afterEvent(c)
			return
		}
	}
	if revents&(unix.POLLIN|unix.POLLOUT) == 0 {
		s.afterEvent(c)
		return
	}

	c.Touch()
	s.driveFSM(c, int(fd), revents)
	s.afterEvent(c)
}

// handleErrorCondition applies the teardown rule for the role the failed
// descriptor plays: client socket closes the connection, the CGI stdout
// half finishes the exchange, the CGI stdin half closes alone.
func (s *Server) handleErrorCondition(c *conn.Conn, fd int, revents int16) {
	g, isCgi := cgi.Of(c)
	switch {
	case fd == c.ClientFD:
		if revents&(unix.POLLERR|unix.POLLNVAL) != 0 || revents&unix.POLLHUP != 0 {
			skiff.Log().Debug("client descriptor error/hangup",
				zap.Int("fd", fd), zap.String("state", c.State.String()))
			c.Close(s.ps)
		}
	case isCgi && fd == g.StdoutFD:
		cgi.MarkStdoutDone(c, s.ps)
		if c.State == conn.CgiFinished {
			s.finishCGI(c)
		}
	case isCgi && fd == g.StdinFD:
		cgi.CloseStdinHalf(c, s.ps)
	default:
		s.ps.Remove(fd)
		unix.Close(fd)
	}
}

// driveFSM advances the connection's state machine for one ready
// descriptor, per the transition table.
func (s *Server) driveFSM(c *conn.Conn, fd int, revents int16) {
	isClient := fd == c.ClientFD
	pollin := revents&unix.POLLIN != 0
	pollout := revents&unix.POLLOUT != 0

	switch c.State {
	case conn.Incoming, conn.ParsingHeader, conn.ReceivingChunks:
		if isClient && pollin {
			s.serveRequest(c)
		}

	case conn.SimpleResponse:
		if isClient && pollout {
			done, err := c.FlushOut()
			if err != nil {
				skiff.Log().Debug("sending response failed",
					zap.Int("fd", fd), zap.Error(err))
				c.Close(s.ps)
				return
			}
			if done {
				s.finishResponse(c)
			}
		}

	case conn.FileRequest:
		if isClient && pollout {
			finished, err := c.FileStep()
			if err != nil {
				skiff.Log().Debug("file transfer failed",
					zap.Int("fd", fd), zap.Error(err))
				c.Close(s.ps)
				return
			}
			if finished {
				s.finishResponse(c)
			}
		}

	case conn.Upload:
		if isClient && pollin {
			finished, aborted := c.UploadStep()
			if aborted {
				c.Close(s.ps)
				return
			}
			if finished {
				s.completeUpload(c)
			}
		}

	case conn.CgiIncoming:
		g, ok := cgi.Of(c)
		if !ok {
			c.Close(s.ps)
			return
		}
		if isClient && pollin {
			cgi.ReadClient(c, s.ps)
		} else if fd == g.StdinFD && pollout {
			cgi.FeedStdin(c, s.ps)
		}
		if c.State == conn.CgiFinished {
			s.finishCGI(c)
		}

	case conn.CgiSending:
		g, ok := cgi.Of(c)
		if !ok {
			c.Close(s.ps)
			return
		}
		if fd == g.StdoutFD && pollin {
			cgi.DrainStdout(c, s.ps)
		} else if isClient && pollout {
			cgi.FlushToClient(c)
		}
		if c.State == conn.CgiFinished {
			s.finishCGI(c)
		}

	case conn.CgiFinished:
		s.finishCGI(c)
	}
}

// finishResponse ends a completed response: close if the response demanded
// it, otherwise reset for the next keep-alive request.
func (s *Server) finishResponse(c *conn.Conn) {
	if c.CloseAfterResponse {
		skiff.Log().Debug("closing connection after response",
			zap.Int("fd", c.ClientFD))
		c.Close(s.ps)
		return
	}
	c.ResetForNextRequest(s.ps)
}

// finishCGI tears the CGI exchange down: release pipes and child, then
// either emit the pending error response or close the connection (CGI
// responses never keep the connection alive).
func (s *Server) finishCGI(c *conn.Conn) {
	errStatus := c.ErrStatus
	c.ErrStatus = 0
	c.ReleaseHandler(s.ps)
	if errStatus != 0 {
		s.cgiError(c, errStatus)
		return
	}
	c.Close(s.ps)
}

// afterEvent refreshes the client descriptor's interest set to follow the
// connection's state; without this, write-ready idle sockets would spin the
// readiness wait.
func (s *Server) afterEvent(c *conn.Conn) {
	if c.Closed() {
		return
	}
	var events int16
	switch c.State {
	case conn.Incoming, conn.ParsingHeader, conn.ReceivingChunks,
		conn.Upload, conn.CgiIncoming:
		events = unix.POLLIN
	case conn.SimpleResponse, conn.FileRequest, conn.CgiSending:
		events = unix.POLLOUT
	default:
		events = unix.POLLIN
	}
	s.ps.SetEvents(c.ClientFD, events)
}

// purge removes every connection marked for removal. Records are only
// deleted here, at iteration end, never while events may still resolve
// references to them.
func (s *Server) purge() {
	for id, c := range s.conns {
		if c.Closed() {
			delete(s.conns, id)
		}
	}
}

// closeListeners shuts every listening socket down.
func (s *Server) closeListeners() {
	for fd := range s.listeners {
		s.ps.Remove(int(fd))
		unix.Close(int(fd))
	}
	s.listeners = make(map[int32]uint16)
}

// shutdown closes every descriptor in the process for a clean exit.
func (s *Server) shutdown() {
	skiff.Log().Info("shutting down",
		zap.Int("connections", len(s.conns)),
		zap.Int("descriptors", s.ps.Len()))
	s.closeListeners()
	for _, c := range s.conns {
		c.Close(s.ps)
	}
	s.conns = make(map[uint64]*conn.Conn)
	cgi.Sweep()
}
