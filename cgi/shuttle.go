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

package cgi

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/conn"
	"github.com/skiffserv/skiff/socket"
)

// Of resolves the connection's CGI gateway, if one is active.
func Of(c *conn.Conn) (*Gateway, bool) {
	g, ok := c.Handler.(*Gateway)
	return g, ok
}

// progress resets the no-progress clock.
func (g *Gateway) progress() {
	g.LastProgress = time.Now()
}

// Stale reports whether the gateway has gone without pipe progress longer
// than the CGI timeout.
func (g *Gateway) Stale() bool {
	return time.Since(g.LastProgress) > skiff.CGITimeout
}

// ReadClient pulls more request-body bytes from the client socket into the
// staging buffer while the connection is in CgiIncoming. Called on POLLIN on
// the client descriptor with an empty buffer. A peer close hands EOF to the
// child and moves on to CgiSending.
func ReadClient(c *conn.Conn, ps *socket.PollSet) {
	g, ok := Of(c)
	if !ok || len(g.Buf) > 0 {
		return
	}
	buf := make([]byte, skiff.BufferSize)
	n, err := unix.Read(c.ClientFD, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		skiff.Log().Debug("reading request body for CGI failed",
			zap.Int("fd", c.ClientFD), zap.Error(err))
		c.State = conn.CgiFinished
		return
	}
	if n == 0 {
		// client closed early; the child sees EOF instead
		g.closeStdin(ps)
		c.State = conn.CgiSending
		return
	}
	c.Touch()
	g.Buf = append(g.Buf, buf[:n]...)
}

// FeedStdin writes staged body bytes into the child's stdin. Called on
// POLLOUT on the stdin pipe. Once the full Content-Length has been fed the
// pipe is closed so the child observes EOF, and the connection moves to
// CgiSending.
func FeedStdin(c *conn.Conn, ps *socket.PollSet) {
	g, ok := Of(c)
	if !ok || g.StdinFD == -1 || len(g.Buf) == 0 {
		return
	}
	n, err := unix.Write(g.StdinFD, g.Buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		skiff.Log().Debug("writing to CGI stdin failed",
			zap.Int("pid", g.PID), zap.Error(err))
		c.ErrStatus = 500
		c.State = conn.CgiFinished
		return
	}
	c.Touch()
	g.progress()
	g.Buf = g.Buf[n:]
	g.Fed += uint64(n)
	if g.Fed >= g.Length {
		g.Buf = nil
		g.closeStdin(ps)
		c.State = conn.CgiSending
	}
}

// DrainStdout reads the child's output and stages it on the connection's
// send buffer. Called on POLLIN on the stdout pipe. EOF on the pipe is the
// end-of-response signal; a short write to the client is not (the unsent
// suffix just waits for the next POLLOUT).
func DrainStdout(c *conn.Conn, ps *socket.PollSet) {
	g, ok := Of(c)
	if !ok || g.StdoutFD == -1 {
		return
	}
	// backpressure: don't buffer more until the client catches up
	if len(c.Out) >= skiff.BufferSize {
		return
	}
	buf := make([]byte, skiff.BufferSize)
	n, err := unix.Read(g.StdoutFD, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		skiff.Log().Debug("reading CGI stdout failed",
			zap.Int("pid", g.PID), zap.Error(err))
		c.ErrStatus = 500
		c.CloseAfterResponse = true
		c.State = conn.CgiFinished
		return
	}
	g.progress()
	if n == 0 {
		ps.Remove(g.StdoutFD)
		unix.Close(g.StdoutFD)
		g.StdoutFD = -1
		if len(c.Out) == 0 {
			c.State = conn.CgiFinished
		}
		return
	}
	c.Out = append(c.Out, buf[:n]...)
}

// FlushToClient sends staged CGI output on POLLOUT on the client socket.
// When the child's stdout has already reached EOF and the buffer drains,
// the exchange is finished.
func FlushToClient(c *conn.Conn) {
	g, ok := Of(c)
	if !ok {
		return
	}
	if len(c.Out) > 0 {
		if _, err := c.FlushOut(); err != nil {
			skiff.Log().Debug("sending CGI output to client failed",
				zap.Int("fd", c.ClientFD), zap.Error(err))
			c.State = conn.CgiFinished
			return
		}
		g.progress()
	}
	if g.StdoutFD == -1 && len(c.Out) == 0 {
		c.State = conn.CgiFinished
	}
}

func (g *Gateway) closeStdin(ps *socket.PollSet) {
	if g.StdinFD != -1 {
		ps.Remove(g.StdinFD)
		unix.Close(g.StdinFD)
		g.StdinFD = -1
	}
}

// CloseStdinHalf shuts only the stdin half, used when the poll wait reports
// a hangup or error condition on that pipe end.
func CloseStdinHalf(c *conn.Conn, ps *socket.PollSet) {
	if g, ok := Of(c); ok {
		g.closeStdin(ps)
		if c.State == conn.CgiIncoming {
			c.State = conn.CgiSending
		}
	}
}

// MarkStdoutDone closes the stdout half on a hangup; remaining staged
// output still flushes before the exchange finishes.
func MarkStdoutDone(c *conn.Conn, ps *socket.PollSet) {
	g, ok := Of(c)
	if !ok {
		return
	}
	// the writer is gone, so everything left in the pipe is readable now;
	// drain it before closing so no output is lost
	for g.StdoutFD != -1 {
		buf := make([]byte, skiff.BufferSize)
		n, err := unix.Read(g.StdoutFD, buf)
		if err != nil || n == 0 {
			break
		}
		c.Out = append(c.Out, buf[:n]...)
	}
	if g.StdoutFD != -1 {
		ps.Remove(g.StdoutFD)
		unix.Close(g.StdoutFD)
		g.StdoutFD = -1
	}
	if len(c.Out) == 0 {
		c.State = conn.CgiFinished
	}
}
