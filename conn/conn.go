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

// Package conn defines the per-connection record the event loop drives: the
// client descriptor, the request and response buffers, the state enum, and
// the active handler. A connection owns every descriptor derived from it and
// releases all of them on teardown.
package conn

import (
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/config"
	"github.com/skiffserv/skiff/request"
	"github.com/skiffserv/skiff/response"
	"github.com/skiffserv/skiff/socket"
)

// State tracks where a connection is in its lifecycle.
type State int

const (
	// Incoming means the connection waits for (more of) a request.
	Incoming State = iota
	// ParsingHeader means bytes arrived but the header terminator has not.
	ParsingHeader
	// ReceivingChunks means headers parsed and a chunked body is arriving.
	ReceivingChunks
	// SimpleResponse means a fully-assembled response is being sent.
	SimpleResponse
	// FileRequest means a static file is being streamed to the client.
	FileRequest
	// Upload means a request body is being written into a file.
	Upload
	// CgiIncoming means the request body is being fed to a CGI child.
	CgiIncoming
	// CgiSending means the CGI child's output is being relayed.
	CgiSending
	// CgiFinished means the CGI exchange is over and awaits teardown.
	CgiFinished
)

func (s State) String() string {
	switch s {
	case Incoming:
		return "incoming"
	case ParsingHeader:
		return "parsing-header"
	case ReceivingChunks:
		return "receiving-chunks"
	case SimpleResponse:
		return "simple-response"
	case FileRequest:
		return "file-request"
	case Upload:
		return "upload"
	case CgiIncoming:
		return "cgi-incoming"
	case CgiSending:
		return "cgi-sending"
	case CgiFinished:
		return "cgi-finished"
	}
	return "unknown"
}

// Handler is the active streaming state of a connection. A connection holds
// at most one; installing a new one requires releasing the previous one so
// no derived descriptor leaks.
type Handler interface {
	// Release closes and unregisters every descriptor the handler owns.
	Release(ps *socket.PollSet)
}

// Conn is one accepted client connection.
type Conn struct {
	// ID is the connection's map key; descriptors index back to it.
	ID       uint64
	ClientFD int
	RemoteIP string

	// LastActivity advances on every successful I/O on any owned fd.
	LastActivity time.Time

	State  State
	Server *config.Server

	// Req is the parsed request head; Buf accumulates raw request bytes.
	Req request.Request
	Buf []byte

	// Out is the pending outbound byte stream; partial sends trim it.
	Out []byte

	// ExtraHeaders collects complete header lines handlers attach to the
	// next response (Set-Cookie fragments).
	ExtraHeaders string

	SessionID  string
	HasSession bool

	// CloseAfterResponse makes the connection close once Out drains.
	CloseAfterResponse bool

	// ErrStatus holds a pending error status raised mid-stream (CGI
	// failures); it is emitted during CgiFinished teardown.
	ErrStatus int

	Handler Handler
}

// New returns a connection record for a freshly accepted descriptor.
func New(id uint64, fd int, remoteIP string) *Conn {
	return &Conn{
		ID:           id,
		ClientFD:     fd,
		RemoteIP:     remoteIP,
		LastActivity: time.Now(),
		State:        Incoming,
	}
}

// Touch records I/O activity for the keep-alive sweep.
func (c *Conn) Touch() {
	c.LastActivity = time.Now()
}

// Closed reports whether the connection is marked for removal.
func (c *Conn) Closed() bool {
	return c.ClientFD == -1
}

// HeaderFragment assembles the extra header lines for a response, including
// the session cookie when a session exists and no handler already attached
// one.
func (c *Conn) HeaderFragment() string {
	extra := c.ExtraHeaders
	if c.HasSession && c.SessionID != "" &&
		!strings.Contains(extra, "Set-Cookie: sessionid=") {
		extra += "Set-Cookie: sessionid=" + c.SessionID + "; Path=/; HttpOnly\r\n"
	}
	return extra
}

// SetSimpleResponse releases any active handler, stages a complete canned
// response, and moves the connection to SimpleResponse.
func (c *Conn) SetSimpleResponse(ps *socket.PollSet, status int, contentType string, body []byte) {
	c.ReleaseHandler(ps)
	c.Out = response.Build(status, contentType, body, c.HeaderFragment())
	c.State = SimpleResponse
}

// SetGeneratedError stages the generated HTML error page for status.
// Callers that can consult configured error pages do so first.
func (c *Conn) SetGeneratedError(ps *socket.PollSet, status int) {
	c.SetSimpleResponse(ps, status, "text/html", response.GeneratedHTML(status))
}

// ServeFile installs a file-streaming handler: the response head goes into
// the send buffer and the body is streamed from f as the socket drains.
func (c *Conn) ServeFile(f *os.File, status int, contentType string, size int64) {
	c.Out = response.Head(status, contentType, c.HeaderFragment(), size)
	c.Handler = &ServingFile{File: f}
	c.State = FileRequest
}

// ReleaseHandler releases the active handler's descriptors, if any.
func (c *Conn) ReleaseHandler(ps *socket.PollSet) {
	if c.Handler != nil {
		c.Handler.Release(ps)
		c.Handler = nil
	}
}

// ResetForNextRequest clears per-request state after a keep-alive response
// completes; the client descriptor stays registered.
func (c *Conn) ResetForNextRequest(ps *socket.PollSet) {
	c.ReleaseHandler(ps)
	c.Req = request.Request{}
	c.Buf = nil
	c.Out = nil
	c.ExtraHeaders = ""
	c.SessionID = ""
	c.HasSession = false
	c.ErrStatus = 0
	c.Server = nil
	c.State = Incoming
}

// Close tears the connection down: the handler's descriptors, then the
// client socket itself. Idempotent; afterwards ClientFD is -1 and the loop
// purges the record at iteration end.
func (c *Conn) Close(ps *socket.PollSet) {
	c.ReleaseHandler(ps)
	if c.ClientFD != -1 {
		ps.Remove(c.ClientFD)
		unix.Close(c.ClientFD)
		c.ClientFD = -1
	}
}

// recv reads up to one buffer of bytes from the client socket.
// peerClosed reports that the peer closed; would-block yields no data and
// no error.
func (c *Conn) recv() (data []byte, peerClosed bool, err error) {
	buf := make([]byte, skiff.BufferSize)
	n, err := unix.Read(c.ClientFD, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return nil, false, nil
		}
		return nil, false, err
	}
	if n == 0 {
		return nil, true, nil
	}
	c.Touch()
	return buf[:n], false, nil
}

// send writes p to the client socket with MSG_NOSIGNAL, returning the byte
// count. A would-block condition reports zero progress without error.
func (c *Conn) send(p []byte) (int, error) {
	n, err := unix.SendmsgN(c.ClientFD, p, nil, nil, unix.MSG_NOSIGNAL)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n > 0 {
		c.Touch()
	}
	return n, nil
}

// ReadIntoBuf appends freshly received bytes to the request buffer.
func (c *Conn) ReadIntoBuf() (peerClosed bool, err error) {
	data, closed, err := c.recv()
	if err != nil || closed {
		return closed, err
	}
	c.Buf = append(c.Buf, data...)
	return false, nil
}

// FlushOut sends as much of the pending response as the socket accepts.
// done reports that the buffer drained completely.
func (c *Conn) FlushOut() (done bool, err error) {
	if len(c.Out) == 0 {
		return true, nil
	}
	n, err := c.send(c.Out)
	if err != nil {
		return false, err
	}
	c.Out = c.Out[n:]
	return len(c.Out) == 0, nil
}
