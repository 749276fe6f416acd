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

// Package cgi runs request handlers as child processes speaking CGI/1.1:
// environment construction, fork+exec with the child's stdin and stdout
// wired to pipes owned by the event loop, body shuttling, and child reaping.
package cgi

import (
	"fmt"
	"sort"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/conn"
	"github.com/skiffserv/skiff/socket"
)

// Gateway is the CGI handler state of one connection: the child process and
// the two pipe ends the parent keeps. It satisfies conn.Handler.
type Gateway struct {
	PID      int
	StdinFD  int // write end of the child's stdin pipe; -1 once closed
	StdoutFD int // read end of the child's stdout pipe; -1 once closed

	// Buf stages request-body bytes on their way into the child.
	Buf []byte
	// Fed counts body bytes written into the child against Length.
	Fed    uint64
	Length uint64

	Script string

	// LastProgress is reset on every pipe I/O; the loop raises 504 when
	// it goes stale past the CGI timeout.
	LastProgress time.Time
}

// Release closes and unregisters both pipe ends. A child that has not been
// confirmed dead is signalled and left to the reaper via the abandoned set.
func (g *Gateway) Release(ps *socket.PollSet) {
	if g.StdinFD != -1 {
		ps.Remove(g.StdinFD)
		unix.Close(g.StdinFD)
		g.StdinFD = -1
	}
	if g.StdoutFD != -1 {
		ps.Remove(g.StdoutFD)
		unix.Close(g.StdoutFD)
		g.StdoutFD = -1
	}
	g.Buf = nil
	if g.PID != -1 {
		unix.Kill(g.PID, unix.SIGTERM)
		Abandon(g.PID)
		g.PID = -1
	}
}

// Env builds the CGI/1.1 environment for the connection's parsed request.
// scriptName becomes SCRIPT_NAME.
func Env(c *conn.Conn, scriptName string) []string {
	pathInfo := c.Req.PathInfo
	if pathInfo == "" {
		pathInfo = "/"
	}
	env := map[string]string{
		"REQUEST_METHOD":    c.Req.Method,
		"SCRIPT_NAME":       scriptName,
		"PATH_INFO":         pathInfo,
		"QUERY_STRING":      c.Req.Query,
		"PATH_TRANSLATED":   c.Server.Root + trimLeadingSlash(pathInfo),
		"CONTENT_TYPE":      c.Req.Header("Content-Type"),
		"REMOTE_ADDR":       c.RemoteIP,
		"REMOTE_HOST":       c.Req.Host,
		"REMOTE_USER":       "N/A",
		"AUTH_TYPE":         "N/A",
		"SERVER_NAME":       c.Req.Host,
		"SERVER_PORT":       strconv.Itoa(int(c.Req.Port)),
		"SERVER_PROTOCOL":   "HTTP/1.1",
		"SERVER_SOFTWARE":   skiff.Software,
		"GATEWAY_INTERFACE": "CGI/1.1",

		// passed through verbatim so scripts can tell a dechunked body
		// from an original Content-Length one
		"HTTP_TRANSFER_ENCODING": c.Req.Header("Transfer-Encoding"),
	}
	if c.Req.ContentLength > 0 {
		env["CONTENT_LENGTH"] = strconv.FormatUint(c.Req.ContentLength, 10)
	}
	if c.Server.CGI != nil {
		env["UPLOAD_DIR"] = c.Server.CGI.UploadDir
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Start forks the CGI child with both pipes wired and installs the Gateway
// on the connection. Any body bytes already received are staged for the
// child's stdin; a bodyless request closes that pipe immediately and the
// connection goes straight to CgiSending.
func Start(c *conn.Conn, ps *socket.PollSet, execPath, scriptName string) error {
	var stdinPipe, stdoutPipe [2]int
	if err := unix.Pipe2(stdinPipe[:], unix.O_CLOEXEC); err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	if err := unix.Pipe2(stdoutPipe[:], unix.O_CLOEXEC); err != nil {
		unix.Close(stdinPipe[0])
		unix.Close(stdinPipe[1])
		return fmt.Errorf("creating stdout pipe: %w", err)
	}

	// ForkExec dups the listed descriptors onto 0, 1, 2 in the child,
	// which clears close-on-exec on the copies; the originals stay
	// cloexec so no pipe end leaks into the next child.
	pid, err := syscall.ForkExec(execPath, []string{execPath}, &syscall.ProcAttr{
		Env:   Env(c, scriptName),
		Files: []uintptr{uintptr(stdinPipe[0]), uintptr(stdoutPipe[1]), 2},
	})
	if err != nil {
		unix.Close(stdinPipe[0])
		unix.Close(stdinPipe[1])
		unix.Close(stdoutPipe[0])
		unix.Close(stdoutPipe[1])
		return fmt.Errorf("forking %s: %w", execPath, err)
	}

	// the child owns its ends now
	unix.Close(stdinPipe[0])
	unix.Close(stdoutPipe[1])

	unix.SetNonblock(stdinPipe[1], true)
	unix.SetNonblock(stdoutPipe[0], true)

	g := &Gateway{
		PID:          pid,
		StdinFD:      stdinPipe[1],
		StdoutFD:     stdoutPipe[0],
		Length:       c.Req.ContentLength,
		Script:       scriptName,
		LastProgress: time.Now(),
	}
	if c.Req.HeadersEnd < len(c.Buf) {
		g.Buf = append(g.Buf, c.Buf[c.Req.HeadersEnd:]...)
	}

	c.ReleaseHandler(ps)
	c.Handler = g
	ps.Add(g.StdoutFD, unix.POLLIN, c.ID)

	if c.Req.Method == "GET" || c.Req.ContentLength == 0 {
		// no body to feed; give the child EOF right away
		unix.Close(g.StdinFD)
		g.StdinFD = -1
		c.State = conn.CgiSending
	} else {
		ps.Add(g.StdinFD, unix.POLLOUT, c.ID)
		c.State = conn.CgiIncoming
	}
	return nil
}

func trimLeadingSlash(path string) string {
	if path != "" && path[0] == '/' {
		return path[1:]
	}
	return path
}
