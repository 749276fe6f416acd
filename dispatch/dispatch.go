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

// Package dispatch turns a parsed request into a handler: it decodes the
// target, matches the CGI block and location blocks against it, gates the
// method, and routes to static serving, directory listing, upload, delete,
// or the CGI gateway.
package dispatch

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/cgi"
	"github.com/skiffserv/skiff/config"
	"github.com/skiffserv/skiff/conn"
	"github.com/skiffserv/skiff/metrics"
	"github.com/skiffserv/skiff/request"
	"github.com/skiffserv/skiff/response"
	"github.com/skiffserv/skiff/socket"
)

// effective is the request's view of the configuration after server lookup
// and location matching: every inheritable field resolved.
type effective struct {
	fullPath   string // filesystem path of the target
	autoindex  bool
	fileUpload bool
	uploadDir  string
	index      string
	methods    []string
	errorPages map[int]string
}

// Serve drives a connection in Incoming, ParsingHeader, or ReceivingChunks
// through read → parse → route. It leaves the connection in its next state
// (or torn down) and returns.
func Serve(c *conn.Conn, ps *socket.PollSet, cfg *config.Config) {
	if !receive(c, ps) {
		return
	}

	if c.State != conn.ReceivingChunks {
		switch c.Req.Parse(c.Buf) {
		case request.Incomplete:
			c.State = conn.ParsingHeader
			return
		case request.Error:
			skiff.Log().Debug("rejecting malformed request",
				zap.Int("fd", c.ClientFD), zap.String("ip", c.RemoteIP))
			critical(c, ps, 400)
			return
		}
	}

	c.Server = cfg.ServerForPort(c.Req.Port)
	if c.Server == nil {
		skiff.Log().Error("no server configured for requested port",
			zap.Uint16("port", c.Req.Port))
		respond(c, ps, 500, "text/html", response.GeneratedHTML(500))
		return
	}

	if c.Req.Chunked {
		if !request.HasChunkedTerminator(c.Buf[c.Req.HeadersEnd:]) {
			c.State = conn.ReceivingChunks
			return
		}
		decoded, _ := request.Dechunk(c.Buf[c.Req.HeadersEnd:])
		c.Buf = append(c.Buf[:c.Req.HeadersEnd], decoded...)
		c.Req.ApplyDechunked(len(decoded))
	}

	retrieveSession(c)

	target := request.PercentDecode(c.Req.Target)

	if handleCookieUpdate(c, ps, target) {
		return
	}
	if handleMetrics(c, ps, target) {
		return
	}

	if strings.Contains(target, "..") {
		skiff.Log().Warn("directory traversal attempt",
			zap.String("target", c.Req.Target), zap.String("ip", c.RemoteIP))
		errorResponse(c, ps, c.Server.ErrorPages, 400)
		return
	}

	if dispatchCGI(c, ps, target) {
		return
	}

	eff := resolve(c.Server, target)

	if loc := c.Server.Match(target); loc != nil {
		if loc.Internal {
			errorResponse(c, ps, eff.errorPages, 404)
			return
		}
		if loc.ReturnStatus != 0 {
			respond(c, ps, loc.ReturnStatus, "text/plain", []byte(loc.ReturnTarget))
			return
		}
	}

	if !contains(eff.methods, c.Req.Method) {
		skiff.Log().Debug("method not allowed",
			zap.String("method", c.Req.Method), zap.String("target", target))
		errorResponse(c, ps, eff.errorPages, 405)
		return
	}

	switch c.Req.Method {
	case "GET", "HEAD":
		handleGet(c, ps, target, eff)
	case "POST":
		handlePost(c, ps, eff)
	case "DELETE":
		handleDelete(c, ps, eff)
	default:
		// PUT is accepted by the parser and may be configured, but no
		// handler backs it
		errorResponse(c, ps, eff.errorPages, 501)
	}
}

// receive pulls the next chunk of request bytes. It returns false when the
// connection was torn down (peer close or transport error).
func receive(c *conn.Conn, ps *socket.PollSet) bool {
	peerClosed, err := c.ReadIntoBuf()
	if err != nil {
		skiff.Log().Debug("receive failed",
			zap.Int("fd", c.ClientFD), zap.Error(err))
	}
	if peerClosed || err != nil {
		c.Close(ps)
		return false
	}
	return true
}

// critical sends the minimal inline error for protocol failures where no
// custom page lookup is possible, then tears the connection down.
func critical(c *conn.Conn, ps *socket.PollSet, status int) {
	metrics.ObserveStatus(status)
	unix.SendmsgN(c.ClientFD, response.Critical(status), nil, nil, unix.MSG_NOSIGNAL)
	c.Close(ps)
}

// respond stages a canned response and counts it.
func respond(c *conn.Conn, ps *socket.PollSet, status int, contentType string, body []byte) {
	metrics.ObserveStatus(status)
	c.SetSimpleResponse(ps, status, contentType, body)
}

// resolve computes the effective settings for target, applying the first
// matching location block over the server-level values.
func resolve(srv *config.Server, target string) effective {
	eff := effective{
		fullPath:   srv.Root + trimLeadingSlash(target),
		autoindex:  srv.Autoindex,
		uploadDir:  srv.UploadDir,
		index:      srv.Index,
		methods:    srv.Methods,
		errorPages: srv.ErrorPages,
	}
	loc := srv.Match(target)
	if loc == nil {
		return eff
	}
	eff.autoindex = loc.Autoindex
	eff.fileUpload = loc.FileUpload
	eff.uploadDir = loc.UploadDir
	eff.methods = loc.Methods
	eff.errorPages = loc.ErrorPages
	if loc.Root != srv.Root {
		eff.fullPath = loc.Root + trimLeadingSlash(strings.TrimPrefix(target, loc.Prefix))
	}
	return eff
}

// dispatchCGI checks the CGI block against the decoded target and, on a
// match, validates and starts the script. It reports whether the request
// was claimed (including error responses for rejected scripts).
func dispatchCGI(c *conn.Conn, ps *socket.PollSet, target string) bool {
	if !c.Server.HasCGI || c.Server.CGI.URIAlias == "" {
		return false
	}
	block := c.Server.CGI
	alias := block.URIAlias
	if target != alias && !strings.HasPrefix(target, ensureTrailingSlash(alias)) {
		return false
	}

	relative := target[len(alias):]
	scriptName := block.PathAlias + relative

	if !allowedExtension(block, relative) {
		errorResponse(c, ps, c.Server.ErrorPages, 403)
		return true
	}

	execPath := strings.TrimSuffix(c.Server.Root, "/") + "/" + trimLeadingSlash(scriptName)
	fi, err := os.Stat(execPath)
	if err != nil || !fi.Mode().IsRegular() {
		skiff.Log().Debug("CGI script not found", zap.String("path", execPath))
		errorResponse(c, ps, c.Server.ErrorPages, 404)
		return true
	}
	if fi.Mode().Perm()&0o100 == 0 {
		skiff.Log().Debug("CGI script not executable", zap.String("path", execPath))
		errorResponse(c, ps, c.Server.ErrorPages, 403)
		return true
	}

	if err := cgi.Start(c, ps, execPath, scriptName); err != nil {
		skiff.Log().Error("starting CGI child failed",
			zap.String("script", execPath), zap.Error(err))
		respond(c, ps, 500, "text/plain", []byte("Failed to execute CGI script"))
		return true
	}
	metrics.CGIChildren.Inc()
	skiff.Log().Debug("CGI child started",
		zap.String("script", scriptName), zap.Int("fd", c.ClientFD))
	return true
}

// allowedExtension extracts the extension (last dot up to the next slash or
// question mark) and checks it against the block's allowed set.
func allowedExtension(block *config.CGI, path string) bool {
	dot := strings.LastIndex(path, ".")
	if dot < 0 {
		return false
	}
	ext := path[dot:]
	if end := strings.IndexAny(ext, "/?"); end >= 0 {
		ext = ext[:end]
	}
	return block.AllowsExtension(ext)
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func trimLeadingSlash(path string) string {
	return strings.TrimPrefix(path, "/")
}

func ensureTrailingSlash(path string) string {
	if path != "" && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}
