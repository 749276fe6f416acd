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

package dispatch

import (
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/conn"
	"github.com/skiffserv/skiff/metrics"
	"github.com/skiffserv/skiff/response"
	"github.com/skiffserv/skiff/socket"
)

// handleGet serves GET and HEAD: a regular file streams from disk, a
// directory serves its index file or an autoindex listing, anything else is
// unsupported media.
func handleGet(c *conn.Conn, ps *socket.PollSet, target string, eff effective) {
	fi, err := os.Stat(eff.fullPath)
	if err != nil {
		errorResponse(c, ps, eff.errorPages, 404)
		return
	}

	switch {
	case fi.Mode().IsRegular():
		serveFile(c, ps, eff, eff.fullPath, fi.Size(), 200)

	case fi.IsDir():
		indexPath := strings.TrimSuffix(eff.fullPath, "/") + "/" + eff.index
		if ifi, err := os.Stat(indexPath); err == nil && ifi.Mode().IsRegular() {
			serveFile(c, ps, eff, indexPath, ifi.Size(), 200)
			return
		}
		if !eff.autoindex {
			errorResponse(c, ps, eff.errorPages, 404)
			return
		}
		body, err := directoryListing(eff.fullPath, target)
		if err != nil {
			skiff.Log().Error("generating directory listing failed",
				zap.String("path", eff.fullPath), zap.Error(err))
			errorResponse(c, ps, eff.errorPages, 500)
			return
		}
		if c.Req.Method == "HEAD" {
			headOnly(c, ps, 200, "text/html", int64(len(body)))
			return
		}
		respond(c, ps, 200, "text/html", body)

	default:
		errorResponse(c, ps, eff.errorPages, 415)
	}
}

// serveFile opens path and installs the streaming handler; HEAD requests
// get the head with the real Content-Length and no body.
func serveFile(c *conn.Conn, ps *socket.PollSet, eff effective, path string, size int64, status int) {
	contentType := skiff.ContentType(path)

	if c.Req.Method == "HEAD" {
		headOnly(c, ps, status, contentType, size)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		skiff.Log().Debug("opening file failed",
			zap.String("path", path), zap.Error(err))
		errorResponse(c, ps, eff.errorPages, 403)
		return
	}
	metrics.ObserveStatus(status)
	c.ReleaseHandler(ps)
	c.ServeFile(f, status, contentType, size)
}

// headOnly stages a body-less response whose Content-Length describes the
// body a GET would have carried.
func headOnly(c *conn.Conn, ps *socket.PollSet, status int, contentType string, size int64) {
	metrics.ObserveStatus(status)
	c.ReleaseHandler(ps)
	c.Out = response.Head(status, contentType, c.HeaderFragment(), size)
	c.State = conn.SimpleResponse
}
