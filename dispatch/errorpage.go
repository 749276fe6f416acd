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

	"go.uber.org/zap"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/conn"
	"github.com/skiffserv/skiff/metrics"
	"github.com/skiffserv/skiff/response"
	"github.com/skiffserv/skiff/socket"
)

// ErrorFor answers with status using the connection's server-level error
// pages when a server has been resolved. The loop uses it for errors raised
// outside the dispatcher (CGI teardown).
func ErrorFor(c *conn.Conn, ps *socket.PollSet, status int) {
	var pages map[int]string
	if c.Server != nil {
		pages = c.Server.ErrorPages
	}
	errorResponse(c, ps, pages, status)
}

// errorResponse answers with status, preferring a configured custom error
// page when it points at a readable regular file; otherwise the generated
// HTML page is used.
func errorResponse(c *conn.Conn, ps *socket.PollSet, pages map[int]string, status int) {
	if path, ok := pages[status]; ok {
		fi, err := os.Stat(path)
		if err == nil && fi.Mode().IsRegular() {
			f, err := os.Open(path)
			if err == nil {
				metrics.ObserveStatus(status)
				c.ReleaseHandler(ps)
				c.ServeFile(f, status, skiff.ContentType(path), fi.Size())
				return
			}
		}
		skiff.Log().Debug("custom error page not servable, using generated page",
			zap.Int("status", status), zap.String("path", path))
	}
	metrics.ObserveStatus(status)
	c.SetSimpleResponse(ps, status, "text/html", response.GeneratedHTML(status))
}
