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
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/conn"
	"github.com/skiffserv/skiff/metrics"
	"github.com/skiffserv/skiff/socket"
)

// cookieUpdatePrefix is the internal endpoint that sets a cookie on the
// client: /api/update-cookie/<name>/<value>.
const cookieUpdatePrefix = "/api/update-cookie/"

// metricsTarget is the internal endpoint exposing the process metrics.
const metricsTarget = "/metrics"

// expositionContentType is the Prometheus text exposition format.
const expositionContentType = "text/plain; version=0.0.4; charset=utf-8"

// retrieveSession picks an existing session out of the request cookies.
func retrieveSession(c *conn.Conn) {
	if c.HasSession {
		return
	}
	if id, ok := c.Req.Cookies["sessionid"]; ok && id != "" {
		c.SessionID = id
		c.HasSession = true
	}
}

// createSession starts a fresh session and queues its cookie.
func createSession(c *conn.Conn) {
	c.SessionID = uuid.NewString()
	c.HasSession = true
	c.ExtraHeaders += "Set-Cookie: sessionid=" + c.SessionID + "; Path=/; HttpOnly\r\n"
	skiff.Log().Debug("created session", zap.String("session", c.SessionID))
}

// handleCookieUpdate intercepts the cookie-update endpoint. It reports
// whether the request was claimed.
func handleCookieUpdate(c *conn.Conn, ps *socket.PollSet, target string) bool {
	if !strings.HasPrefix(target, cookieUpdatePrefix) {
		return false
	}
	rest := target[len(cookieUpdatePrefix):]
	sep := strings.Index(rest, "/")
	if sep < 0 {
		respond(c, ps, 400, "text/plain", []byte("400 "+skiff.StatusText(400)))
		return true
	}
	name, value := rest[:sep], rest[sep+1:]

	if !c.HasSession {
		createSession(c)
	}
	c.ExtraHeaders += "Set-Cookie: " + name + "=" + value + "; Path=/\r\n"

	respond(c, ps, 200, "application/json", []byte(`{"status":"success"}`))
	return true
}

// handleMetrics intercepts GET /metrics and serves the Prometheus text
// exposition of the process registry.
func handleMetrics(c *conn.Conn, ps *socket.PollSet, target string) bool {
	if target != metricsTarget {
		return false
	}
	if c.Req.Method != "GET" {
		respond(c, ps, 405, "text/plain", []byte("405 "+skiff.StatusText(405)))
		return true
	}
	body, err := metrics.Exposition()
	if err != nil {
		skiff.Log().Error("metrics exposition failed", zap.Error(err))
		respond(c, ps, 500, "text/plain", []byte("500 "+skiff.StatusText(500)))
		return true
	}
	respond(c, ps, 200, expositionContentType, body)
	return true
}
