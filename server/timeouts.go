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
	"time"

	"go.uber.org/zap"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/cgi"
	"github.com/skiffserv/skiff/conn"
	"github.com/skiffserv/skiff/metrics"
)

// sweepTimeouts enforces the two loop-side deadlines: the keep-alive idle
// timeout on every connection, and the no-progress timeout on CGI
// exchanges. Socket-level send/recv timeouts are armed on the descriptors
// themselves.
func (s *Server) sweepTimeouts() {
	now := time.Now()
	for _, c := range s.conns {
		if c.Closed() {
			continue
		}

		if g, ok := cgi.Of(c); ok &&
			(c.State == conn.CgiIncoming || c.State == conn.CgiSending) &&
			g.Stale() {
			skiff.Log().Warn("CGI child made no progress, giving up",
				zap.Int("pid", g.PID), zap.String("script", g.Script))
			metrics.Timeouts.WithLabelValues("cgi").Inc()
			c.ErrStatus = 504
			c.State = conn.CgiFinished
			s.finishCGI(c)
			continue
		}

		if now.Sub(c.LastActivity) > skiff.KeepaliveTimeout {
			skiff.Log().Debug("closing idle connection",
				zap.Uint64("id", c.ID), zap.Int("fd", c.ClientFD))
			metrics.Timeouts.WithLabelValues("keepalive").Inc()
			c.Close(s.ps)
		}
	}
}
