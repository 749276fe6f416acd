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
	"os"
	"os/signal"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/skiffserv/skiff"
)

// Reaper collects exited CGI children. SIGCHLD deliveries land on a buffered
// channel (the runtime's async-signal-safe handler) and the event loop
// drains WNOHANG waits between poll rounds; no descriptor work happens on
// the signal path. The abandoned set tracks children whose connection was
// torn down before the child was confirmed dead.
type Reaper struct {
	sigchld   chan os.Signal
	abandoned map[int]bool
}

// process-wide reaper; the Gateway teardown path needs to reach it without
// a back-reference through the connection.
var reaper = &Reaper{
	sigchld:   make(chan os.Signal, 16),
	abandoned: make(map[int]bool),
}

// InstallReaper subscribes the process to SIGCHLD. Call once before the
// first child is forked.
func InstallReaper() {
	signal.Notify(reaper.sigchld, unix.SIGCHLD)
}

// Abandon records a child whose owner gave up on it; the sweep keeps trying
// to reap it until the wait succeeds.
func Abandon(pid int) {
	reaper.abandoned[pid] = true
}

// AbandonedCount reports how many terminated-but-unreaped children are
// outstanding.
func AbandonedCount() int {
	return len(reaper.abandoned)
}

// Sweep reaps every waitable child. Called once per loop iteration; it
// never blocks.
func Sweep() {
	signalled := false
	select {
	case <-reaper.sigchld:
		signalled = true
	default:
	}
	if !signalled && len(reaper.abandoned) == 0 {
		return
	}
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
		delete(reaper.abandoned, pid)
		skiff.Log().Debug("reaped CGI child",
			zap.Int("pid", pid), zap.Int("status", status.ExitStatus()))
	}
}
