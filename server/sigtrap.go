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
	"os"
	"os/signal"
	"syscall"
)

// sigState carries the termination flag the loop services between poll
// rounds. Signal deliveries land on a buffered channel; no work happens on
// the signal path itself.
type sigState struct {
	term chan os.Signal
}

// trapSignals wires the process signal dispositions:
//
//	SIGINT/SIGQUIT/SIGTERM  graceful shutdown, serviced by the loop
//	SIGCHLD                 reaper (installed by the cgi package)
//	SIGPIPE                 ignored; sends use MSG_NOSIGNAL and see EPIPE
//	SIGHUP                  reserved; explicitly a no-op
func trapSignals() *sigState {
	st := &sigState{term: make(chan os.Signal, 1)}
	signal.Notify(st.term, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	signal.Ignore(syscall.SIGPIPE, syscall.SIGHUP)
	return st
}

// terminated reports whether a termination signal has arrived. It never
// blocks; the loop calls it once per iteration (poll returns with EINTR
// when a signal lands mid-wait).
func (st *sigState) terminated() bool {
	select {
	case <-st.term:
		return true
	default:
		return false
	}
}
