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

package socket

import "golang.org/x/sys/unix"

// PollSet is the ordered array of descriptor-event pairs submitted to the
// readiness wait, together with an fd-to-connection index maintained
// alongside every registration. Every registered descriptor belongs to
// exactly one connection; listening sockets register with owner 0.
type PollSet struct {
	fds   []unix.PollFd
	owner map[int32]uint64
}

// NewPollSet returns an empty poll set with capacity for the usual load.
func NewPollSet() *PollSet {
	return &PollSet{
		fds:   make([]unix.PollFd, 0, 128),
		owner: make(map[int32]uint64, 128),
	}
}

// Add registers fd for events, owned by connection connID.
func (p *PollSet) Add(fd int, events int16, connID uint64) {
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: events})
	p.owner[int32(fd)] = connID
}

// Remove unregisters fd, swapping with the last entry for O(1) removal.
func (p *PollSet) Remove(fd int) {
	for i := range p.fds {
		if p.fds[i].Fd == int32(fd) {
			p.fds[i] = p.fds[len(p.fds)-1]
			p.fds = p.fds[:len(p.fds)-1]
			break
		}
	}
	delete(p.owner, int32(fd))
}

// SetEvents changes the interest set of an already-registered descriptor.
// The loop uses it to follow a connection's state: read interest while a
// request arrives, write interest while a response drains. Keeping write
// interest off idle sockets is what stops the wait from spinning on
// always-writable descriptors.
func (p *PollSet) SetEvents(fd int, events int16) {
	for i := range p.fds {
		if p.fds[i].Fd == int32(fd) {
			p.fds[i].Events = events
			return
		}
	}
}

// Owner resolves the connection id that registered fd.
func (p *PollSet) Owner(fd int32) (uint64, bool) {
	id, ok := p.owner[fd]
	return id, ok
}

// Len is the number of registered descriptors.
func (p *PollSet) Len() int {
	return len(p.fds)
}

// Wait blocks in poll(2) until a descriptor is ready or timeoutMs elapses.
// It returns the number of ready descriptors; 0 means the wait timed out.
func (p *PollSet) Wait(timeoutMs int) (int, error) {
	return unix.Poll(p.fds, timeoutMs)
}

// Ready returns a snapshot of entries with non-zero revents from the last
// Wait. The snapshot lets callers mutate the set while iterating events.
func (p *PollSet) Ready() []unix.PollFd {
	var ready []unix.PollFd
	for _, pfd := range p.fds {
		if pfd.Revents != 0 {
			ready = append(ready, pfd)
		}
	}
	return ready
}

// Registered reports whether fd is currently in the set.
func (p *PollSet) Registered(fd int) bool {
	_, ok := p.owner[int32(fd)]
	return ok
}
