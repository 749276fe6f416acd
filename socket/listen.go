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

// Package socket provides the raw-descriptor plumbing the event loop is
// built on: listening socket creation, non-blocking accepts, client socket
// timeouts, address formatting, and the poll-set submitted to the readiness
// wait. Nothing here blocks once a descriptor is registered.
package socket

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// listenBacklog is the accept queue depth for listening sockets.
const listenBacklog = 10

// Listen creates a non-blocking, close-on-exec TCP listening socket bound to
// 0.0.0.0:port with SO_REUSEADDR set.
func Listen(port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("creating socket for port %d: %w", port, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setting SO_REUSEADDR on port %d: %w", port, err)
	}
	sa := &unix.SockaddrInet4{Port: int(port)} // zero Addr = INADDR_ANY
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("binding port %d: %w", port, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listening on port %d: %w", port, err)
	}
	return fd, nil
}

// Accept accepts one pending connection from a listening socket. The
// accepted descriptor comes back non-blocking and close-on-exec. When the
// queue is drained it returns fd -1 with a nil error.
func Accept(listenFD int) (fd int, remoteIP string, err error) {
	nfd, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, "", nil
		}
		return -1, "", fmt.Errorf("accept: %w", err)
	}
	return nfd, FormatAddr(sa), nil
}

// FormatAddr renders the host part of a socket address.
func FormatAddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3])
	case *unix.SockaddrInet6:
		return fmt.Sprintf("%x", a.Addr)
	}
	return ""
}

// SetTimeouts arms SO_RCVTIMEO and SO_SNDTIMEO on a client socket. The main
// scheduling is readiness-based; these guard individual syscalls against
// pathological peers.
func SetTimeouts(fd int, recv, send time.Duration) error {
	rtv := unix.NsecToTimeval(recv.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &rtv); err != nil {
		return fmt.Errorf("setting SO_RCVTIMEO: %w", err)
	}
	stv := unix.NsecToTimeval(send.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &stv); err != nil {
		return fmt.Errorf("setting SO_SNDTIMEO: %w", err)
	}
	return nil
}

// SetNonblock marks an inherited descriptor (a pipe end) non-blocking.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
