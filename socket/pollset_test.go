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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPollSetAddRemove(t *testing.T) {
	ps := NewPollSet()
	ps.Add(10, unix.POLLIN, 1)
	ps.Add(11, unix.POLLIN, 1)
	ps.Add(12, unix.POLLOUT, 2)
	assert.Equal(t, 3, ps.Len())

	id, ok := ps.Owner(11)
	require.True(t, ok)
	assert.Equal(t, uint64(1), id)

	// swap-remove keeps the rest intact
	ps.Remove(10)
	assert.Equal(t, 2, ps.Len())
	assert.False(t, ps.Registered(10))
	assert.True(t, ps.Registered(11))
	assert.True(t, ps.Registered(12))

	_, ok = ps.Owner(10)
	assert.False(t, ok)

	// removing an unknown fd is harmless
	ps.Remove(99)
	assert.Equal(t, 2, ps.Len())
}

func TestPollSetSetEvents(t *testing.T) {
	ps := NewPollSet()
	ps.Add(5, unix.POLLIN, 7)
	ps.SetEvents(5, unix.POLLOUT)
	assert.Equal(t, unix.POLLOUT, int(ps.fds[0].Events))
	// unknown fd is a no-op
	ps.SetEvents(6, unix.POLLIN)
}

func TestPollSetWait(t *testing.T) {
	// a pipe with pending bytes reports readable immediately
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	ps := NewPollSet()
	ps.Add(p[0], unix.POLLIN, 1)

	n, err := ps.Wait(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing to read yet")
	assert.Empty(t, ps.Ready())

	_, err = unix.Write(p[1], []byte("x"))
	require.NoError(t, err)

	n, err = ps.Wait(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ready := ps.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, int32(p[0]), ready[0].Fd)
	assert.NotZero(t, ready[0].Revents&unix.POLLIN)
}

func TestListenAndAccept(t *testing.T) {
	fd, err := Listen(0) // port 0: kernel assigns
	require.NoError(t, err)
	defer unix.Close(fd)

	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	port := sa.(*unix.SockaddrInet4).Port
	assert.NotZero(t, port)

	// nothing queued: accept reports an empty queue, not an error
	cfd, _, err := Accept(fd)
	require.NoError(t, err)
	assert.Equal(t, -1, cfd)

	// connect a client and accept it
	client, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(client)
	require.NoError(t, unix.Connect(client, &unix.SockaddrInet4{
		Port: port, Addr: [4]byte{127, 0, 0, 1},
	}))

	ps := NewPollSet()
	ps.Add(fd, unix.POLLIN, 0)
	_, err = ps.Wait(2000)
	require.NoError(t, err)

	cfd, ip, err := Accept(fd)
	require.NoError(t, err)
	require.NotEqual(t, -1, cfd)
	defer unix.Close(cfd)
	assert.Equal(t, "127.0.0.1", ip)

	require.NoError(t, SetTimeouts(cfd, 0, 0))
}

func TestFormatAddr(t *testing.T) {
	assert.Equal(t, "10.1.2.3", FormatAddr(&unix.SockaddrInet4{Addr: [4]byte{10, 1, 2, 3}}))
}
