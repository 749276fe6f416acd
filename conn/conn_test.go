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

package conn

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/skiffserv/skiff/socket"
)

// pair returns a connected socket pair: the connection's end and the peer's.
func pair(t *testing.T) (c *Conn, peer int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	c = New(1, fds[0], "127.0.0.1")
	t.Cleanup(func() {
		if c.ClientFD != -1 {
			unix.Close(c.ClientFD)
		}
		unix.Close(fds[1])
	})
	return c, fds[1]
}

// readAll drains whatever is currently queued on the peer end.
func readAll(t *testing.T, fd int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 64*1024)
	unix.SetNonblock(fd, true)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil || n <= 0 {
			return out
		}
	}
}

func TestReadIntoBuf(t *testing.T) {
	c, peer := pair(t)
	_, err := unix.Write(peer, []byte("GET / HTTP/1.1\r\n"))
	require.NoError(t, err)

	closed, err := c.ReadIntoBuf()
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, "GET / HTTP/1.1\r\n", string(c.Buf))

	// peer close surfaces as peerClosed, not an error
	unix.Close(peer)
	closed, err = c.ReadIntoBuf()
	require.NoError(t, err)
	assert.True(t, closed)
}

func TestSimpleResponseFlush(t *testing.T) {
	c, peer := pair(t)
	ps := socket.NewPollSet()
	c.SetSimpleResponse(ps, 200, "text/plain", []byte("hi"))
	assert.Equal(t, SimpleResponse, c.State)

	done, err := c.FlushOut()
	require.NoError(t, err)
	assert.True(t, done)

	got := string(readAll(t, peer))
	assert.True(t, strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n"))
	assert.True(t, strings.HasSuffix(got, "\r\n\r\nhi"))
}

func TestSessionCookieAttached(t *testing.T) {
	c, peer := pair(t)
	ps := socket.NewPollSet()
	c.HasSession = true
	c.SessionID = "deadbeef"
	c.SetSimpleResponse(ps, 200, "text/plain", nil)
	_, err := c.FlushOut()
	require.NoError(t, err)
	got := string(readAll(t, peer))
	assert.Contains(t, got, "Set-Cookie: sessionid=deadbeef; Path=/; HttpOnly\r\n")
}

func TestServeFileStreams(t *testing.T) {
	content := strings.Repeat("0123456789abcdef", 4096) // 64 KiB, several chunks
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)

	c, peer := pair(t)
	c.ServeFile(f, 200, "text/plain", int64(len(content)))
	assert.Equal(t, FileRequest, c.State)

	var got []byte
	for i := 0; i < 1000; i++ {
		finished, err := c.FileStep()
		require.NoError(t, err)
		got = append(got, readAll(t, peer)...)
		if finished {
			break
		}
	}

	head, body, found := strings.Cut(string(got), "\r\n\r\n")
	require.True(t, found)
	assert.Contains(t, head, "Content-Length: 65536")
	assert.Equal(t, content, body)
}

func TestUploadLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "up.bin")

	c, peer := pair(t)
	require.NoError(t, c.BeginUpload(path, []byte("hel"), 5))
	assert.Equal(t, Upload, c.State)
	assert.False(t, c.UploadDone())

	_, err := unix.Write(peer, []byte("lo"))
	require.NoError(t, err)
	finished, aborted := c.UploadStep()
	assert.True(t, finished)
	assert.False(t, aborted)
	assert.True(t, c.UploadDone())

	// completing releases the handler without removing the file
	ps := socket.NewPollSet()
	c.ReleaseHandler(ps)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestAbortedUploadRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.bin")

	c, peer := pair(t)
	require.NoError(t, c.BeginUpload(path, []byte("xx"), 10))

	unix.Close(peer) // peer disappears mid-upload
	finished, aborted := c.UploadStep()
	assert.False(t, finished)
	assert.True(t, aborted)

	ps := socket.NewPollSet()
	c.Close(ps)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "partial upload must be unlinked")
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := pair(t)
	ps := socket.NewPollSet()
	ps.Add(c.ClientFD, unix.POLLIN, c.ID)

	c.Close(ps)
	assert.True(t, c.Closed())
	assert.Equal(t, 0, ps.Len())
	c.Close(ps) // second close is a no-op
	assert.True(t, c.Closed())
}

func TestResetForNextRequest(t *testing.T) {
	c, _ := pair(t)
	ps := socket.NewPollSet()
	c.Buf = []byte("old request")
	c.Out = []byte("old response")
	c.ExtraHeaders = "X: y\r\n"
	c.HasSession = true
	c.State = SimpleResponse

	c.ResetForNextRequest(ps)
	assert.Equal(t, Incoming, c.State)
	assert.Empty(t, c.Buf)
	assert.Empty(t, c.Out)
	assert.Empty(t, c.ExtraHeaders)
	assert.False(t, c.HasSession)
	assert.False(t, c.Closed(), "keep-alive keeps the socket open")
}
