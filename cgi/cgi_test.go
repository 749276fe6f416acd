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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/config"
	"github.com/skiffserv/skiff/conn"
	"github.com/skiffserv/skiff/request"
)

func testConn(t *testing.T, raw string) *conn.Conn {
	t.Helper()
	c := conn.New(1, -1, "192.168.1.9")
	require.Equal(t, request.Success, c.Req.Parse([]byte(raw)))
	c.Buf = []byte(raw)
	srv := config.NewServer()
	srv.Root = "www/"
	srv.CGI = &config.CGI{URIAlias: "/cgi", PathAlias: "cgi-bin/", UploadDir: "www/upload"}
	srv.HasCGI = true
	c.Server = srv
	return c
}

func envMap(entries []string) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, _ := strings.Cut(e, "=")
		m[k] = v
	}
	return m
}

func TestEnvForPost(t *testing.T) {
	raw := "POST /cgi/run.py/extra?x=1 HTTP/1.1\r\n" +
		"Host: example:8080\r\n" +
		"Content-Length: 5\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\nhello"
	c := testConn(t, raw)

	env := envMap(Env(c, "cgi-bin/run.py"))
	assert.Equal(t, "POST", env["REQUEST_METHOD"])
	assert.Equal(t, "cgi-bin/run.py", env["SCRIPT_NAME"])
	assert.Equal(t, "/extra", env["PATH_INFO"])
	assert.Equal(t, "x=1", env["QUERY_STRING"])
	assert.Equal(t, "www/extra", env["PATH_TRANSLATED"])
	assert.Equal(t, "5", env["CONTENT_LENGTH"])
	assert.Equal(t, "text/plain", env["CONTENT_TYPE"])
	assert.Equal(t, "192.168.1.9", env["REMOTE_ADDR"])
	assert.Equal(t, "example", env["REMOTE_HOST"])
	assert.Equal(t, "example", env["SERVER_NAME"])
	assert.Equal(t, "8080", env["SERVER_PORT"])
	assert.Equal(t, "HTTP/1.1", env["SERVER_PROTOCOL"])
	assert.Equal(t, "CGI/1.1", env["GATEWAY_INTERFACE"])
	assert.Equal(t, skiff.Software, env["SERVER_SOFTWARE"])
	assert.Equal(t, "N/A", env["REMOTE_USER"])
	assert.Equal(t, "N/A", env["AUTH_TYPE"])
	assert.Equal(t, "www/upload", env["UPLOAD_DIR"])
}

func TestEnvDefaults(t *testing.T) {
	raw := "GET /cgi/run.py HTTP/1.1\r\nHost: h:80\r\n\r\n"
	c := testConn(t, raw)

	env := envMap(Env(c, "cgi-bin/run.py"))
	assert.Equal(t, "/", env["PATH_INFO"], "empty path-info defaults to /")
	assert.Equal(t, "", env["QUERY_STRING"])
	_, hasCL := env["CONTENT_LENGTH"]
	assert.False(t, hasCL, "CONTENT_LENGTH only appears for non-empty bodies")
}

func TestEnvDechunkedBody(t *testing.T) {
	raw := "POST /cgi/echo.py HTTP/1.1\r\n" +
		"Host: h:8080\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n5\r\nhello\r\n0\r\n\r\n"
	c := testConn(t, raw)

	decoded, ok := request.Dechunk(c.Buf[c.Req.HeadersEnd:])
	require.True(t, ok)
	c.Buf = append(c.Buf[:c.Req.HeadersEnd], decoded...)
	c.Req.ApplyDechunked(len(decoded))

	env := envMap(Env(c, "cgi-bin/echo.py"))
	assert.Equal(t, "5", env["CONTENT_LENGTH"], "the child sees the decoded length")
	assert.Equal(t, "", env["HTTP_TRANSFER_ENCODING"])
}

func TestGatewayRelease(t *testing.T) {
	before := AbandonedCount()
	g := &Gateway{PID: -1, StdinFD: -1, StdoutFD: -1}
	g.Release(nil)
	assert.Equal(t, before, AbandonedCount(), "no child, nothing to abandon")

	// an unreaped child pid lands in the abandoned set; the bogus pid
	// exercises the bookkeeping without forking anything
	g2 := &Gateway{PID: 999999, StdinFD: -1, StdoutFD: -1}
	g2.Release(nil)
	assert.Equal(t, before+1, AbandonedCount())
	Sweep() // waitpid on the bogus pid fails; entry stays until reapable
}
