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

package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleGet(t *testing.T) {
	var r Request
	status := r.Parse([]byte("GET /index.html HTTP/1.1\r\nHost: example.com:8080\r\n\r\n"))
	require.Equal(t, Success, status)
	assert.Equal(t, "GET", r.Method)
	assert.Equal(t, "/index.html", r.Target)
	assert.Equal(t, "HTTP/1.1", r.Version)
	assert.Equal(t, "example.com", r.Host)
	assert.Equal(t, uint16(8080), r.Port)
	assert.Equal(t, len("GET /index.html HTTP/1.1\r\nHost: example.com:8080\r\n\r\n"), r.HeadersEnd)
}

func TestParseIncremental(t *testing.T) {
	// headers split across two reads parse identically to a single read
	full := "GET /a HTTP/1.1\r\nHost: h:80\r\nX-Thing: yes\r\n\r\n"
	half := full[:17]

	var r Request
	assert.Equal(t, Incomplete, r.Parse([]byte(half)))

	var r2 Request
	require.Equal(t, Success, r2.Parse([]byte(full)))

	var r3 Request
	assert.Equal(t, Incomplete, r3.Parse([]byte(half)))
	require.Equal(t, Success, r3.Parse([]byte(full)))
	assert.Equal(t, r2.Target, r3.Target)
	assert.Equal(t, r2.Headers["X-Thing"], r3.Headers["X-Thing"])
}

func TestParseQueryAndPathInfo(t *testing.T) {
	var r Request
	status := r.Parse([]byte("GET /cgi/run.py/extra/path?a=1&b=2 HTTP/1.1\r\nHost: h:80\r\n\r\n"))
	require.Equal(t, Success, status)
	assert.Equal(t, "/cgi/run.py", r.Target)
	assert.Equal(t, "/extra/path", r.PathInfo)
	assert.Equal(t, "a=1&b=2", r.Query)
}

func TestParseRequestLineErrors(t *testing.T) {
	for name, raw := range map[string]string{
		"bad method":        "BREW /x HTTP/1.1\r\nHost: h:80\r\n\r\n",
		"bad version":       "GET /x HTTP/2.0\r\nHost: h:80\r\n\r\n",
		"too few fields":    "GET /x\r\nHost: h:80\r\n\r\n",
		"missing host":      "GET /x HTTP/1.1\r\nAccept: */*\r\n\r\n",
		"host without port": "GET /x HTTP/1.1\r\nHost: h\r\n\r\n",
		"bad port":          "GET /x HTTP/1.1\r\nHost: h:99999\r\n\r\n",
		"port not numeric":  "GET /x HTTP/1.1\r\nHost: h:80x\r\n\r\n",
		"header no colon":   "GET /x HTTP/1.1\r\nHost h:80\r\n\r\n",
	} {
		t.Run(name, func(t *testing.T) {
			var r Request
			assert.Equal(t, Error, r.Parse([]byte(raw)))
		})
	}
}

func TestParseHeadersAndCookies(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n" +
		"Host: h:80\r\n" +
		"X-Custom:  padded value \r\n" +
		"Cookie: sessionid=abc123; theme=dark\r\n" +
		"\r\n"
	var r Request
	require.Equal(t, Success, r.Parse([]byte(raw)))
	assert.Equal(t, "padded value", r.Headers["X-Custom"])
	assert.Equal(t, "abc123", r.Cookies["sessionid"])
	assert.Equal(t, "dark", r.Cookies["theme"])
	_, hasCookieHeader := r.Headers["Cookie"]
	assert.False(t, hasCookieHeader, "Cookie lines go to the cookie map, not the header map")
}

func TestHeaderLookupIsCaseInsensitive(t *testing.T) {
	raw := "POST /u HTTP/1.1\r\nhost: h:80\r\ncontent-length: 12\r\n\r\n"
	var r Request
	require.Equal(t, Success, r.Parse([]byte(raw)))
	assert.Equal(t, "h", r.Host)
	assert.Equal(t, uint64(12), r.ContentLength)
	assert.Equal(t, "12", r.Header("Content-Length"))
}

func TestParseContentHeaders(t *testing.T) {
	raw := "POST /u HTTP/1.1\r\n" +
		"Host: h:80\r\n" +
		"Content-Length: 42\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"Content-Type: multipart/form-data; boundary=XYZ\r\n" +
		"\r\n"
	var r Request
	require.Equal(t, Success, r.Parse([]byte(raw)))
	assert.Equal(t, uint64(42), r.ContentLength)
	assert.True(t, r.Chunked)
	assert.True(t, r.Multipart)
	assert.Equal(t, "--XYZ", r.Boundary)
}

func TestMultipartWithoutBoundaryIsError(t *testing.T) {
	raw := "POST /u HTTP/1.1\r\nHost: h:80\r\nContent-Type: multipart/form-data\r\n\r\n"
	var r Request
	assert.Equal(t, Error, r.Parse([]byte(raw)))
}

func TestPostDefaultsContentType(t *testing.T) {
	raw := "POST /u HTTP/1.1\r\nHost: h:80\r\nContent-Length: 1\r\n\r\nx"
	var r Request
	require.Equal(t, Success, r.Parse([]byte(raw)))
	assert.Equal(t, "application/x-www-form-urlencoded", r.Header("Content-Type"))
}
