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

package response

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	resp := string(Build(200, "text/plain", []byte("hello"), ""))
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, resp, "Content-Type: text/plain\r\n")
	assert.Contains(t, resp, "Content-Length: 5\r\n")
	assert.True(t, strings.HasSuffix(resp, "\r\n\r\nhello"))
}

func TestBuildCarriesExtraHeaders(t *testing.T) {
	extra := "Set-Cookie: sessionid=abc; Path=/; HttpOnly\r\n"
	resp := string(Build(200, "application/json", []byte(`{}`), extra))
	assert.Contains(t, resp, extra)
	// extra headers come before Content-Length and the blank line
	assert.Less(t, strings.Index(resp, "Set-Cookie"), strings.Index(resp, "Content-Length"))
}

func TestBuildRedirect(t *testing.T) {
	for _, code := range []int{301, 302, 303, 307, 308} {
		resp := string(Build(code, "text/plain", []byte("/new/place"), ""))
		assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 "+strconv.Itoa(code)+" "), "code %d", code)
		assert.Contains(t, resp, "Location: /new/place\r\n")
		assert.Contains(t, resp, "Content-Type: text/html\r\n")
		assert.Contains(t, resp, "Redirecting to /new/place")
	}

	// an empty body means no Location header: it is a plain response
	resp := string(Build(301, "text/plain", nil, ""))
	assert.NotContains(t, resp, "Location:")
}

func TestBuildContentLengthMatchesBody(t *testing.T) {
	resp := Build(301, "text/plain", []byte("/x"), "")
	head, body, found := strings.Cut(string(resp), "\r\n\r\n")
	require.True(t, found)
	assert.Contains(t, head, "Content-Length: "+strconv.Itoa(len(body)))
}

func TestGeneratedHTML(t *testing.T) {
	body := string(GeneratedHTML(404))
	assert.Contains(t, body, "<h1>404</h1>")
	assert.Contains(t, body, "Not Found")
}

func TestCritical(t *testing.T) {
	resp := string(Critical(400))
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 400 Bad Request\r\n"))
	assert.Contains(t, resp, "Connection: close\r\n")
	assert.Contains(t, resp, "Content-Length: 0\r\n")
	assert.True(t, strings.HasSuffix(resp, "\r\n\r\n"))
}
