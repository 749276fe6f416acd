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
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// enchunk produces the chunked encoding of payload with the given chunk
// size, for round-trip checks.
func enchunk(payload string, chunkSize int) []byte {
	var b strings.Builder
	for len(payload) > 0 {
		n := chunkSize
		if n > len(payload) {
			n = len(payload)
		}
		fmt.Fprintf(&b, "%x\r\n%s\r\n", n, payload[:n])
		payload = payload[n:]
	}
	b.WriteString("0\r\n\r\n")
	return []byte(b.String())
}

func TestDechunkRoundTrip(t *testing.T) {
	payloads := []string{
		"hello",
		"",
		strings.Repeat("abcdefgh", 1024),
		"exact--sized",
	}
	for _, payload := range payloads {
		for _, chunkSize := range []int{1, 3, 8, 4096} {
			decoded, ok := Dechunk(enchunk(payload, chunkSize))
			require.True(t, ok)
			assert.Equal(t, payload, string(decoded),
				"payload %q with chunk size %d", payload, chunkSize)
		}
	}
}

func TestDechunkIncomplete(t *testing.T) {
	// terminator absent: decoder must wait for more bytes
	full := enchunk("hello world", 4)
	for cut := 1; cut < len(full)-1; cut++ {
		partial := full[:cut]
		if HasChunkedTerminator(partial) {
			continue
		}
		_, ok := Dechunk(partial)
		assert.False(t, ok, "cut at %d should be incomplete", cut)
	}

	// once the straddled terminator arrives, decoding succeeds
	decoded, ok := Dechunk(full)
	require.True(t, ok)
	assert.Equal(t, "hello world", string(decoded))
}

func TestDechunkIgnoresExtensions(t *testing.T) {
	body := []byte("5;ext=1\r\nhello\r\n0\r\n\r\n")
	decoded, ok := Dechunk(body)
	require.True(t, ok)
	assert.Equal(t, "hello", string(decoded))
}

func TestApplyDechunked(t *testing.T) {
	var r Request
	raw := "POST /u HTTP/1.1\r\nHost: h:80\r\nTransfer-Encoding: chunked\r\n\r\n"
	require.Equal(t, Success, r.Parse([]byte(raw)))
	require.True(t, r.Chunked)

	r.ApplyDechunked(5)
	assert.False(t, r.Chunked)
	assert.Equal(t, uint64(5), r.ContentLength)
	assert.Equal(t, "5", r.Header("Content-Length"))
	assert.Equal(t, "", r.Header("Transfer-Encoding"))
}
