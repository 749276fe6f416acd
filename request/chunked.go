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
	"bytes"
	"strconv"
	"strings"
)

// chunkedTerminator is the zero-size chunk that ends a chunked body.
var chunkedTerminator = []byte("0\r\n\r\n")

// HasChunkedTerminator reports whether body already contains the final
// zero-size chunk. Until it does, decoding cannot run and the caller must
// keep reading.
func HasChunkedTerminator(body []byte) bool {
	return bytes.Contains(body, chunkedTerminator)
}

// Dechunk converts a complete chunked transfer encoding into its canonical
// byte sequence. It returns ok=false when the terminator has not arrived.
// Each chunk is a hex size line, CRLF, that many bytes, CRLF; a size of
// zero terminates.
func Dechunk(body []byte) (decoded []byte, ok bool) {
	if !HasChunkedTerminator(body) {
		return nil, false
	}
	pos := 0
	for pos < len(body) {
		lineEnd := bytes.Index(body[pos:], []byte("\r\n"))
		if lineEnd < 0 {
			break
		}
		sizeField := string(body[pos : pos+lineEnd])
		// chunk extensions after ';' are tolerated and ignored
		if semi := strings.Index(sizeField, ";"); semi >= 0 {
			sizeField = sizeField[:semi]
		}
		size, err := strconv.ParseUint(strings.TrimSpace(sizeField), 16, 64)
		if err != nil {
			break
		}
		if size == 0 {
			break
		}
		pos += lineEnd + 2
		if pos+int(size) > len(body) {
			break
		}
		decoded = append(decoded, body[pos:pos+int(size)]...)
		pos += int(size) + 2
	}
	return decoded, true
}

// ApplyDechunked rewrites the request's framing after its body has been
// decoded: Content-Length becomes the decoded length and the
// Transfer-Encoding header is dropped.
func (r *Request) ApplyDechunked(decodedLen int) {
	r.Chunked = false
	r.ContentLength = uint64(decodedLen)
	for k := range r.Headers {
		if strings.EqualFold(k, "Transfer-Encoding") {
			delete(r.Headers, k)
		}
	}
	r.Headers["Content-Length"] = strconv.Itoa(decodedLen)
}
