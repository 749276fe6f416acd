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

// Package response assembles complete HTTP/1.1 responses: status line,
// headers, and body. Handlers hand the result to the connection's send
// buffer; nothing here touches a socket.
package response

import (
	"bytes"
	"strconv"

	"github.com/skiffserv/skiff"
)

// redirectStatus reports whether code is one of the redirect statuses whose
// canned body is interpreted as the Location target.
func redirectStatus(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// Head assembles the status line and header section, terminated by the blank
// line. extraHeaders must be zero or more complete "Name: value\r\n" lines
// (the session cookie fragment, Location).
func Head(status int, contentType, extraHeaders string, contentLength int64) []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(status))
	b.WriteString(" ")
	b.WriteString(skiff.StatusText(status))
	b.WriteString("\r\n")
	b.WriteString("Content-Type: ")
	b.WriteString(contentType)
	b.WriteString("\r\n")
	b.WriteString(extraHeaders)
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.FormatInt(contentLength, 10))
	b.WriteString("\r\n\r\n")
	return b.Bytes()
}

// Build assembles a complete response from a canned body. For the redirect
// statuses a non-empty body is treated as the Location target: the header is
// emitted and a minimal HTML body takes its place.
func Build(status int, contentType string, body []byte, extraHeaders string) []byte {
	if redirectStatus(status) && len(body) > 0 {
		extraHeaders += "Location: " + string(body) + "\r\n"
		body = []byte("<html><body>Redirecting to " + string(body) + "</body></html>")
		contentType = "text/html"
	}
	head := Head(status, contentType, extraHeaders, int64(len(body)))
	return append(head, body...)
}

// GeneratedHTML produces the fallback error page used when no custom error
// page is configured (or the configured one cannot be served).
func GeneratedHTML(status int) []byte {
	text := skiff.StatusText(status)
	code := strconv.Itoa(status)
	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n")
	b.WriteString("<html lang=\"en\">\n<head>\n<meta charset=\"UTF-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	b.WriteString("<title>" + code + " " + text + "</title>\n")
	b.WriteString("<style> body {display: flex; flex-direction: column; justify-content: center;")
	b.WriteString("align-items: center; height: 100vh; margin: 0; background-color: black; color: white} </style>\n")
	b.WriteString("</head>\n<body>\n")
	b.WriteString("<h1>" + code + "</h1>\n<p>" + text + "</p>\n")
	b.WriteString("</body>\n</html>\n")
	return b.Bytes()
}

// Critical is the minimal inline error used before headers have been
// parsed: no body, no custom page lookup, and the connection is told to
// close.
func Critical(status int) []byte {
	return []byte("HTTP/1.1 " + strconv.Itoa(status) + " " + skiff.StatusText(status) +
		"\r\nConnection: close\r\nContent-Length: 0\r\n\r\n")
}
