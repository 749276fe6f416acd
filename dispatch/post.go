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

package dispatch

import (
	"go.uber.org/zap"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/conn"
	"github.com/skiffserv/skiff/socket"
)

// UploadedBody is the body of a completed upload's 201 response.
const UploadedBody = "File uploaded successfully."

// handlePost starts a file upload into the target path. Body bytes that
// arrived together with the headers are written before the connection
// settles into the Upload state; small bodies can complete right here.
func handlePost(c *conn.Conn, ps *socket.PollSet, eff effective) {
	if c.Req.ContentLength == 0 {
		errorResponse(c, ps, eff.errorPages, 411)
		return
	}
	if c.Req.ContentLength > c.Server.MaxBodySize {
		skiff.Log().Debug("request body exceeds cap",
			zap.Uint64("length", c.Req.ContentLength),
			zap.Uint64("max", c.Server.MaxBodySize))
		errorResponse(c, ps, eff.errorPages, 413)
		c.CloseAfterResponse = true
		return
	}
	if !eff.fileUpload {
		skiff.Log().Debug("upload not allowed here",
			zap.String("path", eff.fullPath))
		errorResponse(c, ps, eff.errorPages, 403)
		return
	}

	initial := c.Buf[c.Req.HeadersEnd:]
	if err := c.BeginUpload(eff.fullPath, initial, c.Req.ContentLength); err != nil {
		skiff.Log().Error("opening upload target failed",
			zap.String("path", eff.fullPath), zap.Error(err))
		errorResponse(c, ps, eff.errorPages, 500)
		return
	}
	if c.UploadDone() {
		CompleteUpload(c, ps)
	}
}

// CompleteUpload closes the upload file and stages the 201 response. The
// loop also calls it when the Upload state receives its final bytes.
func CompleteUpload(c *conn.Conn, ps *socket.PollSet) {
	respond(c, ps, 201, "text/plain", []byte(UploadedBody))
}
