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
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/conn"
	"github.com/skiffserv/skiff/socket"
)

// handleDelete unlinks the target file.
func handleDelete(c *conn.Conn, ps *socket.PollSet, eff effective) {
	err := os.Remove(eff.fullPath)
	if err == nil {
		skiff.Log().Debug("deleted file", zap.String("path", eff.fullPath))
		respond(c, ps, 200, "text/plain", []byte("File deleted"))
		return
	}
	if underlying(err) == unix.ENOENT {
		errorResponse(c, ps, eff.errorPages, 404)
		return
	}
	skiff.Log().Error("deleting file failed",
		zap.String("path", eff.fullPath), zap.Error(err))
	respond(c, ps, 500, "text/plain",
		[]byte("Failed to delete file: "+err.Error()))
}

// underlying unwraps a *PathError down to the errno.
func underlying(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err
	}
	return err
}
