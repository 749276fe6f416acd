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
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/socket"
)

// ServingFile streams a regular file to the client. The file descriptor is
// never registered with the poll set; regular-file reads are synchronous.
type ServingFile struct {
	File *os.File
}

// Release closes the file if it is still open.
func (h *ServingFile) Release(*socket.PollSet) {
	if h.File != nil {
		h.File.Close()
		h.File = nil
	}
}

// Uploading writes a request body into a newly created file. An aborted
// upload removes the partial file.
type Uploading struct {
	File    *os.File
	Path    string
	Written uint64
	Length  uint64
}

// Release closes the upload file and, if the upload never completed,
// unlinks the partial result.
func (h *Uploading) Release(*socket.PollSet) {
	if h.File != nil {
		h.File.Close()
		h.File = nil
		if h.Written < h.Length {
			os.Remove(h.Path)
		}
	}
}

// FileStep advances a FileRequest connection on POLLOUT: it sends pending
// bytes (the response head first), refills the buffer from the file, and
// reports completion once the file is exhausted and the buffer drained.
func (c *Conn) FileStep() (finished bool, err error) {
	h, ok := c.Handler.(*ServingFile)
	if !ok {
		return true, nil
	}

	// refill from the file only once pending bytes are gone, so a slow
	// client never forces more than one buffered chunk
	if len(c.Out) == 0 && h.File != nil {
		chunk := make([]byte, skiff.BufferSize)
		n, rerr := h.File.Read(chunk)
		if n > 0 {
			c.Out = append(c.Out, chunk[:n]...)
		}
		if rerr == io.EOF {
			h.File.Close()
			h.File = nil
		} else if rerr != nil {
			return false, rerr
		}
	}

	if _, err := c.FlushOut(); err != nil {
		return false, err
	}
	return h.File == nil && len(c.Out) == 0, nil
}

// BeginUpload opens the destination with O_WRONLY|O_CREAT|O_TRUNC and
// immediately writes any body bytes that arrived with the headers.
func (c *Conn) BeginUpload(path string, initial []byte, length uint64) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	h := &Uploading{File: f, Path: path, Length: length}
	c.Handler = h
	c.State = Upload
	if len(initial) > 0 {
		n, werr := f.Write(initial)
		h.Written += uint64(n)
		if werr != nil {
			return werr
		}
	}
	return nil
}

// UploadStep advances an Upload connection on POLLIN: read a chunk from the
// client, write it to the file. finished reports that Written reached the
// request's Content-Length; aborted reports a peer disconnect or I/O error.
// The partial file is removed when the handler is released.
func (c *Conn) UploadStep() (finished, aborted bool) {
	h, ok := c.Handler.(*Uploading)
	if !ok {
		return false, true
	}
	if h.Written >= h.Length {
		return true, false
	}

	data, peerClosed, err := c.recv()
	if err != nil || peerClosed {
		if err != nil {
			skiff.Log().Debug("upload receive failed",
				zap.Int("fd", c.ClientFD), zap.Error(err))
		}
		return false, true
	}
	if len(data) == 0 {
		return false, false
	}

	n, err := h.File.Write(data)
	h.Written += uint64(n)
	if err != nil {
		skiff.Log().Debug("upload write failed",
			zap.String("path", h.Path), zap.Error(err))
		return false, true
	}
	return h.Written >= h.Length, false
}

// UploadDone reports whether the upload handler has received the full body.
func (c *Conn) UploadDone() bool {
	h, ok := c.Handler.(*Uploading)
	return ok && h.Written >= h.Length
}
