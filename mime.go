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

package skiff

import (
	"path"
	"strings"
)

// DefaultContentType is used when no extension mapping exists.
const DefaultContentType = "application/octet-stream"

// mimeTypes maps lowercase file extensions (with leading dot) to MIME types.
var mimeTypes = map[string]string{
	// Web
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".xml":  "application/xml",
	".json": "application/json",

	// Text
	".txt": "text/plain",
	".csv": "text/csv",
	".md":  "text/markdown",
	".sh":  "text/x-shellscript",

	// Images
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".webp": "image/webp",

	// Documents
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/msword",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.ms-excel",
	".zip":  "application/zip",

	// Multimedia
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// ContentType returns the MIME type for the extension of name, matched
// case-insensitively, or DefaultContentType when the extension is unknown.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := mimeTypes[ext]; ok {
		return ct
	}
	return DefaultContentType
}
