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

// Package skiff holds the process-wide identity and the small static lookup
// tables shared by every other package: the software string, the HTTP
// status-text table, the extension-to-MIME table, and the tunables that
// govern the event loop.
package skiff

import "time"

// Version is the program version, surfaced in SERVER_SOFTWARE.
const Version = "1.2.0"

// SoftwareName is the bare product name.
const SoftwareName = "skiff"

// Software is the full server software string sent to CGI children.
const Software = SoftwareName + "/" + Version

// DefaultConfigFile is used when the command line names no config file.
const DefaultConfigFile = "config/default.conf"

// Tunables for the event loop and its sockets. These are process-wide and
// fixed at compile time; per-site values (body size, methods, roots) live in
// the config package instead.
const (
	// BufferSize is the unit of all socket and pipe I/O.
	BufferSize = 8192

	// MaxConnections caps the number of registered descriptors; accepts
	// beyond the cap are refused with 503.
	MaxConnections = 200

	// PollInterval is the readiness-wait wake-up used to sweep timeouts
	// even when no descriptor becomes ready.
	PollInterval = 10 * time.Second

	// RequestTimeout and ResponseTimeout become SO_RCVTIMEO/SO_SNDTIMEO
	// on accepted sockets.
	RequestTimeout  = 10 * time.Second
	ResponseTimeout = 10 * time.Second

	// KeepaliveTimeout closes connections that show no I/O activity.
	KeepaliveTimeout = 15 * time.Second

	// CGITimeout is the maximum time between two progress events on a CGI
	// child's pipes before the child is given up on with 504.
	CGITimeout = 1 * time.Second
)
