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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusText(t *testing.T) {
	assert.Equal(t, "OK", StatusText(200))
	assert.Equal(t, "Payload Too Large", StatusText(413))
	assert.Equal(t, "Gateway Timeout", StatusText(504))
	assert.Equal(t, "", StatusText(299))
}

func TestContentType(t *testing.T) {
	for _, tc := range []struct {
		name, want string
	}{
		{"index.html", "text/html"},
		{"A/B/STYLE.CSS", "text/css"},
		{"photo.JPEG", "image/jpeg"},
		{"archive.tar.gz", DefaultContentType},
		{"noextension", DefaultContentType},
		{"data.json", "application/json"},
	} {
		assert.Equal(t, tc.want, ContentType(tc.name), "name %q", tc.name)
	}
}
