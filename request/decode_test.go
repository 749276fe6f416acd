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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentDecode(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"/plain/path", "/plain/path"},
		{"/with%20space", "/with space"},
		{"%2Fslash%3Fq%3D1", "/slash?q=1"},
		{"a+b", "a b"},
		{"%zz", "%zz"},       // invalid hex keeps the literal percent
		{"%2", "%2"},         // truncated escape
		{"100%", "100%"},     // trailing percent
		{"%41%61", "Aa"},     // mixed case hex
		{"caf%C3%A9", "café"}, // utf-8 bytes pass through
		{"", ""},
	} {
		assert.Equal(t, tc.want, PercentDecode(tc.in), "input %q", tc.in)
	}
}

func TestPercentDecodeIdentityOnUnreserved(t *testing.T) {
	// unreserved bytes are untouched by decoding
	unreserved := "ABCXYZabcxyz0123456789-_.~"
	assert.Equal(t, unreserved, PercentDecode(unreserved))
}
