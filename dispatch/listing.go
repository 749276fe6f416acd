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
	"bytes"
	"html/template"
	"os"

	"github.com/dustin/go-humanize"
)

// listingEntry is one row of a directory listing.
type listingEntry struct {
	Name string
	Href string
	// Size is the human-readable size, empty for directories.
	Size string
}

type listingData struct {
	Target  string
	Entries []listingEntry
}

const listingPage = `<html><head><title>Directory Listing</title>` +
	`<link rel="stylesheet" type="text/css" href="/css/style.css">` +
	`</head><body><div style="text-align: left;">` +
	`<h1 style="margin: 0px;">Index of {{.Target}}</h1><ul>
{{- range .Entries}}
<li><a href="{{.Href}}">{{.Name}}</a>{{if .Size}} <small>{{.Size}}</small>{{end}}</li>
{{- end}}
</ul></div></body></html>
`

var listingTemplate = template.Must(template.New("listing").Parse(listingPage))

// directoryListing renders the autoindex page for dirPath. The base href is
// the request target with a trailing slash ensured.
func directoryListing(dirPath, target string) ([]byte, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	base := target
	if len(base) > 1 && base[len(base)-1] != '/' {
		base += "/"
	}

	data := listingData{
		Target: target,
		Entries: []listingEntry{
			{Name: ".", Href: base},
			{Name: "..", Href: base + ".."},
		},
	}
	for _, e := range entries {
		le := listingEntry{Name: e.Name(), Href: base + e.Name()}
		if !e.IsDir() {
			if fi, err := e.Info(); err == nil {
				le.Size = humanize.IBytes(uint64(fi.Size()))
			}
		}
		data.Entries = append(data.Entries, le)
	}

	var buf bytes.Buffer
	if err := listingTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
