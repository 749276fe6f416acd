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

// Package config defines the immutable server, location, and CGI records
// produced by the config file parser, and the port index used to resolve a
// request's server at dispatch time. Records are loaded once at startup and
// never mutated afterwards; request handlers only ever read them.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultMaxBodySize caps request bodies when maxBodySize is not configured.
const DefaultMaxBodySize = 10_000_000

// DefaultMethods is the accepted-methods set servers start from.
var DefaultMethods = []string{"GET", "POST", "DELETE", "PUT"}

// Server is one configured server block. Unset location fields inherit from
// here; unset server fields carry the documented defaults.
type Server struct {
	ListenAddress string
	Ports         []uint16
	Names         []string

	Root      string // always with a trailing slash
	Index     string
	UploadDir string

	MaxBodySize uint64
	Autoindex   bool
	Methods     []string
	ErrorPages  map[int]string

	// Locations in declaration order; matching is first prefix match.
	Locations []Location

	CGI    *CGI
	HasCGI bool
}

// Location is one location block inside a server. Every field is populated
// at parse time, inheriting the server value when the block leaves it unset.
type Location struct {
	Prefix string

	Root      string
	UploadDir string

	Autoindex  bool
	FileUpload bool
	Internal   bool

	Methods    []string
	ErrorPages map[int]string

	// ReturnStatus of 0 means no return directive.
	ReturnStatus int
	ReturnTarget string
}

// CGI is the cgi block of a server: a URI alias mapped onto a filesystem
// path whose executable files handle matching requests.
type CGI struct {
	URIAlias   string
	PathAlias  string
	UploadDir  string
	Extensions []string
	Methods    []string
}

// AllowsExtension reports whether ext (with leading dot) is in the block's
// allowed set.
func (c *CGI) AllowsExtension(ext string) bool {
	for _, e := range c.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// NewServer returns a server record carrying the documented defaults.
func NewServer() *Server {
	return &Server{
		ListenAddress: "localhost",
		Root:          "www/",
		Index:         "index.html",
		UploadDir:     "www/upload/",
		MaxBodySize:   DefaultMaxBodySize,
		Methods:       append([]string(nil), DefaultMethods...),
		ErrorPages:    make(map[int]string),
	}
}

// Allows reports whether method is in the server-level accepted set.
func (s *Server) Allows(method string) bool {
	return contains(s.Methods, method)
}

// Match returns the first location whose prefix is a prefix of target, in
// declaration order, or nil when no block matches.
func (s *Server) Match(target string) *Location {
	for i := range s.Locations {
		if strings.HasPrefix(target, s.Locations[i].Prefix) {
			return &s.Locations[i]
		}
	}
	return nil
}

// Allows reports whether method is in the location's accepted set.
func (l *Location) Allows(method string) bool {
	return contains(l.Methods, method)
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Config is the loaded configuration snapshot: every server plus the
// port-to-server index. It is shared by reference and read-only.
type Config struct {
	Servers []*Server

	ports     []uint16 // sorted ascending, as Ports returns them
	byPort    map[uint16]*Server
	allowDups bool
}

// Index builds the port index. Every port must appear in exactly one server
// record; a duplicate is an error here (the parser drops duplicates earlier,
// so hitting this means a programming error in the caller).
func (c *Config) Index() error {
	c.byPort = make(map[uint16]*Server)
	c.ports = c.ports[:0]
	for _, srv := range c.Servers {
		for _, port := range srv.Ports {
			if _, taken := c.byPort[port]; taken {
				return fmt.Errorf("port %d is claimed by two server blocks", port)
			}
			c.byPort[port] = srv
			c.ports = append(c.ports, port)
		}
	}
	sort.Slice(c.ports, func(i, j int) bool { return c.ports[i] < c.ports[j] })
	return nil
}

// ServerForPort resolves the server owning port, or nil.
func (c *Config) ServerForPort(port uint16) *Server {
	return c.byPort[port]
}

// Ports returns every listening port, ascending.
func (c *Config) Ports() []uint16 {
	return c.ports
}
