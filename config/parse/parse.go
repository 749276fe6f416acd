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

package parse

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/skiffserv/skiff"
	"github.com/skiffserv/skiff/config"
)

// File reads and parses the named config file, returning the indexed
// configuration snapshot.
func File(filename string) (*config.Config, error) {
	body, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Bytes(body, filename)
}

// Bytes parses a config file already held in memory.
func Bytes(body []byte, filename string) (*config.Config, error) {
	p := parser{
		Dispenser: NewDispenser(Tokenize(body, filename)),
		base:      base{maxBodySize: config.DefaultMaxBodySize, errorPages: map[int]string{}},
		portsSeen: map[uint16]bool{},
	}
	if err := p.httpBlock(); err != nil {
		return nil, err
	}
	if len(p.cfg.Servers) == 0 {
		return nil, fmt.Errorf("%s: no server blocks found in configuration", filename)
	}
	if err := p.cfg.Index(); err != nil {
		return nil, err
	}
	return &p.cfg, nil
}

// base carries the global (http-level) settings server blocks inherit.
type base struct {
	maxBodySize uint64
	autoindex   bool
	errorPages  map[int]string
}

type parser struct {
	*Dispenser
	cfg       config.Config
	base      base
	portsSeen map[uint16]bool
}

// httpBlock parses the outermost http { … } wrapper.
func (p *parser) httpBlock() error {
	if err := p.Expect("http"); err != nil {
		return err
	}
	if err := p.Expect("{"); err != nil {
		return err
	}
	for p.Next() {
		switch p.Val() {
		case "}":
			return nil
		case "maxBodySize":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) != 1 {
				return p.Err("maxBodySize takes exactly one value")
			}
			size, err := humanize.ParseBytes(args[0])
			if err != nil || size == 0 {
				skiff.Log().Warn("invalid maxBodySize value, keeping default",
					zap.String("value", args[0]))
				continue
			}
			p.base.maxBodySize = size
		case "autoindex":
			on, err := p.onOff()
			if err != nil {
				return err
			}
			p.base.autoindex = on
		case "error_pages":
			if err := p.errorPagesBlock(p.base.errorPages); err != nil {
				return err
			}
		case "server":
			if err := p.serverBlock(); err != nil {
				return err
			}
		default:
			skiff.Log().Warn("skipping unrecognized directive",
				zap.String("directive", p.Val()),
				zap.String("file", p.File()), zap.Int("line", p.Line()))
			if err := p.SkipStatement(); err != nil {
				return err
			}
		}
	}
	return p.EOFErr()
}

// serverBlock parses one server { … } block and appends it to the config
// when it claims at least one port.
func (p *parser) serverBlock() error {
	if err := p.Expect("{"); err != nil {
		return err
	}

	srv := config.NewServer()
	srv.MaxBodySize = p.base.maxBodySize
	srv.Autoindex = p.base.autoindex
	for code, page := range p.base.errorPages {
		srv.ErrorPages[code] = page
	}

	for p.Next() {
		switch p.Val() {
		case "}":
			if len(srv.Ports) == 0 {
				skiff.Log().Warn("server block claims no ports; ignoring server")
				return nil
			}
			p.cfg.Servers = append(p.cfg.Servers, srv)
			return nil

		case "listen":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) != 1 {
				return p.Err("listen takes exactly one port")
			}
			n, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil || n == 0 {
				skiff.Log().Warn("invalid port number", zap.String("port", args[0]))
				continue
			}
			port := uint16(n)
			if p.portsSeen[port] {
				skiff.Log().Warn("duplicate listen port kept by its first server",
					zap.Uint16("port", port))
				continue
			}
			p.portsSeen[port] = true
			srv.Ports = append(srv.Ports, port)

		case "server_name":
			args, err := p.Args()
			if err != nil {
				return err
			}
			srv.Names = append(srv.Names, args...)

		case "serverListenAddress":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				srv.ListenAddress = args[0]
			}

		case "root":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				srv.Root = ensureTrailingSlash(args[0])
				srv.UploadDir = srv.Root + "upload/"
			}

		case "index":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				srv.Index = args[0]
			}

		case "acceptedMethods":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				srv.Methods = args
			}

		case "error_pages":
			if err := p.errorPagesBlock(srv.ErrorPages); err != nil {
				return err
			}

		case "location":
			if err := p.locationBlock(srv); err != nil {
				return err
			}

		case "cgi":
			if err := p.cgiBlock(srv); err != nil {
				return err
			}

		default:
			skiff.Log().Warn("skipping unrecognized server directive",
				zap.String("directive", p.Val()),
				zap.String("file", p.File()), zap.Int("line", p.Line()))
			if err := p.SkipStatement(); err != nil {
				return err
			}
		}
	}
	return p.EOFErr()
}

// locationBlock parses location PREFIX { … }. The new location starts from
// the server's current values and overrides what the block sets.
func (p *parser) locationBlock(srv *config.Server) error {
	if !p.Next() {
		return p.EOFErr()
	}
	prefix := p.Val()
	if prefix == "{" || prefix == "}" || prefix == ";" {
		return p.Err("location requires a URI prefix")
	}
	if err := p.Expect("{"); err != nil {
		return err
	}

	loc := config.Location{
		Prefix:     prefix,
		Root:       srv.Root,
		UploadDir:  srv.UploadDir,
		Autoindex:  srv.Autoindex,
		Methods:    append([]string(nil), srv.Methods...),
		ErrorPages: make(map[int]string, len(srv.ErrorPages)),
	}
	for code, page := range srv.ErrorPages {
		loc.ErrorPages[code] = page
	}

	for p.Next() {
		switch p.Val() {
		case "}":
			srv.Locations = append(srv.Locations, loc)
			return nil

		case "root":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				loc.Root = ensureTrailingSlash(args[0])
				loc.UploadDir = loc.Root + "upload/"
			}

		case "autoindex":
			on, err := p.onOff()
			if err != nil {
				return err
			}
			loc.Autoindex = on

		case "internal":
			if err := p.Expect(";"); err != nil {
				return err
			}
			loc.Internal = true

		case "return":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) < 2 {
				return p.Err("return requires a status code and a target")
			}
			code, err := strconv.Atoi(args[0])
			if err != nil {
				return p.Errf("invalid return status '%s'", args[0])
			}
			loc.ReturnStatus = code
			loc.ReturnTarget = strings.Join(args[1:], " ")

		case "file_upload":
			on, err := p.onOff()
			if err != nil {
				return err
			}
			loc.FileUpload = on

		case "upload_dir":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				loc.UploadDir = ensureTrailingSlash(args[0])
			}

		case "acceptedMethods":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				loc.Methods = args
			}

		case "error_pages":
			if err := p.errorPagesBlock(loc.ErrorPages); err != nil {
				return err
			}

		default:
			skiff.Log().Warn("skipping unrecognized location directive",
				zap.String("directive", p.Val()),
				zap.String("file", p.File()), zap.Int("line", p.Line()))
			if err := p.SkipStatement(); err != nil {
				return err
			}
		}
	}
	return p.EOFErr()
}

// cgiBlock parses cgi { … }.
func (p *parser) cgiBlock(srv *config.Server) error {
	if err := p.Expect("{"); err != nil {
		return err
	}

	cgi := &config.CGI{Methods: append([]string(nil), config.DefaultMethods...)}

	for p.Next() {
		switch p.Val() {
		case "}":
			srv.CGI = cgi
			srv.HasCGI = true
			return nil

		case "cgi_path_alias":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) != 2 {
				return p.Err("cgi_path_alias requires a URI prefix and a filesystem path")
			}
			cgi.URIAlias = args[0]
			cgi.PathAlias = args[1]

		case "upload_dir":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cgi.UploadDir = args[0]
			}

		case "file_extension":
			args, err := p.Args()
			if err != nil {
				return err
			}
			cgi.Extensions = append(cgi.Extensions, args...)

		case "acceptedMethods":
			args, err := p.Args()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cgi.Methods = args
			}

		default:
			skiff.Log().Warn("skipping unrecognized cgi directive",
				zap.String("directive", p.Val()),
				zap.String("file", p.File()), zap.Int("line", p.Line()))
			if err := p.SkipStatement(); err != nil {
				return err
			}
		}
	}
	return p.EOFErr()
}

// errorPagesBlock parses error_pages { CODE PATH; … } into dst.
func (p *parser) errorPagesBlock(dst map[int]string) error {
	if err := p.Expect("{"); err != nil {
		return err
	}
	for p.Next() {
		if p.Val() == "}" {
			return nil
		}
		codeStr := p.Val()
		code, err := strconv.Atoi(codeStr)
		if err != nil || len(codeStr) != 3 {
			skiff.Log().Warn("invalid error code format", zap.String("code", codeStr))
			if err := p.SkipStatement(); err != nil {
				return err
			}
			continue
		}
		args, err := p.Args()
		if err != nil {
			return err
		}
		if len(args) != 1 {
			return p.Err("error page entries are 'CODE PATH;'")
		}
		dst[code] = args[0]
	}
	return p.EOFErr()
}

// onOff parses the 'on'/'off' argument of a flag directive.
func (p *parser) onOff() (bool, error) {
	args, err := p.Args()
	if err != nil {
		return false, err
	}
	if len(args) != 1 {
		return false, p.Err("expected 'on' or 'off'")
	}
	switch args[0] {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, p.Errf("invalid value '%s', expected 'on' or 'off'", args[0])
}

func ensureTrailingSlash(path string) string {
	if path != "" && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}
