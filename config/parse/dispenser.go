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

import "fmt"

// Dispenser is a type that dispenses tokens, similarly to a lexer,
// except that it can dispense tokens that were already lexed.
type Dispenser struct {
	tokens []Token
	cursor int
}

// NewDispenser returns a Dispenser filled with the given tokens.
func NewDispenser(tokens []Token) *Dispenser {
	return &Dispenser{tokens: tokens, cursor: -1}
}

// Next loads the next token. Returns true if a token was loaded;
// false otherwise. If false, all tokens have been consumed.
func (d *Dispenser) Next() bool {
	if d.cursor < len(d.tokens)-1 {
		d.cursor++
		return true
	}
	return false
}

// Val gets the text of the current token. If there is no token loaded,
// it returns an empty string.
func (d *Dispenser) Val() string {
	if d.cursor < 0 || d.cursor >= len(d.tokens) {
		return ""
	}
	return d.tokens[d.cursor].Text
}

// Line gets the line number of the current token.
func (d *Dispenser) Line() int {
	if d.cursor < 0 || d.cursor >= len(d.tokens) {
		return 0
	}
	return d.tokens[d.cursor].Line
}

// File gets the filename where the current token was read.
func (d *Dispenser) File() string {
	if d.cursor < 0 || d.cursor >= len(d.tokens) {
		return ""
	}
	return d.tokens[d.cursor].File
}

// Args loads tokens into the dispenser until a semicolon token, returning
// the argument texts in order. The semicolon itself is consumed.
func (d *Dispenser) Args() ([]string, error) {
	var args []string
	for d.Next() {
		if d.Val() == ";" {
			return args, nil
		}
		if d.Val() == "{" || d.Val() == "}" {
			return nil, d.SyntaxErr(";")
		}
		args = append(args, d.Val())
	}
	return nil, d.EOFErr()
}

// Expect advances and requires the next token to be exactly want.
func (d *Dispenser) Expect(want string) error {
	if !d.Next() {
		return d.EOFErr()
	}
	if d.Val() != want {
		return d.SyntaxErr(want)
	}
	return nil
}

// SkipStatement consumes tokens through the terminating semicolon, or
// through a balanced block if the statement opens one. Used to step over
// unrecognized directives.
func (d *Dispenser) SkipStatement() error {
	for d.Next() {
		switch d.Val() {
		case ";":
			return nil
		case "{":
			depth := 1
			for d.Next() {
				switch d.Val() {
				case "{":
					depth++
				case "}":
					depth--
					if depth == 0 {
						return nil
					}
				}
			}
			return d.EOFErr()
		case "}":
			return d.SyntaxErr(";")
		}
	}
	return d.EOFErr()
}

// Err generates a custom parse-time error with a message of msg.
func (d *Dispenser) Err(msg string) error {
	return d.Errf("%s", msg)
}

// Errf is like Err, but for formatted error messages.
func (d *Dispenser) Errf(format string, args ...any) error {
	return fmt.Errorf("%s:%d: %s", d.File(), d.Line(), fmt.Sprintf(format, args...))
}

// SyntaxErr creates a generic syntax error which explains what was found
// and what was expected.
func (d *Dispenser) SyntaxErr(expected string) error {
	return d.Errf("syntax error: unexpected token '%s', expecting '%s'", d.Val(), expected)
}

// EOFErr returns an error indicating unexpected end of input.
func (d *Dispenser) EOFErr() error {
	return d.Errf("unexpected end of input")
}
