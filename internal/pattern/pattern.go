/**
 * Copyright 2025 kmeaw
 *
 * Licensed under the GNU Affero General Public License (AGPL).
 *
 * This program is free software: you can redistribute it and/or modify it
 * under the terms of the GNU Affero General Public License as published by the
 * Free Software Foundation, version 3 of the License.
 *
 * This program is distributed in the hope that it will be useful, but WITHOUT
 * ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
 * FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
 * for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package pattern compiles IDA-style byte signatures such as
// "E8 ? ? ? ? B8 ?? ?? ?? ?? 8B FF" into a sequence of match tokens.
//
// Tokens are separated by single spaces. A token is either a wildcard
// ("?" or "??") or one or two hexadecimal digits. Compilation is
// all-or-nothing: one malformed token anywhere yields the empty pattern,
// which never matches.
package pattern

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Token struct {
	Byte     byte
	Wildcard bool
}

func (t Token) Match(b byte) bool {
	return t.Wildcard || t.Byte == b
}

func (t Token) String() string {
	if t.Wildcard {
		return "??"
	}
	return fmt.Sprintf("%02X", t.Byte)
}

// Pattern is immutable once compiled. The zero value is the empty pattern.
type Pattern struct {
	tokens []Token
}

var ErrSyntax = errors.New("malformed pattern")

type SyntaxError struct {
	Index  int
	Token  string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("malformed pattern: token %d %q: %s", e.Index, e.Token, e.Reason)
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Parse compiles text and reports the first malformed token.
func Parse(text string) (Pattern, error) {
	if text == "" {
		return Pattern{}, &SyntaxError{Reason: "empty pattern"}
	}

	toks := strings.Split(text, " ")
	if len(toks) > 1 && toks[len(toks)-1] == "" {
		toks = toks[:len(toks)-1]
	}

	tokens := make([]Token, 0, len(toks))
	for i, tok := range toks {
		switch {
		case len(tok) == 0:
			return Pattern{}, &SyntaxError{Index: i, Token: tok, Reason: "empty token"}
		case len(tok) > 2:
			return Pattern{}, &SyntaxError{Index: i, Token: tok, Reason: "token is longer than 2 characters"}
		case tok == "?" || tok == "??":
			tokens = append(tokens, Token{Wildcard: true})
			continue
		}

		for j := 0; j < len(tok); j++ {
			if !isHex(tok[j]) {
				return Pattern{}, &SyntaxError{Index: i, Token: tok, Reason: "not a hex byte"}
			}
		}

		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return Pattern{}, &SyntaxError{Index: i, Token: tok, Reason: err.Error()}
		}

		tokens = append(tokens, Token{Byte: byte(v)})
	}

	return Pattern{tokens: tokens}, nil
}

// Compile is Parse without the diagnostics: malformed text gives the empty
// pattern.
func Compile(text string) Pattern {
	p, err := Parse(text)
	if err != nil {
		return Pattern{}
	}
	return p
}

func MustCompile(text string) Pattern {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) Len() int {
	return len(p.tokens)
}

func (p Pattern) Empty() bool {
	return len(p.tokens) == 0
}

func (p Pattern) Valid() bool {
	return !p.Empty()
}

func (p Pattern) At(i int) Token {
	return p.tokens[i]
}

func (p Pattern) Tokens() []Token {
	out := make([]Token, len(p.tokens))
	copy(out, p.tokens)
	return out
}

// MatchAt reports whether the pattern matches buf at off. The empty pattern
// matches nothing.
func (p Pattern) MatchAt(buf []byte, off int) bool {
	if p.Empty() || off < 0 || off+len(p.tokens) > len(buf) {
		return false
	}

	for i, t := range p.tokens {
		if !t.Match(buf[off+i]) {
			return false
		}
	}

	return true
}

func (p Pattern) String() string {
	parts := make([]string, len(p.tokens))
	for i, t := range p.tokens {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

// vim: ai:ts=8:sw=8:noet:syntax=go
