// Package cypher statically inspects oracle-generated Cypher statements and
// builds the tenant ownership predicate they must carry.
package cypher

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokParam
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind   tokenKind
	text   string
	quoted bool // backtick identifier; never a keyword
	pos    int
}

func (t token) isKeyword(kw string) bool {
	return t.kind == tokIdent && !t.quoted && strings.EqualFold(t.text, kw)
}

func (t token) isPunct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

var twoCharPuncts = []string{"->", "<-", "..", "<>", "<=", ">=", "=~", "+="}

// tokenize splits a statement into tokens. String literals, backtick
// identifiers and comments are consumed whole so that their content can never
// be mistaken for a keyword.
func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size

		case strings.HasPrefix(src[i:], "//"):
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				i = len(src)
			} else {
				i += end + 1
			}

		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated comment at offset %d", i)
			}
			i += 2 + end + 2

		case r == '\'' || r == '"':
			end, err := scanString(src, i, byte(r))
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: src[i:end], pos: i})
			i = end

		case r == '`':
			start := i
			var b strings.Builder
			i++
			for {
				if i >= len(src) {
					return nil, fmt.Errorf("unterminated identifier at offset %d", start)
				}
				if src[i] == '`' {
					if i+1 < len(src) && src[i+1] == '`' {
						b.WriteByte('`')
						i += 2
						continue
					}
					i++
					break
				}
				b.WriteByte(src[i])
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: b.String(), quoted: true, pos: start})

		case r == '$':
			start := i
			i++
			j := scanIdent(src, i)
			if j == i {
				toks = append(toks, token{kind: tokPunct, text: "$", pos: start})
				continue
			}
			toks = append(toks, token{kind: tokParam, text: src[i:j], pos: start})
			i = j

		case r == '_' || unicode.IsLetter(r):
			j := scanIdent(src, i)
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j

		case unicode.IsDigit(r):
			j := i
			for j < len(src) {
				c := src[j]
				if c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' {
					j++
					continue
				}
				if c == '.' && j+1 < len(src) && src[j+1] >= '0' && src[j+1] <= '9' {
					j++
					continue
				}
				break
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], pos: i})
			i = j

		default:
			p := string(r)
			for _, two := range twoCharPuncts {
				if strings.HasPrefix(src[i:], two) {
					p = two
					break
				}
			}
			toks = append(toks, token{kind: tokPunct, text: p, pos: i})
			i += len(p)
		}
	}
	return toks, nil
}

func scanIdent(src string, i int) int {
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		i += size
	}
	return i
}

func scanString(src string, start int, quote byte) (int, error) {
	i := start + 1
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1, nil
		}
		i++
	}
	return 0, fmt.Errorf("unterminated string literal at offset %d", start)
}
