// Package sqltext holds the pure SQL text helpers the engine relies on:
// statement splitting, read-only detection, USE detection and routing
// classification. Nothing here talks to a database.
package sqltext

import "strings"

type scanState int

const (
	stateCode scanState = iota
	stateSingleQuote
	stateDoubleQuote
	stateBracket
	stateBacktick
	stateLineComment
	stateBlockComment
	stateDollarQuote
)

// SplitStatements splits sql on top-level semicolons.
//
// Semicolons inside '...', "...", [...], `...`, $tag$...$tag$, -- and /* */
// do not split. Each piece is trimmed, trailing comments are dropped from it,
// and pieces with no code are discarded. Joining the result with ";" and
// splitting again yields the same slice.
func SplitStatements(sql string) []string {
	var (
		out       []string
		state     = stateCode
		start     = 0
		lastCode  = 0 // index just past the last code byte of the current piece
		dollarTag string
	)

	flush := func(end int) {
		if lastCode > start {
			piece := strings.TrimSpace(sql[start:lastCode])
			if piece != "" {
				out = append(out, piece)
			}
		}
		start = end
		lastCode = end
	}

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch state {
		case stateCode:
			switch {
			case c == ';':
				flush(i + 1)
				continue
			case c == '\'':
				state = stateSingleQuote
			case c == '"':
				state = stateDoubleQuote
			case c == '[':
				state = stateBracket
			case c == '`':
				state = stateBacktick
			case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
				state = stateLineComment
				i++
				continue
			case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
				state = stateBlockComment
				i++
				continue
			case c == '$':
				if tag, ok := dollarTagAt(sql, i); ok {
					dollarTag = tag
					state = stateDollarQuote
					i += len(tag) - 1
					lastCode = i + 1
					continue
				}
			case isSpace(c):
				continue
			}
			lastCode = i + 1

		case stateSingleQuote, stateDoubleQuote, stateBracket, stateBacktick:
			if c == closerFor(state) {
				state = stateCode
			}
			lastCode = i + 1

		case stateDollarQuote:
			if c == '$' && strings.HasPrefix(sql[i:], dollarTag) {
				i += len(dollarTag) - 1
				state = stateCode
			}
			lastCode = i + 1

		case stateLineComment:
			if c == '\n' {
				state = stateCode
			}

		case stateBlockComment:
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				state = stateCode
				i++
			}
		}
	}

	flush(len(sql))
	return out
}

// TrimTerminator removes surrounding whitespace and any trailing semicolons,
// so the statement can be embedded as a subquery.
func TrimTerminator(sql string) string {
	s := strings.TrimSpace(sql)
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	return s
}

func closerFor(state scanState) byte {
	switch state {
	case stateSingleQuote:
		return '\''
	case stateDoubleQuote:
		return '"'
	case stateBracket:
		return ']'
	case stateBacktick:
		return '`'
	}
	return 0
}

// dollarTagAt returns "$tag$" when a PostgreSQL dollar-quote opener starts at i.
// Positional parameters like $1 are not openers.
func dollarTagAt(sql string, i int) (string, bool) {
	j := i + 1
	for j < len(sql) {
		c := sql[j]
		if c == '$' {
			return sql[i : j+1], true
		}
		if !(c == '_' || isLetter(c) || (j > i+1 && isDigit(c))) {
			return "", false
		}
		j++
	}
	return "", false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
