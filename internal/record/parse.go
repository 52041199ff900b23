package record

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/kazz187/taskvault/pkg/cerr"
)

const (
	delimiter     = "---"
	sectionMarker = "## "
)

// SyntaxError locates a grammar violation in a record file.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func syntaxErr(line int, format string, args ...any) error {
	se := &SyntaxError{Line: line, Msg: fmt.Sprintf(format, args...)}
	return cerr.NewError(cerr.ParseError, "malformed record", se)
}

type parseState int

const (
	stateStart parseState = iota
	stateHeader
	statePreamble
	stateSection
	stateTrailer
)

// Parse reads a record:
//
//	---
//	key: value
//	---
//	free text
//	## Section Name
//	section content
//	---
//	trailer
//
// The header block is mandatory and must be the first non-blank content.
// Each header line is split on its first colon. A "---" line ends the
// sections; everything after it is kept as trailer text. Errors are
// cerr.ParseError wrapping a *SyntaxError.
func Parse(data []byte) (*Record, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	rec := &Record{}
	state := stateStart
	var (
		lineNo   int
		text     []string
		sections = map[string]int{}
	)
	flush := func() string {
		s := joinBlock(text)
		text = text[:0]
		return s
	}

	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")

		switch state {
		case stateStart:
			if strings.TrimSpace(line) == "" {
				continue
			}
			if strings.TrimSpace(line) != delimiter {
				return nil, syntaxErr(lineNo, "expected header delimiter %q", delimiter)
			}
			state = stateHeader

		case stateHeader:
			trimmed := strings.TrimSpace(line)
			if trimmed == delimiter {
				state = statePreamble
				continue
			}
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				return nil, syntaxErr(lineNo, "header line without ':'")
			}
			key = strings.TrimSpace(key)
			if !validKey(key) {
				return nil, syntaxErr(lineNo, "invalid header key %q", key)
			}
			if rec.Header.Has(key) {
				return nil, syntaxErr(lineNo, "duplicate header key %q", key)
			}
			rec.Header.Set(key, unquote(strings.TrimSpace(value)))

		case statePreamble, stateSection:
			if name, ok := strings.CutPrefix(line, sectionMarker); ok {
				if state == statePreamble {
					rec.Preamble = flush()
				} else {
					rec.Sections[len(rec.Sections)-1].Content = flush()
				}
				name = strings.TrimSpace(name)
				if name == "" {
					return nil, syntaxErr(lineNo, "empty section name")
				}
				folded := strings.ToLower(name)
				if prev, dup := sections[folded]; dup {
					return nil, syntaxErr(lineNo, "duplicate section %q (first at line %d)", name, prev)
				}
				sections[folded] = lineNo
				rec.Sections = append(rec.Sections, Section{Name: name})
				state = stateSection
				continue
			}
			if state == stateSection && strings.TrimSpace(line) == delimiter {
				rec.Sections[len(rec.Sections)-1].Content = flush()
				state = stateTrailer
				continue
			}
			text = append(text, line)

		case stateTrailer:
			text = append(text, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, cerr.NewError(cerr.ParseError, "unreadable record", err)
	}

	switch state {
	case stateStart:
		return nil, syntaxErr(lineNo, "empty record")
	case stateHeader:
		return nil, syntaxErr(lineNo, "unterminated header block")
	case statePreamble:
		rec.Preamble = flush()
	case stateSection:
		rec.Sections[len(rec.Sections)-1].Content = flush()
	case stateTrailer:
		rec.Trailer = flush()
	}
	return rec, nil
}

// ParseValid parses data and validates the result for its kind.
func ParseValid(data []byte) (*Record, error) {
	rec, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

func unquote(v string) string {
	if len(v) >= 2 {
		switch {
		case v[0] == '"' && v[len(v)-1] == '"':
			if s, err := strconv.Unquote(v); err == nil {
				return s
			}
		case v[0] == '\'' && v[len(v)-1] == '\'':
			return v[1 : len(v)-1]
		}
	}
	return v
}

// joinBlock joins lines dropping leading blank lines and trailing whitespace.
func joinBlock(lines []string) string {
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	return strings.TrimRight(strings.Join(lines[start:], "\n"), " \t\n")
}
