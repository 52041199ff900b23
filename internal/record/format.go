package record

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/kazz187/taskvault/pkg/cerr"
)

// Format renders r in the grammar Parse accepts. Section content and free
// text are normalized the same way Parse normalizes them, so
// Parse(Format(r)) reproduces r.
func Format(r *Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(delimiter + "\n")
	for k, v := range r.Header.All() {
		if !validKey(k) {
			return nil, cerr.Errorf(cerr.InvalidArgument, "invalid header key %q", k)
		}
		fmt.Fprintf(buf, "%s: %s\n", k, quote(v))
	}
	buf.WriteString(delimiter + "\n")

	if p := normalizeBlock(r.Preamble); p != "" {
		if err := checkBlock("preamble", p, false); err != nil {
			return nil, err
		}
		buf.WriteString("\n" + p + "\n")
	}
	seen := map[string]bool{}
	for _, s := range r.Sections {
		name := strings.TrimSpace(s.Name)
		if name == "" || strings.ContainsAny(name, "\r\n") {
			return nil, cerr.Errorf(cerr.InvalidArgument, "invalid section name %q", s.Name)
		}
		if seen[strings.ToLower(name)] {
			return nil, cerr.Errorf(cerr.InvalidArgument, "duplicate section %q", name)
		}
		seen[strings.ToLower(name)] = true
		content := normalizeBlock(s.Content)
		if err := checkBlock("section "+name, content, true); err != nil {
			return nil, err
		}
		buf.WriteString("\n" + sectionMarker + name + "\n")
		if content != "" {
			buf.WriteString(content + "\n")
		}
	}
	if t := normalizeBlock(r.Trailer); t != "" {
		if len(r.Sections) == 0 {
			return nil, cerr.Errorf(cerr.InvalidArgument, "trailer requires at least one section")
		}
		buf.WriteString("\n" + delimiter + "\n" + t + "\n")
	}
	return buf.Bytes(), nil
}

// checkBlock rejects lines that would be read back as structure.
func checkBlock(what, block string, inSection bool) error {
	for line := range strings.SplitSeq(block, "\n") {
		if strings.HasPrefix(line, sectionMarker) {
			return cerr.Errorf(cerr.InvalidArgument, "%s contains a section marker line", what)
		}
		if inSection && strings.TrimSpace(line) == delimiter {
			return cerr.Errorf(cerr.InvalidArgument, "%s contains a delimiter line", what)
		}
	}
	return nil
}

func normalizeBlock(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return joinBlock(strings.Split(s, "\n"))
}

func quote(v string) string {
	if v != strings.TrimSpace(v) || strings.ContainsAny(v, "\n\r") ||
		strings.HasPrefix(v, `"`) || strings.HasPrefix(v, "'") {
		return strconv.Quote(v)
	}
	return v
}
