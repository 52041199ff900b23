package record

import (
	"fmt"
	"strings"

	"github.com/kazz187/taskvault/pkg/cerr"
)

type Section struct {
	Name    string
	Content string
}

// Record is a parsed item file: header block, optional free text before the
// first section, named sections, and an optional trailer after the closing
// delimiter.
type Record struct {
	Header   Header
	Preamble string
	Sections []Section
	Trailer  string
}

func New(kind Kind, header Header) *Record {
	h := header.Clone()
	h.Set(HeaderType, string(kind))
	return &Record{Header: h}
}

// Kind resolves the type header. ok is false for a missing or unknown tag.
func (r *Record) Kind() (Kind, bool) {
	return ParseKind(r.Header.Value(HeaderType))
}

func (r *Record) Section(name string) (string, bool) {
	for _, s := range r.Sections {
		if strings.EqualFold(s.Name, name) {
			return s.Content, true
		}
	}
	return "", false
}

// SetSection replaces the content of the named section or appends a new one.
func (r *Record) SetSection(name, content string) {
	for i, s := range r.Sections {
		if strings.EqualFold(s.Name, name) {
			r.Sections[i].Content = content
			return
		}
	}
	r.Sections = append(r.Sections, Section{Name: name, Content: content})
}

// RequiresApproval reports whether the record carries an approval marker:
// requires_approval: true, or the legacy status: pending_approval.
func (r *Record) RequiresApproval() bool {
	return r.Header.Bool(HeaderRequiresApproval) || r.Header.Value(HeaderStatus) == "pending_approval"
}

// Validate checks the fields the record's kind requires. A record of an
// unknown kind only needs a type tag; routing decides what to do with it.
func Validate(r *Record) error {
	tag, ok := r.Header.Get(HeaderType)
	if !ok || strings.TrimSpace(tag) == "" {
		return cerr.NewError(cerr.ParseError, "missing type header", nil)
	}
	kind, ok := ParseKind(tag)
	if !ok {
		return nil
	}
	spec, _ := LookupKind(kind)

	var missing []string
	for _, key := range spec.RequiredHeaders {
		if strings.TrimSpace(r.Header.Value(key)) == "" {
			missing = append(missing, "header "+key)
		}
	}
	for _, name := range spec.RequiredSections {
		if c, ok := r.Section(name); !ok || strings.TrimSpace(c) == "" {
			missing = append(missing, "section "+name)
		}
	}
	if spec.ApprovalGated && !r.Header.Has(HeaderRequiresApproval) && !r.Header.Has(HeaderStatus) {
		missing = append(missing, "header "+HeaderRequiresApproval)
	}
	if len(missing) > 0 {
		return cerr.NewError(cerr.ParseError,
			fmt.Sprintf("%s record missing %s", kind, strings.Join(missing, ", ")), nil)
	}
	return nil
}
