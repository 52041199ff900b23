package vault

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/kazz187/taskvault/internal/record"
)

const (
	maxSlugLen      = 50
	timestampLayout = "20060102_150405"
)

// Slug reduces s to letters, digits, '-' and '_', with runs of spaces turned
// into a single '_', truncated to 50 runes.
func Slug(s string) string {
	var b strings.Builder
	n := 0
	lastUnderscore := false
	for _, r := range s {
		if n >= maxSlugLen {
			break
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || unicode.IsSpace(r):
			if lastUnderscore {
				continue
			}
			b.WriteRune('_')
			lastUnderscore = true
		default:
			continue
		}
		n++
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "item"
	}
	return out
}

// FileName builds the base name of a new record of the given kind.
func FileName(spec record.KindSpec, slug string, t time.Time) string {
	ts := t.Format(timestampLayout)
	slug = Slug(slug)
	if spec.SlugFirst {
		return spec.Prefix + slug + "_" + ts + ".md"
	}
	return spec.Prefix + ts + "_" + slug + ".md"
}

// stampPattern matches the timestamp FileName writes.
var stampPattern = strings.Repeat("[0-9]", 8) + "_" + strings.Repeat("[0-9]", 6)

// PendingPattern matches every record file name FileName can produce for
// slug under spec, including disambiguated ones. The timestamp is part of
// the pattern, so slug "daily" does not match the items of "daily_briefing".
func PendingPattern(spec record.KindSpec, slug string) string {
	if spec.SlugFirst {
		return spec.Prefix + Slug(slug) + "_" + stampPattern + "*.md"
	}
	return spec.Prefix + stampPattern + "_" + Slug(slug) + "{.md,_[0-9]*.md}"
}

// Disambiguate appends a finer-grained timestamp, and from the second
// attempt on a counter, to name while keeping its extension.
func Disambiguate(name string, t time.Time, attempt int) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	suffix := fmt.Sprintf("_%06d", t.Nanosecond()/int(time.Microsecond))
	if attempt > 1 {
		suffix += fmt.Sprintf("_%d", attempt)
	}
	return stem + suffix + ext
}
