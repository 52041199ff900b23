package record

import (
	"iter"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Field struct {
	Key   string
	Value string
}

// Header is the key/value block at the top of a record. Lookups are by
// exact key. Insertion order is kept only so rendered files read naturally.
type Header struct {
	fields []Field
}

func NewHeader(kv ...string) Header {
	var h Header
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func (h Header) index(key string) int {
	return slices.IndexFunc(h.fields, func(f Field) bool { return f.Key == key })
}

func (h Header) Get(key string) (string, bool) {
	if i := h.index(key); i >= 0 {
		return h.fields[i].Value, true
	}
	return "", false
}

func (h Header) Value(key string) string {
	v, _ := h.Get(key)
	return v
}

func (h Header) Has(key string) bool {
	return h.index(key) >= 0
}

// Set replaces the value of key, or appends it when absent.
func (h *Header) Set(key, value string) {
	if i := h.index(key); i >= 0 {
		h.fields[i].Value = value
		return
	}
	h.fields = append(h.fields, Field{Key: key, Value: value})
}

func (h *Header) Delete(key string) {
	h.fields = slices.DeleteFunc(h.fields, func(f Field) bool { return f.Key == key })
}

func (h Header) Len() int {
	return len(h.fields)
}

func (h Header) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, f := range h.fields {
			if !yield(f.Key, f.Value) {
				return
			}
		}
	}
}

func (h Header) Clone() Header {
	return Header{fields: slices.Clone(h.fields)}
}

// Equal compares headers as mappings, ignoring field order.
func (h Header) Equal(o Header) bool {
	if h.Len() != o.Len() {
		return false
	}
	for k, v := range h.All() {
		if ov, ok := o.Get(k); !ok || ov != v {
			return false
		}
	}
	return true
}

// List splits a comma separated value, accepting an optional surrounding
// pair of brackets.
func (h Header) List(key string) []string {
	v, ok := h.Get(key)
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") {
		v = v[1 : len(v)-1]
	}
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (h *Header) SetList(key string, values []string) {
	h.Set(key, strings.Join(values, ", "))
}

func (h Header) Bool(key string) bool {
	b, err := strconv.ParseBool(h.Value(key))
	return err == nil && b
}

var timeLayouts = []string{
	time.DateTime,
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// Time parses a date valued field in any of the layouts records use.
func (h Header) Time(key string) (time.Time, bool) {
	v, ok := h.Get(key)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (h *Header) SetTime(key string, t time.Time) {
	h.Set(key, t.Format(time.DateTime))
}
