package clog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// dailyFile is the state shared by a DailyFileHandler and every handler
// derived from it through WithAttrs or WithGroup.
type dailyFile struct {
	mu        sync.Mutex
	dir       string
	component string
	day       string
	f         *os.File
	failed    bool
	errOut    io.Writer
}

// DailyFileHandler appends one line per record to
// <dir>/<component>_YYYY-MM-DD.log, switching files when the record date
// changes. Write failures are reported once to stderr and otherwise
// swallowed so logging can never take the process down.
type DailyFileHandler struct {
	sink  *dailyFile
	level slog.Leveler
	attrs []slog.Attr
	group string
}

func NewDailyFileHandler(dir, component string, level slog.Leveler) *DailyFileHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &DailyFileHandler{
		sink: &dailyFile{
			dir:       dir,
			component: component,
			errOut:    os.Stderr,
		},
		level: level,
	}
}

func (h *DailyFileHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *DailyFileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		nh.attrs = append(nh.attrs, h.qualify(a))
	}
	return &nh
}

func (h *DailyFileHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	if nh.group != "" {
		nh.group += "."
	}
	nh.group += name
	return &nh
}

func (h *DailyFileHandler) qualify(a slog.Attr) slog.Attr {
	if h.group == "" {
		return a
	}
	return slog.Attr{Key: h.group + "." + a.Key, Value: a.Value}
}

func (h *DailyFileHandler) Handle(_ context.Context, record slog.Record) error {
	t := record.Time
	if t.IsZero() {
		t = time.Now()
	}
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "[%s] [%s] %s", t.Format(time.DateTime), LevelLabel(record.Level), record.Message)
	write := func(a slog.Attr) {
		v := a.Value.Resolve().String()
		if strings.ContainsAny(v, " \t\n\"=") {
			v = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(buf, " %s=%s", a.Key, v)
	}
	for _, a := range h.attrs {
		write(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		write(h.qualify(a))
		return true
	})
	buf.WriteByte('\n')

	h.sink.write(t, buf.Bytes())
	return nil
}

func (d *dailyFile) write(t time.Time, line []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	day := t.Format(time.DateOnly)
	if d.f == nil || d.day != day {
		if d.f != nil {
			_ = d.f.Close()
			d.f = nil
		}
		if err := os.MkdirAll(d.dir, 0o755); err != nil {
			d.report(err)
			return
		}
		f, err := os.OpenFile(d.path(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			d.report(err)
			return
		}
		d.f = f
		d.day = day
	}
	if _, err := d.f.Write(line); err != nil {
		d.report(err)
	}
}

func (d *dailyFile) path(day string) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s_%s.log", d.component, day))
}

func (d *dailyFile) report(err error) {
	if d.failed {
		return
	}
	d.failed = true
	fmt.Fprintf(d.errOut, "log sink %s unavailable: %v\n", d.component, err)
}

// Close releases the current day file. Later records reopen it.
func (h *DailyFileHandler) Close() error {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	if h.sink.f == nil {
		return nil
	}
	err := h.sink.f.Close()
	h.sink.f = nil
	return err
}
