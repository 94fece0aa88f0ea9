package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const consoleTimeFormat = "2006-01-02 15:04:05"

// textHandler renders records as "time LEVEL [module] message key=value ..." for consoles
type textHandler struct {
	mu       *sync.Mutex
	w        io.Writer
	level    slog.Leveler
	timezone *time.Location
	attrs    []slog.Attr
	group    string
}

func newTextHandler(w io.Writer, level slog.Leveler, tz *time.Location) *textHandler {
	if tz == nil {
		tz = time.Local
	}
	return &textHandler{
		mu:       &sync.Mutex{},
		w:        w,
		level:    level,
		timezone: tz,
	}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(ts.In(h.timezone).Format(consoleTimeFormat))
	sb.WriteByte(' ')
	fmt.Fprintf(&sb, "%-5s", levelName(r.Level))

	var module string
	rest := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	collect := func(a slog.Attr) bool {
		if a.Key == moduleKey && module == "" {
			module = a.Value.String()
			return true
		}
		rest = append(rest, a)
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	if module != "" {
		sb.WriteString(" [")
		sb.WriteString(module)
		sb.WriteByte(']')
	}
	sb.WriteByte(' ')
	sb.WriteString(r.Message)

	for _, a := range rest {
		writeAttr(&sb, h.group, a)
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func writeAttr(sb *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(sb, key, ga)
		}
		return
	}

	sb.WriteByte(' ')
	sb.WriteString(key)
	sb.WriteByte('=')

	var s string
	switch a.Value.Kind() {
	case slog.KindTime:
		s = a.Value.Time().Format(time.RFC3339)
	case slog.KindDuration:
		s = a.Value.Duration().String()
	default:
		s = a.Value.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		s = strconv.Quote(s)
	}
	sb.WriteString(s)
}

func levelName(level slog.Level) string {
	if level <= levelTrace {
		return "TRACE"
	}
	return level.String()
}
