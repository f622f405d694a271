package loggr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LevelTrace is below slog.LevelDebug.
const LevelTrace = slog.Level(-8)

const timeFormat = "2006-01-02 15:04:05.000 -07"

// Handler renders records as
//
//	2006-01-02 15:04:05.000 -07 -- [app] -- LEVEL   -- msg key=value ...
type Handler struct {
	mu      *sync.Mutex
	w       io.Writer
	level   slog.Leveler
	appCode string
	prefix  string // preformatted attrs from WithAttrs
	groups  []string
}

var _ slog.Handler = (*Handler)(nil)

func NewHandler(w io.Writer, appCode string, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{
		mu:      &sync.Mutex{},
		w:       w,
		level:   level,
		appCode: appCode,
	}
}

// Init installs a stderr handler as the slog default and returns the logger.
func Init(level slog.Level, appCode string) *slog.Logger {
	if appCode == "" {
		appCode = strconv.Itoa(os.Getpid())
	}
	logger := slog.New(NewHandler(os.Stderr, appCode, level))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel accepts trace, debug, info, warn (warning) and error, in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s -- [%s] -- %-7s -- %s", t.Format(timeFormat), h.appCode, label(r.Level), r.Message)
	sb.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&sb, h.groups, a)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var sb strings.Builder
	for _, a := range attrs {
		writeAttr(&sb, h.groups, a)
	}
	h2 := *h
	h2.prefix = h.prefix + sb.String()
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string{}, h.groups...), name)
	return &h2
}

func label(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func writeAttr(sb *strings.Builder, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := groups
		if a.Key != "" {
			inner = append(append([]string{}, groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			writeAttr(sb, inner, ga)
		}
		return
	}

	sb.WriteByte(' ')
	for _, g := range groups {
		sb.WriteString(g)
		sb.WriteByte('.')
	}
	sb.WriteString(a.Key)
	sb.WriteByte('=')

	v := a.Value.String()
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		v = strconv.Quote(v)
	}
	sb.WriteString(v)
}
