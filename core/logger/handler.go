package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

type handlerConfig struct {
	level    slog.Leveler
	writer   *sinkWriter
	format   logFormat
	keyOrder []string
}

type field struct {
	key string
	val slog.Value
}

// structuredHandler flattens a record into one ordered set of fields and
// hands the result to slog's JSON or text encoder. Context metadata fills
// rid and the update ids unless the record sets them itself.
type structuredHandler struct {
	cfg    handlerConfig
	rank   keyRank
	preset []field
	prefix string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = defaultKeyOrder
	}
	return &structuredHandler{cfg: cfg, rank: newKeyRank(cfg.keyOrder)}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.preset = append([]field(nil), h.preset...)
	for _, a := range attrs {
		clone.preset = appendAttr(clone.preset, h.prefix, a)
	}
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = joinKey(h.prefix, name)
	return &clone
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errors.New("logger: writer not initialized")
	}
	isJSON := h.cfg.format == formatJSON

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	fs := newFieldSet(16 + len(h.preset))
	fs.set("ts", slog.StringValue(ts.Truncate(time.Millisecond).Format(timeFormatMillis)))
	fs.set("level", slog.StringValue(r.Level.String()))
	if isJSON {
		fs.set("ts_unix_nano", slog.Int64Value(ts.UnixNano()))
	}
	for _, f := range h.preset {
		fs.set(f.key, f.val)
	}
	r.Attrs(func(a slog.Attr) bool {
		for _, f := range appendAttr(nil, h.prefix, a) {
			fs.set(f.key, f.val)
		}
		return true
	})
	fs.fillFromContext(ctx)

	if rid := fs.str("rid"); rid != "" {
		if compact := CompactRID(rid); compact != rid {
			if isJSON {
				fs.setDefault("rid_full", slog.StringValue(rid))
			}
			fs.set("rid", slog.StringValue(compact))
		}
	}
	if fs.str("event") == "" {
		event := r.Message
		if event == "" {
			event = "unknown"
		}
		fs.set("event", slog.StringValue(event))
	}
	if fs.str("component") == "" {
		fs.set("component", slog.StringValue("app"))
	}
	for _, k := range []string{"status", "outcome"} {
		if v := fs.str(k); v != "" {
			fs.set(k, slog.StringValue(normalizeEnum(v)))
		}
	}

	fields := fs.compact()
	h.rank.sort(fields)
	line, err := encode(fields, isJSON)
	if err != nil {
		return err
	}
	return h.cfg.writer.Write(line)
}

// fieldSet keeps insertion order and lets later writes replace earlier keys.
type fieldSet struct {
	idx  map[string]int
	list []field
}

func newFieldSet(capacity int) *fieldSet {
	return &fieldSet{idx: make(map[string]int, capacity), list: make([]field, 0, capacity)}
}

func (s *fieldSet) set(key string, val slog.Value) {
	if i, ok := s.idx[key]; ok {
		s.list[i].val = val
		return
	}
	s.idx[key] = len(s.list)
	s.list = append(s.list, field{key: key, val: val})
}

func (s *fieldSet) setDefault(key string, val slog.Value) {
	if _, ok := s.idx[key]; !ok {
		s.set(key, val)
	}
}

func (s *fieldSet) str(key string) string {
	i, ok := s.idx[key]
	if !ok {
		return ""
	}
	v := s.list[i].val
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return fmt.Sprint(v.Any())
}

func (s *fieldSet) fillFromContext(ctx context.Context) {
	m := metaFrom(ctx)
	if m.rid != "" {
		s.setDefault("rid", slog.StringValue(m.rid))
	}
	if m.updateID != 0 {
		s.setDefault("update_id", slog.IntValue(m.updateID))
	}
	if m.userID != 0 {
		s.setDefault("user_id", slog.Int64Value(m.userID))
	}
	if m.chatID != 0 {
		s.setDefault("chat_id", slog.Int64Value(m.chatID))
	}
	if m.handler != "" {
		s.setDefault("handler", slog.StringValue(m.handler))
	}
}

// compact drops empty strings and nil values.
func (s *fieldSet) compact() []field {
	out := s.list[:0]
	for _, f := range s.list {
		switch f.val.Kind() {
		case slog.KindString:
			if f.val.String() == "" {
				continue
			}
		case slog.KindAny:
			if f.val.Any() == nil {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

func appendAttr(dst []field, prefix string, a slog.Attr) []field {
	a.Value = a.Value.Resolve()
	key := joinKey(prefix, a.Key)
	if a.Value.Kind() == slog.KindGroup {
		for _, child := range a.Value.Group() {
			dst = appendAttr(dst, key, child)
		}
		return dst
	}
	if k, v, ok := normalizeAttr(key, a.Value); ok {
		dst = append(dst, field{key: k, val: v})
	}
	return dst
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

// normalizeAttr renders durations as whole milliseconds under a *_ms key,
// times as RFC 3339 strings and errors as their message.
func normalizeAttr(key string, val slog.Value) (string, slog.Value, bool) {
	if key == "" {
		return "", slog.Value{}, false
	}
	switch val.Kind() {
	case slog.KindString:
		return key, slog.StringValue(strings.TrimSpace(val.String())), true
	case slog.KindDuration:
		return durationField(key, val.Duration())
	case slog.KindTime:
		return key, slog.StringValue(val.Time().UTC().Format(time.RFC3339Nano)), true
	case slog.KindAny:
		switch x := val.Any().(type) {
		case nil:
			return "", slog.Value{}, false
		case error:
			return key, slog.StringValue(x.Error()), true
		case time.Duration:
			return durationField(key, x)
		case fmt.Stringer:
			return key, slog.StringValue(x.String()), true
		}
	}
	return key, val, true
}

func durationField(key string, d time.Duration) (string, slog.Value, bool) {
	if !strings.HasSuffix(key, "_ms") {
		key += "_ms"
	}
	return key, slog.Int64Value(RoundMS(d).Milliseconds()), true
}

var encodeBuf = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// builtinAttr reports whether a is one of the encoder's own time, level or
// msg attrs. Fields named "level" by the handler are strings, so they pass.
func builtinAttr(groups []string, a slog.Attr) bool {
	if len(groups) != 0 {
		return false
	}
	switch a.Key {
	case slog.TimeKey:
		return a.Value.Kind() == slog.KindTime
	case slog.LevelKey:
		_, ok := a.Value.Any().(slog.Level)
		return a.Value.Kind() == slog.KindAny && ok
	case slog.MessageKey:
		return a.Value.Kind() == slog.KindString && a.Value.String() == ""
	}
	return false
}

// encode writes fields in order, dropping the encoder's own time, level and msg.
func encode(fields []field, asJSON bool) ([]byte, error) {
	buf := encodeBuf.Get().(*bytes.Buffer)
	buf.Reset()
	defer encodeBuf.Put(buf)

	opts := &slog.HandlerOptions{ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
		if builtinAttr(groups, a) {
			return slog.Attr{}
		}
		return a
	}}
	var enc slog.Handler
	if asJSON {
		enc = slog.NewJSONHandler(buf, opts)
	} else {
		enc = slog.NewTextHandler(buf, opts)
	}

	rec := slog.NewRecord(time.Time{}, slog.LevelInfo, "", 0)
	for _, f := range fields {
		rec.AddAttrs(slog.Attr{Key: f.key, Value: f.val})
	}
	if err := enc.Handle(context.Background(), rec); err != nil {
		return nil, fmt.Errorf("logger: encode: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}
