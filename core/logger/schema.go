package logger

import (
	"slices"
	"strings"
)

// defaultKeyOrder fixes where well-known keys appear in a line. Keys not
// listed follow in alphabetical order.
var defaultKeyOrder = []string{
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "ts_unix_nano",
	"update_id", "user_id", "chat_id", "chat_type", "handler",
	"operation", "op", "cb_key", "outcome",
	"state", "tag", "admin", "remaining_min",
	"dest_chat_id", "src_chat_id", "src_message_id",
	"duration_ms", "count", "pruned", "sessions",
	"mode", "listen", "public_url", "http_code",
	"driver", "db", "host", "port", "job",
	"err", "err_code", "cause", "retryable", "attempt", "wait_ms",
}

// canonicalStatus folds the status spellings used across packages.
var canonicalStatus = map[string]string{
	"success":   "ok",
	"failed":    "fail",
	"error":     "fail",
	"skipped":   "skip",
	"canceled":  "cancelled",
	"throttled": "rate_limited",
}

// normalizeEnum lowercases status-like values and folds known synonyms.
func normalizeEnum(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if c, ok := canonicalStatus[v]; ok {
		return c
	}
	return v
}

// keyRank orders keys by their position in order; unknown keys share the
// last rank and are then sorted by name.
type keyRank map[string]int

func newKeyRank(order []string) keyRank {
	r := make(keyRank, len(order))
	for i, k := range order {
		if _, dup := r[k]; !dup {
			r[k] = i
		}
	}
	return r
}

func (r keyRank) sort(fields []field) {
	last := len(r)
	rank := func(k string) int {
		if i, ok := r[k]; ok {
			return i
		}
		return last
	}
	slices.SortStableFunc(fields, func(a, b field) int {
		if ra, rb := rank(a.key), rank(b.key); ra != rb {
			return ra - rb
		}
		return strings.Compare(a.key, b.key)
	})
}
