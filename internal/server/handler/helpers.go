// Package handler serves the read-only reporting API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit, offset and since (RFC 3339) from the query.
// Malformed values fall back to the defaults.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: defaultLimit}

	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = min(n, maxLimit)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		opts.Offset = n
	}
	if ts, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &ts
	}
	return opts
}

// page applies opts to an in-memory, oldest-first slice and returns it
// newest first.
func page[T any](items []T, ts func(T) time.Time, opts domain.ListOpts) []T {
	out := make([]T, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		if opts.Since != nil && ts(items[i]).Before(*opts.Since) {
			continue
		}
		out = append(out, items[i])
	}
	if opts.Offset >= len(out) {
		return out[:0]
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
