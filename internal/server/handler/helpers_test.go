package handler

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

func TestParseListOpts(t *testing.T) {
	opts := parseListOpts(httptest.NewRequest("GET", "/api/trades", nil))
	assert.Equal(t, domain.ListOpts{Limit: defaultLimit}, opts)

	opts = parseListOpts(httptest.NewRequest("GET", "/api/trades?limit=-1&offset=x&since=yesterday", nil))
	assert.Equal(t, domain.ListOpts{Limit: defaultLimit}, opts)

	opts = parseListOpts(httptest.NewRequest("GET", "/api/trades?limit=9999&offset=4", nil))
	assert.Equal(t, maxLimit, opts.Limit)
	assert.Equal(t, 4, opts.Offset)
}

func TestPage(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour), base.Add(3 * time.Hour)}
	id := func(t time.Time) time.Time { return t }

	assert.Equal(t, []time.Time{items[3], items[2]}, page(items, id, domain.ListOpts{Limit: 2}))
	assert.Equal(t, []time.Time{items[1], items[0]}, page(items, id, domain.ListOpts{Offset: 2}))

	since := base.Add(90 * time.Minute)
	assert.Equal(t, []time.Time{items[3], items[2]}, page(items, id, domain.ListOpts{Since: &since}))
	assert.Empty(t, page(items, id, domain.ListOpts{Offset: 10}))
}
