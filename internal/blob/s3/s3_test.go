package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.failOn != "" && strings.Contains(path, m.failOn) {
		return errors.New("boom")
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[path] = b
	m.mu.Unlock()
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

type fakeJournal struct {
	trades []domain.Trade
	snaps  []domain.PortfolioSnapshot
}

func (f *fakeJournal) ListTrades(_ context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range f.trades {
		if opts.Since == nil || !t.ExitTime.Before(*opts.Since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeJournal) ListSnapshots(_ context.Context, opts domain.ListOpts) ([]domain.PortfolioSnapshot, error) {
	var out []domain.PortfolioSnapshot
	for _, s := range f.snaps {
		if opts.Since == nil || !s.Timestamp.Before(*opts.Since) {
			out = append(out, s)
		}
	}
	return out, nil
}

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestArchiver(blobs *memBlobs, j *fakeJournal) *Archiver {
	a := NewArchiver(blobs, blobs, j, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return t0.Add(time.Hour) }
	return a
}

func countLines(t *testing.T, data []byte) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var v map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		n++
	}
	return n
}

func TestArchivePath(t *testing.T) {
	assert.Equal(t, "journal/trades/2026-03-01/1772359200.jsonl", ArchivePath("trades", t0))
}

func TestArchiver_ArchiveOnce_OnlyNewRecords(t *testing.T) {
	blobs := newMemBlobs()
	j := &fakeJournal{
		trades: []domain.Trade{{TradeID: "a", ExitTime: t0}, {TradeID: "b", ExitTime: t0.Add(time.Minute)}},
		snaps:  []domain.PortfolioSnapshot{{Timestamp: t0, TotalValue: 1000}},
	}
	a := newTestArchiver(blobs, j)

	n, err := a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, t0.Add(time.Minute), a.cursor.Trades)

	path := ArchivePath("trades", t0.Add(time.Hour))
	assert.Equal(t, 2, countLines(t, blobs.objects[path]))
	assert.Len(t, blobs.keys("journal/snapshots/"), 1)

	// Nothing new: no upload, no error.
	n, err = a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	j.trades = append(j.trades, domain.Trade{TradeID: "c", ExitTime: t0.Add(2 * time.Minute)})
	a.now = func() time.Time { return t0.Add(2 * time.Hour) }
	n, err = a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, countLines(t, blobs.objects[ArchivePath("trades", t0.Add(2*time.Hour))]))
}

func TestArchiver_CursorSurvivesRestart(t *testing.T) {
	blobs := newMemBlobs()
	j := &fakeJournal{trades: []domain.Trade{{TradeID: "a", ExitTime: t0}}}

	first := newTestArchiver(blobs, j)
	_, err := first.ArchiveOnce(context.Background())
	require.NoError(t, err)

	second := newTestArchiver(blobs, j)
	require.NoError(t, second.loadCursor(context.Background()))
	assert.True(t, second.cursor.Trades.Equal(t0))

	n, err := second.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiver_UploadFailureKeepsCursor(t *testing.T) {
	blobs := newMemBlobs()
	blobs.failOn = "trades"
	j := &fakeJournal{trades: []domain.Trade{{TradeID: "a", ExitTime: t0}}}
	a := newTestArchiver(blobs, j)

	_, err := a.ArchiveOnce(context.Background())
	require.Error(t, err)
	assert.True(t, a.cursor.Trades.IsZero())
	assert.Empty(t, blobs.keys(cursorPath))
}

func TestArchiver_RunFlushesOnShutdown(t *testing.T) {
	blobs := newMemBlobs()
	j := &fakeJournal{snaps: []domain.PortfolioSnapshot{{Timestamp: t0}}}
	a := newTestArchiver(blobs, j)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	assert.Len(t, blobs.keys("journal/snapshots/"), 1)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://x.example", normaliseEndpoint("http://x.example", true))
}
