package evidence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileAdapterFiltersSymbolAndWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"symbol": "BTC", "reason_type": "news", "title": "In window",
		 "source_url": "https://www.reuters.com/a", "published_at": "2025-06-02T13:50:00Z"},
		{"symbol": "BTC", "reason_type": "news", "title": "Future",
		 "source_url": "https://www.reuters.com/b", "published_at": "2025-06-02T15:00:00Z"},
		{"symbol": "ETH", "reason_type": "news", "title": "Other symbol",
		 "source_url": "https://www.reuters.com/c", "published_at": "2025-06-02T13:50:00Z"}
	]`), 0o644))

	adapter := NewFileAdapter(path)
	window := TimeRange{
		From: time.Date(2025, 6, 2, 13, 55, 0, 0, time.UTC),
		To:   time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
	}

	got, err := adapter.Fetch(context.Background(), "BTC", window)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "In window", got[0].Title)
}

func TestFileAdapterMissingFile(t *testing.T) {
	adapter := NewFileAdapter(filepath.Join(t.TempDir(), "absent.json"))

	_, err := adapter.Fetch(context.Background(), "BTC", TimeRange{})
	assert.Error(t, err)
}
