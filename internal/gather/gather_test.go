package gather

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"kestrel/internal/store"
)

func TestRunValidation(t *testing.T) {
	f := NewFetcher("key", "secret", "", "us",
		store.NewParquetStore(t.TempDir()),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := f.Run(context.Background(), nil, time.Now().AddDate(0, 0, -1), time.Now()); err == nil {
		t.Error("Run with no symbols should fail")
	}

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := f.Run(context.Background(), []string{"AAPL"}, start, start.AddDate(0, 0, -5)); err == nil {
		t.Error("Run with an inverted range should fail")
	}
}
