// Package gather downloads historical daily bars from the Alpaca market-data
// API into the bar store, so backtests can replay them offline.
package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"kestrel/internal/domain"
	"kestrel/internal/store"
	"kestrel/internal/util"
)

// fetchChunkSymbols caps the number of symbols per multi-bar API call.
const fetchChunkSymbols = 200

// Fetcher pulls daily OHLCV bars for a fixed symbol list and persists them.
// Fetching is idempotent: re-fetched (ticker, timestamp) pairs replace the
// stored bars.
type Fetcher struct {
	client  *marketdata.Client
	store   store.BarStore
	limiter *util.RateLimiter
	market  string
	log     *slog.Logger
}

// NewFetcher creates a Fetcher writing bars under the given market segment.
func NewFetcher(apiKey, apiSecret, dataURL, market string, s store.BarStore, log *slog.Logger) *Fetcher {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &Fetcher{
		client:  marketdata.NewClient(opts),
		store:   s,
		limiter: util.NewRateLimiter(180),
		market:  market,
		log:     log.With("component", "fetcher"),
	}
}

// Run fetches daily bars for symbols over [start, end] in symbol chunks and
// writes each chunk to the store before requesting the next.
func (f *Fetcher) Run(ctx context.Context, symbols []string, start, end time.Time) error {
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to fetch")
	}
	if end.Before(start) {
		return fmt.Errorf("fetch range ends before it starts: %s .. %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	runStart := time.Now()
	var total int
	for i := 0; i < len(symbols); i += fetchChunkSymbols {
		j := i + fetchChunkSymbols
		if j > len(symbols) {
			j = len(symbols)
		}
		chunk := symbols[i:j]

		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}

		var bars []domain.Bar
		err := util.Retry(ctx, 3, time.Second, func() error {
			var err error
			bars, err = f.fetchChunk(chunk, start, end)
			return err
		})
		if err != nil {
			return fmt.Errorf("fetching %v: %w", chunk, err)
		}

		if err := f.store.WriteBars(ctx, bars, f.market); err != nil {
			return fmt.Errorf("writing bars: %w", err)
		}
		total += len(bars)
		f.log.Info("chunk fetched", "symbols", len(chunk), "bars", len(bars))
	}

	f.log.Info("fetch finished",
		"symbols", len(symbols),
		"bars", total,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

func (f *Fetcher) fetchChunk(symbols []string, start, end time.Time) ([]domain.Bar, error) {
	multiBars, err := f.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, series := range multiBars {
		for _, b := range series {
			bars = append(bars, domain.Bar{
				Ticker:    strings.ToUpper(symbol),
				Timestamp: b.Timestamp,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    int64(b.Volume),
			})
		}
	}
	return bars, nil
}
