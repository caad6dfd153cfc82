// Command code-import bulk-loads promotion codes from partner feed dumps.
//
// Each feed is a gzip-compressed file with one candidate code per line.
// Feeds are noisy: a code is trusted only when at least two independent
// feeds agree on it. Trusted codes are inserted as inactive 10% discounts;
// an operator activates or reshapes them later through the authoring API.
//
// The agreement check runs in two passes so the full code sets never have
// to fit in memory: pass one builds a bloom filter per feed, pass two
// re-streams each feed and tests codes against the other feeds' filters.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/edulane/promo-engine/internal/storage/postgres"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	minFeedHits   = 2
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
	insertBatch   = 1000
)

const insertImportedCodeSQL = `INSERT INTO discount_codes
	(id, code, title, description, kind, value, scope, applies_to, limit_kind, active, author_id, author_scope)
	VALUES ($1, $2, '', 'Imported partner code: 10% off', 'percent', $3, 'all', 'both', 'unlimited', FALSE, 'code-import', 'admin')
	ON CONFLICT DO NOTHING`

func main() {
	var (
		feedDir     string
		databaseURL string
	)

	flag.StringVar(&feedDir, "feed-dir", "data", "directory containing partner feed .gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, feedDir, databaseURL); err != nil {
		slog.Error("code import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("code import completed successfully")
}

func run(ctx context.Context, feedDir, databaseURL string) error {
	feeds, err := filepath.Glob(filepath.Join(feedDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list feeds")
	}
	if len(feeds) < minFeedHits {
		return errors.Errorf("need at least %d feed files in %s, found %d", minFeedHits, feedDir, len(feeds))
	}

	slog.Info("pass 1: building bloom filters", slog.Int("feeds", len(feeds)))

	filters, err := buildFilters(ctx, feeds)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: cross-checking feeds")

	trusted, err := crossCheck(ctx, feeds, filters)
	if err != nil {
		return errors.Wrap(err, "cross-check feeds")
	}

	slog.Info("trusted codes found", slog.Int("count", len(trusted)))
	if len(trusted) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return insertCodes(ctx, pool, trusted)
}

// buildFilters streams every feed once, concurrently, and returns one
// bloom filter per feed.
func buildFilters(ctx context.Context, feeds []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range feeds {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count uint64

			err := streamFeed(ctx, path, func(code string) {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("feed", i+1), slog.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "filter feed %s", path)
			}

			slog.Info("pass 1 feed done", slog.Int("feed", i+1), slog.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// crossCheck re-streams every feed and keeps codes that at least one
// OTHER feed's filter also contains. Per-feed hits are merged as
// bitmasks so a code confirmed by minFeedHits distinct feeds survives.
func crossCheck(ctx context.Context, feeds []string, filters []*bloom.BloomFilter) ([]string, error) {
	hits := make([]map[string]uint, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range feeds {
		g.Go(func() error {
			found := make(map[string]uint)
			feedBit := uint(1) << uint(i)

			err := streamFeed(ctx, path, func(code string) {
				for j, f := range filters {
					if j == i {
						continue
					}
					if f.TestString(code) {
						found[code] |= feedBit
						break
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "cross-check feed %s", path)
			}

			slog.Info("pass 2 feed done", slog.Int("feed", i+1), slog.Int("candidates", len(found)))
			hits[i] = found
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, found := range hits {
		for code, mask := range found {
			merged[code] |= mask
		}
	}

	var trusted []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= minFeedHits {
			trusted = append(trusted, code)
		}
	}
	return trusted, nil
}

// streamFeed decompresses a feed and calls fn for every line that looks
// like a code. Length bounds drop corrupt lines early.
func streamFeed(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := scanner.Text()
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			continue
		}
		fn(code)
	}

	return errors.Wrapf(scanner.Err(), "scan %s", path)
}

// insertCodes writes trusted codes in batches. Codes already present,
// imported or authored, are left untouched.
func insertCodes(ctx context.Context, pool *pgxpool.Pool, codes []string) error {
	slog.Info("inserting codes", slog.Int("count", len(codes)))

	value := decimal.NewFromInt(10)
	for start := 0; start < len(codes); start += insertBatch {
		end := min(start+insertBatch, len(codes))

		batch := &pgx.Batch{}
		for _, code := range codes[start:end] {
			batch.Queue(insertImportedCodeSQL, uuid.New().String(), code, value)
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrapf(err, "insert batch at %d", start)
		}

		slog.Info("insert progress", slog.Int("written", end), slog.Int("total", len(codes)))
	}

	return nil
}
