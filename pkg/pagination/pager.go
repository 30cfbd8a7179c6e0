package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTooManyPages is returned when a listing does not end within MaxPages.
var ErrTooManyPages = errors.New("page limit exceeded")

// Config holds pager configuration.
type Config struct {
	// MaxPages bounds the number of pages fetched, guarding against a
	// service that keeps returning tokens.
	MaxPages int
}

// DefaultConfig returns safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxPages: 10000,
	}
}

// PageFunc fetches the page identified by pageToken ("" for the first page)
// and returns its items and the token of the next page ("" on the last page).
type PageFunc[T any] func(ctx context.Context, pageToken string) (items []T, nextPageToken string, err error)

// Collect fetches every page in order and returns all items.
func Collect[T any](ctx context.Context, cfg Config, fetch PageFunc[T]) ([]T, error) {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig().MaxPages
	}

	start := time.Now()
	var all []T
	token := ""

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return all, fmt.Errorf("page %d: %w", page, err)
		}

		if page > cfg.MaxPages {
			return all, fmt.Errorf("%w: %d", ErrTooManyPages, cfg.MaxPages)
		}

		items, next, err := fetch(ctx, token)
		if err != nil {
			return all, fmt.Errorf("fetch page %d: %w", page, err)
		}
		all = append(all, items...)

		// Progress logging every 50 pages
		if page%50 == 0 {
			log.Info().
				Int("pages", page).
				Int("items", len(all)).
				Msg("Fetch progress")
		}

		if next == "" {
			log.Debug().
				Int("pages", page).
				Int("items", len(all)).
				Dur("duration", time.Since(start)).
				Msg("Fetch complete")
			return all, nil
		}
		token = next
	}
}
