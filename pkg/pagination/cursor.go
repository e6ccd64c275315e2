package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/sellerkit/spapi-client/pkg/client"
	"github.com/sellerkit/spapi-client/pkg/logging"
)

// Config holds cursor follower configuration.
type Config struct {
	// TokenPath is the gjson path of the continuation token in the
	// response payload.
	TokenPath string

	// TokenParam is the query parameter that carries the token on the
	// next request.
	TokenParam string

	// MaxPages caps a single chain. A server that keeps returning
	// tokens otherwise pins the caller forever.
	MaxPages int
}

// DefaultConfig returns the conventional token placement.
func DefaultConfig() Config {
	return Config{
		TokenPath:  "payload.NextToken",
		TokenParam: "NextToken",
		MaxPages:   100,
	}
}

// Getter is the single-request surface the follower needs. *client.Client
// satisfies it.
type Getter interface {
	Get(ctx context.Context, path string, opts *client.RequestOptions) (*client.Response, error)
}

// Follower walks a token cursor across pages of one endpoint.
type Follower struct {
	getter Getter
	config Config
	logger zerolog.Logger
}

// NewFollower creates a cursor follower.
func NewFollower(getter Getter, config Config) *Follower {
	if config.TokenPath == "" {
		config.TokenPath = "payload.NextToken"
	}
	if config.TokenParam == "" {
		config.TokenParam = "NextToken"
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 100
	}
	return &Follower{
		getter: getter,
		config: config,
		logger: logging.NewLogger("pagination"),
	}
}

// FetchAll follows the cursor until the payload stops carrying a token and
// returns the raw pages in order. On error the pages fetched so far are
// returned alongside it.
func (f *Follower) FetchAll(ctx context.Context, path string, opts *client.RequestOptions) ([]json.RawMessage, error) {
	var pages []json.RawMessage
	err := f.ForEach(ctx, path, opts, func(page json.RawMessage) error {
		pages = append(pages, page)
		return nil
	})
	return pages, err
}

// ForEach follows the cursor, invoking fn for every page in order. A non-nil
// return from fn stops the walk and is returned unchanged.
func (f *Follower) ForEach(ctx context.Context, path string, opts *client.RequestOptions, fn func(page json.RawMessage) error) error {
	start := time.Now()

	// Copy the caller's options so threading the token does not mutate
	// their query values.
	pageOpts := client.RequestOptions{}
	if opts != nil {
		pageOpts = *opts
	}
	query := url.Values{}
	for k, vs := range pageOpts.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	pageOpts.Query = query

	for page := 1; ; page++ {
		if page > f.config.MaxPages {
			f.logger.Warn().
				Str("endpoint", path).
				Int("max_pages", f.config.MaxPages).
				Msg("Page cap reached, cursor chain truncated")
			return fmt.Errorf("page cap of %d reached on %s", f.config.MaxPages, path)
		}

		resp, err := f.getter.Get(ctx, path, &pageOpts)
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		if !resp.Success {
			return fmt.Errorf("page %d: request failed with status %d", page, resp.StatusCode)
		}

		if err := fn(resp.Data); err != nil {
			return err
		}

		token := gjson.GetBytes(resp.Data, f.config.TokenPath).String()
		if token == "" {
			f.logger.Info().
				Str("endpoint", path).
				Int("pages", page).
				Dur("duration", time.Since(start)).
				Msg("Cursor chain complete")
			return nil
		}
		query.Set(f.config.TokenParam, token)
	}
}
