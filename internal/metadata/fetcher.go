package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"

	"curvescan/internal/chain"
	"curvescan/internal/model"
)

const (
	// DefaultMaxRetries is the bounded attempt count per URI.
	DefaultMaxRetries = 5
	// DefaultTimeout is the hard per-request timeout.
	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 4 << 20
)

// Fetcher resolves off-chain token metadata documents with bounded
// exponential backoff. A nil result means "no metadata available"; callers
// persist the token with empty descriptive fields rather than dropping it.
type Fetcher struct {
	client     *http.Client
	maxRetries int
	logger     *zap.Logger

	// sleep is swapped out in tests to observe the backoff schedule.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewFetcher(maxRetries int, timeout time.Duration, logger *zap.Logger) *Fetcher {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger:     logger,
		sleep:      chain.Sleep,
	}
}

// Fetch issues up to maxRetries GETs against the URI with delays of
// 2^attempt seconds between failures (1s, 2s, 4s, 8s for five attempts; no
// delay after the last). Invalid or empty URIs return nil without any
// network call.
func (f *Fetcher) Fetch(ctx context.Context, uri string) *model.TokenMetadata {
	if !validURI(uri) {
		return nil
	}

	for attempt := 0; attempt < f.maxRetries; attempt++ {
		meta, err := f.attempt(ctx, uri)
		if err == nil {
			return meta
		}

		f.logger.Debug("metadata fetch attempt failed",
			zap.String("uri", uri),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		if attempt == f.maxRetries-1 {
			break
		}
		delay := time.Duration(1<<uint(attempt)) * time.Second
		if err := f.sleep(ctx, delay); err != nil {
			return nil
		}
	}

	f.logger.Warn("metadata unavailable after retries",
		zap.String("uri", uri),
		zap.Int("attempts", f.maxRetries),
	)
	return nil
}

func (f *Fetcher) attempt(ctx context.Context, uri string) (*model.TokenMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "json") {
		return nil, fmt.Errorf("unexpected content type %q", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var doc map[string]interface{}
	if err := sonnet.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse metadata document: %w", err)
	}

	return fromDocument(uri, doc), nil
}

func fromDocument(uri string, doc map[string]interface{}) *model.TokenMetadata {
	meta := &model.TokenMetadata{
		Name:   model.DefaultTokenName,
		Symbol: model.DefaultTokenSymbol,
		URI:    uri,
	}
	if name, ok := stringField(doc, "name"); ok {
		meta.Name = name
	}
	if symbol, ok := stringField(doc, "symbol"); ok {
		meta.Symbol = symbol
	}
	if description, ok := stringField(doc, "description"); ok {
		meta.Description = description
	}
	meta.Image = ExtractImageURL(doc)
	return meta
}

func validURI(uri string) bool {
	if strings.TrimSpace(uri) == "" {
		return false
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
