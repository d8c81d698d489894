package nodescan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	defaultSourceTimeout = 8 * time.Second
	maxHTMLBytes         = 2 << 20
	maxJSONBytes         = 64 << 20
	userAgent            = "nodescan/1.0"
)

var (
	// ErrNotFound is returned when an upstream API does not know the resource.
	ErrNotFound         = errors.New("not found")
	// ErrResponseTooLarge is returned when a body exceeds the read limit.
	ErrResponseTooLarge = errors.New("response too large")
)

// restClient is the HTTP stack shared by the REST sources.
type restClient struct {
	name    string
	baseURL string
	timeout time.Duration
	http    *http.Client
	log     *zap.Logger

	maxHTML int64
	maxJSON int64
}

func newRESTClient(name, baseURL string, cfg SourcesConfig, transport http.RoundTripper, log *zap.Logger) *restClient {
	logger := componentLogger(log, name)

	retrying := retryablehttp.NewClient()
	retrying.RetryMax = cfg.RetryMax
	retrying.RetryWaitMin = 250 * time.Millisecond
	retrying.RetryWaitMax = 2 * time.Second
	retrying.Logger = newRetryableLogger(logger)
	if transport != nil {
		retrying.HTTPClient.Transport = transport
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSourceTimeout
	}
	return &restClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    retrying.StandardClient(),
		log:     logger,
		maxHTML: maxHTMLBytes,
		maxJSON: maxJSONBytes,
	}
}

func (c *restClient) get(ctx context.Context, path, accept string, limit int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.name, err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: GET %s: %w", c.name, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: GET %s: %w", c.name, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s: GET %s: status %d: %s", c.name, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", c.name, path, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%s: GET %s: %w: over %d bytes", c.name, path, ErrResponseTooLarge, limit)
	}
	return body, nil
}

func (c *restClient) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path, "application/json", c.maxJSON)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode %s: %w", c.name, path, err)
	}
	return nil
}

// StakeHistoryItem is the stake of a validator at the start of an epoch.
type StakeHistoryItem struct {
	Epoch uint64    `json:"epoch"`
	Stake float64   `json:"stake"`
	Date  time.Time `json:"date"`
}

// parseSourceDate accepts the date layouts seen in upstream payloads. Missing
// or unparseable dates are estimated from the epoch.
func parseSourceDate(raw string, epoch uint64) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC()
		}
	}
	return estimateEpochDate(epoch)
}
