// Package provider fetches structured profile and organization records from
// a Scrapingdog-compatible scraping API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/change-monitor/internal/metrics"
	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// StrategyName identifies the provider in errors, logs and metrics.
const StrategyName = "provider"

const (
	// DefaultRetryAfter is the delay suggested when the provider is still
	// caching the requested record.
	DefaultRetryAfter = 180 * time.Second
	defaultBaseURL    = "https://api.scrapingdog.com"
	defaultTimeout    = 120 * time.Second
	scrapingMethod    = "scrapingdog_api"
	excerptLimit      = 500
	maxResponseBytes  = 8 << 20
)

var transientMarkers = []string{"being cached", "try again after", "will be scraped and stored"}

// Config holds API credentials and endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Premium bool
}

// Client implements monitor.ProviderAPI.
type Client struct {
	cfg    Config
	http   *http.Client
	hasher monitor.Hasher
	logger *zap.Logger
}

// New builds a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, hasher monitor.Hasher, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, hasher: hasher, logger: logger}
}

// Identifier extracts the record identifier from a profile or organization
// URL: the path segment after marker, or the last segment when marker is
// absent.
func Identifier(rawURL, marker string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", monitor.NewPermanentError(errors.New("empty target url"))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", monitor.NewPermanentError(fmt.Errorf("parse target url: %w", err))
	}
	var segments []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	for i, s := range segments {
		if s == marker && i+1 < len(segments) {
			return segments[i+1], nil
		}
	}
	if len(segments) == 0 {
		return "", monitor.NewPermanentError(fmt.Errorf("no identifier in %q", rawURL))
	}
	return segments[len(segments)-1], nil
}

// Fetch retrieves the provider record for a profile or organization target.
func (c *Client) Fetch(ctx context.Context, target monitor.Target) (monitor.Snapshot, error) {
	snap, err := c.fetch(ctx, target)
	metrics.ObserveFetch(StrategyName, err == nil)
	return snap, err
}

func (c *Client) fetch(ctx context.Context, target monitor.Target) (monitor.Snapshot, error) {
	if c.cfg.APIKey == "" {
		return monitor.Snapshot{}, monitor.NewPermanentError(errors.New("provider api key not configured"))
	}

	endpoint, idKey, id, err := c.endpoint(target)
	if err != nil {
		return monitor.Snapshot{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return monitor.Snapshot{}, monitor.NewPermanentError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return monitor.Snapshot{}, monitor.NewTransportError(StrategyName, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close provider response", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return monitor.Snapshot{}, monitor.NewTransportError(StrategyName, fmt.Errorf("read body: %w", err))
	}
	c.logger.Debug("provider response",
		zap.String("target_id", target.ID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return monitor.Snapshot{}, classifyFailure(resp.StatusCode, body)
	}

	record, err := decodeRecord(body)
	if err != nil {
		return monitor.Snapshot{}, monitor.NewPermanentError(err)
	}
	record[idKey] = id
	record["scraping_method"] = scrapingMethod

	return c.buildSnapshot(target, resp.StatusCode, record)
}

func (c *Client) endpoint(target monitor.Target) (string, string, string, error) {
	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)

	switch target.Type {
	case monitor.TargetProfile:
		id, err := Identifier(target.URL, "in")
		if err != nil {
			return "", "", "", err
		}
		q.Set("type", "profile")
		q.Set("id", id)
		q.Set("premium", fmt.Sprintf("%t", c.cfg.Premium))
		return c.cfg.BaseURL + "/profile?" + q.Encode(), "profile_id", id, nil
	case monitor.TargetOrganization:
		id, err := Identifier(target.URL, "company")
		if err != nil {
			return "", "", "", err
		}
		q.Set("type", "company")
		q.Set("linkId", id)
		return c.cfg.BaseURL + "/linkedin/?" + q.Encode(), "company_id", id, nil
	default:
		return "", "", "", monitor.NewPermanentError(fmt.Errorf("unsupported target type %q", target.Type))
	}
}

type errorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func classifyFailure(status int, body []byte) error {
	var payload errorPayload
	_ = json.Unmarshal(body, &payload)
	message := strings.ToLower(payload.Message + " " + payload.Error)
	for _, marker := range transientMarkers {
		if strings.Contains(message, marker) {
			reason := strings.TrimSpace(payload.Message)
			if reason == "" {
				reason = strings.TrimSpace(payload.Error)
			}
			return monitor.NewTransientError(fmt.Errorf("status %d: %s", status, reason), DefaultRetryAfter)
		}
	}
	return monitor.NewPermanentError(fmt.Errorf("status %d: %s", status, monitor.Truncate(string(body), excerptLimit)))
}

func decodeRecord(body []byte) (map[string]any, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode provider payload: %w", err)
	}
	if list, ok := raw.([]any); ok {
		if len(list) == 0 {
			return nil, errors.New("provider returned an empty list")
		}
		raw = list[0]
	}
	record, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected provider payload of type %T", raw)
	}
	return record, nil
}

func (c *Client) buildSnapshot(target monitor.Target, status int, record map[string]any) (monitor.Snapshot, error) {
	canonical, err := json.Marshal(record)
	if err != nil {
		return monitor.Snapshot{}, monitor.NewPermanentError(fmt.Errorf("encode record: %w", err))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, canonical, "", "  "); err != nil {
		return monitor.Snapshot{}, monitor.NewPermanentError(fmt.Errorf("indent record: %w", err))
	}
	digest, err := c.hasher.Hash(canonical)
	if err != nil {
		return monitor.Snapshot{}, fmt.Errorf("hash record: %w", err)
	}
	return monitor.Snapshot{
		URL:        target.URL,
		FinalURL:   target.URL,
		StatusCode: status,
		Metadata: monitor.Metadata{
			Title:       firstString(record, "fullName", "name"),
			Description: firstString(record, "headline", "tagline", "description"),
		},
		Text:     string(canonical),
		RichText: pretty.String(),
		Digest:   digest,
		Record:   record,
	}, nil
}

func firstString(record map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := record[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
