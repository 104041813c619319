package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/postpilot/publish-scheduler/internal/domain"
)

// GatewayConfig points at the platform connector gateway, the internal
// service that owns the actual third-party API protocols and account
// credentials
type GatewayConfig struct {
	BaseURL string
	Timeout time.Duration
}

// GatewayPublisher publishes through the connector gateway. One
// instance serves every platform; the registry maps each platform to
// the same client under its own route.
type GatewayPublisher struct {
	cfg    GatewayConfig
	client *http.Client
	logger *slog.Logger
}

// NewGatewayPublisher creates a publisher over the connector gateway
func NewGatewayPublisher(cfg GatewayConfig, logger *slog.Logger) *GatewayPublisher {
	return &GatewayPublisher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type gatewayPublishBody struct {
	JobID              string `json:"job_id"`
	UserID             string `json:"user_id"`
	ConnectedAccountID string `json:"connected_account_id"`
	Title              string `json:"title,omitempty"`
	Body               string `json:"body,omitempty"`
	AssetURL           string `json:"asset_url,omitempty"`
}

type gatewayPublishResult struct {
	PlatformPostID string    `json:"platform_post_id"`
	Permalink      string    `json:"permalink"`
	PublishedAt    time.Time `json:"published_at"`
}

// Publish posts the content through the gateway's per-platform route
func (g *GatewayPublisher) Publish(ctx context.Context, req *PublishRequest) (*PostResult, error) {
	body, err := json.Marshal(gatewayPublishBody{
		JobID:              req.JobID,
		UserID:             req.UserID,
		ConnectedAccountID: req.ConnectedAccountID,
		Title:              req.Content.Title,
		Body:               req.Content.Body,
		AssetURL:           req.Content.AssetURL,
	})
	if err != nil {
		return nil, domain.NewPermanentError(domain.ErrCodeMalformedRequest,
			fmt.Errorf("failed to marshal publish body: %w", err))
	}

	url := fmt.Sprintf("%s/v1/%s/posts", g.cfg.BaseURL, strings.ToLower(string(req.Platform)))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewPermanentError(domain.ErrCodeMalformedRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The gateway dedupes on this as a second line of defense behind the
	// attempt record
	httpReq.Header.Set("X-Idempotency-Key", req.JobID)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, domain.NewTransientError(domain.ErrCodeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		classified := ClassifyHTTPStatus(resp.StatusCode,
			fmt.Errorf("gateway returned %d: %s", resp.StatusCode, payload))
		g.logger.Warn("Platform gateway rejected publish",
			slog.String("job_id", req.JobID),
			slog.String("platform", string(req.Platform)),
			slog.Int("status", resp.StatusCode),
		)
		return nil, classified
	}

	var result gatewayPublishResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// The post may have been created; treat as transient so the
		// redelivery path can resolve it through the gateway's own
		// idempotency
		return nil, domain.NewTransientError(domain.ErrCodeUnavailable,
			fmt.Errorf("failed to decode gateway response: %w", err))
	}

	if result.PublishedAt.IsZero() {
		result.PublishedAt = time.Now().UTC()
	}

	return &PostResult{
		PlatformPostID: result.PlatformPostID,
		Permalink:      result.Permalink,
		PublishedAt:    result.PublishedAt,
	}, nil
}

// GatewayContentFetcher resolves content items from the content service
type GatewayContentFetcher struct {
	cfg    GatewayConfig
	client *http.Client
}

// NewGatewayContentFetcher creates a fetcher over the content service
func NewGatewayContentFetcher(cfg GatewayConfig) *GatewayContentFetcher {
	return &GatewayContentFetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Fetch retrieves one content item by id
func (f *GatewayContentFetcher) Fetch(ctx context.Context, contentItemID string) (*Content, error) {
	url := fmt.Sprintf("%s/v1/content/%s", f.cfg.BaseURL, contentItemID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewPermanentError(domain.ErrCodeMalformedRequest, err)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, domain.NewTransientError(domain.ErrCodeAssetFetch, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Content deleted after scheduling; retrying cannot bring it back
		return nil, domain.NewPermanentError(domain.ErrCodeAssetFetch,
			fmt.Errorf("content item %s not found", contentItemID))
	case resp.StatusCode != http.StatusOK:
		return nil, domain.NewTransientError(domain.ErrCodeAssetFetch,
			fmt.Errorf("content service returned %d", resp.StatusCode))
	}

	var content Content
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		return nil, domain.NewTransientError(domain.ErrCodeAssetFetch,
			fmt.Errorf("failed to decode content item: %w", err))
	}

	return &content, nil
}
