// Package platform defines the boundary to the external publishing
// platforms. The saga only depends on these interfaces; concrete API
// clients (LinkedIn, YouTube, ...) live outside this repository.
package platform

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/postpilot/publish-scheduler/internal/domain"
)

// PublishRequest carries everything a platform client needs for one call
type PublishRequest struct {
	JobID              string
	UserID             string
	ContentItemID      string
	ConnectedAccountID string
	Platform           domain.Platform
	Content            *Content
}

// PostResult is the platform's acknowledgment of a successful publish
type PostResult struct {
	PlatformPostID string
	Permalink      string
	PublishedAt    time.Time
}

// Content is a publishable content item resolved by the content service
type Content struct {
	ContentItemID string `json:"content_item_id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	AssetURL      string `json:"asset_url,omitempty"`
}

// Publisher performs the external publish call for one platform. The
// call must honor ctx: a deadline exceeded is classified transient by
// the caller. Errors should be built with domain.NewTransientError /
// domain.NewPermanentError so the retry coordinator can classify them.
type Publisher interface {
	Publish(ctx context.Context, req *PublishRequest) (*PostResult, error)
}

// ContentFetcher resolves a content item before the platform call.
// Fetch failures are transient: content may be mid-replication.
type ContentFetcher interface {
	Fetch(ctx context.Context, contentItemID string) (*Content, error)
}

// Registry routes a job's platform to its Publisher
type Registry struct {
	publishers map[domain.Platform]Publisher
}

// NewRegistry creates a registry over the given platform clients
func NewRegistry(publishers map[domain.Platform]Publisher) *Registry {
	return &Registry{publishers: publishers}
}

// Lookup returns the Publisher for p. An unknown platform is permanent:
// retrying cannot make a client appear.
func (r *Registry) Lookup(p domain.Platform) (Publisher, error) {
	pub, ok := r.publishers[p]
	if !ok {
		return nil, domain.NewPermanentError(domain.ErrCodeMalformedRequest,
			fmt.Errorf("no publisher registered for platform %s", p))
	}
	return pub, nil
}

// ClassifyHTTPStatus maps a platform API status code onto the
// transient/permanent taxonomy
func ClassifyHTTPStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.NewTransientError(domain.ErrCodeRateLimited, err)
	case status >= 500:
		return domain.NewTransientError(domain.ErrCodeUnavailable, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewPermanentError(domain.ErrCodeBadCredentials, err)
	case status == http.StatusUnprocessableEntity:
		return domain.NewPermanentError(domain.ErrCodePolicyRejected, err)
	case status >= 400:
		return domain.NewPermanentError(domain.ErrCodeMalformedRequest, err)
	default:
		return nil
	}
}
