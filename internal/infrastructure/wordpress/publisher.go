package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"BlogPublisher/internal/config"
	"BlogPublisher/internal/domain"
	"BlogPublisher/internal/logging"
	"BlogPublisher/internal/ports"
	"BlogPublisher/internal/retry"
)

const (
	postStatusLive  = "publish"
	postStatusDraft = "draft"
	maxErrorBody    = 2048
)

// Publisher implements ports.Publisher against the WordPress REST API.
type Publisher struct {
	postsURL  string
	referer   string
	username  string
	password  string
	userAgent string
	http      *http.Client
	policy    retry.StatusPolicy
	retrier   *retry.Retrier
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
}

var _ ports.Publisher = (*Publisher)(nil)

// Option customizes a Publisher.
type Option func(*Publisher)

// WithHTTPClient replaces the per-attempt HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Publisher) { p.http = client }
}

// WithSleep replaces the backoff wait, mostly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Publisher) { p.retrier.WithSleep(sleep) }
}

// NewPublisher builds a publisher from configuration.
func NewPublisher(cfg config.CMSConfig, logger *slog.Logger, opts ...Option) *Publisher {
	if logger == nil {
		logger = logging.Discard()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	base := strings.TrimSuffix(cfg.BaseURL, "/")
	p := &Publisher{
		postsURL:  base + "/posts",
		referer:   siteRoot(base),
		username:  cfg.Username,
		password:  cfg.AppPassword,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: timeout},
		policy:    retry.NewStatusPolicy(cfg.RetryStatuses),
		logger:    logger,
	}
	if cfg.SanitizeEnabled() {
		p.sanitizer = bluemonday.UGCPolicy()
	}
	p.retrier = retry.NewRetrier(retry.Config{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BackoffBase,
		MaxDelay:    cfg.BackoffMax,
	}, p.classify, logger)

	for _, opt := range opts {
		opt(p)
	}
	return p
}

type postPayload struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Status  string   `json:"status"`
	Excerpt string   `json:"excerpt,omitempty"`
	Meta    postMeta `json:"meta"`
}

type postMeta struct {
	FocusKeywords string `json:"custom_focus_keywords"`
}

// statusError is one failed attempt; the classifier inspects it.
type statusError struct {
	code       int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("wordpress returned %d: %s", e.code, e.body)
}

// Publish posts the record live or as a draft and returns the CMS post id.
func (p *Publisher) Publish(ctx context.Context, record domain.ContentRecord, live bool) (string, error) {
	status := postStatusDraft
	if live {
		status = postStatusLive
	}

	content := record.Body
	if p.sanitizer != nil {
		content = p.sanitizer.Sanitize(content)
	}

	body, err := json.Marshal(postPayload{
		Title:   record.Title,
		Content: content,
		Status:  status,
		Excerpt: record.SEOSummary,
		Meta:    postMeta{FocusKeywords: record.FocusKeywords()},
	})
	if err != nil {
		return "", fmt.Errorf("marshal post payload: %w", err)
	}

	var postID string
	attempts, err := p.retrier.Do(ctx, func(int) error {
		id, err := p.post(ctx, body)
		if err != nil {
			return err
		}
		postID = id
		return nil
	})
	if err != nil {
		pubErr := &domain.PublishError{RecordID: record.ID, Attempts: attempts, Err: err}
		var se *statusError
		if errors.As(err, &se) {
			pubErr.StatusCode = se.code
			pubErr.Body = se.body
			pubErr.Err = nil
		}
		return "", pubErr
	}

	p.logger.Info("post written to cms",
		"record_id", record.ID,
		"post_id", postID,
		"status", status,
		"attempts", attempts,
		"focus_keywords", record.FocusKeywords())
	return postID, nil
}

func (p *Publisher) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.postsURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.SetBasicAuth(p.username, p.password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	if p.referer != "" {
		req.Header.Set("Referer", p.referer)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post to wordpress: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &statusError{
			code:       resp.StatusCode,
			body:       strings.TrimSpace(string(text)),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var created struct {
		ID json.Number `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", &statusError{code: resp.StatusCode, body: "decode response: " + err.Error()}
	}
	if created.ID == "" {
		return "", &statusError{code: resp.StatusCode, body: "response has no post id"}
	}
	return created.ID.String(), nil
}

// classify retries listed statuses on POST and connection failures that never
// reached the server; anything else could duplicate a post.
func (p *Publisher) classify(err error) (bool, time.Duration) {
	var se *statusError
	if errors.As(err, &se) {
		return p.policy.Retryable(http.MethodPost, se.code), se.retryAfter
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true, 0
	}
	return false, 0
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// siteRoot strips the REST suffix so the Referer points at the blog itself.
func siteRoot(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil || u.Host == "" {
		return ""
	}
	path := u.Path
	if i := strings.Index(path, "/wp-json"); i >= 0 {
		path = path[:i]
	}
	u.Path = path
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/")
}
