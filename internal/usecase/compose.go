package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"BlogPublisher/internal/domain"
	"BlogPublisher/internal/logging"
	"BlogPublisher/internal/ports"
)

const maxMetaDescription = 160

const descriptionPrompt = `Summarize the following text into a concise meta description (150-160 characters) focusing on the main content related to '%[1]s'.
Ensure the description is SEO-optimized by including the keyword '%[1]s' at least once, ideally near the beginning.
Exclude any personal information, contact details, or irrelevant metadata.

Text: %[2]s

Provide a professional meta description suitable for a blog post.`

const postPrompt = `Create a blog post about '%[1]s' using the text below. The post should be in HTML format, optimized for WordPress, with:
- A catchy title (up to 60 characters) including '%[1]s'.
- A body (800-1200 words) with an introduction, sections with <h2> subheadings, paragraphs in <p> tags, and emphasis with <strong> or <em>.
- SEO-optimized, using '%[1]s' 5-7 times, including in one <h2> and the intro/conclusion.%[2]s
- Focus only on the provided text, avoiding extra details.

Text: %[3]s

Return the result as:
Title: [Your title here]
Body: [Your full HTML content here]`

var (
	titleExpr = regexp.MustCompile(`Title:[ \t]*([^\n]+)`)
	bodyExpr  = regexp.MustCompile(`(?s)Body:\s*(.+)`)
)

// ComposeRequest describes a draft to generate from competitor articles.
type ComposeRequest struct {
	PrimaryKeyword     string
	AdditionalKeywords string
	URLs               []string
	// Status is Draft, Scheduled or ReadyToPublish; empty means Draft.
	Status    domain.Status
	PublishAt *time.Time
}

// ComposeResult carries the stored record and, for ReadyToPublish, the
// summary of the immediate publish that followed.
type ComposeResult struct {
	Record  domain.ContentRecord `json:"record"`
	Publish *domain.CycleSummary `json:"publish,omitempty"`
}

// Composer turns keyword research into a stored content record.
type Composer struct {
	extractor ports.Extractor
	generator ports.Generator
	store     ports.RecordStore
	pipeline  *Pipeline
	logger    *slog.Logger
	now       func() time.Time
}

// NewComposer wires the collaborators; pipeline may be nil to disable publish-now.
func NewComposer(extractor ports.Extractor, generator ports.Generator, store ports.RecordStore, pipeline *Pipeline, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Composer{
		extractor: extractor,
		generator: generator,
		store:     store,
		pipeline:  pipeline,
		logger:    logger,
		now:       time.Now,
	}
}

// Compose extracts, generates, stores and optionally publishes. When the
// follow-up publish fails, the stored record is still returned together with
// the first record error.
func (c *Composer) Compose(ctx context.Context, req ComposeRequest) (ComposeResult, error) {
	if err := req.validate(); err != nil {
		return ComposeResult{}, err
	}
	if c.extractor == nil || c.generator == nil || c.store == nil {
		return ComposeResult{}, fmt.Errorf("composer is not configured")
	}
	keyword := strings.TrimSpace(req.PrimaryKeyword)

	var texts []string
	for _, u := range req.URLs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		text, err := c.extractor.Extract(ctx, u)
		if err != nil {
			c.logger.Warn("article extraction failed", "url", u, "error", err)
			continue
		}
		if text == "" {
			continue
		}
		c.logger.Debug("article extracted", "url", u, "chars", len(text))
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return ComposeResult{}, fmt.Errorf("no article text extracted from %d url(s)", len(req.URLs))
	}
	combined := strings.Join(texts, " ")

	description := c.describe(ctx, combined, keyword)

	extra := ""
	if kw := strings.TrimSpace(req.AdditionalKeywords); kw != "" {
		extra = fmt.Sprintf("\n- Naturally include these secondary keywords: %s.", kw)
	}
	generated, err := c.generator.Generate(ctx, fmt.Sprintf(postPrompt, keyword, extra, combined))
	if err != nil {
		return ComposeResult{}, fmt.Errorf("generate post: %w", err)
	}
	title, body, err := ParseGeneratedPost(generated, keyword)
	if err != nil {
		return ComposeResult{}, err
	}

	status := req.Status
	if status == "" {
		status = domain.StatusDraft
	}
	created, err := c.store.Create(ctx, domain.ContentRecord{
		Title:              title,
		Body:               body,
		SEOSummary:         description,
		PrimaryKeyword:     keyword,
		AdditionalKeywords: strings.TrimSpace(req.AdditionalKeywords),
		Status:             status,
		PublishAt:          req.PublishAt,
		CreatedAt:          c.now(),
	})
	if err != nil {
		return ComposeResult{}, fmt.Errorf("store composed record: %w", err)
	}
	c.logger.Info("draft stored", "record_id", created.ID, "title", title, "status", status)

	result := ComposeResult{Record: created}
	if status != domain.StatusReadyToPublish || c.pipeline == nil {
		return result, nil
	}

	summary, err := c.pipeline.Run(ctx, Request{Mode: domain.ModeImmediate, RecordID: created.ID})
	result.Publish = &summary
	if err != nil {
		return result, fmt.Errorf("publish composed record: %w", err)
	}
	if err := summary.FirstError(); err != nil {
		return result, err
	}
	return result, nil
}

// describe asks for a meta description; generator failures fall back to a
// keyword sentence since the description is not essential.
func (c *Composer) describe(ctx context.Context, text, keyword string) string {
	generated, err := c.generator.Generate(ctx, fmt.Sprintf(descriptionPrompt, keyword, text))
	if err != nil {
		c.logger.Warn("meta description generation failed", "error", err)
		generated = ""
	}
	return MetaDescription(generated, keyword)
}

func (r ComposeRequest) validate() error {
	if strings.TrimSpace(r.PrimaryKeyword) == "" {
		return errors.New("primary keyword is required")
	}
	if len(r.URLs) == 0 {
		return errors.New("at least one article url is required")
	}
	switch r.Status {
	case "", domain.StatusDraft, domain.StatusReadyToPublish:
	case domain.StatusScheduled:
		if r.PublishAt == nil {
			return errors.New("scheduled records need a publish date")
		}
	default:
		return fmt.Errorf("cannot compose a record with status %q", r.Status)
	}
	return nil
}

// MetaDescription trims text to 160 characters with a trailing "...", or
// returns a keyword sentence when text is empty.
func MetaDescription(text, keyword string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Sprintf("Discover insights on %s in this detailed guide.", keyword)
	}
	if utf8.RuneCountInString(text) <= maxMetaDescription {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxMetaDescription-3]) + "..."
}

// ParseGeneratedPost reads the "Title:" / "Body:" layout requested from the
// generator. A missing title falls back to a keyword headline; a missing body
// is an error.
func ParseGeneratedPost(text, keyword string) (title, body string, err error) {
	text = strings.TrimSpace(text)

	if m := titleExpr.FindStringSubmatch(text); m != nil {
		title = strings.Trim(strings.TrimSpace(m[1]), `"*`)
	}
	if title == "" {
		title = keyword + ": A Comprehensive Guide"
	}

	if m := bodyExpr.FindStringSubmatch(text); m != nil {
		body = strings.TrimSpace(m[1])
		body = strings.TrimPrefix(body, "```html")
		body = strings.TrimSpace(strings.TrimSuffix(body, "```"))
	}
	if body == "" {
		return "", "", errors.New("generator returned no post body")
	}
	return title, body, nil
}
