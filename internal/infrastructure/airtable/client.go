package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"BlogPublisher/internal/config"
	"BlogPublisher/internal/domain"
	"BlogPublisher/internal/logging"
	"BlogPublisher/internal/ports"
)

// Field names of the content table.
const (
	FieldTitle              = "Title"
	FieldContent            = "Content"
	FieldSEOSummary         = "SEO Summary"
	FieldPrimaryKeyword     = "Primary Keyword"
	FieldAdditionalKeywords = "Additional Keywords"
	FieldStatus             = "Status"
	FieldPublishDate        = "Publish Date"
	FieldRemotePostID       = "WP Post ID"
	FieldCreatedAt          = "Created At"
)

const maxErrorBody = 2048

// Client implements ports.RecordStore over the Airtable REST API.
type Client struct {
	tableURL string
	apiKey   string
	statuses config.StatusValues
	location *time.Location
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

var _ ports.RecordStore = (*Client)(nil)

// NewClient builds a client from configuration.
func NewClient(cfg config.RecordStoreConfig, loc *time.Location, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &Client{
		tableURL: strings.TrimSuffix(cfg.BaseURL, "/") + "/" + url.PathEscape(cfg.BaseID) + "/" + url.PathEscape(cfg.Table),
		apiKey:   cfg.APIKey,
		statuses: cfg.Statuses,
		location: loc,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		logger:   logger,
	}
}

type recordJSON struct {
	ID          string         `json:"id"`
	CreatedTime string         `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

type listResponse struct {
	Records []recordJSON `json:"records"`
	Offset  string       `json:"offset"`
}

// FetchDue returns the records a pipeline run should consider.
func (c *Client) FetchDue(ctx context.Context, mode domain.Mode, recordID string) ([]domain.ContentRecord, error) {
	if recordID != "" {
		rec, found, err := c.Get(ctx, recordID)
		if err != nil {
			return nil, err
		}
		if !found {
			return []domain.ContentRecord{}, nil
		}
		return []domain.ContentRecord{rec}, nil
	}

	params := url.Values{}
	switch mode {
	case domain.ModeImmediate:
		// Newest ready record only, posted or not; eligibility skips one
		// that already carries a post id rather than reaching further back.
		params.Set("filterByFormula", fmt.Sprintf(`{%s} = "%s"`, FieldStatus, c.statuses.ReadyToPublish))
		params.Set("sort[0][field]", FieldCreatedAt)
		params.Set("sort[0][direction]", "desc")
		params.Set("maxRecords", "1")
	case domain.ModeScheduled:
		params.Set("filterByFormula", fmt.Sprintf(`AND({%s} = "%s", {%s} <= NOW(), {%s} = "")`,
			FieldStatus, c.statuses.Scheduled, FieldPublishDate, FieldRemotePostID))
		params.Set("sort[0][field]", FieldPublishDate)
		params.Set("sort[0][direction]", "asc")
	default:
		return nil, fmt.Errorf("fetch due: unsupported mode %q", mode)
	}

	var records []domain.ContentRecord
	for {
		var page listResponse
		if err := c.do(ctx, http.MethodGet, "list", "", c.tableURL+"?"+params.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Records {
			records = append(records, c.decode(raw))
		}
		if page.Offset == "" {
			break
		}
		params.Set("offset", page.Offset)
	}

	if mode == domain.ModeScheduled {
		sortByPublishAt(records)
	}

	c.logger.Debug("fetched due records", "mode", mode, "count", len(records))
	return records, nil
}

// Get reads one record by id; found is false when the store has no such record.
func (c *Client) Get(ctx context.Context, recordID string) (domain.ContentRecord, bool, error) {
	var raw recordJSON
	err := c.do(ctx, http.MethodGet, "get", recordID, c.tableURL+"/"+url.PathEscape(recordID), nil, &raw)
	if err != nil {
		var storeErr *domain.StoreError
		if errors.As(err, &storeErr) && storeErr.StatusCode == http.StatusNotFound {
			return domain.ContentRecord{}, false, nil
		}
		return domain.ContentRecord{}, false, err
	}
	return c.decode(raw), true, nil
}

// PatchStatus updates only the status and remote post id fields.
func (c *Client) PatchStatus(ctx context.Context, recordID string, status domain.Status, remotePostID string) error {
	fields := map[string]any{FieldStatus: c.encodeStatus(status)}
	if remotePostID != "" {
		fields[FieldRemotePostID] = remotePostID
	}
	err := c.do(ctx, http.MethodPatch, "patch", recordID, c.tableURL+"/"+url.PathEscape(recordID),
		map[string]any{"fields": fields}, nil)
	if err != nil {
		if errors.Is(err, domain.ErrConflictOrRejected) && strings.Contains(err.Error(), "INVALID_MULTIPLE_CHOICE_OPTIONS") {
			c.logger.Warn("status option rejected by store; check the Status field options (case-sensitive)",
				"record_id", recordID, "status", c.encodeStatus(status))
		}
		return err
	}
	return nil
}

// Create inserts a new record and returns it as stored.
func (c *Client) Create(ctx context.Context, record domain.ContentRecord) (domain.ContentRecord, error) {
	fields := map[string]any{
		FieldTitle:          record.Title,
		FieldContent:        record.Body,
		FieldSEOSummary:     record.SEOSummary,
		FieldPrimaryKeyword: record.PrimaryKeyword,
		FieldStatus:         c.encodeStatus(record.Status),
	}
	if record.AdditionalKeywords != "" {
		fields[FieldAdditionalKeywords] = record.AdditionalKeywords
	}
	if record.PublishAt != nil {
		fields[FieldPublishDate] = record.PublishAt.UTC().Format(time.RFC3339)
	}
	created := record.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	fields[FieldCreatedAt] = created.UTC().Format(time.RFC3339)

	var raw recordJSON
	if err := c.do(ctx, http.MethodPost, "create", "", c.tableURL, map[string]any{"fields": fields}, &raw); err != nil {
		return domain.ContentRecord{}, err
	}
	return c.decode(raw), nil
}

func (c *Client) do(ctx context.Context, method, op, recordID, endpoint string, payload any, v any) error {
	var (
		body    io.Reader
		rawJSON []byte
	)
	if payload != nil {
		var err error
		rawJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", op, err)
		}
		body = bytes.NewReader(rawJSON)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return c.unavailable(op, recordID, 0, "", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.unavailable(op, recordID, 0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		trimmed := strings.TrimSpace(string(text))
		if isTransient(resp.StatusCode, method) {
			return c.unavailable(op, recordID, resp.StatusCode, trimmed, nil)
		}
		return &domain.StoreError{
			Kind:       domain.ErrConflictOrRejected,
			Op:         op,
			RecordID:   recordID,
			StatusCode: resp.StatusCode,
			Body:       trimmed,
			Payload:    string(rawJSON),
		}
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return c.unavailable(op, recordID, resp.StatusCode, "", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// isTransient classifies a store response: reads fail as unavailable unless
// the record is missing; writes are rejected on 4xx other than rate limiting.
func isTransient(status int, method string) bool {
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return true
	}
	if method == http.MethodGet {
		return status != http.StatusNotFound
	}
	return false
}

func (c *Client) unavailable(op, recordID string, status int, body string, err error) error {
	return &domain.StoreError{
		Kind:       domain.ErrStoreUnavailable,
		Op:         op,
		RecordID:   recordID,
		StatusCode: status,
		Body:       body,
		Err:        err,
	}
}

func (c *Client) decode(raw recordJSON) domain.ContentRecord {
	rec := domain.ContentRecord{
		ID:                 raw.ID,
		Title:              stringField(raw.Fields, FieldTitle),
		Body:               stringField(raw.Fields, FieldContent),
		SEOSummary:         stringField(raw.Fields, FieldSEOSummary),
		PrimaryKeyword:     stringField(raw.Fields, FieldPrimaryKeyword),
		AdditionalKeywords: stringField(raw.Fields, FieldAdditionalKeywords),
		RawStatus:          stringField(raw.Fields, FieldStatus),
		RemotePostID:       stringField(raw.Fields, FieldRemotePostID),
	}
	rec.Status = c.decodeStatus(rec.RawStatus, rec.RemotePostID)

	if ts, ok := ParseTimestamp(stringField(raw.Fields, FieldPublishDate), c.location); ok {
		rec.PublishAt = &ts
	}
	if ts, ok := ParseTimestamp(stringField(raw.Fields, FieldCreatedAt), c.location); ok {
		rec.CreatedAt = ts
	} else if ts, ok := ParseTimestamp(raw.CreatedTime, c.location); ok {
		rec.CreatedAt = ts
	}
	return rec
}

func (c *Client) decodeStatus(raw, remotePostID string) domain.Status {
	switch raw {
	case "":
		return domain.StatusUnknown
	case c.statuses.Draft:
		return domain.StatusDraft
	case c.statuses.Scheduled:
		return domain.StatusScheduled
	}

	ready := raw == c.statuses.ReadyToPublish
	published := raw == c.statuses.Published
	switch {
	case ready && published:
		if strings.TrimSpace(remotePostID) != "" {
			return domain.StatusPublished
		}
		return domain.StatusReadyToPublish
	case ready:
		return domain.StatusReadyToPublish
	case published:
		return domain.StatusPublished
	default:
		return domain.StatusUnknown
	}
}

func (c *Client) encodeStatus(status domain.Status) string {
	switch status {
	case domain.StatusDraft:
		return c.statuses.Draft
	case domain.StatusScheduled:
		return c.statuses.Scheduled
	case domain.StatusReadyToPublish:
		return c.statuses.ReadyToPublish
	case domain.StatusPublished:
		return c.statuses.Published
	default:
		return string(status)
	}
}

// ParseTimestamp reads a store timestamp as UTC, then converts it to loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts.In(loc), true
		}
	}
	return time.Time{}, false
}

func sortByPublishAt(records []domain.ContentRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].PublishAt, records[j].PublishAt
		switch {
		case a == nil && b == nil:
			return records[i].ID < records[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		default:
			return records[i].ID < records[j].ID
		}
	})
}

func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}
