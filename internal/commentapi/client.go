// Package commentapi binds comment operations to the portal backend, one
// binding per actor role, and picks the binding a call should use.
package commentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"portal/threads/internal/comment"
	"portal/threads/internal/rbac"
)

type PageQuery struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

type Page struct {
	Comments   []*comment.Comment `json:"comments"`
	Pagination Pagination         `json:"pagination"`
}

// Last reports whether no further page should be requested.
func (p Page) Last() bool {
	if p.Pagination.HasMore {
		return false
	}
	if p.Pagination.TotalPages > 0 {
		return p.Pagination.Page >= p.Pagination.TotalPages
	}
	return true
}

type CreateInput struct {
	Scope       comment.Scope
	ParentID    *int64
	Text        string
	IsAnonymous bool
}

// Binding is the role-scoped set of comment operations.
type Binding interface {
	Fetch(ctx context.Context, scope comment.Scope, query PageQuery) (Page, error)
	Create(ctx context.Context, input CreateInput) (*comment.Comment, error)
	Edit(ctx context.Context, id int64, text string) (*comment.Comment, error)
	Delete(ctx context.Context, id int64) error
	React(ctx context.Context, id int64, reactionID string) error
	Unreact(ctx context.Context, id int64) error
	Flag(ctx context.Context, id int64, reason string) error
}

// Client is the HTTP Binding for one role.
type Client struct {
	baseURL string
	role    rbac.Role
	token   string
	http    *http.Client
	log     *zap.Logger
	tracer  trace.Tracer
}

var _ Binding = (*Client)(nil)

func NewClient(baseURL string, role rbac.Role, token string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		role:    role,
		token:   token,
		http:    httpClient,
		log:     log.Named("commentapi").With(zap.String("role", string(role))),
		tracer:  otel.Tracer("portal/threads/commentapi"),
	}
}

func (c *Client) Role() rbac.Role {
	return c.role
}

func scopePath(scope comment.Scope) (string, error) {
	switch scope.Kind {
	case comment.ScopeAnnouncement:
		return "/announcements/" + strconv.FormatInt(scope.ID, 10) + "/comments", nil
	case comment.ScopeCalendarEvent:
		return "/calendar-events/" + strconv.FormatInt(scope.ID, 10) + "/comments", nil
	default:
		return "", Validation("unknown comment scope")
	}
}

func commentPath(id int64, suffix string) string {
	return "/comments/" + strconv.FormatInt(id, 10) + suffix
}

func (c *Client) Fetch(ctx context.Context, scope comment.Scope, query PageQuery) (Page, error) {
	path, err := scopePath(scope)
	if err != nil {
		return Page{}, err
	}
	params := url.Values{}
	if query.Page > 0 {
		params.Set("page", strconv.Itoa(query.Page))
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.SortBy != "" {
		params.Set("sortBy", query.SortBy)
	}
	if query.SortOrder != "" {
		params.Set("sortOrder", query.SortOrder)
	}

	var page Page
	if err := c.do(ctx, "Fetch", http.MethodGet, path, params, nil, &page); err != nil {
		return Page{}, err
	}
	if page.Comments == nil {
		page.Comments = []*comment.Comment{}
	}
	return page, nil
}

type createRequest struct {
	ThreadID        *int64 `json:"threadId,omitempty"`
	CalendarEventID *int64 `json:"calendarEventId,omitempty"`
	ParentID        *int64 `json:"parentId"`
	Text            string `json:"text"`
	IsAnonymous     bool   `json:"isAnonymous"`
}

func (c *Client) Create(ctx context.Context, input CreateInput) (*comment.Comment, error) {
	if !input.Scope.Valid() {
		return nil, Validation("unknown comment scope")
	}
	body := createRequest{ParentID: input.ParentID, Text: input.Text, IsAnonymous: input.IsAnonymous}
	id := input.Scope.ID
	if input.Scope.Kind == comment.ScopeAnnouncement {
		body.ThreadID = &id
	} else {
		body.CalendarEventID = &id
	}

	var created comment.Comment
	if err := c.do(ctx, "Create", http.MethodPost, "/comments", nil, body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) Edit(ctx context.Context, id int64, text string) (*comment.Comment, error) {
	var edited comment.Comment
	body := map[string]string{"text": text}
	if err := c.do(ctx, "Edit", http.MethodPut, commentPath(id, ""), nil, body, &edited); err != nil {
		return nil, err
	}
	return &edited, nil
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, "Delete", http.MethodDelete, commentPath(id, ""), nil, nil, nil)
}

func (c *Client) React(ctx context.Context, id int64, reactionID string) error {
	body := map[string]string{"reactionId": reactionID}
	return c.do(ctx, "React", http.MethodPost, commentPath(id, "/reactions"), nil, body, nil)
}

func (c *Client) Unreact(ctx context.Context, id int64) error {
	return c.do(ctx, "Unreact", http.MethodDelete, commentPath(id, "/reactions"), nil, nil, nil)
}

func (c *Client) Flag(ctx context.Context, id int64, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, "Flag", http.MethodPost, commentPath(id, "/flag"), nil, body, nil)
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "commentapi."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("portal.role", string(c.role)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	endpoint := c.baseURL + "/api/" + string(c.role) + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return Validation(fmt.Sprintf("encode %s request: %v", op, marshalErr))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return Normalize(fmt.Errorf("build %s request: %w", op, err))
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("comment api request failed", zap.String("op", op), zap.String("request_id", requestID), zap.Error(err))
		return Normalize(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	c.log.Debug("comment api request",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
	)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &payload)
		return fromStatus(resp.StatusCode, payload.Code, payload.Error)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &Error{Kind: KindServer, Status: resp.StatusCode, Code: "INVALID_RESPONSE", Message: "invalid response body", Err: err}
	}
	return nil
}
