// Package endor is a minimal client for the Endor Labs REST API covering the
// calls retag needs: API key authentication, project namespace lookup, finding
// listing and tag updates.
package endor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dyluth/retag/internal/config"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/dyluth/retag/internal/endor"

// maxErrorBody bounds how much of an error response is kept in a ServiceError.
const maxErrorBody = 4096

// Client talks to the findings service. It is not safe for concurrent use:
// the token and namespace caches are unguarded.
type Client struct {
	httpClient *http.Client
	baseURL    string
	namespace  string
	apiKey     string
	apiSecret  string
	limiter    *rate.Limiter
	tracer     trace.Tracer
	logger     *slog.Logger
	runID      string

	token      string
	namespaces map[string]string // project UUID -> namespace
}

// NewClient creates a client from cfg. runID is sent as X-Request-ID on every
// request so server-side logs can be correlated with a retag run. A nil tracer
// uses the global provider.
func NewClient(cfg *config.Config, logger *slog.Logger, runID string, tracer trace.Tracer) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		namespace:  cfg.Namespace,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst),
		tracer:     tracer,
		logger:     logger.With("component", "endor"),
		runID:      runID,
		namespaces: make(map[string]string),
	}
}

// ListFindings returns every finding in the project whose tags contain tag.
// An empty branch scopes the query to the project's main context; otherwise
// the branch context with that ID is used. All pages are collected; a failure
// on any page fails the whole listing, as does a page token the service has
// already handed out.
func (c *Client) ListFindings(ctx context.Context, projectUUID, tag, branch string) ([]Finding, error) {
	ctx, span := c.tracer.Start(ctx, "endor.ListFindings",
		trace.WithAttributes(
			attribute.String("project_uuid", projectUUID),
			attribute.String("tag", tag),
			attribute.String("branch", branch),
		))
	defer span.End()

	namespace, err := c.ProjectNamespace(ctx, projectUUID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	filter := FindingsFilter(projectUUID, tag, branch)
	c.logger.Debug("listing findings", "namespace", namespace, "filter", filter)

	var (
		findings  []Finding
		pageToken string
		pages     int
		seen      = make(map[string]struct{})
	)
	for {
		query := url.Values{}
		query.Set("list_parameters.filter", filter)
		query.Set("list_parameters.traverse", "true")
		if pageToken != "" {
			query.Set("list_parameters.page_token", pageToken)
		}

		var page listResponse[Finding]
		path := fmt.Sprintf("/namespaces/%s/findings", url.PathEscape(namespace))
		if err := c.do(ctx, "failed to fetch findings", http.MethodGet, path, query, nil, &page); err != nil {
			recordError(span, err)
			return nil, err
		}

		findings = append(findings, page.List.Objects...)
		pages++

		pageToken = page.List.Response.NextPageToken
		if pageToken == "" {
			break
		}
		if _, ok := seen[pageToken]; ok {
			err := &ServiceError{
				Op:         "failed to fetch findings",
				StatusCode: http.StatusOK,
				Message:    fmt.Sprintf("repeated page token %q after %d pages", pageToken, pages),
			}
			recordError(span, err)
			return nil, err
		}
		seen[pageToken] = struct{}{}
	}

	for i := range findings {
		if findings[i].TenantMeta.Namespace == "" {
			findings[i].TenantMeta.Namespace = namespace
		}
	}

	span.SetAttributes(
		attribute.Int("findings_count", len(findings)),
		attribute.Int("pages", pages),
	)
	c.logger.Debug("listed findings", "count", len(findings), "pages", pages)

	return findings, nil
}

// UpdateFindingTags replaces the tag list of finding f with tags.
// Only meta.tags is written.
func (c *Client) UpdateFindingTags(ctx context.Context, f Finding, tags []string) error {
	ctx, span := c.tracer.Start(ctx, "endor.UpdateFindingTags",
		trace.WithAttributes(
			attribute.String("finding_uuid", f.UUID),
			attribute.StringSlice("tags", tags),
		))
	defer span.End()

	namespace := f.TenantMeta.Namespace
	if namespace == "" {
		namespace = c.namespaces[f.Spec.ProjectUUID]
	}
	if namespace == "" {
		namespace = c.namespace
	}

	var body updateRequest
	body.Request.UpdateMask = "meta.tags"
	body.Object.UUID = f.UUID
	body.Object.Meta.Tags = tags
	if body.Object.Meta.Tags == nil {
		body.Object.Meta.Tags = []string{}
	}

	path := fmt.Sprintf("/namespaces/%s/findings", url.PathEscape(namespace))
	if err := c.do(ctx, "failed to update finding "+f.UUID, http.MethodPatch, path, nil, body, nil); err != nil {
		recordError(span, err)
		return err
	}

	return nil
}

// ProjectNamespace resolves the namespace a project lives in, searching child
// namespaces of the configured tenant. Results are cached per project.
func (c *Client) ProjectNamespace(ctx context.Context, projectUUID string) (string, error) {
	if ns, ok := c.namespaces[projectUUID]; ok {
		return ns, nil
	}

	query := url.Values{}
	query.Set("list_parameters.filter", fmt.Sprintf("uuid==%q", projectUUID))
	query.Set("list_parameters.traverse", "true")

	var resp listResponse[project]
	path := fmt.Sprintf("/namespaces/%s/projects", url.PathEscape(c.namespace))
	if err := c.do(ctx, "failed to fetch project details", http.MethodGet, path, query, nil, &resp); err != nil {
		return "", err
	}

	if len(resp.List.Objects) == 0 {
		return "", &ServiceError{
			Op:         "failed to fetch project details",
			StatusCode: http.StatusNotFound,
			Message:    "no project found with UUID: " + projectUUID,
		}
	}

	ns := resp.List.Objects[0].TenantMeta.Namespace
	if ns == "" {
		ns = c.namespace
	}
	c.namespaces[projectUUID] = ns
	c.logger.Debug("resolved project namespace", "project_uuid", projectUUID, "namespace", ns)

	return ns, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// FindingsFilter builds the list filter selecting findings of projectUUID
// tagged with tag, in the given branch context or the main context.
func FindingsFilter(projectUUID, tag, branch string) string {
	if branch != "" {
		return fmt.Sprintf("context.id==%s and spec.project_uuid==%s and meta.tags CONTAINS %q", branch, projectUUID, tag)
	}
	return fmt.Sprintf("context.type==CONTEXT_TYPE_MAIN and spec.project_uuid==%s and meta.tags CONTAINS %q", projectUUID, tag)
}

// authenticate exchanges the API key and secret for a bearer token once per client.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	if c.token != "" {
		return c.token, nil
	}

	var resp authResponse
	body := authRequest{Key: c.apiKey, Secret: c.apiSecret}
	if err := c.send(ctx, "failed to get token", http.MethodPost, "/auth/api-key", nil, body, &resp, ""); err != nil {
		return "", err
	}

	if resp.Token == "" {
		return "", &ServiceError{Op: "failed to get token", StatusCode: http.StatusOK, Message: "response contained no token"}
	}

	c.token = resp.Token
	return c.token, nil
}

// do performs an authenticated request.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	token, err := c.authenticate(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, op, method, path, query, in, out, token)
}

// send issues one rate-limited request. Any transport failure or non-2xx
// status is returned as a *ServiceError.
func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, in, out any, token string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &ServiceError{Op: op, Message: "rate limiter wait failed", Err: err}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", c.runID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ServiceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("api request", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
	}

	return nil
}
