package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dkorolevs/papersync/internal/logging"
	"github.com/dkorolevs/papersync/internal/models"
)

const healthPath = "/api/status/"

// HTTPClient implements Client against the server's JSON REST API.
// Metadata calls and the multipart submit use separate http.Clients so a
// slow upload does not inherit the short request timeout.
type HTTPClient struct {
	baseURL   *url.URL
	token     string
	http      *http.Client
	uploading *http.Client
	log       logging.Logger
}

// NewHTTPClient returns a client for the server at baseURL authenticating
// with the given token.
func NewHTTPClient(baseURL, token string, opts Options, log logging.Logger) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url: %q", baseURL)
	}

	return &HTTPClient{
		baseURL:   u,
		token:     token,
		http:      &http.Client{Timeout: opts.RequestTimeout},
		uploading: &http.Client{Timeout: opts.UploadTimeout},
		log:       log,
	}, nil
}

// Options carries the transport timeouts.
type Options struct {
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
}

func entityPath(t models.EntityType) string {
	switch t {
	case models.EntityTypeTag:
		return "/api/tags/"
	case models.EntityTypeCorrespondent:
		return "/api/correspondents/"
	case models.EntityTypeDocumentType:
		return "/api/document_types/"
	case models.EntityTypeDocument:
		return "/api/documents/"
	default:
		return "/api/" + string(t) + "s/"
	}
}

func (c *HTTPClient) absolute(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

func (c *HTTPClient) newRequest(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// mapError converts a non-2xx response into the package error taxonomy.
// The body is consumed for the error detail.
func mapError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusBadRequest:
		return &ValidationError{Message: detail}
	case resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("http %d: %s", resp.StatusCode, detail)}
	default:
		return fmt.Errorf("http %d: %s", resp.StatusCode, detail)
	}
}

// mapTransportError wraps a failed round trip. Everything that did not
// reach the server is worth retrying.
func mapTransportError(err error) error {
	return &TransientError{Err: fmt.Errorf("%w: %v", ErrServerUnreachable, err)}
}

// CheckHealth probes the status endpoint and classifies the result.
func (c *HTTPClient) CheckHealth(ctx context.Context) HealthStatus {
	req, err := c.newRequest(ctx, http.MethodGet, c.absolute(healthPath), nil, "")
	if err != nil {
		return HealthStatus{Kind: HealthError, Message: err.Error()}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyProbeError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// Any response proves the server answers, with one deliberate
	// exception: 404 on the status path means a reverse proxy answered
	// for a dead backend.
	if resp.StatusCode == http.StatusNotFound {
		return HealthStatus{Kind: HealthError, Message: "status endpoint not found (reverse proxy without backend?)"}
	}
	return HealthStatus{Kind: HealthSuccess}
}

func classifyProbeError(err error) HealthStatus {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return HealthStatus{Kind: HealthDNSFailure, Message: dnsErr.Error()}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return HealthStatus{Kind: HealthConnectionRefused, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return HealthStatus{Kind: HealthTimeout, Message: err.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return HealthStatus{Kind: HealthTimeout, Message: err.Error()}
	}
	return HealthStatus{Kind: HealthError, Message: err.Error()}
}

// page mirrors the server's paginated list envelope.
type page struct {
	Count   int               `json:"count"`
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results"`
}

// entityProbe pulls the identity fields out of one result; documents use
// title where the dropdown types use name.
type entityProbe struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

func decodeEntity(raw json.RawMessage) (models.Entity, error) {
	var p entityProbe
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.Entity{}, fmt.Errorf("failed to decode entity: %w", err)
	}
	name := p.Name
	if name == "" {
		name = p.Title
	}
	return models.Entity{ID: p.ID, Name: name, Extra: raw}, nil
}

// ListEntities fetches the authoritative set of one type, following the
// pagination links.
func (c *HTTPClient) ListEntities(ctx context.Context, t models.EntityType) ([]models.Entity, error) {
	next := c.absolute(entityPath(t))

	var result []models.Entity
	for next != "" {
		req, err := c.newRequest(ctx, http.MethodGet, next, nil, "")
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, mapTransportError(err)
		}

		var pg page
		func() {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				err = mapError(resp)
				return
			}
			err = json.NewDecoder(resp.Body).Decode(&pg)
		}()
		if err != nil {
			return nil, err
		}

		for _, raw := range pg.Results {
			e, err := decodeEntity(raw)
			if err != nil {
				return nil, err
			}
			result = append(result, e)
		}

		next = ""
		if pg.Next != nil {
			next = *pg.Next
		}
	}
	return result, nil
}

func (c *HTTPClient) sendEntity(ctx context.Context, method, rawURL string, payload json.RawMessage) (*models.Entity, error) {
	req, err := c.newRequest(ctx, method, rawURL, bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, mapError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	e, err := decodeEntity(raw)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEntity creates one entity from the queued payload.
func (c *HTTPClient) CreateEntity(ctx context.Context, t models.EntityType, payload json.RawMessage) (*models.Entity, error) {
	return c.sendEntity(ctx, http.MethodPost, c.absolute(entityPath(t)), payload)
}

// UpdateEntity patches one entity.
func (c *HTTPClient) UpdateEntity(ctx context.Context, t models.EntityType, id int64, payload json.RawMessage) (*models.Entity, error) {
	return c.sendEntity(ctx, http.MethodPatch, c.absolute(entityPath(t))+strconv.FormatInt(id, 10)+"/", payload)
}

// DeleteEntity deletes one entity; 404 counts as done.
func (c *HTTPClient) DeleteEntity(ctx context.Context, t models.EntityType, id int64) error {
	rawURL := c.absolute(entityPath(t)) + strconv.FormatInt(id, 10) + "/"
	req, err := c.newRequest(ctx, http.MethodDelete, rawURL, nil, "")
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return mapTransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK ||
		resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return mapError(resp)
}

// UploadDocument submits all source files and metadata in one multipart
// request. The multi-page invariant hangs on this: either every page is
// in the accepted request, or nothing was created server-side.
func (c *HTTPClient) UploadDocument(ctx context.Context, r *UploadRequest) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, uri := range r.SourceURIs {
		if err := attachFile(w, uri); err != nil {
			return "", err
		}
	}
	if r.Title != "" {
		if err := w.WriteField("title", r.Title); err != nil {
			return "", err
		}
	}
	for _, id := range r.TagIDs {
		if err := w.WriteField("tags", strconv.FormatInt(id, 10)); err != nil {
			return "", err
		}
	}
	if r.CorrespondentID != nil {
		if err := w.WriteField("correspondent", strconv.FormatInt(*r.CorrespondentID, 10)); err != nil {
			return "", err
		}
	}
	if r.DocumentTypeID != nil {
		if err := w.WriteField("document_type", strconv.FormatInt(*r.DocumentTypeID, 10)); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	rawURL := c.absolute("/api/documents/post_document/")
	req, err := c.newRequest(ctx, http.MethodPost, rawURL, &buf, w.FormDataContentType())
	if err != nil {
		return "", err
	}

	resp, err := c.uploading.Do(req)
	if err != nil {
		return "", mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", mapError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read task id: %w", err)
	}

	// The task id comes back either as a JSON string or as plain text.
	var taskID string
	if err := json.Unmarshal(body, &taskID); err != nil {
		taskID = strings.TrimSpace(string(body))
	}
	return taskID, nil
}

// attachFile streams one local file into the multipart body. A missing
// source file is a validation-class failure: retrying will not bring the
// file back.
func attachFile(w *multipart.Writer, uri string) error {
	f, err := os.Open(uri)
	if err != nil {
		return &ValidationError{Message: fmt.Sprintf("source file unavailable: %v", err)}
	}
	defer f.Close()

	part, err := w.CreateFormFile("document", filepath.Base(uri))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return nil
}
