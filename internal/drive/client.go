package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"unicode/utf8"

	apperrors "github.com/bedrocktools/bedrock-sync/internal/errors"
	"github.com/tidwall/gjson"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	baseURL       = "https://www.googleapis.com/drive/v3"
	uploadBaseURL = "https://www.googleapis.com/upload/drive/v3"
)

const (
	// listFields restricts listing responses to the metadata the catalog
	// actually consumes.
	listFields = "nextPageToken,files(id,mimeType,name,description)"

	// maxMetadataResponseBytes caps metadata response body reads to
	// prevent a misbehaving server from consuming unbounded memory.
	// Media downloads (world archives) are not capped.
	maxMetadataResponseBytes = 1024 * 1024

	// maxErrorBodyBytes caps how much of a failed response is read for
	// the error message.
	maxErrorBodyBytes = 64 * 1024
)

// Client talks to the remote object store's REST API, scoped to the
// application-private space. It performs no internal retries; transient
// failures are wrapped in TransientError and retry policy belongs to
// the caller.
type Client struct {
	httpClient *http.Client
	baseURL    string
	uploadURL  string
}

// NewClient creates an API client around an authenticated http.Client,
// as produced by NewHTTPClient. A nil httpClient yields an
// unauthenticated Client whose every operation fails with
// ErrNotAuthenticated.
func NewClient(httpClient *http.Client) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		uploadURL:  uploadBaseURL,
	}
}

// IsAuthenticated reports whether the client holds a credential and can
// attempt remote calls.
func (c *Client) IsAuthenticated() bool {
	return c != nil && c.httpClient != nil
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}
	// Ensure valid UTF-8 and replace control characters.
	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends a request and returns the response body on 2xx. Non-2xx
// responses and network failures are turned into errors, classified as
// transient where appropriate. When limit is positive the body read is
// capped at that many bytes.
func (c *Client) do(req *http.Request, limit int64) ([]byte, error) {
	if !c.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("sending request to %s: %w", req.URL.Path, err)
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return nil, &TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%s returned status 401: %w", req.URL.Path, apperrors.ErrNotAuthenticated)
		}

		// The API reports failures as {"error": {"code": ..., "message": ...}}.
		msg := gjson.GetBytes(body, "error.message").Str
		if msg == "" {
			msg = sanitizeResponseBody(body)
		}

		err := fmt.Errorf("%s returned status %d: %s", req.URL.Path, resp.StatusCode, msg)
		if isTransientStatus(resp.StatusCode) {
			return nil, &TransientError{Err: err}
		}

		return nil, err
	}

	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", req.URL.Path, err)
	}

	return body, nil
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// ListAll pages through the application-private space until the server
// stops returning a continuation token. Pages are concatenated in
// server-returned order; no further sorting is applied.
func (c *Client) ListAll(ctx context.Context) ([]Object, error) {
	var (
		files     []Object
		pageToken string
	)

	for {
		q := url.Values{}
		q.Set("spaces", SpaceAppData)
		q.Set("fields", listFields)

		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("creating list request: %w", err)
		}

		body, err := c.do(req, maxMetadataResponseBytes)
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}

		var page fileList
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decoding file list: %w", err)
		}

		files = append(files, page.Files...)

		if page.NextPageToken == "" {
			return files, nil
		}

		pageToken = page.NextPageToken
	}
}

// Find returns the first object in listing order that matches the
// descriptor. Not finding one is a normal outcome, reported through ok,
// not an error.
func (c *Client) Find(ctx context.Context, d Descriptor) (Object, bool, error) {
	files, err := c.ListAll(ctx)
	if err != nil {
		return Object{}, false, err
	}

	for _, f := range files {
		if d.Matches(f) {
			return f, true, nil
		}
	}

	return Object{}, false, nil
}

// Exists reports whether an object matching the descriptor exists.
func (c *Client) Exists(ctx context.Context, d Descriptor) (bool, error) {
	_, ok, err := c.Find(ctx, d)
	return ok, err
}

// GenerateID asks the server to mint one collision-free object id for
// the application-private space.
func (c *Client) GenerateID(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("count", "1")
	q.Set("space", SpaceAppData)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/generateIds?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating generateIds request: %w", err)
	}

	body, err := c.do(req, maxMetadataResponseBytes)
	if err != nil {
		return "", fmt.Errorf("generating file id: %w", err)
	}

	var ids generatedIDs
	if err := json.Unmarshal(body, &ids); err != nil {
		return "", fmt.Errorf("decoding generated ids: %w", err)
	}

	if len(ids.IDs) == 0 {
		return "", fmt.Errorf("server returned no generated ids")
	}

	return ids.IDs[0], nil
}

// Create constructs a new object in the application-private space with
// the descriptor's metadata and returns its id. When the descriptor
// carries no id, one is minted first.
func (c *Client) Create(ctx context.Context, d Descriptor) (string, error) {
	id := d.ID
	if id == "" {
		minted, err := c.GenerateID(ctx)
		if err != nil {
			return "", err
		}

		id = minted
	}

	payload, err := json.Marshal(createRequest{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		MimeType:    d.MimeType,
		Parents:     []string{SpaceAppData},
	})
	if err != nil {
		return "", fmt.Errorf("marshalling create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req, maxMetadataResponseBytes); err != nil {
		return "", fmt.Errorf("creating file %q: %w", d.Name, err)
	}

	return id, nil
}

// CreateIfNecessary creates the object unless one matching the
// descriptor already exists, returning the resolved id either way.
func (c *Client) CreateIfNecessary(ctx context.Context, d Descriptor) (string, error) {
	existing, ok, err := c.Find(ctx, d)
	if err != nil {
		return "", err
	}

	if ok {
		return existing.ID, nil
	}

	return c.Create(ctx, d)
}

// Delete removes the object matching the descriptor. Absence is treated
// as success, not an error.
func (c *Client) Delete(ctx context.Context, d Descriptor) error {
	obj, ok, err := c.Find(ctx, d)
	if err != nil {
		return err
	}

	if !ok {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files/"+url.PathEscape(obj.ID), nil)
	if err != nil {
		return fmt.Errorf("creating delete request: %w", err)
	}

	if _, err := c.do(req, maxMetadataResponseBytes); err != nil {
		return fmt.Errorf("deleting file %s: %w", obj.ID, err)
	}

	return nil
}

// Write replaces the content of an existing object and resubmits its
// metadata, taking each field from the descriptor when set and from the
// current object otherwise. The object must already exist; Write fails
// with ErrNotFound otherwise. Overwrite semantics: prior content is
// fully replaced, never appended to or versioned.
func (c *Client) Write(ctx context.Context, d Descriptor, content []byte) error {
	obj, ok, err := c.Find(ctx, d)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("writing %q: %w", d.Name, apperrors.ErrNotFound)
	}

	meta, err := json.Marshal(updateMetadata{
		Name:        firstNonEmpty(d.Name, obj.Name),
		Description: firstNonEmpty(d.Description, obj.Description),
		MimeType:    firstNonEmpty(d.MimeType, obj.MimeType),
	})
	if err != nil {
		return fmt.Errorf("marshalling update metadata: %w", err)
	}

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")

	part, err := mw.CreatePart(metaHeader)
	if err != nil {
		return fmt.Errorf("creating metadata part: %w", err)
	}

	if _, err := part.Write(meta); err != nil {
		return fmt.Errorf("writing metadata part: %w", err)
	}

	mediaHeader := textproto.MIMEHeader{}

	mediaType := firstNonEmpty(d.MimeType, obj.MimeType)
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	mediaHeader.Set("Content-Type", mediaType)

	part, err = mw.CreatePart(mediaHeader)
	if err != nil {
		return fmt.Errorf("creating media part: %w", err)
	}

	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("writing media part: %w", err)
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("finalizing multipart body: %w", err)
	}

	target := c.uploadURL + "/files/" + url.PathEscape(obj.ID) + "?uploadType=multipart"

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, target, &buf)
	if err != nil {
		return fmt.Errorf("creating update request: %w", err)
	}

	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	if _, err := c.do(req, maxMetadataResponseBytes); err != nil {
		return fmt.Errorf("updating file %s: %w", obj.ID, err)
	}

	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}

	return b
}

// Read fetches the full content of an existing object. Fails with
// ErrNotFound when no object matches the descriptor.
func (c *Client) Read(ctx context.Context, d Descriptor) ([]byte, error) {
	obj, ok, err := c.Find(ctx, d)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("reading %q: %w", d.Name, apperrors.ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+url.PathEscape(obj.ID)+"?alt=media", nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}

	content, err := c.do(req, 0)
	if err != nil {
		return nil, fmt.Errorf("downloading file %s: %w", obj.ID, err)
	}

	return content, nil
}
