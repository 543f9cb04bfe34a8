// Package client is a small HTTP client for the inventory REST API.
package client

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

	"evalgo.org/inventory/internal/validation"
	"evalgo.org/inventory/models"
)

const apiPrefix = "/api/v1"

// Error is returned for non-2xx responses.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("inventory api: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Query filters ListImages.
type Query struct {
	Role      string
	Chipset   string
	ImageType string
	State     models.ImageState
	Filter    string
	Limit     int
}

type imagesPage struct {
	Images []*models.Image `json:"images"`
}

// ListImages returns the images matching q.
func (c *Client) ListImages(ctx context.Context, q Query) ([]*models.Image, error) {
	params := url.Values{}
	setParam(params, "element_role", q.Role)
	setParam(params, "platform_chipset", q.Chipset)
	setParam(params, "image_type", q.ImageType)
	setParam(params, "image_state", string(q.State))
	setParam(params, "filter", q.Filter)
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var page imagesPage
	if err := c.do(ctx, http.MethodGet, "/images", params, nil, &page); err != nil {
		return nil, err
	}
	return page.Images, nil
}

// GetImage fetches one image by ID.
func (c *Client) GetImage(ctx context.Context, id string) (*models.Image, error) {
	var img models.Image
	if err := c.do(ctx, http.MethodGet, "/images/"+url.PathEscape(id), nil, nil, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

// ElementImages fetches the images installed on an element together with
// their available upgrades.
func (c *Client) ElementImages(ctx context.Context, elementID string) (*models.ElementImages, error) {
	var images models.ElementImages
	path := "/elements/" + url.PathEscape(elementID) + "/images"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &images); err != nil {
		return nil, err
	}
	return &images, nil
}

// ValidateImage submits an image document to the validation endpoint. An
// invalid document is not an error; it is reported in the result.
func (c *Client) ValidateImage(ctx context.Context, document []byte) (*validation.ValidationResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/validate/image", nil, bytes.NewReader(document))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return nil, responseError(resp)
	}

	var result validation.ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + apiPrefix + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, params, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func responseError(resp *http.Response) error {
	var body struct {
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
	}
	return &Error{StatusCode: resp.StatusCode, Message: body.Message}
}

func setParam(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}
