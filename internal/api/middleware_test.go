package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/inventory/models"
)

// runMiddleware passes req through mw in front of a handler answering 200.
func runMiddleware(mw echo.MiddlewareFunc, req *http.Request, setup func(echo.Context)) (echo.Context, error) {
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	if setup != nil {
		setup(c)
	}
	err := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	return c, err
}

func assertStatus(t *testing.T, err error, want int) {
	t.Helper()
	if want == http.StatusOK {
		assert.NoError(t, err)
		return
	}
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, want, apiErr.Code)
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		want        int
	}{
		{"image as json", http.MethodPost, "application/json", `{"image_name":"leaf-os"}`, http.StatusOK},
		{"image as json-ld", http.MethodPost, "application/ld+json", `{"@type":"Image"}`, http.StatusOK},
		{"json with charset", http.MethodPut, "application/json; charset=utf-8", `{}`, http.StatusOK},
		{"bare state token", http.MethodPut, "text/plain", "RELEASE", http.StatusOK},
		{"xml rejected", http.MethodPost, "application/xml", "<image/>", http.StatusBadRequest},
		{"form rejected", http.MethodPut, "application/x-www-form-urlencoded", "image_state=NEW", http.StatusBadRequest},
		{"empty body", http.MethodPost, "", "", http.StatusOK},
		{"reads are not checked", http.MethodGet, "text/html", "", http.StatusOK},
		{"deletes are not checked", http.MethodDelete, "text/html", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/images", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set(echo.HeaderContentType, tt.contentType)
			}
			_, err := runMiddleware(ValidateContentType, req, nil)
			assertStatus(t, err, tt.want)
		})
	}
}

func TestValidateAcceptHeader(t *testing.T) {
	tests := []struct {
		accept string
		want   int
	}{
		{"", http.StatusOK},
		{"application/json", http.StatusOK},
		{"*/*", http.StatusOK},
		{"application/*", http.StatusOK},
		{"text/html,application/json;q=0.9,*/*;q=0.8", http.StatusOK},
		{"text/html", http.StatusBadRequest},
		{"application/xml", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run("accept "+tt.accept, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/images", nil)
			if tt.accept != "" {
				req.Header.Set(echo.HeaderAccept, tt.accept)
			}
			_, err := runMiddleware(ValidateAcceptHeader, req, nil)
			assertStatus(t, err, tt.want)
		})
	}
}

func TestValidateIDFormat(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want int
	}{
		{"image uuid", models.NewID(), http.StatusOK},
		{"element name", "leaf-01", http.StatusOK},
		{"shortest id", "sw1", http.StatusOK},
		{"no id param", "", http.StatusOK},
		{"too short", "s1", http.StatusBadRequest},
		{"contains space", "leaf 01", http.StatusBadRequest},
		{"too long", strings.Repeat("a", 257), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/elements/x/images", nil)
			_, err := runMiddleware(ValidateIDFormat, req, func(c echo.Context) {
				c.SetParamNames("id")
				c.SetParamValues(tt.id)
			})
			assertStatus(t, err, tt.want)
		})
	}
}

func TestValidateQueryParams(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"no parameters", "", http.StatusOK},
		{"state token is case insensitive", "image_state=candidate", http.StatusOK},
		{"unknown state", "image_state=BROKEN", http.StatusBadRequest},
		{"paging", "limit=50&offset=10", http.StatusOK},
		{"negative offset", "offset=-1", http.StatusBadRequest},
		{"non-numeric limit", "limit=all", http.StatusBadRequest},
		{"pre-release installed version", "installed_version=1.2.3-rc1", http.StatusOK},
		{"four segment installed version", "installed_version=1.2.3.4", http.StatusBadRequest},
		{"partial installed version", "installed_version=1.2", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/images/_applicable?"+tt.query, nil)
			_, err := runMiddleware(ValidateQueryParams, req, nil)
			assertStatus(t, err, tt.want)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/images", nil)
	c, err := runMiddleware(SecurityHeaders, req, nil)
	require.NoError(t, err)

	headers := c.Response().Header()
	assert.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	assert.Equal(t, "1; mode=block", headers.Get("X-XSS-Protection"))
	assert.Equal(t, "strict-origin-when-cross-origin", headers.Get("Referrer-Policy"))
}
