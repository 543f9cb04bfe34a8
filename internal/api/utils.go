package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/inventory/internal/inventory"
	"evalgo.org/inventory/models"
)

// maxStateBody caps the size of a state token request body.
const maxStateBody = 1024

// imageQuery builds an image listing query from the request parameters.
// ValidateQueryParams has already rejected malformed values.
func imageQuery(c echo.Context) models.ImageQuery {
	state, _ := models.ParseImageState(c.QueryParam("image_state"))
	return models.ImageQuery{
		ElementRole:     c.QueryParam("element_role"),
		PlatformChipset: c.QueryParam("platform_chipset"),
		ImageType:       c.QueryParam("image_type"),
		ImageState:      state,
		ImageVersion:    c.QueryParam("image_version"),
		Filter:          c.QueryParam("filter"),
	}
}

// applicabilityQuery builds the query of GET /images/_applicable.
func applicabilityQuery(c echo.Context) (inventory.ApplicabilityQuery, error) {
	q := inventory.ApplicabilityQuery{
		Role:      c.QueryParam("element_role"),
		Chipset:   c.QueryParam("platform_chipset"),
		ImageType: c.QueryParam("image_type"),
	}
	if v := c.QueryParam("installed_version"); v != "" {
		after, err := models.ParseVersion(v)
		if err != nil {
			return q, BadRequestError("Invalid installed_version", err.Error())
		}
		q.After = after
	}
	return q, nil
}

// readStateToken reads an image state from the request body. The body is
// either a JSON string or a bare token.
func readStateToken(c echo.Context) (models.ImageState, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxStateBody))
	if err != nil {
		return "", BadRequestError("Failed to read request body", err.Error())
	}

	token := strings.TrimSpace(string(body))
	if strings.HasPrefix(token, `"`) {
		if err := json.Unmarshal([]byte(token), &token); err != nil {
			return "", BadRequestError("Invalid image state", err.Error())
		}
	}
	if token == "" {
		return "", BadRequestError("Missing image state", "request body must contain an image state")
	}

	state, err := models.ParseImageState(token)
	if err != nil {
		return "", BadRequestError("Invalid image state", err.Error())
	}
	return state, nil
}

// bindJSON decodes a JSON or JSON-LD request body into v. Unknown fields
// such as @context are ignored.
func bindJSON(c echo.Context, v interface{}) error {
	req := c.Request()
	if req.Body == nil || req.ContentLength == 0 {
		return BadRequestError("Invalid request body", "request body is empty")
	}
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return BadRequestError("Invalid request body", "request body is empty")
		}
		return BadRequestError("Invalid request body", "Failed to parse JSON: "+err.Error())
	}
	return nil
}

// createdStatus returns 201 for created resources and 200 for updates.
func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}
