package api

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/inventory/models"
)

// accepted request body media types; text/plain carries bare state tokens
var bodyMediaTypes = []string{"application/json", "application/ld+json", "text/plain"}

// ValidateContentType middleware ensures that requests with a body have the correct Content-Type
func ValidateContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Request().Method

		// Only check POST, PUT, PATCH requests
		if method == "POST" || method == "PUT" || method == "PATCH" {
			contentType := c.Request().Header.Get("Content-Type")

			// Allow empty body for some requests
			if c.Request().ContentLength == 0 {
				return next(c)
			}

			if !hasMediaType(contentType, bodyMediaTypes) {
				return BadRequestError(
					"Invalid Content-Type",
					"Content-Type must be 'application/json' or 'text/plain'. Got: "+contentType,
				)
			}
		}

		return next(c)
	}
}

// ValidateAcceptHeader middleware ensures that clients can accept JSON responses
func ValidateAcceptHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		accept := c.Request().Header.Get("Accept")

		// If no Accept header, assume */*
		if accept == "" {
			return next(c)
		}

		// Check if Accept includes application/json or */*
		if !strings.Contains(accept, "application/json") &&
			!strings.Contains(accept, "*/*") &&
			!strings.Contains(accept, "application/*") {
			return BadRequestError(
				"Invalid Accept header",
				"API only returns JSON. Accept header must include 'application/json' or '*/*'. Got: "+accept,
			)
		}

		return next(c)
	}
}

// ValidateIDFormat middleware validates that resource IDs follow expected patterns
func ValidateIDFormat(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		// If no ID param, skip validation
		if id == "" {
			return next(c)
		}

		// Check for invalid characters
		if strings.Contains(id, " ") {
			return BadRequestError(
				"Invalid ID format",
				"ID cannot contain spaces",
			)
		}

		// Check for minimum length
		if len(id) < 3 {
			return BadRequestError(
				"Invalid ID format",
				"ID must be at least 3 characters long",
			)
		}

		// Check for maximum length
		if len(id) > 256 {
			return BadRequestError(
				"Invalid ID format",
				"ID must not exceed 256 characters",
			)
		}

		return next(c)
	}
}

// ValidateQueryParams middleware validates the paging and image state
// query parameters of listings.
func ValidateQueryParams(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		for _, name := range []string{"limit", "offset"} {
			value := c.QueryParam(name)
			if value == "" {
				continue
			}
			if n, err := strconv.Atoi(value); err != nil || n < 0 {
				return BadRequestError(
					"Invalid "+name+" parameter",
					name+" must be a non-negative integer. Got: "+value,
				)
			}
		}

		if state := c.QueryParam("image_state"); state != "" {
			if _, err := models.ParseImageState(state); err != nil {
				return BadRequestError(
					"Invalid image_state parameter",
					"image_state must be one of: NEW, CANDIDATE, RELEASE, SUPERSEDED, REVOKED. Got: "+state,
				)
			}
		}

		if version := c.QueryParam("installed_version"); version != "" {
			if _, err := models.ParseVersion(version); err != nil {
				return BadRequestError("Invalid installed_version parameter", err.Error())
			}
		}

		return next(c)
	}
}

// SecurityHeaders middleware adds security headers to responses
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Add security headers
		c.Response().Header().Set("X-Content-Type-Options", "nosniff")
		c.Response().Header().Set("X-Frame-Options", "DENY")
		c.Response().Header().Set("X-XSS-Protection", "1; mode=block")
		c.Response().Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		return next(c)
	}
}

func hasMediaType(contentType string, accepted []string) bool {
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	for _, a := range accepted {
		if strings.EqualFold(mediaType, a) {
			return true
		}
	}
	return false
}
