package api

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// bearerToken extracts the JWT from an Authorization header value.
func bearerToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || token == "" || strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

// authHeader returns the Authorization header, falling back to the token
// query parameter that EventSource clients use.
func authHeader(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		return h
	}
	if token := c.QueryParam("token"); token != "" {
		return "Bearer " + token
	}
	return ""
}
