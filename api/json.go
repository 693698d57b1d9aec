package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"taskboard/domain"
)

const maxBodySize = 64 << 10

// JSONSerializer makes Echo encode and decode JSON with sonic.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (JSONSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := decodeBody(c, i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}

var errInvalidBody = errors.New("invalid body")

// decodeBody reads a JSON request body, rejecting unknown fields.
func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errInvalidBody, err)
	}
	return nil
}

// parseDate accepts a calendar date (2006-01-02) in loc or an RFC 3339
// timestamp. An empty value is the zero time.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: "dueDate", Err: fmt.Errorf("invalid date %q", s)}
	}
	return t, nil
}

func (r taskRequest) fields(loc *time.Location) (domain.TaskFields, error) {
	due, err := parseDate(r.DueDate, loc)
	if err != nil {
		return domain.TaskFields{}, err
	}
	status, _ := domain.ParseStatus(r.Status)
	category, _ := domain.ParseCategory(r.Category)
	return domain.TaskFields{
		Title:       strings.TrimSpace(r.Title),
		Description: r.Description,
		Category:    category,
		Status:      status,
		DueDate:     due,
	}, nil
}
