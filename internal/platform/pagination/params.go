package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size.
	DefaultMaxPageSize = 100

	maxFilterValueLength = 64
)

var (
	ErrInvalidPageSize = errors.New("pagination: invalid page_size")
	ErrInvalidFilter   = errors.New("pagination: invalid filter")
)

// Options control how Parse behaves for a list endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// Filters maps accepted equality filter parameters to their allowed values.
	// A nil value slice accepts any value.
	Filters map[string][]string
}

// Params are the list parameters parsed from a query string.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Filters   map[string]string
}

// Parse reads page_size, page_token and the configured equality filters.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}
	pageSize, err := parsePageSize(values.Get("page_size"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}

	if raw := strings.TrimSpace(values.Get("page_token")); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}

	for name, allowed := range opts.Filters {
		raw := strings.TrimSpace(values.Get(name))
		if raw == "" {
			continue
		}
		if len(raw) > maxFilterValueLength {
			return Params{}, fmt.Errorf("%w: %s is too long", ErrInvalidFilter, name)
		}
		if allowed != nil && !contains(allowed, raw) {
			return Params{}, fmt.Errorf("%w: %s=%q is not supported", ErrInvalidFilter, name, raw)
		}
		if params.Filters == nil {
			params.Filters = make(map[string]string, len(opts.Filters))
		}
		params.Filters[name] = raw
	}
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	def := opts.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	if def > maxSize {
		def = maxSize
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	if value > maxSize {
		value = maxSize
	}
	return value, nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
