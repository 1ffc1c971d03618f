// Package connector resolves a custom connection URI into the parameters
// needed to call the realtime weather API.
//
// The URI is doubly nested: its query value is itself a full API URL with
// its own query string, carrying a base64-encoded credential:
//
//	custom://WeatherRealtimeApiSource?url=<percent-encoded>(
//	    https://api.tomorrow.io/v4/weather/realtime?location=..&units=..&apikey=<base64>)
package connector

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"

	"weather-source/internal/models"
	"weather-source/pkg/logging"
	"weather-source/pkg/secrets"
)

// ConnectionSpec holds the resolved parameters for one API call. APIKey is
// always the decoded plaintext credential from the moment it leaves the
// parser, never the base64 form.
type ConnectionSpec struct {
	BaseURL  string
	Location string
	Units    string // empty when the caller supplied none
	APIKey   string
	Table    string
}

// Parser decodes connection URIs into ConnectionSpecs. Credentials found
// during parsing are registered with the shared redactor so every later
// log line and error message masks them.
type Parser struct {
	logger   *logging.StructuredLogger
	redactor *secrets.Redactor
}

// NewParser creates a new connection URI parser
func NewParser(logger *logging.StructuredLogger, redactor *secrets.Redactor) *Parser {
	return &Parser{
		logger:   logger,
		redactor: redactor,
	}
}

// Parse resolves uri and table into a ConnectionSpec.
//
// The outer URI's query must begin with literal "url="; everything after it
// is percent-decoded into the inner API URL. The inner query must carry
// location (plain text) and apikey (base64); units is optional. Remaining
// inner query parameters are re-encoded onto the reconstructed base URL.
func (p *Parser) Parse(ctx context.Context, uri, table string) (*ConnectionSpec, error) {
	if strings.TrimSpace(table) == "" {
		return nil, &models.ValidationError{Field: "table", Message: "must be a non-empty string"}
	}

	p.logger.Info(ctx, "[URI_PARSE] Parsing connection URI", logging.Fields{
		"uri":   redactURI(uri),
		"table": table,
	})

	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, &InvalidURIError{Message: "unparseable URI", Cause: err}
	}

	if !strings.HasPrefix(parsed.RawQuery, "url=") {
		p.logger.Error(ctx, "[URI_PARSE_ERROR] Expected 'url=' as query parameter", logging.Fields{
			"uri": redactURI(uri),
		}, nil)
		return nil, &InvalidURIError{Message: "missing 'url' parameter in URI"}
	}

	fullURL, err := url.QueryUnescape(parsed.RawQuery[len("url="):])
	if err != nil {
		return nil, &InvalidURIError{Message: "undecodable 'url' value in URI", Cause: err}
	}
	if fullURL == "" {
		p.logger.Error(ctx, "[URI_PARSE_ERROR] Empty 'url' value in URI", logging.Fields{
			"uri": redactURI(uri),
		}, nil)
		return nil, &InvalidURIError{Message: "empty 'url' value in URI"}
	}

	p.logger.Info(ctx, "[URI_PARSE] Extracted inner API URL", logging.Fields{
		"url": redactURI(fullURL),
	})

	inner, err := url.Parse(fullURL)
	if err != nil {
		return nil, &InvalidURIError{Message: "unparseable inner API URL", Cause: err}
	}

	// Blank values are preserved and repeated keys supported; a blank
	// required value is treated the same as an absent one.
	params, err := url.ParseQuery(inner.RawQuery)
	if err != nil {
		return nil, &InvalidURIError{Message: "unparseable inner URL query", Cause: err}
	}

	location := firstValue(params, "location")
	units := firstValue(params, "units")
	encodedKey := firstValue(params, "apikey")

	if location == "" {
		p.logger.Error(ctx, "[URI_PARSE_ERROR] No 'location' parameter in inner URL query", logging.Fields{
			"url": redactURI(fullURL),
		}, nil)
		return nil, &MissingParameterError{Param: "location"}
	}
	if encodedKey == "" {
		p.logger.Error(ctx, "[URI_PARSE_ERROR] No 'apikey' parameter in inner URL query", logging.Fields{
			"url": redactURI(fullURL),
		}, nil)
		return nil, &MissingParameterError{Param: "apikey"}
	}

	// The credential must be masked everywhere from here on, in both its
	// encoded and (once known) decoded forms.
	p.redactor.Add(encodedKey)

	// Location is plain text; decode once more and trim.
	cleaned, err := url.QueryUnescape(location)
	if err != nil {
		return nil, &InvalidURIError{Message: "undecodable 'location' value", Cause: err}
	}
	location = strings.TrimSpace(cleaned)
	if location == "" {
		return nil, &EmptyLocationError{}
	}

	// Reconstruct base_url without the consumed parameters. Any other inner
	// query parameters are re-encoded and kept; original ordering is not
	// preserved.
	remaining := url.Values{}
	for key, values := range params {
		if key == "location" || key == "units" || key == "apikey" {
			continue
		}
		remaining[key] = values
	}

	baseURL := inner.Scheme + "://" + inner.Host + inner.Path
	if encoded := remaining.Encode(); encoded != "" {
		baseURL += "?" + encoded
	}

	apikey, err := decodeCredential(encodedKey)
	if err != nil {
		p.logger.Error(ctx, "[URI_PARSE_ERROR] Failed to decode base64-encoded apikey", logging.Fields{
			"location": location,
		}, err)
		return nil, &InvalidCredentialError{Cause: p.redactor.RedactErr(err)}
	}
	p.redactor.Add(apikey)

	p.logger.Info(ctx, "[URI_PARSE_OK] Weather API credentials decoded successfully", logging.Fields{
		"base_url": baseURL,
		"location": location,
		"units":    units,
		"table":    table,
	})

	return &ConnectionSpec{
		BaseURL:  baseURL,
		Location: location,
		Units:    units,
		APIKey:   apikey,
		Table:    table,
	}, nil
}

// decodeCredential decodes a base64 credential to trimmed UTF-8 text.
func decodeCredential(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", errors.New("decoded apikey is not valid UTF-8 text")
	}
	return strings.TrimSpace(string(raw)), nil
}

// firstValue returns the first value for key, or "" when absent.
func firstValue(params url.Values, key string) string {
	values, ok := params[key]
	if !ok || len(values) == 0 {
		return ""
	}
	return values[0]
}

// redactURI masks everything from the apikey parameter onward, so raw URIs
// can be logged before the credential has been extracted and registered
// with the redactor.
func redactURI(s string) string {
	if idx := strings.Index(s, "apikey="); idx >= 0 {
		return s[:idx] + "apikey=" + secrets.Mask
	}
	return s
}
