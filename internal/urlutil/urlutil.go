// Package urlutil validates and redacts the outbound URLs reelcast calls.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Supported URL schemes.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// sensitiveParams are query parameters whose values are masked by Redact.
var sensitiveParams = []string{
	"password", "pass", "token", "api_key", "apikey", "key", "secret", "auth",
}

// ValidateURL checks that u is an absolute http or https URL with a host.
func ValidateURL(u string) error {
	if u == "" {
		return fmt.Errorf("URL is required")
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case SchemeHTTP, SchemeHTTPS:
	case "":
		return fmt.Errorf("URL must include a scheme (http:// or https://)")
	default:
		return fmt.Errorf("unsupported URL scheme: %s (supported: http, https)", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

// Redact returns u with userinfo and sensitive query values masked, for
// logging.
func Redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	sanitized := *u
	if sanitized.User != nil {
		sanitized.User = url.User("***")
	}
	query := sanitized.Query()
	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	sanitized.RawQuery = query.Encode()
	return sanitized.String()
}

// RedactString parses and redacts raw. Unparseable input is returned as a
// fixed placeholder so it never reaches the logs.
func RedactString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return Redact(u)
}
