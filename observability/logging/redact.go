package logging

import (
	"errors"
	"net/url"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// MaskURL keeps the scheme and host of an endpoint and hides everything that
// commonly carries provider API keys: userinfo, path and query.
func MaskURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return RedactedValue
	}
	masked := parsed.Scheme + "://" + parsed.Host
	if parsed.User != nil || (parsed.Path != "" && parsed.Path != "/") || parsed.RawQuery != "" {
		masked += "/" + RedactedValue
	}
	return masked
}

// ScrubURLError masks the endpoint of the first *url.Error in err's chain.
// The error is modified in place so errors.Is and errors.As keep working.
func ScrubURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr != nil {
		urlErr.URL = MaskURL(urlErr.URL)
	}
	return err
}
