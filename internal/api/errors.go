// Package api implements the portal HTTP client stack: the error taxonomy,
// the rate-limited base client, the OAuth client, and the bearer-token client
// with transparent refresh.
package api

import (
	"fmt"
	"net/http"
)

// BadResponseError reports a transport-level problem: the body was expected
// to be JSON but could not be decoded.
type BadResponseError struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("bad response from %s (status %d): %s", e.URL, e.StatusCode, e.Reason)
}

// APIError is the root of the portal error taxonomy. It carries the original
// request coordinates, the response status and headers, and the decoded body.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Headers    http.Header
	Data       map[string]interface{}
}

// Message prefers the portal's error_description, then description, then a
// dump of the decoded body.
func (e *APIError) Message() string {
	if s, ok := e.Data["error_description"].(string); ok && s != "" {
		return s
	}
	if s, ok := e.Data["description"].(string); ok && s != "" {
		return s
	}
	return fmt.Sprintf("%v", e.Data)
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Message())
}

func (e *APIError) api() *APIError { return e }

// portalError is implemented by every node of the taxonomy, so callers can
// recover the underlying APIError with errors.As on the interface.
type portalError interface {
	error
	api() *APIError
}

var _ portalError = (*APIError)(nil)

// RedirectError covers the 3xx range; redirects are never followed.
type RedirectError struct{ APIError }

// ClientError covers the 4xx range without a more specific leaf.
type ClientError struct{ APIError }

// BadRequestError is a 400 without a recognized error marker.
type BadRequestError struct{ ClientError }

// LimitExceededError is a 400 whose body marks the daily negotiation cap.
// The apply engine stops submitting when it sees one.
type LimitExceededError struct{ ClientError }

// ForbiddenError is a 403 without a captcha marker. The API client treats it
// as a possible token expiry.
type ForbiddenError struct{ ClientError }

// CaptchaRequiredError is a 403 demanding interactive captcha entry.
type CaptchaRequiredError struct {
	ClientError
	CaptchaURL string
}

func (e *CaptchaRequiredError) Error() string {
	return fmt.Sprintf("captcha required: %s", e.CaptchaURL)
}

// ResourceNotFoundError is a 404.
type ResourceNotFoundError struct{ ClientError }

// InternalServerError covers the 5xx range.
type InternalServerError struct{ APIError }

// BadGatewayError is a 502.
type BadGatewayError struct{ InternalServerError }

// errorValue reports whether body.errors contains an entry with the given
// value marker, returning that entry.
func errorValue(data map[string]interface{}, value string) (map[string]interface{}, bool) {
	list, ok := data["errors"].([]interface{})
	if !ok {
		return nil, false
	}
	for _, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if v, _ := entry["value"].(string); v == value {
			return entry, true
		}
	}
	return nil, false
}

// dispatchStatus maps a decoded response onto the taxonomy. A nil return
// means the status is in [200, 300).
func dispatchStatus(method, url string, resp *http.Response, data map[string]interface{}) error {
	base := APIError{
		Method:     method,
		URL:        url,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Data:       data,
	}

	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 300 && code <= 308:
		return &RedirectError{base}
	case code == 400:
		if _, ok := errorValue(data, "limit_exceeded"); ok {
			return &LimitExceededError{ClientError{base}}
		}
		return &BadRequestError{ClientError{base}}
	case code == 403:
		if entry, ok := errorValue(data, "captcha_required"); ok {
			captchaURL, _ := entry["captcha_url"].(string)
			return &CaptchaRequiredError{ClientError: ClientError{base}, CaptchaURL: captchaURL}
		}
		return &ForbiddenError{ClientError{base}}
	case code == 404:
		return &ResourceNotFoundError{ClientError{base}}
	case code >= 400 && code < 500:
		return &ClientError{base}
	case code == 502:
		return &BadGatewayError{InternalServerError{base}}
	case code >= 500:
		return &InternalServerError{base}
	default:
		return &base
	}
}
