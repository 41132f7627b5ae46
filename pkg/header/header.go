package header

import (
	"mime"
	"net/http"
	"strings"
)

const (
	ContentType     = "Content-Type"
	ContentEncoding = "Content-Encoding"
	RequestID       = "X-Request-ID"
	CorrelationID   = "X-Correlation-ID"
	RetryAfter      = "Retry-After"
	ApplicationJSON = "application/json"
)

// MediaType returns the lower-cased media type of the request
// without parameters, or an empty string when there is none.
func MediaType(r *http.Request) string {
	contentType := strings.TrimSpace(r.Header.Get(ContentType))
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Fall back to the raw value up to the first parameter.
		if i := strings.Index(contentType, ";"); i > -1 {
			contentType = contentType[:i]
		}
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// IsApplicationJSONContentType returns true if the content type of the
// request is application/json, with or without parameters.
func IsApplicationJSONContentType(r *http.Request) bool {
	return MediaType(r) == ApplicationJSON
}

// IsTextPlainContentType returns true if the content type of the
// request is text/plain.
func IsTextPlainContentType(r *http.Request) bool {
	return MediaType(r) == "text/plain"
}
