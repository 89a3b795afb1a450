package websearch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/util"
)

// serpErrorEnvelope is the error shape SerpAPI uses for both non-2xx responses
// and 2xx responses that carry no results.
type serpErrorEnvelope struct {
	Error string `json:"error"`
}

// HTTPError is a sanitized summary of a non-2xx search API response.
//
// Important: do not include raw response bodies here (the request URL echoed
// back by the API contains the key).
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	APIError   string

	// Snippet is a redacted, truncated hint for responses without the
	// standard error field.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "search http error"
	}
	parts := []string{
		fmt.Sprintf("search api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.APIError) != "" {
		parts = append(parts, "error="+strings.TrimSpace(e.APIError))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	var env serpErrorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil && strings.TrimSpace(env.Error) != "" {
		h.APIError = util.RedactSecrets(env.Error)
		return h
	}

	h.Snippet = redactAndTruncate(body)
	return h
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := util.RedactSecrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
