// Package httpclient wraps http.Client with trace-level request logging.
package httpclient

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Bodies above this size are never captured; media streams only get their
// status and length logged.
const maxTracedBody = 4 * 1024

// NewTraceClient returns an HTTP client that logs each request at trace
// level, tagged with the client name.
func NewTraceClient(name string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &traceTransport{name: name},
	}
}

type traceTransport struct {
	name string
}

func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if zerolog.GlobalLevel() > zerolog.TraceLevel {
		return http.DefaultTransport.RoundTrip(req)
	}

	urlStr := redactedURL(req.URL)
	start := time.Now()

	log.Trace().
		Str("client", t.name).
		Str("method", req.Method).
		Str("url", urlStr).
		Msg("HTTP request")

	resp, err := http.DefaultTransport.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		log.Trace().
			Str("client", t.name).
			Str("method", req.Method).
			Str("url", urlStr).
			Dur("duration", duration).
			Err(err).
			Msg("HTTP request failed")
		return nil, err
	}

	logEvent := log.Trace().
		Str("client", t.name).
		Str("method", req.Method).
		Str("url", urlStr).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Int64("content_length", resp.ContentLength)

	if body := peekJSONBody(resp); len(body) > 0 {
		logEvent.RawJSON("body", body)
	}
	logEvent.Msg("HTTP response")

	return resp, nil
}

// peekJSONBody captures a small JSON response body for the trace log and
// splices the read bytes back onto resp.Body. Streams and oversized bodies
// are left untouched.
func peekJSONBody(resp *http.Response) []byte {
	if resp.Body == nil {
		return nil
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "json") {
		return nil
	}
	if resp.ContentLength > maxTracedBody {
		return nil
	}

	peek, err := io.ReadAll(io.LimitReader(resp.Body, maxTracedBody+1))
	rest := resp.Body
	resp.Body = &splicedBody{
		Reader: io.MultiReader(bytes.NewReader(peek), rest),
		closer: rest,
	}
	if err != nil || len(peek) > maxTracedBody || !json.Valid(peek) {
		return nil
	}
	return peek
}

type splicedBody struct {
	io.Reader
	closer io.Closer
}

func (b *splicedBody) Close() error { return b.closer.Close() }

// redactedURL hides the credential-bearing query parameters this daemon
// sends: api_key on stream and socket URLs, secret on quick-connect polls.
func redactedURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	if u.RawQuery == "" {
		return u.String()
	}

	q := u.Query()
	redacted := false
	for _, key := range []string{"api_key", "secret"} {
		if q.Has(key) {
			q.Set(key, "redacted")
			redacted = true
		}
	}
	if !redacted {
		return u.String()
	}
	copyURL := *u
	copyURL.RawQuery = q.Encode()
	return copyURL.String()
}
