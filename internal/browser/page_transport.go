// internal/browser/page_transport.go
package browser

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// ErrNoSurface is returned when a page-routed request is made before any surface is bound.
var ErrNoSurface = errors.New("browser: no surface bound to transport")

// fetchFn runs fetch() in the page with the site's origin. Cookies follow the
// browser's same-origin default so a wildcard CORS API still answers.
const fetchFn = `async (method, url, headers, body) => {
	const init = { method, headers, mode: "cors" };
	if (body !== null) { init.body = body; }
	const res = await fetch(url, init);
	const out = {};
	res.headers.forEach((v, k) => { out[k] = v; });
	return { status: res.status, statusText: res.statusText, headers: out, body: await res.text() };
}`

type pageResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// PageTransport is an http.RoundTripper that executes requests from inside
// the currently bound surface.
type PageTransport struct {
	mu        sync.RWMutex
	evaluator Evaluator
}

var _ http.RoundTripper = (*PageTransport)(nil)

// NewPageTransport returns an unbound transport.
func NewPageTransport() *PageTransport {
	return &PageTransport{}
}

// Bind points the transport at a new surface. Passing nil unbinds it.
func (t *PageTransport) Bind(e Evaluator) {
	t.mu.Lock()
	t.evaluator = e
	t.mu.Unlock()
}

// RoundTrip implements http.RoundTripper.
func (t *PageTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.RLock()
	e := t.evaluator
	t.mu.RUnlock()
	if e == nil {
		return nil, ErrNoSurface
	}

	var body interface{}
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = string(b)
	}

	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		headers[k] = req.Header.Get(k)
	}

	var res pageResponse
	if err := e.Evaluate(req.Context(), fetchFn, &res, req.Method, req.URL.String(), headers, body); err != nil {
		return nil, fmt.Errorf("in-page fetch %s %s: %w", req.Method, req.URL.Redacted(), err)
	}

	resp := &http.Response{
		Status:        strconv.Itoa(res.Status) + " " + res.StatusText,
		StatusCode:    res.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header, len(res.Headers)),
		Body:          io.NopCloser(strings.NewReader(res.Body)),
		ContentLength: int64(len(res.Body)),
		Request:       req,
	}
	for k, v := range res.Headers {
		resp.Header.Set(k, v)
	}
	return resp, nil
}
