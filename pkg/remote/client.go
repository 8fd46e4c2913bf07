package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-export/pkg/faults"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Client issues requests against one target. It is safe for concurrent use.
type Client struct {
	target Target
	base   *url.URL
	http   *http.Client
	logger *log.Entry
}

type option func(*Client)

// WithHTTPClient replaces the default client, mostly for tests.
func WithHTTPClient(hc *http.Client) option {
	return func(c *Client) { c.http = hc }
}

// New resolves the target's base address once.
func New(target Target, timeout time.Duration, logger *log.Entry, opts ...option) (*Client, error) {
	base, err := parseBase(target.BaseURL())
	if err != nil {
		return nil, faults.Configuration("%s: %v", target.Name(), err)
	}
	c := &Client{
		target: target,
		base:   base,
		http:   &http.Client{Timeout: timeout},
		logger: logger.WithField("target", target.Name()),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Resolve resolves ref against the base address. Absolute references are
// returned unchanged.
func (c *Client) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return c.base.ResolveReference(u).String(), nil
}

// Request describes one call. Path is relative to the target base or
// absolute.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   io.Reader
	// ContentType applies to Body.
	ContentType string
}

// Response is a fully read response body.
type Response struct {
	Code   int
	Header http.Header
	Body   []byte
}

// IsJSON reports whether the server labelled the body as JSON.
func (r *Response) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// Decode unmarshals a JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return faults.Parse(err, "decode response")
	}
	return nil
}

// Do sends req and reads the whole response. Network failures and non-2xx
// statuses are transient service errors.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	target, err := c.Resolve(req.Path)
	if err != nil {
		return nil, faults.Configuration("%s: bad path %q: %v", c.target.Name(), req.Path, err)
	}
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	hr, err := http.NewRequestWithContext(ctx, method, target, req.Body)
	if err != nil {
		return nil, faults.Configuration("%s: %v", c.target.Name(), err)
	}
	// Absolute references to other hosts (repository content) carry no
	// credentials.
	if hr.URL.Host == c.base.Host {
		c.target.authorize(hr.Header)
	}
	for k, vs := range req.Header {
		hr.Header[k] = vs
	}
	if req.ContentType != "" {
		hr.Header.Set("Content-Type", req.ContentType)
	}

	c.logger.WithFields(log.Fields{"method": method, "url": target}).Debug("request")
	resp, err := c.http.Do(hr)
	if err != nil {
		return nil, faults.Transient(err, fmt.Sprintf("%s %s", method, target))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, faults.Transient(err, fmt.Sprintf("read %s", target))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, faults.Transient(&StatusError{
			Method: method,
			URL:    target,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}, c.target.Name()+" request failed")
	}
	return &Response{Code: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// JSON sends in as a JSON body (nil sends none) and decodes the response
// into out (nil discards it).
func (c *Client) JSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	req := Request{Method: method, Path: path, Query: query}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		req.Body = bytes.NewReader(data)
		req.ContentType = "application/json"
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// Multipart posts a single file field.
func (c *Client) Multipart(ctx context.Context, path string, query url.Values, header http.Header, field, filename string, content []byte) (*Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return c.Do(ctx, Request{
		Method:      http.MethodPost,
		Path:        path,
		Query:       query,
		Header:      header,
		Body:        &buf,
		ContentType: w.FormDataContentType(),
	})
}

// Get returns the body found at ref.
func (c *Client) Get(ctx context.Context, ref string) ([]byte, error) {
	resp, err := c.Do(ctx, Request{Path: ref})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
