// Package httpclient is the net/http implementation of dispatcher.Transport.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/acme/attendance-dispatch/internal/dispatcher"
)

// Options tunes the underlying connection pool. Per-attempt deadlines come
// from the context the dispatcher passes to Do, never from here.
type Options struct {
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	MaxIdleConns        int
	IdleConnTimeout     time.Duration
	UserAgent           string
}

// Client sends one HTTP exchange per Do call.
type Client struct {
	http      *http.Client
	userAgent string
}

var _ dispatcher.Transport = (*Client)(nil)

// New constructs a Client with its own transport.
func New(opts Options) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.TLSHandshakeTimeout <= 0 {
		opts.TLSHandshakeTimeout = 10 * time.Second
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 16
	}
	if opts.IdleConnTimeout <= 0 {
		opts.IdleConnTimeout = 90 * time.Second
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout: opts.TLSHandshakeTimeout,
		MaxIdleConns:        opts.MaxIdleConns,
		IdleConnTimeout:     opts.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
	return &Client{http: &http.Client{Transport: tr}, userAgent: opts.UserAgent}
}

// NewWithHTTPClient wraps an existing client, mostly for tests.
func NewWithHTTPClient(c *http.Client) *Client {
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{http: c}
}

// Do implements dispatcher.Transport. The body is encoded afresh on every call
// so a retried attempt never sees a drained reader.
func (c *Client) Do(ctx context.Context, out *dispatcher.Outbound) (*dispatcher.Response, error) {
	body, contentType, err := encodeBody(out)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	for _, h := range out.Header.All() {
		req.Header.Set(h.Name, h.Value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	return &dispatcher.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func encodeBody(out *dispatcher.Outbound) (io.Reader, string, error) {
	if out.Form == nil {
		if out.Body == nil {
			return http.NoBody, "", nil
		}
		return bytes.NewReader(out.Body), "", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range out.Form.Fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, "", fmt.Errorf("httpclient: encode form field %q: %w", f.Name, err)
		}
	}
	for _, f := range out.Form.Files {
		part, err := w.CreatePart(fileHeader(f))
		if err != nil {
			return nil, "", fmt.Errorf("httpclient: encode form file %q: %w", f.Field, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("httpclient: write form file %q: %w", f.Field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("httpclient: close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func fileHeader(f dispatcher.FormFile) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.FileName))
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	return h
}
