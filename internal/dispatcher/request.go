package dispatcher

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/acme/attendance-dispatch/pkg/errors"
)

const (
	headerAccept         = "Accept"
	headerContentType    = "Content-Type"
	headerIdempotencyKey = "Idempotency-Key"

	acceptNegotiation = "application/json, text/plain;q=0.9, */*;q=0.8"
	contentTypeJSON   = "application/json"
)

// Header is a single header name/value pair.
type Header struct {
	Name  string
	Value string
}

// Headers is an insertion-ordered header set. Names compare case-insensitively
// and a repeated Set overwrites the earlier value in place.
type Headers struct {
	list []Header
}

// Set assigns value to name.
func (h *Headers) Set(name, value string) {
	for i := range h.list {
		if strings.EqualFold(h.list[i].Name, name) {
			h.list[i].Value = value
			return
		}
	}
	h.list = append(h.list, Header{Name: name, Value: value})
}

// Get returns the value for name.
func (h Headers) Get(name string) (string, bool) {
	for _, e := range h.list {
		if strings.EqualFold(e.Name, name) {
			return e.Value, true
		}
	}
	return "", false
}

// Del removes name if present.
func (h *Headers) Del(name string) {
	for i := range h.list {
		if strings.EqualFold(h.list[i].Name, name) {
			h.list = append(h.list[:i], h.list[i+1:]...)
			return
		}
	}
}

// All returns a copy of the entries in insertion order.
func (h Headers) All() []Header {
	out := make([]Header, len(h.list))
	copy(out, h.list)
	return out
}

// Len reports the number of distinct headers.
func (h Headers) Len() int { return len(h.list) }

// FormField is a plain multipart field.
type FormField struct {
	Name  string
	Value string
}

// FormFile is a file part of a multipart form.
type FormFile struct {
	Field       string
	FileName    string
	ContentType string
	Data        []byte
}

// Form is a caller-prepared multipart body. The transport encodes it and owns
// the Content-Type (including the boundary).
type Form struct {
	Fields []FormField
	Files  []FormFile
}

// Binary is a caller-prepared opaque body sent without re-encoding.
type Binary []byte

// Request is the canonical form of one logical call.
type Request struct {
	Path    string
	Payload any
	Headers Headers
}

// Option customises a single call.
type Option func(*Request)

// WithHeader overrides or adds a request header for this call only.
func WithHeader(name, value string) Option {
	return func(r *Request) {
		r.Headers.Set(name, value)
	}
}

// WithHeaders applies several header overrides in order.
func WithHeaders(headers ...Header) Option {
	return func(r *Request) {
		for _, h := range headers {
			r.Headers.Set(h.Name, h.Value)
		}
	}
}

func newRequest(path string, payload any, opts []Option) Request {
	req := Request{Path: path, Payload: payload}
	for _, opt := range opts {
		if opt != nil {
			opt(&req)
		}
	}
	return req
}

// Outbound is the fully built wire request handed to a Transport.
type Outbound struct {
	Method string
	URL    string
	Header Headers
	Body   []byte
	Form   *Form
}

// buildOutbound applies the default headers, the idempotency token and the
// body encoding policy. Caller headers are applied after the defaults.
func buildOutbound(url, requestID string, req Request) (*Outbound, error) {
	out := &Outbound{Method: "POST", URL: url}
	out.Header.Set(headerAccept, acceptNegotiation)
	out.Header.Set(headerIdempotencyKey, requestID)
	for _, h := range req.Headers.All() {
		out.Header.Set(h.Name, h.Value)
	}

	switch p := req.Payload.(type) {
	case *Form:
		out.Form = p
		out.Header.Del(headerContentType)
		return out, nil
	case Form:
		out.Form = &p
		out.Header.Del(headerContentType)
		return out, nil
	case Binary:
		out.Body = []byte(p)
		out.Header.Del(headerContentType)
		return out, nil
	}

	ct, ok := out.Header.Get(headerContentType)
	if !ok || ct == "" {
		ct = contentTypeJSON
		out.Header.Set(headerContentType, ct)
	}

	if strings.Contains(strings.ToLower(ct), contentTypeJSON) {
		payload := req.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: dispatcher: encode payload: %v", apperrors.ErrValidation, err)
		}
		out.Body = body
		return out, nil
	}

	out.Body = []byte(rawString(req.Payload))
	return out, nil
}

func rawString(payload any) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
