package dispatcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"
)

// PayloadKind is the decoded shape of a response body.
type PayloadKind string

const (
	KindStructured PayloadKind = "structured"
	KindText       PayloadKind = "text"
	KindBinary     PayloadKind = "binary"
)

const (
	maxErrorTextLen  = 300
	parseFailMessage = "could not parse the server response"
)

// Payload is a decoded response body. Raw always holds the bytes as received.
type Payload struct {
	Kind        PayloadKind `json:"kind"`
	ContentType string      `json:"contentType,omitempty"`
	Value       any         `json:"value,omitempty"`
	Raw         []byte      `json:"-"`
}

// Into decodes the payload's JSON body into v.
func (p *Payload) Into(v any) error {
	if p == nil {
		return errors.New("dispatcher: empty payload")
	}
	if p.Kind == KindBinary {
		return fmt.Errorf("dispatcher: payload of kind %s is not JSON", p.Kind)
	}
	if err := json.Unmarshal(p.Raw, v); err != nil {
		return fmt.Errorf("dispatcher: decode payload: %w", err)
	}
	return nil
}

// Text returns the payload as a string, whatever its kind.
func (p *Payload) Text() string {
	if p == nil {
		return ""
	}
	if s, ok := p.Value.(string); ok {
		return s
	}
	return string(p.Raw)
}

// decoded is the outcome of decoding one response.
type decoded struct {
	payload      *Payload
	errorCode    string
	errorMessage string
}

type decodeFunc func(body []byte, failed bool) (decoded, error)

// decoders is keyed by normalized content-type prefix. Anything unmatched is binary.
var decoders = []struct {
	prefix string
	fn     decodeFunc
}{
	{prefix: "application/json", fn: decodeJSON},
	{prefix: "text/", fn: decodeText},
}

func mediaType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	} else if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if strings.HasSuffix(ct, "+json") {
		return "application/json"
	}
	return ct
}

// decodeBody never fails: a body that cannot be decoded is kept as binary and
// reported with PARSE_ERROR.
func decodeBody(contentType string, body []byte, failed bool) decoded {
	mt := mediaType(contentType)
	for _, d := range decoders {
		if !strings.HasPrefix(mt, d.prefix) {
			continue
		}
		out, err := d.fn(body, failed)
		if err != nil {
			return decoded{
				payload:      &Payload{Kind: KindBinary, ContentType: contentType, Value: body, Raw: body},
				errorCode:    CodeParseError,
				errorMessage: parseFailMessage,
			}
		}
		out.payload.ContentType = contentType
		return out
	}
	return decoded{payload: &Payload{Kind: KindBinary, ContentType: contentType, Value: body, Raw: body}}
}

func decodeJSON(body []byte, failed bool) (decoded, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return decoded{payload: &Payload{Kind: KindStructured, Raw: body}}, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return decoded{}, err
	}
	out := decoded{payload: &Payload{Kind: KindStructured, Value: v, Raw: body}}
	if failed {
		out.errorCode, out.errorMessage = errorFields(v)
	}
	return out, nil
}

func decodeText(body []byte, failed bool) (decoded, error) {
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		out := decoded{payload: &Payload{Kind: KindStructured, Value: v, Raw: body}}
		if failed {
			out.errorCode, out.errorMessage = errorFields(v)
		}
		return out, nil
	}

	text := string(body)
	out := decoded{payload: &Payload{Kind: KindText, Value: text, Raw: body}}
	if failed {
		out.errorMessage = truncate(text, maxErrorTextLen)
	}
	return out, nil
}

// errorFields pulls a message and code out of a structured error body.
func errorFields(v any) (code, message string) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", ""
	}
	message = firstString(m, "message", "error", "msg")
	code = firstString(m, "code", "errorCode")
	return code, message
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
