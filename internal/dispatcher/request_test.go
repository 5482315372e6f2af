package dispatcher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/acme/attendance-dispatch/pkg/errors"
)

func TestHeadersSetOverwritesInPlace(t *testing.T) {
	var h Headers
	h.Set("Accept", "a")
	h.Set("X-Trace", "1")
	h.Set("accept", "b")

	assert.Equal(t, 2, h.Len())
	assert.Equal(t, []Header{{"Accept", "b"}, {"X-Trace", "1"}}, h.All())

	v, ok := h.Get("ACCEPT")
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	h.Del("x-trace")
	_, ok = h.Get("X-Trace")
	assert.False(t, ok)
}

func TestBuildOutboundDefaults(t *testing.T) {
	out, err := buildOutbound("https://a.io", "req-1", newRequest("", map[string]int{"n": 1}, nil))
	require.NoError(t, err)

	assert.Equal(t, "POST", out.Method)
	assert.Equal(t, "https://a.io", out.URL)
	accept, _ := out.Header.Get("Accept")
	assert.Equal(t, acceptNegotiation, accept)
	key, _ := out.Header.Get("Idempotency-Key")
	assert.Equal(t, "req-1", key)
	ct, _ := out.Header.Get("Content-Type")
	assert.Equal(t, "application/json", ct)
	assert.JSONEq(t, `{"n":1}`, string(out.Body))
}

func TestBuildOutboundNilPayloadIsEmptyObject(t *testing.T) {
	out, err := buildOutbound("https://a.io", "req-1", newRequest("", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out.Body))
}

func TestBuildOutboundCallerHeadersWin(t *testing.T) {
	req := newRequest("", "plain body", []Option{
		WithHeader("content-type", "text/plain;charset=utf-8"),
		WithHeader("idempotency-key", "caller-key"),
		WithHeaders(Header{Name: "X-Device", Value: "d-1"}),
	})
	out, err := buildOutbound("https://a.io", "req-1", req)
	require.NoError(t, err)

	ct, _ := out.Header.Get("Content-Type")
	assert.Equal(t, "text/plain;charset=utf-8", ct)
	key, _ := out.Header.Get("Idempotency-Key")
	assert.Equal(t, "caller-key", key)
	assert.Equal(t, "plain body", string(out.Body))
	assert.Equal(t, 4, out.Header.Len())
}

func TestBuildOutboundPreparedBodiesDropContentType(t *testing.T) {
	form := &Form{Fields: []FormField{{Name: "type", Value: "addTRX"}}}
	out, err := buildOutbound("https://a.io", "r", newRequest("", form, []Option{WithHeader("Content-Type", "application/json")}))
	require.NoError(t, err)
	_, ok := out.Header.Get("Content-Type")
	assert.False(t, ok)
	assert.Same(t, form, out.Form)
	assert.Nil(t, out.Body)

	out, err = buildOutbound("https://a.io", "r", newRequest("", Binary("\x00\x01"), nil))
	require.NoError(t, err)
	_, ok = out.Header.Get("Content-Type")
	assert.False(t, ok)
	assert.Equal(t, []byte{0, 1}, out.Body)
}

func TestBuildOutboundUnencodablePayload(t *testing.T) {
	_, err := buildOutbound("https://a.io", "r", newRequest("", map[string]any{"ch": make(chan int)}, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}
