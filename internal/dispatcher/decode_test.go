package dispatcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBody(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		failed      bool
		wantKind    PayloadKind
		wantCode    string
		wantMessage string
	}{
		{name: "json", contentType: "application/json; charset=utf-8", body: `{"confirm":true}`, wantKind: KindStructured},
		{name: "vendor json", contentType: "application/problem+json", body: `{"message":"denied","errorCode":"E42"}`, failed: true, wantKind: KindStructured, wantCode: "E42", wantMessage: "denied"},
		{name: "empty json", contentType: "application/json", body: "", wantKind: KindStructured},
		{name: "json in text", contentType: "text/plain", body: `{"msg":"late"}`, failed: true, wantKind: KindStructured, wantMessage: "late"},
		{name: "plain text", contentType: "text/html", body: "<h1>oops</h1>", failed: true, wantKind: KindText, wantMessage: "<h1>oops</h1>"},
		{name: "binary", contentType: "application/pdf", body: "%PDF", wantKind: KindBinary},
		{name: "missing content type", contentType: "", body: "???", wantKind: KindBinary},
		{name: "broken json", contentType: "application/json", body: `{"a":`, failed: true, wantKind: KindBinary, wantCode: CodeParseError, wantMessage: parseFailMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decodeBody(tc.contentType, []byte(tc.body), tc.failed)
			require.NotNil(t, got.payload)
			assert.Equal(t, tc.wantKind, got.payload.Kind)
			assert.Equal(t, tc.wantCode, got.errorCode)
			assert.Equal(t, tc.wantMessage, got.errorMessage)
			assert.Equal(t, tc.body, string(got.payload.Raw))
			assert.Equal(t, tc.contentType, got.payload.ContentType)
		})
	}
}

func TestDecodeTextTruncatesErrorMessage(t *testing.T) {
	body := strings.Repeat("x", 1000)
	got := decodeBody("text/plain", []byte(body), true)
	assert.Len(t, got.errorMessage, maxErrorTextLen)
	assert.Equal(t, body, got.payload.Text())
}

func TestPayloadInto(t *testing.T) {
	got := decodeBody("application/json", []byte(`{"confirm":true,"msg":"saved"}`), false)

	var reply struct {
		Confirm bool   `json:"confirm"`
		Msg     string `json:"msg"`
	}
	require.NoError(t, got.payload.Into(&reply))
	assert.True(t, reply.Confirm)
	assert.Equal(t, "saved", reply.Msg)

	bin := decodeBody("image/png", []byte{0x89}, false)
	assert.Error(t, bin.payload.Into(&reply))

	var nilPayload *Payload
	assert.Error(t, nilPayload.Into(&reply))
}

func TestErrorFieldsNumericCode(t *testing.T) {
	code, message := errorFields(map[string]any{"code": float64(7), "error": "bad"})
	assert.Equal(t, "7", code)
	assert.Equal(t, "bad", message)
}
