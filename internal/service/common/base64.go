package common

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodeBase64 encodes bytes to standard padded base64.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 accepts standard or URL-safe base64, padded or not, optionally
// prefixed with a data URL header ("data:image/jpeg;base64,"). It returns the
// content type from the data URL header when one is present.
func DecodeBase64(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var contentType string
	if strings.HasPrefix(s, "data:") {
		header, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, "", fmt.Errorf("decode base64: malformed data url")
		}
		contentType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		s = payload
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, contentType, nil
		}
	}
	return nil, "", fmt.Errorf("decode base64: input is not base64")
}
