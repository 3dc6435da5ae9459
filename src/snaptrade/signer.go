package snaptrade

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	json "github.com/goccy/go-json"
)

// Signer produces the request signature the aggregator expects: base64 HMAC-SHA256,
// keyed with the consumer key, over the compact JSON object {content, path, query}.
type Signer struct {
	consumerKey string
}

// NewSigner creates a Signer for consumerKey.
func NewSigner(consumerKey string) *Signer {
	return &Signer{consumerKey: consumerKey}
}

// signaturePayload fields are declared in sorted key order.
type signaturePayload struct {
	Content json.RawMessage `json:"content"`
	Path    string          `json:"path"`
	Query   string          `json:"query"`
}

// Sign returns the Signature header value. path excludes the host; query is the encoded
// query string exactly as sent; body is the JSON request body or nil.
func (s *Signer) Sign(path, query string, body []byte) (string, error) {
	content := json.RawMessage("null")
	if len(body) > 0 {
		content = json.RawMessage(body)
	}
	payload, err := encodeJSON(signaturePayload{Content: content, Path: path, Query: query})
	if err != nil {
		return "", err
	}
	return computeHmacSha256(payload, s.consumerKey), nil
}

// encodeJSON marshals compactly without HTML escaping, so the signed bytes match what
// the server re-serializes.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func computeHmacSha256(message []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(message)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
