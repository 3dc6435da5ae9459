// Package webhook authenticates and ingests asynchronous events from the brokerage aggregator.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/username/brokerbridge/backend/src/models"
)

// Header names the sender has been seen to use.
var (
	SecretHeaders    = []string{"X-Webhook-Secret", "X-SnapTrade-Webhook-Secret"}
	SignatureHeaders = []string{"X-SnapTrade-HMAC", "X-Hub-Signature-256", "Signature", "X-Signature"}
)

// BodySecretField is the body field that may carry the shared secret.
const BodySecretField = "webhookSecret"

// Authenticator verifies inbound events. It holds only immutable configuration and is
// safe for concurrent use.
type Authenticator struct {
	ClientID      string // Basic-Auth user
	ConsumerKey   string // Basic-Auth password
	SharedSecret  string // header, bearer and body secret
	SigningSecret string // HMAC-SHA256 key over the raw body

	// InsecureSkip accepts requests that fail every check. Only set in development.
	InsecureSkip bool
}

// Diagnostics describes what a request carried without revealing any value.
type Diagnostics struct {
	HasAuthorization  bool     `json:"hasAuth"`
	AuthorizationType string   `json:"authType,omitempty"`
	HasSecretHeader   bool     `json:"hasSecretHeader"`
	HasBodySecret     bool     `json:"hasBodySecret"`
	HasSignature      bool     `json:"hasSig"`
	SignatureHeaders  []string `json:"signatureHeaders,omitempty"`
	SignatureLength   int      `json:"signatureLen"`
	BodyLength        int      `json:"bodyLen"`
	BasicOK           bool     `json:"basicOK"`
	SecretOK          bool     `json:"secretOK"`
	SignatureOK       bool     `json:"hmacOK"`
	SecretConfigured  bool     `json:"secretConfigured"`
	SigningConfigured bool     `json:"signingConfigured"`
}

// Authenticate evaluates both the shared-secret path and the signature path on every call
// and accepts if either succeeds. raw must be the untouched request body; body is its parsed
// form (may be nil) and is only consulted for the body secret field.
func (a *Authenticator) Authenticate(h http.Header, raw []byte, body map[string]any) (models.AuthDecision, Diagnostics) {
	diag := Diagnostics{
		BodyLength:        len(raw),
		SecretConfigured:  a.SharedSecret != "" || (a.ClientID != "" && a.ConsumerKey != ""),
		SigningConfigured: a.SigningSecret != "",
	}

	secretVia := a.checkSharedSecret(h, body, &diag)
	sigOK := a.checkSignature(h, raw, &diag)

	switch {
	case sigOK:
		return models.AuthDecision{Scheme: models.SchemeSignature, Accepted: true, Via: "hmac"}, diag
	case secretVia != "":
		return models.AuthDecision{Scheme: models.SchemeSharedSecret, Accepted: true, Via: secretVia}, diag
	case a.InsecureSkip:
		return models.AuthDecision{Scheme: models.SchemeNone, Accepted: true, Via: "insecure"}, diag
	}
	return models.AuthDecision{Scheme: models.SchemeNone}, diag
}

// checkSharedSecret compares every presented credential; none short-circuits the others.
func (a *Authenticator) checkSharedSecret(h http.Header, body map[string]any, diag *Diagnostics) string {
	via := ""
	authz := strings.TrimSpace(h.Get("Authorization"))
	diag.HasAuthorization = authz != ""

	scheme, cred, _ := strings.Cut(authz, " ")
	switch strings.ToLower(scheme) {
	case "basic":
		diag.AuthorizationType = "basic"
		user, pass, ok := parseBasic(strings.TrimSpace(cred))
		if ok && a.ClientID != "" && a.ConsumerKey != "" {
			userOK := secureEqual([]byte(user), []byte(a.ClientID))
			passOK := secureEqual([]byte(pass), []byte(a.ConsumerKey))
			if userOK && passOK {
				diag.BasicOK = true
				via = "basic"
			}
		}
	case "bearer":
		diag.AuthorizationType = "bearer"
		if a.matchesSecret(strings.TrimSpace(cred)) && via == "" {
			diag.SecretOK = true
			via = "bearer"
		}
	default:
		if authz != "" {
			diag.AuthorizationType = "other"
		}
	}

	for _, name := range SecretHeaders {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		diag.HasSecretHeader = true
		if a.matchesSecret(v) && via == "" {
			diag.SecretOK = true
			via = "header"
		}
	}

	if s, ok := body[BodySecretField].(string); ok && s != "" {
		diag.HasBodySecret = true
		if a.matchesSecret(s) && via == "" {
			diag.SecretOK = true
			via = "body"
		}
	}
	return via
}

func (a *Authenticator) matchesSecret(candidate string) bool {
	if a.SharedSecret == "" || candidate == "" {
		return false
	}
	return secureEqual([]byte(candidate), []byte(a.SharedSecret))
}

func (a *Authenticator) checkSignature(h http.Header, raw []byte, diag *Diagnostics) bool {
	var presented []string
	for _, name := range SignatureHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			diag.SignatureHeaders = append(diag.SignatureHeaders, name)
			presented = append(presented, v)
		}
	}
	diag.HasSignature = len(presented) > 0
	if len(presented) == 0 {
		return false
	}
	diag.SignatureLength = len(presented[0])
	if a.SigningSecret == "" || raw == nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.SigningSecret))
	mac.Write(raw)
	expected := mac.Sum(nil)

	ok := false
	for _, v := range presented {
		for _, candidate := range decodeSignature(v) {
			if secureEqual(candidate, expected) {
				ok = true
			}
		}
	}
	diag.SignatureOK = ok
	return ok
}

// decodeSignature strips an optional "sha256=" prefix and returns every decoding of the
// remaining value that yields a SHA-256 sized digest.
func decodeSignature(v string) [][]byte {
	if len(v) > 7 && strings.EqualFold(v[:7], "sha256=") {
		v = v[7:]
	}
	var out [][]byte
	if b, err := hex.DecodeString(v); err == nil && len(b) == sha256.Size {
		out = append(out, b)
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(v); err == nil && len(b) == sha256.Size {
			out = append(out, b)
			break
		}
	}
	return out
}

func parseBasic(cred string) (user, pass string, ok bool) {
	if cred == "" {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(cred)
	if err != nil {
		return "", "", false
	}
	user, pass, _ = strings.Cut(string(decoded), ":")
	user, pass = strings.TrimSpace(user), strings.TrimSpace(pass)
	return user, pass, user != ""
}

// secureEqual compares in time independent of where a and b first differ.
// Unequal lengths are rejected up front.
func secureEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
