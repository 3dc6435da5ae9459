package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/username/brokerbridge/backend/src/models"
)

const (
	testClientID    = "client-123"
	testConsumerKey = "consumer-key-abcdef"
	testSecret      = "shared-webhook-secret"
	testSigningKey  = "signing-key-0123456789"
)

func newAuth() *Authenticator {
	return &Authenticator{
		ClientID:      testClientID,
		ConsumerKey:   testConsumerKey,
		SharedSecret:  testSecret,
		SigningSecret: testSigningKey,
	}
}

func sign(key string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return mac.Sum(nil)
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestBasicAuthAccepted(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", basic(testClientID, testConsumerKey))

	dec, diag := newAuth().Authenticate(h, []byte(`{"type":"ping"}`), nil)
	require.Equal(t, models.AuthDecision{Scheme: models.SchemeSharedSecret, Accepted: true, Via: "basic"}, dec)
	require.True(t, diag.BasicOK)
	require.Equal(t, "basic", diag.AuthorizationType)
}

func TestBasicAuthRejectsWrongPassword(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", basic(testClientID, "consumer-key-abcdeX"))

	dec, diag := newAuth().Authenticate(h, []byte(`{}`), nil)
	require.False(t, dec.Accepted)
	require.Equal(t, models.SchemeNone, dec.Scheme)
	require.True(t, diag.HasAuthorization)
	require.False(t, diag.BasicOK)
}

func TestSharedSecretLocations(t *testing.T) {
	a := newAuth()

	for _, name := range SecretHeaders {
		h := http.Header{}
		h.Set(name, testSecret)
		dec, _ := a.Authenticate(h, nil, nil)
		require.True(t, dec.Accepted, name)
		require.Equal(t, "header", dec.Via)
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+testSecret)
	dec, _ := a.Authenticate(h, nil, nil)
	require.Equal(t, "bearer", dec.Via)

	dec, diag := a.Authenticate(http.Header{}, []byte(`{}`), map[string]any{"webhookSecret": testSecret})
	require.Equal(t, "body", dec.Via)
	require.True(t, diag.HasBodySecret)

	dec, _ = a.Authenticate(http.Header{}, []byte(`{}`), map[string]any{"webhookSecret": testSecret + "x"})
	require.False(t, dec.Accepted)
}

func TestEmptySharedSecretNeverMatches(t *testing.T) {
	a := &Authenticator{}
	h := http.Header{}
	h.Set("X-Webhook-Secret", "")
	h.Set("Authorization", "Bearer ")
	dec, diag := a.Authenticate(h, []byte(`{}`), map[string]any{"webhookSecret": ""})
	require.False(t, dec.Accepted)
	require.False(t, diag.SecretConfigured)
}

func TestSignatureEncodings(t *testing.T) {
	body := []byte(`{"type":"SYNC_COMPLETED", "userId":"u1"}`)
	digest := sign(testSigningKey, body)

	values := map[string]string{
		"X-SnapTrade-HMAC":    hex.EncodeToString(digest),
		"X-Hub-Signature-256": "sha256=" + hex.EncodeToString(digest),
		"Signature":           base64.StdEncoding.EncodeToString(digest),
		"X-Signature":         base64.RawURLEncoding.EncodeToString(digest),
	}
	for name, v := range values {
		h := http.Header{}
		h.Set(name, v)
		dec, diag := newAuth().Authenticate(h, body, nil)
		require.Equal(t, models.AuthDecision{Scheme: models.SchemeSignature, Accepted: true, Via: "hmac"}, dec, name)
		require.Equal(t, []string{name}, diag.SignatureHeaders)
	}
}

func TestSignatureIsOverExactBytes(t *testing.T) {
	body := []byte(`{"type":"SYNC_COMPLETED","userId":"u1"}`)
	reserialized := []byte(`{"userId":"u1","type":"SYNC_COMPLETED"}`)

	h := http.Header{}
	h.Set("X-SnapTrade-HMAC", hex.EncodeToString(sign(testSigningKey, body)))

	dec, _ := newAuth().Authenticate(h, reserialized, nil)
	require.False(t, dec.Accepted)

	dec, _ = newAuth().Authenticate(h, nil, nil)
	require.False(t, dec.Accepted)
}

func TestWrongSignatureWithoutBasicIsRejected(t *testing.T) {
	body := []byte(`{"type":"ping"}`)
	h := http.Header{}
	h.Set("X-Hub-Signature-256", "sha256="+strings.Repeat("ab", sha256.Size))
	h.Set("Authorization", basic("someone", "else"))

	dec, diag := newAuth().Authenticate(h, body, nil)
	require.False(t, dec.Accepted)
	require.True(t, diag.HasSignature)
	require.False(t, diag.SignatureOK)
	require.Equal(t, 71, diag.SignatureLength)
	require.Equal(t, len(body), diag.BodyLength)
}

func TestEitherPathSuffices(t *testing.T) {
	body := []byte(`{"type":"POSITIONS_UPDATED"}`)
	h := http.Header{}
	h.Set("X-Signature", "not-a-signature")
	h.Set("Authorization", basic(testClientID, testConsumerKey))

	dec, diag := newAuth().Authenticate(h, body, nil)
	require.True(t, dec.Accepted)
	require.Equal(t, models.SchemeSharedSecret, dec.Scheme)
	require.True(t, diag.HasSignature)
	require.False(t, diag.SignatureOK)
}

func TestInsecureSkip(t *testing.T) {
	a := newAuth()
	a.InsecureSkip = true
	dec, _ := a.Authenticate(http.Header{}, []byte(`{}`), nil)
	require.Equal(t, models.AuthDecision{Scheme: models.SchemeNone, Accepted: true, Via: "insecure"}, dec)
}

func TestDiagnosticsNeverCarrySecrets(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", basic(testClientID, "wrong"))
	h.Set("X-Webhook-Secret", "wrong-secret-value")
	_, diag := newAuth().Authenticate(h, []byte(`{}`), nil)

	rendered := strings.ToLower(strings.Join([]string{
		diag.AuthorizationType, strings.Join(diag.SignatureHeaders, ","),
	}, "|"))
	for _, secret := range []string{testClientID, testConsumerKey, testSecret, "wrong-secret-value"} {
		require.NotContains(t, rendered, strings.ToLower(secret))
	}
}

func TestSecureEqual(t *testing.T) {
	require.True(t, secureEqual([]byte("abc"), []byte("abc")))
	require.False(t, secureEqual([]byte("abc"), []byte("abd")))
	require.False(t, secureEqual([]byte("abc"), []byte("abcd")))
	require.True(t, secureEqual(nil, []byte{}))
}

// The time to compare two equal-length secrets must not reveal where they differ.
func TestSecureEqualTimingDoesNotDependOnMismatchPosition(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	const size = 1 << 15
	secret := []byte(strings.Repeat("s", size))
	firstDiffers := append([]byte("x"), secret[1:]...)
	lastDiffers := append(append([]byte{}, secret[:size-1]...), 'x')

	measure := func(candidate []byte) time.Duration {
		start := time.Now()
		for i := 0; i < 20; i++ {
			secureEqual(candidate, secret)
		}
		return time.Since(start)
	}

	const rounds = 60
	first := make([]time.Duration, 0, rounds)
	last := make([]time.Duration, 0, rounds)
	for i := 0; i < rounds; i++ {
		first = append(first, measure(firstDiffers))
		last = append(last, measure(lastDiffers))
	}

	median := func(d []time.Duration) float64 {
		sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
		return float64(d[len(d)/2])
	}
	ratio := median(first) / median(last)
	require.Greater(t, ratio, 0.33, "first-byte mismatch finished suspiciously fast")
	require.Less(t, ratio, 3.0, "last-byte mismatch finished suspiciously fast")
}
