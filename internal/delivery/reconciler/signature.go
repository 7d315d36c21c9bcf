package reconciler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"leadpipeline_backend/internal/delivery/domain"
)

// DefaultReplayWindow bounds the age of a timestamped callback.
const DefaultReplayWindow = 5 * time.Minute

// Verifier checks callback signatures: hex HMAC-SHA256 over the body, or over
// "<timestamp>.<body>" when a timestamp header is sent.
type Verifier struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

// NewVerifier creates a verifier. An empty secret rejects every callback.
func NewVerifier(secret string, window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &Verifier{secret: []byte(secret), window: window, now: time.Now}
}

// Sign returns the signature a sender must put in X-Webhook-Signature.
func (v *Verifier) Sign(body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, v.secret)
	if timestamp != "" {
		mac.Write([]byte(timestamp))
		mac.Write([]byte("."))
	}
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify returns an error wrapping domain.ErrWebhookSignature when the
// payload is unsigned, wrongly signed, or outside the replay window.
func (v *Verifier) Verify(p domain.SignedPayload) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no signing secret configured", domain.ErrWebhookSignature)
	}
	sig := strings.TrimPrefix(strings.TrimSpace(p.Signature), "sha256=")
	if sig == "" {
		return fmt.Errorf("%w: missing signature", domain.ErrWebhookSignature)
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", domain.ErrWebhookSignature)
	}

	ts := strings.TrimSpace(p.Timestamp)
	if ts != "" {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: malformed timestamp", domain.ErrWebhookSignature)
		}
		age := v.now().Sub(time.Unix(sec, 0))
		if age > v.window || age < -v.window {
			return fmt.Errorf("%w: timestamp outside replay window", domain.ErrWebhookSignature)
		}
	}

	want, _ := hex.DecodeString(v.Sign(p.Body, ts))
	if !hmac.Equal(got, want) {
		return fmt.Errorf("%w: signature mismatch", domain.ErrWebhookSignature)
	}
	return nil
}
