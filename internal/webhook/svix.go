// Package webhook verifies Svix-signed webhook deliveries (the format Resend uses).
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lomito/escalation-service/internal/errs"
)

const (
	HeaderID        = "svix-id"
	HeaderTimestamp = "svix-timestamp"
	HeaderSignature = "svix-signature"

	secretPrefix = "whsec_"
	// Tolerance bounds replay of captured deliveries.
	Tolerance = 5 * time.Minute
)

// Verifier checks the svix-signature header against the raw request body.
type Verifier struct {
	key []byte
	now func() time.Time
}

// NewVerifier decodes a "whsec_<base64>" secret. Secrets without the prefix are used as raw bytes.
// An empty secret returns a nil Verifier, meaning verification is disabled.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, nil
	}
	key := []byte(secret)
	if strings.HasPrefix(secret, secretPrefix) {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
		if err != nil {
			return nil, fmt.Errorf("decode webhook secret: %w", err)
		}
		key = decoded
	}
	return &Verifier{key: key, now: time.Now}, nil
}

// Verify returns errs.ErrInvalidSignature unless one of the v1 signatures matches and the
// timestamp is within Tolerance. A nil Verifier accepts everything.
func (v *Verifier) Verify(h http.Header, body []byte) error {
	if v == nil {
		return nil
	}
	id := h.Get(HeaderID)
	ts := h.Get(HeaderTimestamp)
	sigHeader := h.Get(HeaderSignature)
	if id == "" || ts == "" || sigHeader == "" {
		return fmt.Errorf("%w: missing svix headers", errs.ErrInvalidSignature)
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", errs.ErrInvalidSignature)
	}
	skew := v.now().Sub(time.Unix(sec, 0))
	if skew > Tolerance || skew < -Tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", errs.ErrInvalidSignature)
	}

	expected := v.Sign(id, ts, body)
	for _, part := range strings.Fields(sigHeader) {
		version, sig, ok := strings.Cut(part, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return errs.ErrInvalidSignature
}

// Sign returns the base64 v1 signature for a delivery.
func (v *Verifier) Sign(id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
