package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign produces the X-ADCP-Signature value for a payload: a unix timestamp
// and a base64url HMAC-SHA256 over "{ts}.{body}". The timestamp binds the
// signature to a send window so captures can't be replayed later.
func Sign(body []byte, secret []byte, now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return "t=" + ts + ",sig=" + sig
}

// VerifySignature checks an X-ADCP-Signature header against the payload.
// tolerance bounds acceptable clock skew; zero disables the check.
func VerifySignature(header string, body []byte, secret []byte, now time.Time, tolerance time.Duration) error {
	var tsPart, sigPart string
	for _, field := range strings.Split(header, ",") {
		switch {
		case strings.HasPrefix(field, "t="):
			tsPart = field[2:]
		case strings.HasPrefix(field, "sig="):
			sigPart = field[4:]
		}
	}
	if tsPart == "" || sigPart == "" {
		return ErrInvalidSignature
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		sent := time.Unix(ts, 0)
		if now.Sub(sent) > tolerance || sent.Sub(now) > tolerance {
			return fmt.Errorf("webhook signature timestamp outside tolerance: %w", ErrInvalidSignature)
		}
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(tsPart))
	mac.Write([]byte("."))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return ErrInvalidSignature
	}
	return nil
}
