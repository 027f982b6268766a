package verifier

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"

	"github.com/marminbh/webhook-gateway/internal/config"
)

// Signature schemes a provider can declare in its registry entry.
const (
	SchemeHMACSHA256Hex         = "hmac-sha256-hex"
	SchemeHMACSHA1Hex           = "hmac-sha1-hex"
	SchemeHMACSHA256Base64      = "hmac-sha256-base64"
	SchemeHMACSHA256Timestamped = "hmac-sha256-timestamped"
)

// DefaultToleranceSeconds is the replay window for timestamped signatures.
const DefaultToleranceSeconds = 300

var (
	ErrMissingSignature         = errors.New("signature header is required")
	ErrMalformedSignatureHeader = errors.New("malformed signature header")
	ErrInvalidSignature         = errors.New("invalid signature")
	ErrExpiredTimestamp         = errors.New("signature timestamp outside tolerance")
	ErrMissingSecret            = errors.New("provider secret is not configured")
	ErrUnknownScheme            = errors.New("unknown signature scheme")
)

// KnownScheme reports whether s names a supported signature scheme.
func KnownScheme(s string) bool {
	switch s {
	case SchemeHMACSHA256Hex, SchemeHMACSHA1Hex, SchemeHMACSHA256Base64, SchemeHMACSHA256Timestamped:
		return true
	}
	return false
}

// IsValidationError reports whether err belongs to the validation taxonomy
// (terminal, HTTP 401, never retried by the gateway).
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrMalformedSignatureHeader) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrExpiredTimestamp) ||
		errors.Is(err, ErrMissingSecret)
}

// Verify validates the authenticity of rawPayload against the provider's
// secret and scheme. Pure given its inputs and the current time.
func Verify(rawPayload []byte, signatureHeader string, pc config.ProviderConfig) error {
	return VerifyAt(rawPayload, signatureHeader, pc, time.Now())
}

// VerifyAt is Verify with an explicit clock, for replay-window checks.
func VerifyAt(rawPayload []byte, signatureHeader string, pc config.ProviderConfig, now time.Time) error {
	if pc.Secret == "" {
		return ErrMissingSecret
	}
	if signatureHeader == "" {
		return ErrMissingSignature
	}

	switch pc.Scheme {
	case SchemeHMACSHA256Hex:
		return verifyEncoded(rawPayload, signatureHeader, pc.SignaturePrefix, pc.Secret, sha256.New, hex.DecodeString)
	case SchemeHMACSHA1Hex:
		return verifyEncoded(rawPayload, signatureHeader, pc.SignaturePrefix, pc.Secret, sha1.New, hex.DecodeString)
	case SchemeHMACSHA256Base64:
		return verifyEncoded(rawPayload, signatureHeader, pc.SignaturePrefix, pc.Secret, sha256.New, base64.StdEncoding.DecodeString)
	case SchemeHMACSHA256Timestamped:
		return verifyTimestamped(rawPayload, signatureHeader, pc, now)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScheme, pc.Scheme)
	}
}

// verifyEncoded handles the prefix-plus-encoded-digest schemes, e.g.
// "sha1=<hex>" or a bare base64 digest. Comparison is constant-time.
func verifyEncoded(
	rawPayload []byte,
	signatureHeader, prefix, secret string,
	newHash func() hash.Hash,
	decode func(string) ([]byte, error),
) error {
	encoded := signatureHeader
	if prefix != "" {
		var ok bool
		encoded, ok = strings.CutPrefix(signatureHeader, prefix)
		if !ok {
			return fmt.Errorf("%w: expected prefix %q", ErrMalformedSignatureHeader, prefix)
		}
	}

	provided, err := decode(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignatureHeader, err)
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(rawPayload)

	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// verifyTimestamped handles the "t=<unix>,v1=<hex>" scheme. The timestamp is
// checked against the tolerance window before the HMAC is recomputed over
// "{timestamp}.{rawPayload}".
func verifyTimestamped(rawPayload []byte, signatureHeader string, pc config.ProviderConfig, now time.Time) error {
	var tsPart, sigPart string
	for _, part := range strings.Split(signatureHeader, ",") {
		key, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return fmt.Errorf("%w: element %q is not key=value", ErrMalformedSignatureHeader, part)
		}
		switch key {
		case "t":
			tsPart = val
		case "v1":
			sigPart = val
		}
	}
	if tsPart == "" || sigPart == "" {
		return fmt.Errorf("%w: missing t or v1 element", ErrMalformedSignatureHeader)
	}

	timestamp, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp %q", ErrMalformedSignatureHeader, tsPart)
	}

	tolerance := int64(pc.ToleranceSeconds)
	if tolerance <= 0 {
		tolerance = DefaultToleranceSeconds
	}
	skew := now.Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return ErrExpiredTimestamp
	}

	provided, err := hex.DecodeString(sigPart)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignatureHeader, err)
	}

	mac := hmac.New(sha256.New, []byte(pc.Secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(rawPayload)

	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}
