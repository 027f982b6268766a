package verifier_test

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marminbh/webhook-gateway/internal/config"
	"github.com/marminbh/webhook-gateway/internal/verifier"
)

func hmacSHA256Hex(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyHexSHA256(t *testing.T) {
	pc := config.ProviderConfig{
		Name:   "payment",
		Secret: "whsec_test",
		Scheme: verifier.SchemeHMACSHA256Hex,
	}
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	t.Run("correct signature is accepted", func(t *testing.T) {
		err := verifier.Verify(payload, hmacSHA256Hex(pc.Secret, payload), pc)
		assert.NoError(t, err)
	})

	t.Run("tampered payload is rejected", func(t *testing.T) {
		sig := hmacSHA256Hex(pc.Secret, payload)
		tampered := append([]byte{}, payload...)
		tampered[10] ^= 0x01

		err := verifier.Verify(tampered, sig, pc)
		assert.ErrorIs(t, err, verifier.ErrInvalidSignature)
	})

	t.Run("signature from wrong secret is rejected", func(t *testing.T) {
		err := verifier.Verify(payload, hmacSHA256Hex("wrong_secret", payload), pc)
		assert.ErrorIs(t, err, verifier.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		err := verifier.Verify(payload, "", pc)
		assert.ErrorIs(t, err, verifier.ErrMissingSignature)
	})

	t.Run("missing secret", func(t *testing.T) {
		noSecret := pc
		noSecret.Secret = ""
		err := verifier.Verify(payload, hmacSHA256Hex("whsec_test", payload), noSecret)
		assert.ErrorIs(t, err, verifier.ErrMissingSecret)
	})

	t.Run("non-hex header is malformed", func(t *testing.T) {
		err := verifier.Verify(payload, "zzzz-not-hex", pc)
		assert.ErrorIs(t, err, verifier.ErrMalformedSignatureHeader)
	})
}

func TestVerifyPrefixedSHA1(t *testing.T) {
	pc := config.ProviderConfig{
		Name:            "vcs",
		Secret:          "gh_secret",
		Scheme:          verifier.SchemeHMACSHA1Hex,
		SignaturePrefix: "sha1=",
	}
	payload := []byte(`{"ref":"refs/heads/main"}`)

	mac := hmac.New(sha1.New, []byte(pc.Secret))
	mac.Write(payload)
	sig := "sha1=" + hex.EncodeToString(mac.Sum(nil))

	t.Run("correct prefixed signature", func(t *testing.T) {
		assert.NoError(t, verifier.Verify(payload, sig, pc))
	})

	t.Run("missing prefix is malformed", func(t *testing.T) {
		bare := hex.EncodeToString(mac.Sum(nil))
		err := verifier.Verify(payload, bare, pc)
		assert.ErrorIs(t, err, verifier.ErrMalformedSignatureHeader)
	})
}

func TestVerifyBase64SHA256(t *testing.T) {
	pc := config.ProviderConfig{
		Name:   "commerce",
		Secret: "shpss_secret",
		Scheme: verifier.SchemeHMACSHA256Base64,
	}
	payload := []byte(`{"id":12345,"topic":"orders/create"}`)

	mac := hmac.New(sha256.New, []byte(pc.Secret))
	mac.Write(payload)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.NoError(t, verifier.Verify(payload, sig, pc))

	tampered := append([]byte{}, payload...)
	tampered[0] ^= 0x01
	assert.ErrorIs(t, verifier.Verify(tampered, sig, pc), verifier.ErrInvalidSignature)
}

func timestampedHeader(t *testing.T, secret string, payload []byte, ts int64) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyTimestamped(t *testing.T) {
	pc := config.ProviderConfig{
		Name:             "payment",
		Secret:           "whsec_test",
		Scheme:           verifier.SchemeHMACSHA256Timestamped,
		ToleranceSeconds: 300,
	}
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("fresh signature is accepted", func(t *testing.T) {
		header := timestampedHeader(t, pc.Secret, payload, now.Unix()-10)
		assert.NoError(t, verifier.VerifyAt(payload, header, pc, now))
	})

	t.Run("timestamp older than tolerance is rejected even with a valid HMAC", func(t *testing.T) {
		header := timestampedHeader(t, pc.Secret, payload, now.Add(-10*time.Minute).Unix())
		err := verifier.VerifyAt(payload, header, pc, now)
		assert.ErrorIs(t, err, verifier.ErrExpiredTimestamp)
	})

	t.Run("timestamp too far in the future is rejected", func(t *testing.T) {
		header := timestampedHeader(t, pc.Secret, payload, now.Add(10*time.Minute).Unix())
		err := verifier.VerifyAt(payload, header, pc, now)
		assert.ErrorIs(t, err, verifier.ErrExpiredTimestamp)
	})

	t.Run("default tolerance applies when unset", func(t *testing.T) {
		noTolerance := pc
		noTolerance.ToleranceSeconds = 0
		header := timestampedHeader(t, pc.Secret, payload, now.Add(-4*time.Minute).Unix())
		assert.NoError(t, verifier.VerifyAt(payload, header, noTolerance, now))
	})

	t.Run("tampered payload within window is rejected", func(t *testing.T) {
		header := timestampedHeader(t, pc.Secret, payload, now.Unix())
		tampered := []byte(`{"id":"evt_2"}`)
		err := verifier.VerifyAt(tampered, header, pc, now)
		assert.ErrorIs(t, err, verifier.ErrInvalidSignature)
	})

	t.Run("header without v1 element is malformed", func(t *testing.T) {
		header := fmt.Sprintf("t=%d", now.Unix())
		err := verifier.VerifyAt(payload, header, pc, now)
		assert.ErrorIs(t, err, verifier.ErrMalformedSignatureHeader)
	})

	t.Run("non-numeric timestamp is malformed", func(t *testing.T) {
		err := verifier.VerifyAt(payload, "t=abc,v1=00", pc, now)
		assert.ErrorIs(t, err, verifier.ErrMalformedSignatureHeader)
	})
}

func TestUnknownScheme(t *testing.T) {
	pc := config.ProviderConfig{Name: "x", Secret: "s", Scheme: "md5-hex"}
	err := verifier.Verify([]byte("{}"), "00", pc)
	require.Error(t, err)
	assert.ErrorIs(t, err, verifier.ErrUnknownScheme)
	assert.False(t, verifier.IsValidationError(err))
}

func TestKnownScheme(t *testing.T) {
	assert.True(t, verifier.KnownScheme(verifier.SchemeHMACSHA256Timestamped))
	assert.False(t, verifier.KnownScheme("rot13"))
}
