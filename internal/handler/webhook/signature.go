package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrSignatureMissing indicates the request carried no signature header.
	ErrSignatureMissing = errors.New("webhook: missing signature header")
	// ErrSignatureInvalid indicates the header was malformed or the digest
	// did not match the request body.
	ErrSignatureInvalid = errors.New("webhook: signature mismatch")
)

// VerifySignature checks the X-Hub-Signature header ("sha1=<hex>") against
// the HMAC-SHA1 of the raw request body keyed with the app secret.
func VerifySignature(body []byte, header, secret string) error {
	if header == "" {
		return ErrSignatureMissing
	}

	scheme, digest, ok := strings.Cut(header, "=")
	if !ok || scheme != "sha1" {
		return ErrSignatureInvalid
	}

	claimed, err := hex.DecodeString(digest)
	if err != nil {
		return ErrSignatureInvalid
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(claimed, mac.Sum(nil)) {
		return ErrSignatureInvalid
	}
	return nil
}
