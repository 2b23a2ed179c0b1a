package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-paystack-signature"

// Sign computes the signature Paystack sends for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the body signed with the secret key.
func (c *Client) VerifySignature(payload []byte, header string) bool {
	if c == nil {
		return false
	}
	return VerifySignature(payload, c.secretKey, header)
}

// VerifySignature is the keyed form of Client.VerifySignature.
func VerifySignature(payload []byte, secret, header string) bool {
	header = strings.ToLower(strings.TrimSpace(header))
	if header == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(header))
}
