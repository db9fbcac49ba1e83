package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256
// over a canonical payload form. Providers may re-order JSON fields or
// re-encode whitespace, so a stable canonical form is mandatory.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Canonicalize renders the payload as key=value pairs, keys sorted
// lexicographically, joined by "&". Strings are rendered verbatim, numbers by
// their decimal text, booleans as true/false, nil as null, and nested values
// as their compact JSON. Absent keys are simply not serialised.
func (s *HMACSignatureService) Canonicalize(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(renderValue(payload[k]))
	}
	return b.String()
}

// Sign computes HMAC-SHA256 of the canonical form using secret.
// Returns lowercase hex-encoded signature.
func (s *HMACSignatureService) Sign(secret string, payload map[string]any) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(s.Canonicalize(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against HMAC-SHA256(secret, canonical payload).
// Uses constant-time comparison to prevent timing attacks; a length mismatch
// fails immediately.
func (s *HMACSignatureService) Verify(secret string, payload map[string]any, signature string) bool {
	expected := s.Sign(secret, payload)
	if len(expected) != len(signature) {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		// Nested objects and arrays: compact JSON.
		raw, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
