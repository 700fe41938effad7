// Package payment verifies asynchronous payment-provider callbacks.
//
// Paymob signs each transaction callback by concatenating a documented,
// ordered subset of payload fields into a single string and computing an
// HMAC-SHA512 over it with a shared secret. Verification reconstructs that
// canonical string from the payload and compares digests in constant time.
package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-faster/errors"
)

// ErrMissingSecret is returned when verification is attempted without a
// configured HMAC secret. Verification must never silently pass with an
// empty secret.
var ErrMissingSecret = errors.New("payment: hmac secret is empty")

// PaymobFieldOrder is the ordered field list from Paymob's transaction
// processed callback documentation. The order is part of the signature and
// must not be changed.
var PaymobFieldOrder = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order.id",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
}

// Verifier checks callback signatures with a fixed secret and field order,
// both loaded once from configuration at process start.
type Verifier struct {
	secret     []byte
	fieldOrder []string
}

// NewVerifier creates a Verifier. An empty fieldOrder falls back to
// PaymobFieldOrder.
func NewVerifier(secret []byte, fieldOrder []string) *Verifier {
	if len(fieldOrder) == 0 {
		fieldOrder = PaymobFieldOrder
	}
	return &Verifier{secret: secret, fieldOrder: fieldOrder}
}

// Verify reports whether expectedDigest matches the HMAC computed over the
// payload's canonical string.
func (v *Verifier) Verify(payload map[string]any, expectedDigest string) (bool, error) {
	return VerifyCallback(payload, expectedDigest, v.fieldOrder, v.secret)
}

// VerifyCallback flattens the payload, builds the canonical signing string
// from orderedKeys, computes HMAC-SHA512 with secret, and compares the
// lowercase hex digest against expectedDigest in constant time. A mismatch
// is an expected outcome and returns (false, nil), never an error.
func VerifyCallback(payload map[string]any, expectedDigest string, orderedKeys []string, secret []byte) (bool, error) {
	if len(secret) == 0 {
		return false, ErrMissingSecret
	}

	canonical := CanonicalString(payload, orderedKeys)

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(canonical))
	computed := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(computed), []byte(expectedDigest)) == 1, nil
}

// CanonicalString concatenates the flattened payload values for orderedKeys
// with no separator. Missing or null values contribute an empty string.
func CanonicalString(payload map[string]any, orderedKeys []string) string {
	flat := Flatten(payload)

	var buf []byte
	for _, key := range orderedKeys {
		buf = append(buf, stringify(flat[key])...)
	}
	return string(buf)
}

// Flatten converts a nested payload into a single-level map keyed by dotted
// paths. Only plain nested mappings are descended into; arrays are treated
// as leaf values and serialized to JSON when stringified.
func Flatten(payload map[string]any) map[string]any {
	flat := make(map[string]any, len(payload))
	flattenInto(flat, "", payload)
	return flat
}

func flattenInto(flat map[string]any, prefix string, m map[string]any) {
	for key, value := range m {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenInto(flat, path, nested)
			continue
		}
		flat[path] = value
	}
}

// stringify renders a scalar the way the provider does when signing:
// booleans lowercase, numbers without added precision, strings verbatim,
// null and missing values empty.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case []any:
		// Arrays are leaves: canonical JSON encoding.
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
