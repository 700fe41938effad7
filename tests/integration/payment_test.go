//go:build integration

package integration

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
)

// signedCallback builds a provider-style transaction callback for the given
// order and signs it with the shared secret the API is configured with.
func signedCallback(orderID string, success bool) (body map[string]any, digest string) {
	obj := map[string]any{
		"amount_cents":            1650,
		"created_at":              "2026-08-01T10:00:00",
		"currency":                "EGP",
		"error_occured":           false,
		"has_parent_transaction":  false,
		"id":                      991122,
		"integration_id":          808,
		"is_3d_secure":            true,
		"is_auth":                 false,
		"is_capture":              false,
		"is_refunded":             false,
		"is_standalone_payment":   true,
		"is_voided":               false,
		"order":                   map[string]any{"id": 2346, "merchant_order_id": orderID},
		"owner":                   14455,
		"pending":                 false,
		"source_data":             map[string]any{"pan": "2346", "sub_type": "MasterCard", "type": "card"},
		"success":                 success,
	}

	// Concatenation of the documented signed fields, in order.
	canonical := fmt.Sprintf(
		"16502026-08-01T10:00:00EGPfalsefalse991122808truefalsefalsefalsetruefalse234614455false2346MasterCardcard%t",
		success,
	)

	mac := hmac.New(sha512.New, []byte(callbackSecret))
	mac.Write([]byte(canonical))
	return map[string]any{"type": "TRANSACTION", "obj": obj}, hex.EncodeToString(mac.Sum(nil))
}

func placeOrderForCallback(t *testing.T) string {
	t.Helper()

	resp := doJSON(t, http.MethodPost, "/api/orders", orderRequest{
		Items: []orderItemRequest{{ProductID: "1", Quantity: 1}},
	}, storefrontKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("place order: expected 201, got %d", resp.StatusCode)
	}
	return decodeJSON[orderResponse](t, resp).ID
}

func TestPaymentCallback_Success(t *testing.T) {
	orderID := placeOrderForCallback(t)
	body, digest := signedCallback(orderID, true)

	resp := doJSON(t, http.MethodPost, "/api/payment/callback?hmac="+digest, body, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	getResp := doGet(t, "/api/orders/"+orderID, storefrontKey)
	defer getResp.Body.Close()

	order := decodeJSON[orderResponse](t, getResp)
	if order.Status != "paid" {
		t.Errorf("status: got %q, want paid", order.Status)
	}
}

func TestPaymentCallback_Retry(t *testing.T) {
	orderID := placeOrderForCallback(t)
	body, digest := signedCallback(orderID, true)

	for i := range 2 {
		resp := doJSON(t, http.MethodPost, "/api/payment/callback?hmac="+digest, body, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestPaymentCallback_TamperedDigest(t *testing.T) {
	orderID := placeOrderForCallback(t)
	body, digest := signedCallback(orderID, true)

	// Flip the last hex character.
	tampered := digest[:len(digest)-1]
	if digest[len(digest)-1] == '0' {
		tampered += "1"
	} else {
		tampered += "0"
	}

	resp := doJSON(t, http.MethodPost, "/api/payment/callback?hmac="+tampered, body, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	getResp := doGet(t, "/api/orders/"+orderID, storefrontKey)
	defer getResp.Body.Close()

	order := decodeJSON[orderResponse](t, getResp)
	if order.Status != "pending" {
		t.Errorf("status: got %q, want pending", order.Status)
	}
}

func TestPaymentCallback_FailedTransaction(t *testing.T) {
	orderID := placeOrderForCallback(t)
	body, digest := signedCallback(orderID, false)

	resp := doJSON(t, http.MethodPost, "/api/payment/callback?hmac="+digest, body, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	getResp := doGet(t, "/api/orders/"+orderID, storefrontKey)
	defer getResp.Body.Close()

	order := decodeJSON[orderResponse](t, getResp)
	if order.Status != "pending" {
		t.Errorf("status: got %q, want pending", order.Status)
	}
}
