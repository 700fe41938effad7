package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/nileshop/storefront-api/internal/domain/order"
	"github.com/nileshop/storefront-api/internal/domain/payment"
)

// maxCallbackBody caps the webhook request body size.
const maxCallbackBody = 1 << 20

// PaymentCallback handles the provider's transaction-processed webhook. The
// expected digest arrives as the hmac query parameter; the transaction object
// is the payload's "obj" member. A bad signature gets 401 so the provider
// retries against a fixed configuration, while a verified failed payment is
// acknowledged with 200 and no state change.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	expected := r.URL.Query().Get("hmac")
	if expected == "" {
		respondError(w, r, http.StatusBadRequest, "missing hmac parameter")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "cannot read body")
		return
	}

	payload, err := decodeCallbackPayload(body)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid json payload")
		return
	}

	// Paymob wraps the transaction in "obj"; tolerate an unwrapped payload.
	obj := payload
	if nested, ok := payload["obj"].(map[string]any); ok {
		obj = nested
	}

	ok, err := h.verifier.Verify(obj, expected)
	if err != nil {
		respondInternalError(w, r, err)
		return
	}
	if !ok {
		zctx.From(r.Context()).Warn("payment callback signature mismatch")
		respondError(w, r, http.StatusUnauthorized, "invalid signature")
		return
	}

	flat := payment.Flatten(obj)
	success, _ := flat["success"].(bool)
	orderID := stringField(flat, "order.merchant_order_id")
	txnID := stringField(flat, "id")

	lg := zctx.From(r.Context()).With(
		zap.String("order_id", orderID),
		zap.String("transaction_id", txnID),
		zap.Bool("success", success),
	)

	if !success {
		lg.Info("payment callback reported failure")
		respondJSON(w, r, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if orderID == "" {
		respondError(w, r, http.StatusUnprocessableEntity, "missing merchant order id")
		return
	}

	if err := h.orderService.MarkPaid(r.Context(), orderID, txnID); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "order not found")
			return
		}
		var itErr *order.InvalidTransitionError
		if errors.As(err, &itErr) {
			respondError(w, r, http.StatusConflict, itErr.Error())
			return
		}
		respondInternalError(w, r, err)
		return
	}

	lg.Info("order marked paid")
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeCallbackPayload parses the webhook body keeping numbers as their raw
// JSON text, so signature reconstruction never reformats them.
func decodeCallbackPayload(body []byte) (map[string]any, error) {
	d := jx.DecodeBytes(body)
	v, err := decodeValue(d)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("payload is not a json object")
	}
	return m, nil
}

func decodeValue(d *jx.Decoder) (any, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		return json.Number(n.String()), nil
	case jx.Bool:
		return d.Bool()
	case jx.Null:
		return nil, d.Null()
	case jx.Array:
		var arr []any
		err := d.Arr(func(d *jx.Decoder) error {
			v, err := decodeValue(d)
			if err != nil {
				return err
			}
			arr = append(arr, v)
			return nil
		})
		return arr, err
	case jx.Object:
		m := map[string]any{}
		err := d.Obj(func(d *jx.Decoder, key string) error {
			v, err := decodeValue(d)
			if err != nil {
				return err
			}
			m[key] = v
			return nil
		})
		return m, err
	default:
		return nil, errors.New("unexpected json value")
	}
}

// stringField reads a flattened payload value as a string, rendering numbers
// by their raw text.
func stringField(flat map[string]any, key string) string {
	switch v := flat[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
