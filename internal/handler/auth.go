package handler

import (
	"encoding/json"
	"net/http"
)

type issueTokenReq struct {
	// UserID, when set, becomes the token subject so orders and coupon
	// redemptions are attributed to the shopper instead of the API key.
	UserID string `json:"user_id"`
}

type issueTokenResp struct {
	Token string `json:"token"`
}

// IssueToken exchanges a valid API key for a short-lived JWT carrying the
// key's scopes. The storefront client uses the token for subsequent calls so
// the key itself stays out of most requests.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-Api-Key")
	if key == "" {
		respondError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, ok := h.security.authenticateKey(r.Context(), key)
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req issueTokenReq
	if r.Body != nil {
		// Body is optional; decode errors on an empty body are ignored.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	subject := id.Subject
	if req.UserID != "" {
		subject = req.UserID
	}

	token, err := h.issuer.Issue(subject, id.Scopes)
	if err != nil {
		respondInternalError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, issueTokenResp{Token: token})
}
