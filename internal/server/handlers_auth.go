package server

import (
	"net/http"

	"github.com/genioCE/WellApp/internal/auth"
	"github.com/genioCE/WellApp/internal/model"
)

// operatorSubject is the token subject for the single shared operator key.
const operatorSubject = "operator"

// HandleToken handles POST /auth/token: it exchanges the operator API key
// for a bearer token.
func (h *Handlers) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req model.TokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key is required")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, h.apiKeyHash)
	if err != nil {
		h.logger.Error("auth: verify api key", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "key verification failed")
		return
	}
	if !ok {
		h.logger.Warn("auth: rejected api key", "client", r.RemoteAddr)
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid api key")
		return
	}

	token, exp, err := h.jwt.IssueToken(operatorSubject)
	if err != nil {
		h.logger.Error("auth: issue token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, model.TokenResponse{Token: token, ExpiresAt: exp})
}
