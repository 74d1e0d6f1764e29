package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/ctxlog"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Kind  string `json:"kind,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindInvalidExtraction, apperr.KindUnsafeLabel, apperr.KindUnsafeQuery, apperr.KindQueryFailed:
		return http.StatusUnprocessableEntity
	case apperr.KindTenantNotFound:
		return http.StatusNotFound
	case apperr.KindStoreUnavailable, apperr.KindOracleUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindOracleMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// failure returns the status and body for err, logging server-side failures.
func failure(r *http.Request, err error) (int, errResponse) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if kind == "" {
		ctxlog.FromContext(r.Context()).Error("request failed", slog.String("error", err.Error()))
		return status, errorBody("internal error")
	}
	if status >= http.StatusInternalServerError {
		ctxlog.FromContext(r.Context()).Error("request failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}
	return status, errResponse{Error: err.Error(), Kind: string(kind)}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := failure(r, err)
	writeJSON(w, status, body)
}
