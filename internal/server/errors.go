package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nhowze/overunder/internal/domain"
)

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrAlreadyPublished),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrReceiptListed),
		errors.Is(err, domain.ErrNotListed),
		errors.Is(err, domain.ErrPoolSettled),
		errors.Is(err, domain.ErrPoolNotSettled):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidFixture),
		errors.Is(err, domain.ErrInvalidStatLine),
		errors.Is(err, domain.ErrDeadlinePassed),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidResult):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInvalidTokenBalance),
		errors.Is(err, domain.ErrUnexpectedDelegate),
		errors.Is(err, domain.ErrUnexpectedCloseAuthority),
		errors.Is(err, domain.ErrInvalidFeeVault),
		errors.Is(err, domain.ErrOverflow),
		errors.Is(err, domain.ErrDivisionByZero):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON marshals v and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError reports an engine failure. Internal errors are logged and
// hidden from the client.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "server: engine failure", "path", r.URL.Path, "err", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}
